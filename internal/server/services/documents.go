package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/archivekeeper/internal/common"
	"github.com/dmitrijs2005/archivekeeper/internal/cryptox"
	"github.com/dmitrijs2005/archivekeeper/internal/dbx"
	"github.com/dmitrijs2005/archivekeeper/internal/ids"
	"github.com/dmitrijs2005/archivekeeper/internal/logging"
	"github.com/dmitrijs2005/archivekeeper/internal/server/blobstore"
	"github.com/dmitrijs2005/archivekeeper/internal/server/models"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/repomanager"
)

// DocumentService stores identity documents encrypted and runs their admin
// review, which is what promotes a VISITOR to USER.
type DocumentService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	withTx      dbx.TxRunner
	sealer      *cryptox.Sealer
	blobs       blobstore.Store
	logger      logging.Logger
	now         func() time.Time
}

func NewDocumentService(db *sql.DB, m repomanager.RepositoryManager, sealer *cryptox.Sealer, blobs blobstore.Store, logger logging.Logger) *DocumentService {
	return &DocumentService{
		db:          db,
		repomanager: m,
		withTx:      dbx.NewTxRunner(db, nil),
		sealer:      sealer,
		blobs:       blobs,
		logger:      logger.With("module", "documents"),
		now:         time.Now,
	}
}

// Upload encrypts data into the blob store and files it for review. A user
// has at most one PENDING document.
func (s *DocumentService) Upload(ctx context.Context, userID, documentType, mimeType string, data []byte) (*models.VerificationDocument, error) {
	documentType = strings.TrimSpace(documentType)
	if documentType == "" || len(data) == 0 {
		return nil, fmt.Errorf("%w: document type and content are required", common.ErrValidation)
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, common.ErrorUnauthorized
	}

	docs := s.repomanager.Documents(s.db)
	_, err = docs.FindPendingByUser(ctx, userID)
	switch {
	case err == nil:
		return nil, common.ErrPendingRequestExists
	case !errors.Is(err, common.ErrorNotFound):
		return nil, err
	}

	enc, err := s.sealer.EncryptFile(data)
	if err != nil {
		return nil, fmt.Errorf("error encrypting document: %w", err)
	}

	doc := &models.VerificationDocument{
		ID:           ids.New(),
		UserID:       userID,
		DocumentType: documentType,
		ContentHash:  enc.Checksum,
		KeyID:        enc.KeyID,
		MimeType:     mimeType,
		Status:       models.DocumentPending,
		CreatedAt:    s.now(),
	}
	doc.StorageKey = fmt.Sprintf("documents/%s/%s", userID, doc.ID)

	if err := s.blobs.Put(ctx, doc.StorageKey, enc.Content, "application/octet-stream"); err != nil {
		return nil, fmt.Errorf("error storing document: %w", err)
	}

	err = s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Documents(tx).Create(ctx, doc); err != nil {
			return err
		}
		return s.repomanager.Users(tx).SetVerificationStatus(ctx, userID, models.VerificationPending, doc.CreatedAt)
	})
	if err != nil {
		if delErr := s.blobs.Delete(ctx, doc.StorageKey); delErr != nil {
			s.logger.Warn(ctx, "orphaned document blob", "key", doc.StorageKey, "error", delErr)
		}
		return nil, err
	}

	s.logger.Info(ctx, "verification document uploaded", "document_id", doc.ID, "user_id", userID)
	return doc, nil
}

func (s *DocumentService) requireAdmin(ctx context.Context, tx dbx.DBTX, actorID string) error {
	actor, err := s.repomanager.Users(tx).GetByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrInsufficientAccess
		}
		return err
	}
	if !actor.Active || actor.Role != models.RoleAdmin {
		return common.ErrInsufficientAccess
	}
	return nil
}

// Review settles a PENDING document. Verification marks the user identity
// verified and lifts a VISITOR to USER; rejection requires notes.
func (s *DocumentService) Review(ctx context.Context, actorID, documentID string, verify bool, notes string) (*models.VerificationDocument, error) {
	notes = strings.TrimSpace(notes)
	if !verify && notes == "" {
		return nil, fmt.Errorf("%w: review notes are required to reject", common.ErrValidation)
	}

	var doc *models.VerificationDocument
	err := s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.requireAdmin(ctx, tx, actorID); err != nil {
			return err
		}

		var err error
		doc, err = s.repomanager.Documents(tx).GetByID(ctx, documentID)
		if err != nil {
			return err
		}
		if doc.Status != models.DocumentPending {
			return common.ErrInvalidStateTransition
		}

		status, userStatus := models.DocumentRejected, models.VerificationRejected
		if verify {
			status, userStatus = models.DocumentVerified, models.VerificationVerified
		}

		now := s.now()
		var notesPtr *string
		if notes != "" {
			notesPtr = &notes
		}
		if err := s.repomanager.Documents(tx).Review(ctx, doc.ID, status, actorID, notesPtr, now); err != nil {
			return err
		}

		users := s.repomanager.Users(tx)
		if err := users.SetVerificationStatus(ctx, doc.UserID, userStatus, now); err != nil {
			return err
		}
		if verify {
			user, err := users.GetByID(ctx, doc.UserID)
			if err != nil {
				return err
			}
			if user.Role == models.RoleVisitor {
				if err := users.UpdateRole(ctx, user.ID, models.RoleUser, now); err != nil {
					return err
				}
			}
		}

		doc.Status = status
		doc.ReviewerID = &actorID
		doc.ReviewNotes = notesPtr
		doc.ReviewedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "verification document reviewed", "document_id", documentID, "actor_id", actorID, "status", doc.Status)
	return doc, nil
}

// Open decrypts a document for its owner or an ADMIN.
func (s *DocumentService) Open(ctx context.Context, actorID, documentID string) (*models.VerificationDocument, []byte, error) {
	doc, err := s.repomanager.Documents(s.db).GetByID(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}
	if doc.UserID != actorID {
		if err := s.requireAdmin(ctx, s.db, actorID); err != nil {
			return nil, nil, err
		}
	}

	envelope, err := s.blobs.Get(ctx, doc.StorageKey)
	if err != nil {
		return nil, nil, fmt.Errorf("error reading document: %w", err)
	}
	data, err := s.sealer.DecryptFile(envelope, doc.ContentHash)
	if err != nil {
		s.logger.Error(ctx, "document failed integrity check", "document_id", doc.ID, "error", err)
		return nil, nil, err
	}
	return doc, data, nil
}
