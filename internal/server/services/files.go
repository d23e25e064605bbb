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
	"github.com/dmitrijs2005/archivekeeper/internal/ids"
	"github.com/dmitrijs2005/archivekeeper/internal/logging"
	"github.com/dmitrijs2005/archivekeeper/internal/server/blobstore"
	"github.com/dmitrijs2005/archivekeeper/internal/server/models"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/manuscripts"
	"github.com/dmitrijs2005/archivekeeper/internal/server/repositories/repomanager"
)

// ManuscriptFiles registers manuscripts and stores their files encrypted.
type ManuscriptFiles struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	sealer      *cryptox.Sealer
	blobs       blobstore.Store
	logger      logging.Logger
	now         func() time.Time
}

func NewManuscriptFiles(db *sql.DB, m repomanager.RepositoryManager, sealer *cryptox.Sealer, blobs blobstore.Store, logger logging.Logger) *ManuscriptFiles {
	return &ManuscriptFiles{
		db:          db,
		repomanager: m,
		sealer:      sealer,
		blobs:       blobs,
		logger:      logger.With("module", "files"),
		now:         time.Now,
	}
}

// Register creates a manuscript owned by ownerID, who must be OWNER or above.
func (f *ManuscriptFiles) Register(ctx context.Context, ownerID, title string, visibility models.Visibility) (*models.Manuscript, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", common.ErrValidation)
	}
	switch visibility {
	case models.VisibilityPublic, models.VisibilityRestricted, models.VisibilityPrivate:
	default:
		return nil, fmt.Errorf("%w: unknown visibility %q", common.ErrValidation, visibility)
	}

	owner, err := f.repomanager.Users(f.db).GetByID(ctx, ownerID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInsufficientAccess
		}
		return nil, err
	}
	if !owner.Active || !owner.Role.AtLeast(models.RoleOwner) {
		return nil, common.ErrInsufficientAccess
	}

	m := &models.Manuscript{
		ID:         ids.New(),
		OwnerID:    ownerID,
		Title:      title,
		Visibility: visibility,
		CreatedAt:  f.now(),
	}
	if err := f.repomanager.Manuscripts(f.db).Create(ctx, m); err != nil {
		return nil, fmt.Errorf("error creating manuscript: %w", err)
	}
	return m, nil
}

// Upload encrypts data and attaches it as the manuscript file, replacing any
// previous one. Only the owner or an ADMIN may upload.
func (f *ManuscriptFiles) Upload(ctx context.Context, actorID, manuscriptID, mimeType string, data []byte) (*models.Manuscript, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", common.ErrValidation)
	}

	repo := f.repomanager.Manuscripts(f.db)
	m, err := repo.GetByID(ctx, manuscriptID)
	if err != nil {
		return nil, err
	}

	if m.OwnerID != actorID {
		actor, err := f.repomanager.Users(f.db).GetByID(ctx, actorID)
		if err != nil && !errors.Is(err, common.ErrorNotFound) {
			return nil, err
		}
		if actor == nil || !actor.Active || actor.Role != models.RoleAdmin {
			return nil, common.ErrInsufficientAccess
		}
	}

	enc, err := f.sealer.EncryptFile(data)
	if err != nil {
		return nil, fmt.Errorf("error encrypting manuscript: %w", err)
	}

	ref := manuscripts.FileRef{
		StorageKey: fmt.Sprintf("manuscripts/%s/%s", m.ID, ids.New()),
		Checksum:   enc.Checksum,
		KeyID:      enc.KeyID,
		MimeType:   mimeType,
	}
	if err := f.blobs.Put(ctx, ref.StorageKey, enc.Content, "application/octet-stream"); err != nil {
		return nil, fmt.Errorf("error storing manuscript: %w", err)
	}
	if err := repo.AttachFile(ctx, m.ID, ref); err != nil {
		if delErr := f.blobs.Delete(ctx, ref.StorageKey); delErr != nil {
			f.logger.Warn(ctx, "orphaned manuscript blob", "key", ref.StorageKey, "error", delErr)
		}
		return nil, err
	}

	if m.StorageKey != nil {
		if err := f.blobs.Delete(ctx, *m.StorageKey); err != nil {
			f.logger.Warn(ctx, "previous manuscript blob not deleted", "key", *m.StorageKey, "error", err)
		}
	}

	m.StorageKey = &ref.StorageKey
	m.Checksum = &ref.Checksum
	m.KeyID = &ref.KeyID
	m.MimeType = &ref.MimeType

	f.logger.Info(ctx, "manuscript file stored", "manuscript_id", m.ID, "actor_id", actorID, "key_id", enc.KeyID)
	return m, nil
}
