// Package documents persists identity verification documents. Content
// lives encrypted in the blob store; rows hold the pointer and hash.
package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/archivekeeper/internal/common"
	"github.com/dmitrijs2005/archivekeeper/internal/dbx"
	"github.com/dmitrijs2005/archivekeeper/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const documentColumns = `id, user_id, document_type, content_hash, storage_key, key_id, mime_type,
		status, reviewer_id, review_notes, reviewed_at, created_at`

func (r *PostgresRepository) Create(ctx context.Context, d *models.VerificationDocument) error {
	query :=
		`INSERT INTO verification_documents (id, user_id, document_type, content_hash, storage_key,
		   key_id, mime_type, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 `

	_, err := r.db.ExecContext(ctx, query, d.ID, d.UserID, d.DocumentType, d.ContentHash, d.StorageKey,
		d.KeyID, d.MimeType, d.Status, d.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrPendingRequestExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.VerificationDocument, error) {
	query := `SELECT ` + documentColumns + ` FROM verification_documents WHERE id = $1`
	return r.one(ctx, query, id)
}

func (r *PostgresRepository) FindPendingByUser(ctx context.Context, userID string) (*models.VerificationDocument, error) {
	query := `SELECT ` + documentColumns + ` FROM verification_documents WHERE user_id = $1 AND status = 'PENDING'`
	return r.one(ctx, query, userID)
}

func (r *PostgresRepository) one(ctx context.Context, query string, args ...any) (*models.VerificationDocument, error) {
	d := &models.VerificationDocument{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&d.ID, &d.UserID, &d.DocumentType, &d.ContentHash,
		&d.StorageKey, &d.KeyID, &d.MimeType, &d.Status, &d.ReviewerID, &d.ReviewNotes, &d.ReviewedAt, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return d, nil
}

// Review settles a PENDING document. A document reviewed before yields
// common.ErrInvalidStateTransition.
func (r *PostgresRepository) Review(ctx context.Context, id string, status models.DocumentStatus, reviewerID string, notes *string, at time.Time) error {
	query :=
		`UPDATE verification_documents SET status = $2, reviewer_id = $3, review_notes = $4, reviewed_at = $5
		 WHERE id = $1 AND status = 'PENDING'`

	res, err := r.db.ExecContext(ctx, query, id, status, reviewerID, notes, at)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrInvalidStateTransition
	}
	return nil
}
