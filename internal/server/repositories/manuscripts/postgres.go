// Package manuscripts reads the slice of manuscript data access control
// needs: ownership, visibility and the encrypted file pointer.
package manuscripts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

func (r *PostgresRepository) Create(ctx context.Context, m *models.Manuscript) error {
	query :=
		`INSERT INTO manuscripts (id, owner_id, title, visibility, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 `

	if _, err := r.db.ExecContext(ctx, query, m.ID, m.OwnerID, m.Title, m.Visibility, m.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Manuscript, error) {
	query :=
		`SELECT id, owner_id, title, visibility, storage_key, checksum, key_id, mime_type, created_at
		 FROM manuscripts WHERE id = $1`

	m := &models.Manuscript{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&m.ID, &m.OwnerID, &m.Title, &m.Visibility,
		&m.StorageKey, &m.Checksum, &m.KeyID, &m.MimeType, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return m, nil
}

func (r *PostgresRepository) AttachFile(ctx context.Context, id string, ref FileRef) error {
	query :=
		`UPDATE manuscripts SET storage_key = $2, checksum = $3, key_id = $4, mime_type = $5
		 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id, ref.StorageKey, ref.Checksum, ref.KeyID, ref.MimeType)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
