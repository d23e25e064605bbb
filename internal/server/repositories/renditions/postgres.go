// Package renditions tracks the plaintext download copies placed in the
// blob store so they can be purged.
package renditions

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/archivekeeper/internal/dbx"
	"github.com/dmitrijs2005/archivekeeper/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, rd *models.Rendition) error {
	query :=
		`INSERT INTO renditions (storage_key, manuscript_id, user_id, grant_id, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 `

	_, err := r.db.ExecContext(ctx, query, rd.StorageKey, rd.ManuscriptID, rd.UserID, rd.GrantID, rd.CreatedAt, rd.ExpiresAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ExpireByGrant brings the expiry of every rendition made under grantID
// forward to at.
func (r *PostgresRepository) ExpireByGrant(ctx context.Context, grantID string, at time.Time) (int64, error) {
	query := `UPDATE renditions SET expires_at = $2 WHERE grant_id = $1 AND expires_at > $2`
	return r.exec(ctx, query, grantID, at)
}

// ExpireByPair does the same for everything rendered for userID on
// manuscriptID, whichever grant it came from.
func (r *PostgresRepository) ExpireByPair(ctx context.Context, userID, manuscriptID string, at time.Time) (int64, error) {
	query := `UPDATE renditions SET expires_at = $3 WHERE user_id = $1 AND manuscript_id = $2 AND expires_at > $3`
	return r.exec(ctx, query, userID, manuscriptID, at)
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

// ListDue returns up to limit renditions whose expiry is at or before now,
// oldest first.
func (r *PostgresRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Rendition, error) {
	query :=
		`SELECT storage_key, manuscript_id, user_id, grant_id, created_at, expires_at
		 FROM renditions WHERE expires_at <= $1
		 ORDER BY expires_at LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.Rendition
	for rows.Next() {
		rd := &models.Rendition{}
		if err := rows.Scan(&rd.StorageKey, &rd.ManuscriptID, &rd.UserID, &rd.GrantID, &rd.CreatedAt, &rd.ExpiresAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, storageKey string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM renditions WHERE storage_key = $1`, storageKey); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
