// Package sessions persists login sessions. Only a hash of the refresh
// credential is ever written.
package sessions

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

const sessionColumns = `id, user_id, credential_hash, ip, user_agent, valid, expires_at, created_at, last_used_at`

type scanner interface{ Scan(...any) error }

func scanSession(row scanner) (*models.Session, error) {
	s := &models.Session{}
	err := row.Scan(&s.ID, &s.UserID, &s.CredentialHash, &s.IP, &s.UserAgent, &s.Valid,
		&s.ExpiresAt, &s.CreatedAt, &s.LastUsedAt)
	return s, err
}

func (r *PostgresRepository) Create(ctx context.Context, s *models.Session) error {
	query :=
		`INSERT INTO sessions (id, user_id, credential_hash, ip, user_agent, valid, expires_at, created_at, last_used_at)
		 VALUES ($1, $2, $3, $4, $5, TRUE, $6, $7, $7)
		 `

	_, err := r.db.ExecContext(ctx, query, s.ID, s.UserID, s.CredentialHash, s.IP, s.UserAgent, s.ExpiresAt, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	s, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

// Rotate swaps the stored credential hash, but only while the session is
// valid and still holds oldHash. Anything else is common.ErrSessionInvalid.
func (r *PostgresRepository) Rotate(ctx context.Context, id string, oldHash, newHash []byte, expiresAt, at time.Time) error {
	query :=
		`UPDATE sessions SET credential_hash = $3, expires_at = $4, last_used_at = $5
		 WHERE id = $1 AND credential_hash = $2 AND valid AND expires_at > $5`

	res, err := r.db.ExecContext(ctx, query, id, oldHash, newHash, expiresAt, at)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrSessionInvalid
	}
	return nil
}

// Invalidate is idempotent for an existing session.
func (r *PostgresRepository) Invalidate(ctx context.Context, id string) error {
	query := `UPDATE sessions SET valid = FALSE WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id)
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

func (r *PostgresRepository) InvalidateAll(ctx context.Context, userID string) (int64, error) {
	query := `UPDATE sessions SET valid = FALSE WHERE user_id = $1 AND valid`

	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) CountActive(ctx context.Context, userID string, now time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM sessions WHERE user_id = $1 AND valid AND expires_at > $2`

	var n int
	if err := r.db.QueryRowContext(ctx, query, userID, now).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) InvalidateOldest(ctx context.Context, userID string, now time.Time) error {
	query :=
		`UPDATE sessions SET valid = FALSE
		 WHERE id = (
		   SELECT id FROM sessions
		   WHERE user_id = $1 AND valid AND expires_at > $2
		   ORDER BY created_at ASC
		   LIMIT 1
		 )`

	if _, err := r.db.ExecContext(ctx, query, userID, now); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListActive(ctx context.Context, userID string, now time.Time) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		 WHERE user_id = $1 AND valid AND expires_at > $2
		 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}
