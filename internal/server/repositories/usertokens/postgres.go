// Package usertokens persists the single-use tokens behind email
// verification and password reset.
package usertokens

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

const tokenColumns = `id, user_id, purpose, token_hash, expires_at, used_at, created_at`

func (r *PostgresRepository) Create(ctx context.Context, t *models.UserToken) error {
	query :=
		`INSERT INTO user_tokens (id, user_id, purpose, token_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 `

	_, err := r.db.ExecContext(ctx, query, t.ID, t.UserID, t.Purpose, t.TokenHash, t.ExpiresAt, t.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// RetireOutstanding marks every unused token of the user for purpose as
// used, so only the newest one issued can be redeemed.
func (r *PostgresRepository) RetireOutstanding(ctx context.Context, userID string, purpose models.TokenPurpose, at time.Time) error {
	query :=
		`UPDATE user_tokens SET used_at = $3
		 WHERE user_id = $1 AND purpose = $2 AND used_at IS NULL`

	if _, err := r.db.ExecContext(ctx, query, userID, purpose, at); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Consume redeems the token with tokenHash. It succeeds once: a token that
// is unknown, used, expired or issued for another purpose is
// common.ErrorNotFound.
func (r *PostgresRepository) Consume(ctx context.Context, purpose models.TokenPurpose, tokenHash []byte, at time.Time) (*models.UserToken, error) {
	query :=
		`UPDATE user_tokens SET used_at = $3
		 WHERE token_hash = $1 AND purpose = $2 AND used_at IS NULL AND expires_at > $3
		 RETURNING ` + tokenColumns

	t := &models.UserToken{}
	err := r.db.QueryRowContext(ctx, query, tokenHash, purpose, at).
		Scan(&t.ID, &t.UserID, &t.Purpose, &t.TokenHash, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}
