// Package users persists archive accounts.
package users

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

const userColumns = `id, email, password_hash, role, email_verified, verification_status,
		active, failed_logins, locked_until, last_login_at, last_login_ip, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.EmailVerified, &u.VerificationStatus,
		&u.Active, &u.FailedLogins, &u.LockedUntil, &u.LastLoginAt, &u.LastLoginIP, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

func (r *PostgresRepository) Create(ctx context.Context, u *models.User) error {
	query :=
		`INSERT INTO users (id, email, password_hash, role, email_verified, verification_status,
		 active, failed_logins, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $8)
		 `

	_, err := r.db.ExecContext(ctx, query,
		u.ID, u.Email, u.PasswordHash, u.Role, u.EmailVerified, u.VerificationStatus, u.Active, u.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

// RegisterFailedLogin counts a failed attempt. Reaching maxAttempts locks
// the account until lockUntil and restarts the counter. The updated user
// is returned so the caller can tell whether this attempt locked it.
func (r *PostgresRepository) RegisterFailedLogin(ctx context.Context, id string, maxAttempts int, lockUntil, at time.Time) (*models.User, error) {
	query :=
		`UPDATE users SET
		   locked_until  = CASE WHEN failed_logins + 1 >= $2 THEN $3 ELSE locked_until END,
		   failed_logins = CASE WHEN failed_logins + 1 >= $2 THEN 0 ELSE failed_logins + 1 END,
		   updated_at    = $4
		 WHERE id = $1
		 RETURNING ` + userColumns

	return scanUser(r.db.QueryRowContext(ctx, query, id, maxAttempts, lockUntil, at))
}

// RecordLogin clears the failure counter and any lock and stamps the login.
func (r *PostgresRepository) RecordLogin(ctx context.Context, id, ip string, at time.Time) error {
	query :=
		`UPDATE users SET failed_logins = 0, locked_until = NULL,
		   last_login_at = $2, last_login_ip = $3, updated_at = $2
		 WHERE id = $1`
	return r.execOne(ctx, query, id, at, ip)
}

func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, id, hash string, at time.Time) error {
	query := `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`
	return r.execOne(ctx, query, id, hash, at)
}

func (r *PostgresRepository) UpdateRole(ctx context.Context, id string, role models.Role, at time.Time) error {
	query := `UPDATE users SET role = $2, updated_at = $3 WHERE id = $1`
	return r.execOne(ctx, query, id, role, at)
}

func (r *PostgresRepository) SetVerificationStatus(ctx context.Context, id string, status models.VerificationStatus, at time.Time) error {
	query := `UPDATE users SET verification_status = $2, updated_at = $3 WHERE id = $1`
	return r.execOne(ctx, query, id, status, at)
}

func (r *PostgresRepository) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE users SET email_verified = TRUE, updated_at = $2 WHERE id = $1`
	return r.execOne(ctx, query, id, at)
}

// Deactivate soft-deletes the account; rows are never removed.
func (r *PostgresRepository) Deactivate(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE users SET active = FALSE, updated_at = $2 WHERE id = $1`
	return r.execOne(ctx, query, id, at)
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
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
