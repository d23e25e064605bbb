// Package grants persists ManuscriptAccess capability records.
package grants

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

const grantColumns = `id, manuscript_id, user_id, request_id, level, granted_by, granted_at, expires_at,
		active, revoked_at, revoked_by, revoke_reason, watermark_id, view_count, download_count, last_accessed_at`

type scanner interface{ Scan(...any) error }

func scanGrant(row scanner) (*models.ManuscriptAccess, error) {
	g := &models.ManuscriptAccess{}
	err := row.Scan(&g.ID, &g.ManuscriptID, &g.UserID, &g.RequestID, &g.Level, &g.GrantedBy, &g.GrantedAt,
		&g.ExpiresAt, &g.Active, &g.RevokedAt, &g.RevokedBy, &g.RevokeReason, &g.WatermarkID,
		&g.ViewCount, &g.DownloadCount, &g.LastAccessedAt)
	return g, err
}

// LockPair takes a transaction-scoped advisory lock on (userID,
// manuscriptID). Approvals for the same pair queue behind it, which keeps
// at most one grant active per pair. Must run inside a transaction.
func (r *PostgresRepository) LockPair(ctx context.Context, userID, manuscriptID string) error {
	query := `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`

	if _, err := r.db.ExecContext(ctx, query, userID+":"+manuscriptID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Create(ctx context.Context, g *models.ManuscriptAccess) error {
	query :=
		`INSERT INTO manuscript_access (id, manuscript_id, user_id, request_id, level, granted_by,
		   granted_at, expires_at, active, watermark_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, $9)
		 `

	_, err := r.db.ExecContext(ctx, query, g.ID, g.ManuscriptID, g.UserID, g.RequestID, g.Level,
		g.GrantedBy, g.GrantedAt, g.ExpiresAt, g.WatermarkID)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.ManuscriptAccess, error) {
	query := `SELECT ` + grantColumns + ` FROM manuscript_access WHERE id = $1`
	return r.one(ctx, query, id)
}

// FindActive returns the grant flagged active for the pair. The caller must
// still apply the expiry check; the flag lags until the sweep runs.
func (r *PostgresRepository) FindActive(ctx context.Context, userID, manuscriptID string) (*models.ManuscriptAccess, error) {
	query := `SELECT ` + grantColumns + ` FROM manuscript_access
		 WHERE user_id = $1 AND manuscript_id = $2 AND active
		 ORDER BY granted_at DESC LIMIT 1`
	return r.one(ctx, query, userID, manuscriptID)
}

func (r *PostgresRepository) FindByWatermark(ctx context.Context, watermarkID string) (*models.ManuscriptAccess, error) {
	query := `SELECT ` + grantColumns + ` FROM manuscript_access WHERE watermark_id = $1`
	return r.one(ctx, query, watermarkID)
}

func (r *PostgresRepository) one(ctx context.Context, query string, args ...any) (*models.ManuscriptAccess, error) {
	g, err := scanGrant(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return g, nil
}

// RevokeActive deactivates every active grant of the pair and returns the
// ids of the requests they came from.
func (r *PostgresRepository) RevokeActive(ctx context.Context, userID, manuscriptID string, rv Revocation) ([]string, error) {
	query :=
		`UPDATE manuscript_access SET active = FALSE, revoked_at = $3, revoked_by = $4, revoke_reason = $5
		 WHERE user_id = $1 AND manuscript_id = $2 AND active
		 RETURNING request_id`

	rows, err := r.db.QueryContext(ctx, query, userID, manuscriptID, rv.At, rv.ActorID, rv.Reason)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var requestIDs []string
	for rows.Next() {
		var id sql.NullString
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if id.Valid {
			requestIDs = append(requestIDs, id.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return requestIDs, nil
}

// Revoke deactivates one grant. A grant that is already inactive yields
// common.ErrInvalidStateTransition.
func (r *PostgresRepository) Revoke(ctx context.Context, id string, rv Revocation) (*models.ManuscriptAccess, error) {
	query :=
		`UPDATE manuscript_access SET active = FALSE, revoked_at = $2, revoked_by = $3, revoke_reason = $4
		 WHERE id = $1 AND active
		 RETURNING ` + grantColumns

	g, err := scanGrant(r.db.QueryRowContext(ctx, query, id, rv.At, rv.ActorID, rv.Reason))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrInvalidStateTransition
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return g, nil
}

// RecordUsage bumps the counter selected by kind and stamps last access.
func (r *PostgresRepository) RecordUsage(ctx context.Context, id string, kind models.UsageKind, at time.Time) error {
	var query string
	switch kind {
	case models.UsageView:
		query = `UPDATE manuscript_access SET view_count = view_count + 1, last_accessed_at = $2 WHERE id = $1`
	case models.UsageDownload:
		query = `UPDATE manuscript_access SET download_count = download_count + 1, last_accessed_at = $2 WHERE id = $1`
	default:
		return fmt.Errorf("%w: unknown usage kind %q", common.ErrValidation, kind)
	}

	res, err := r.db.ExecContext(ctx, query, id, at)
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

// ExpireLapsed deactivates active grants whose expiry is at or before now.
// Grants already inactive are untouched, so overlapping sweeps are safe.
func (r *PostgresRepository) ExpireLapsed(ctx context.Context, now time.Time) ([]Lapsed, error) {
	query :=
		`UPDATE manuscript_access SET active = FALSE
		 WHERE active AND expires_at IS NOT NULL AND expires_at <= $1
		 RETURNING id, request_id`

	return r.lapsed(ctx, query, now)
}

// ExpireLapsedPair is ExpireLapsed restricted to one (user, manuscript)
// pair.
func (r *PostgresRepository) ExpireLapsedPair(ctx context.Context, userID, manuscriptID string, now time.Time) ([]Lapsed, error) {
	query :=
		`UPDATE manuscript_access SET active = FALSE
		 WHERE user_id = $1 AND manuscript_id = $2
		   AND active AND expires_at IS NOT NULL AND expires_at <= $3
		 RETURNING id, request_id`

	return r.lapsed(ctx, query, userID, manuscriptID, now)
}

func (r *PostgresRepository) lapsed(ctx context.Context, query string, args ...any) ([]Lapsed, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var lapsed []Lapsed
	for rows.Next() {
		var l Lapsed
		if err := rows.Scan(&l.GrantID, &l.RequestID); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		lapsed = append(lapsed, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return lapsed, nil
}
