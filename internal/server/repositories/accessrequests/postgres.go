// Package accessrequests persists access petitions and applies their
// status transitions as conditional updates.
package accessrequests

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

const requestColumns = `id, manuscript_id, requester_id, requested_level, requested_days,
		purpose, institution, justification, status, reviewer_id, review_notes, reviewed_at,
		approved_level, approved_days, created_at, updated_at`

type scanner interface{ Scan(...any) error }

func scanRequest(row scanner) (*models.AccessRequest, error) {
	r := &models.AccessRequest{}
	err := row.Scan(&r.ID, &r.ManuscriptID, &r.RequesterID, &r.RequestedLevel, &r.RequestedDays,
		&r.Purpose, &r.Institution, &r.Justification, &r.Status, &r.ReviewerID, &r.ReviewNotes, &r.ReviewedAt,
		&r.ApprovedLevel, &r.ApprovedDays, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (r *PostgresRepository) Create(ctx context.Context, req *models.AccessRequest) error {
	query :=
		`INSERT INTO access_requests (id, manuscript_id, requester_id, requested_level, requested_days,
		   purpose, institution, justification, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		 `

	_, err := r.db.ExecContext(ctx, query, req.ID, req.ManuscriptID, req.RequesterID, req.RequestedLevel,
		req.RequestedDays, req.Purpose, req.Institution, req.Justification, req.Status, req.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.AccessRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM access_requests WHERE id = $1`
	return r.one(ctx, query, id)
}

// FindPending returns the open request of requesterID for manuscriptID.
func (r *PostgresRepository) FindPending(ctx context.Context, requesterID, manuscriptID string) (*models.AccessRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM access_requests
		 WHERE requester_id = $1 AND manuscript_id = $2 AND status = 'PENDING'
		 ORDER BY created_at DESC LIMIT 1`
	return r.one(ctx, query, requesterID, manuscriptID)
}

func (r *PostgresRepository) one(ctx context.Context, query string, args ...any) (*models.AccessRequest, error) {
	req, err := scanRequest(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return req, nil
}

// Approve moves a PENDING request to APPROVED. The status predicate makes
// the transition happen at most once; a request that already left PENDING
// yields common.ErrInvalidStateTransition.
func (r *PostgresRepository) Approve(ctx context.Context, id string, rv Review) error {
	query :=
		`UPDATE access_requests SET status = 'APPROVED', reviewer_id = $2, review_notes = $3,
		   reviewed_at = $4, approved_level = $5, approved_days = $6, updated_at = $4
		 WHERE id = $1 AND status = 'PENDING'`

	return r.transition(ctx, query, id, rv.ReviewerID, rv.Notes, rv.At, rv.ApprovedLevel, rv.ApprovedDays)
}

// Reject moves a PENDING request to REJECTED, with the same at-most-once
// guarantee as Approve.
func (r *PostgresRepository) Reject(ctx context.Context, id string, rv Review) error {
	query :=
		`UPDATE access_requests SET status = 'REJECTED', reviewer_id = $2, review_notes = $3,
		   reviewed_at = $4, updated_at = $4
		 WHERE id = $1 AND status = 'PENDING'`

	return r.transition(ctx, query, id, rv.ReviewerID, rv.Notes, rv.At)
}

// MarkRevoked relabels the request behind a revoked grant.
func (r *PostgresRepository) MarkRevoked(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE access_requests SET status = 'REVOKED', updated_at = $2 WHERE id = $1 AND status = 'APPROVED'`
	return r.transition(ctx, query, id, at)
}

// MarkExpired relabels the request behind a lapsed grant. It reports false
// when the request was no longer APPROVED, which makes repeated sweeps
// harmless.
func (r *PostgresRepository) MarkExpired(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `UPDATE access_requests SET status = 'EXPIRED', updated_at = $2 WHERE id = $1 AND status = 'APPROVED'`

	err := r.transition(ctx, query, id, at)
	if errors.Is(err, common.ErrInvalidStateTransition) {
		return false, nil
	}
	return err == nil, err
}

func (r *PostgresRepository) transition(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
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

func (r *PostgresRepository) ListByRequester(ctx context.Context, requesterID string) ([]*models.AccessRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM access_requests WHERE requester_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, requesterID)
}

func (r *PostgresRepository) ListByManuscript(ctx context.Context, manuscriptID string) ([]*models.AccessRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM access_requests WHERE manuscript_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, manuscriptID)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.AccessRequest, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.AccessRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}
