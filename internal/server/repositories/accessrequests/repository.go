package accessrequests

import (
	"context"
	"time"

	"github.com/dmitrijs2005/archivekeeper/internal/server/models"
)

// Review carries the reviewer's decision on a pending request.
type Review struct {
	ReviewerID    string
	Notes         *string
	ApprovedLevel models.AccessLevel
	ApprovedDays  *int
	At            time.Time
}

type Repository interface {
	Create(ctx context.Context, req *models.AccessRequest) error
	GetByID(ctx context.Context, id string) (*models.AccessRequest, error)
	FindPending(ctx context.Context, requesterID, manuscriptID string) (*models.AccessRequest, error)
	Approve(ctx context.Context, id string, review Review) error
	Reject(ctx context.Context, id string, review Review) error
	MarkRevoked(ctx context.Context, id string, at time.Time) error
	MarkExpired(ctx context.Context, id string, at time.Time) (bool, error)
	ListByRequester(ctx context.Context, requesterID string) ([]*models.AccessRequest, error)
	ListByManuscript(ctx context.Context, manuscriptID string) ([]*models.AccessRequest, error)
}
