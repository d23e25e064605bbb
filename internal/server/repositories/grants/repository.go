package grants

import (
	"context"
	"time"

	"github.com/dmitrijs2005/archivekeeper/internal/server/models"
)

// Revocation records who ended a grant and why.
type Revocation struct {
	ActorID string
	Reason  string
	At      time.Time
}

// Lapsed identifies a grant deactivated by the expiry sweep.
type Lapsed struct {
	GrantID   string
	RequestID *string
}

type Repository interface {
	LockPair(ctx context.Context, userID, manuscriptID string) error
	Create(ctx context.Context, g *models.ManuscriptAccess) error
	GetByID(ctx context.Context, id string) (*models.ManuscriptAccess, error)
	FindActive(ctx context.Context, userID, manuscriptID string) (*models.ManuscriptAccess, error)
	FindByWatermark(ctx context.Context, watermarkID string) (*models.ManuscriptAccess, error)
	RevokeActive(ctx context.Context, userID, manuscriptID string, rv Revocation) ([]string, error)
	Revoke(ctx context.Context, id string, rv Revocation) (*models.ManuscriptAccess, error)
	RecordUsage(ctx context.Context, id string, kind models.UsageKind, at time.Time) error
	ExpireLapsed(ctx context.Context, now time.Time) ([]Lapsed, error)
	ExpireLapsedPair(ctx context.Context, userID, manuscriptID string, now time.Time) ([]Lapsed, error)
}
