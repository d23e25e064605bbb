package renditions

import (
	"context"
	"time"

	"github.com/dmitrijs2005/archivekeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, r *models.Rendition) error
	ExpireByGrant(ctx context.Context, grantID string, at time.Time) (int64, error)
	ExpireByPair(ctx context.Context, userID, manuscriptID string, at time.Time) (int64, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Rendition, error)
	Delete(ctx context.Context, storageKey string) error
}
