package sessions

import (
	"context"
	"time"

	"github.com/dmitrijs2005/archivekeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, s *models.Session) error
	FindByID(ctx context.Context, id string) (*models.Session, error)
	Rotate(ctx context.Context, id string, oldHash, newHash []byte, expiresAt, at time.Time) error
	Invalidate(ctx context.Context, id string) error
	InvalidateAll(ctx context.Context, userID string) (int64, error)
	CountActive(ctx context.Context, userID string, now time.Time) (int, error)
	InvalidateOldest(ctx context.Context, userID string, now time.Time) error
	ListActive(ctx context.Context, userID string, now time.Time) ([]*models.Session, error)
}
