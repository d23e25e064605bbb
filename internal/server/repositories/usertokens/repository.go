package usertokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/archivekeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, t *models.UserToken) error
	RetireOutstanding(ctx context.Context, userID string, purpose models.TokenPurpose, at time.Time) error
	Consume(ctx context.Context, purpose models.TokenPurpose, tokenHash []byte, at time.Time) (*models.UserToken, error)
}
