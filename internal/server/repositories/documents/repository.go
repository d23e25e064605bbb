package documents

import (
	"context"
	"time"

	"github.com/dmitrijs2005/archivekeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, d *models.VerificationDocument) error
	GetByID(ctx context.Context, id string) (*models.VerificationDocument, error)
	FindPendingByUser(ctx context.Context, userID string) (*models.VerificationDocument, error)
	Review(ctx context.Context, id string, status models.DocumentStatus, reviewerID string, notes *string, at time.Time) error
}
