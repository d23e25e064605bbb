package users

import (
	"context"
	"time"

	"github.com/dmitrijs2005/archivekeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	RegisterFailedLogin(ctx context.Context, id string, maxAttempts int, lockUntil, at time.Time) (*models.User, error)
	RecordLogin(ctx context.Context, id, ip string, at time.Time) error
	UpdatePasswordHash(ctx context.Context, id, hash string, at time.Time) error
	UpdateRole(ctx context.Context, id string, role models.Role, at time.Time) error
	SetVerificationStatus(ctx context.Context, id string, status models.VerificationStatus, at time.Time) error
	MarkEmailVerified(ctx context.Context, id string, at time.Time) error
	Deactivate(ctx context.Context, id string, at time.Time) error
}
