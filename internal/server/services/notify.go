package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/archivekeeper/internal/logging"
	"github.com/dmitrijs2005/archivekeeper/internal/server/models"
)

// TokenNotifier delivers a single-use account token to the user it was
// issued for, typically by email.
type TokenNotifier interface {
	DeliverToken(ctx context.Context, user *models.User, purpose models.TokenPurpose, token string, expiresAt time.Time) error
}

// LogNotifier stands in for a mail transport: it writes the token to the
// debug log. Deployments that send real mail provide their own notifier.
type LogNotifier struct {
	logger logging.Logger
}

func NewLogNotifier(logger logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("module", "notifier")}
}

func (n *LogNotifier) DeliverToken(ctx context.Context, user *models.User, purpose models.TokenPurpose, token string, expiresAt time.Time) error {
	n.logger.Debug(ctx, "account token issued", "user_id", user.ID, "purpose", purpose,
		"token", token, "expires_at", expiresAt)
	return nil
}
