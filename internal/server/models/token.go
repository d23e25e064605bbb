package models

import "time"

// TokenPurpose names what a single-use account token may be redeemed for.
type TokenPurpose string

const (
	TokenEmailVerification TokenPurpose = "EMAIL_VERIFICATION"
	TokenPasswordReset     TokenPurpose = "PASSWORD_RESET"
)

// UserToken is an emailed single-use token. Like a session credential, only
// its SHA-256 is stored.
type UserToken struct {
	ID        string
	UserID    string
	Purpose   TokenPurpose
	TokenHash []byte
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// Usable reports whether the token can still be redeemed at now.
func (t *UserToken) Usable(now time.Time) bool {
	return t.UsedAt == nil && t.ExpiresAt.After(now)
}
