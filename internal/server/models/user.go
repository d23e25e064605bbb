package models

import "time"

type User struct {
	ID                 string
	Email              string
	PasswordHash       string
	Role               Role
	EmailVerified      bool
	VerificationStatus VerificationStatus
	Active             bool
	FailedLogins       int
	LockedUntil        *time.Time
	LastLoginAt        *time.Time
	LastLoginIP        *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Locked reports whether the account is inside a lockout window at now.
func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}
