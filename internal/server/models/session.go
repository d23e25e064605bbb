package models

import "time"

// Session is one logged-in device. The refresh credential itself is never
// stored; CredentialHash is the SHA-256 of the nonce carried in the
// refresh token.
type Session struct {
	ID             string
	UserID         string
	CredentialHash []byte
	IP             string
	UserAgent      string
	Valid          bool
	ExpiresAt      time.Time
	CreatedAt      time.Time
	LastUsedAt     time.Time
}

// IsValid reports whether the session may still back a refresh at now.
func (s *Session) IsValid(now time.Time) bool {
	return s.Valid && s.ExpiresAt.After(now)
}
