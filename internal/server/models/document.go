package models

import "time"

// VerificationDocument is an encrypted identity document awaiting or
// having passed admin review.
type VerificationDocument struct {
	ID           string
	UserID       string
	DocumentType string
	ContentHash  string
	StorageKey   string
	KeyID        string
	MimeType     string
	Status       DocumentStatus
	ReviewerID   *string
	ReviewNotes  *string
	ReviewedAt   *time.Time
	CreatedAt    time.Time
}
