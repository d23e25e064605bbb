package models

import "time"

// Rendition is a decrypted, watermarked copy of a manuscript placed in the
// blob store for a presigned download. It must not outlive ExpiresAt or the
// grant it was rendered under.
type Rendition struct {
	StorageKey   string
	ManuscriptID string
	UserID       string
	GrantID      *string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}
