package models

import "time"

// Manuscript carries only what access decisions and file delivery need.
type Manuscript struct {
	ID         string
	OwnerID    string
	Title      string
	Visibility Visibility
	StorageKey *string
	Checksum   *string
	KeyID      *string
	MimeType   *string
	CreatedAt  time.Time
}

// HasFile reports whether an encrypted file is attached.
func (m *Manuscript) HasFile() bool {
	return m.StorageKey != nil && m.Checksum != nil
}
