package models

import "time"

// AccessRequest is a petition for a level on a manuscript. Purpose,
// Institution and Justification are advisory and never enforced.
type AccessRequest struct {
	ID             string
	ManuscriptID   string
	RequesterID    string
	RequestedLevel AccessLevel
	RequestedDays  *int
	Purpose        string
	Institution    string
	Justification  string
	Status         RequestStatus
	ReviewerID     *string
	ReviewNotes    *string
	ReviewedAt     *time.Time
	ApprovedLevel  *AccessLevel
	ApprovedDays   *int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
