package models

import "time"

// ManuscriptAccess is a grant materialized from an approved request.
type ManuscriptAccess struct {
	ID             string
	ManuscriptID   string
	UserID         string
	RequestID      *string
	Level          AccessLevel
	GrantedBy      string
	GrantedAt      time.Time
	ExpiresAt      *time.Time
	Active         bool
	RevokedAt      *time.Time
	RevokedBy      *string
	RevokeReason   *string
	WatermarkID    string
	ViewCount      int
	DownloadCount  int
	LastAccessedAt *time.Time
}

// EffectivelyActive applies the lazy expiry rule: the active flag alone is
// not enough, the expiry must also lie in the future.
func (g *ManuscriptAccess) EffectivelyActive(now time.Time) bool {
	return g.Active && (g.ExpiresAt == nil || g.ExpiresAt.After(now))
}
