package grpc

import (
	"time"

	"github.com/dmitrijs2005/archivekeeper/internal/server/models"
	"github.com/dmitrijs2005/archivekeeper/internal/server/services"
)

type Empty struct{}

type PingResponse struct {
	Status string `json:"status"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	UserID string `json:"user_id"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenResponse answers Login and Refresh.
type TokenResponse struct {
	UserID           string    `json:"user_id"`
	SessionID        string    `json:"session_id"`
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func tokenResponse(r *services.LoginResult) *TokenResponse {
	return &TokenResponse{
		UserID:           r.User.ID,
		SessionID:        r.SessionID,
		AccessToken:      r.Tokens.AccessToken,
		RefreshToken:     r.Tokens.RefreshToken,
		AccessExpiresAt:  r.Tokens.AccessExpiresAt,
		RefreshExpiresAt: r.Tokens.RefreshExpiresAt,
	}
}

type VerifyEmailRequest struct {
	Token string `json:"token"`
}

type RequestPasswordResetRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type SubmitAccessRequestRequest struct {
	ManuscriptID  string `json:"manuscript_id"`
	Level         string `json:"level"`
	Days          *int   `json:"days,omitempty"`
	Purpose       string `json:"purpose"`
	Institution   string `json:"institution,omitempty"`
	Justification string `json:"justification,omitempty"`
}

// ApproveRequest overrides the requested level and duration when Level or
// Days is set.
type ApproveRequest struct {
	RequestID string `json:"request_id"`
	Level     string `json:"level,omitempty"`
	Days      *int   `json:"days,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

type RejectRequest struct {
	RequestID string `json:"request_id"`
	Notes     string `json:"notes"`
}

type RevokeRequest struct {
	ManuscriptID string `json:"manuscript_id"`
	UserID       string `json:"user_id"`
	Reason       string `json:"reason"`
}

type ListManuscriptRequestsRequest struct {
	ManuscriptID string `json:"manuscript_id"`
}

type AccessRequest struct {
	ID             string     `json:"id"`
	ManuscriptID   string     `json:"manuscript_id"`
	RequesterID    string     `json:"requester_id"`
	RequestedLevel string     `json:"requested_level"`
	RequestedDays  *int       `json:"requested_days,omitempty"`
	Purpose        string     `json:"purpose"`
	Status         string     `json:"status"`
	ReviewerID     *string    `json:"reviewer_id,omitempty"`
	ReviewNotes    *string    `json:"review_notes,omitempty"`
	ReviewedAt     *time.Time `json:"reviewed_at,omitempty"`
	ApprovedLevel  string     `json:"approved_level,omitempty"`
	ApprovedDays   *int       `json:"approved_days,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func accessRequest(r *models.AccessRequest) *AccessRequest {
	out := &AccessRequest{
		ID:             r.ID,
		ManuscriptID:   r.ManuscriptID,
		RequesterID:    r.RequesterID,
		RequestedLevel: r.RequestedLevel.String(),
		RequestedDays:  r.RequestedDays,
		Purpose:        r.Purpose,
		Status:         string(r.Status),
		ReviewerID:     r.ReviewerID,
		ReviewNotes:    r.ReviewNotes,
		ReviewedAt:     r.ReviewedAt,
		ApprovedDays:   r.ApprovedDays,
		CreatedAt:      r.CreatedAt,
	}
	if r.ApprovedLevel != nil {
		out.ApprovedLevel = r.ApprovedLevel.String()
	}
	return out
}

type AccessRequestList struct {
	Requests []*AccessRequest `json:"requests"`
}

func accessRequestList(rs []*models.AccessRequest) *AccessRequestList {
	out := &AccessRequestList{Requests: make([]*AccessRequest, 0, len(rs))}
	for _, r := range rs {
		out.Requests = append(out.Requests, accessRequest(r))
	}
	return out
}

// Grant omits usage counters; those are for owners and auditors.
type Grant struct {
	ID           string     `json:"id"`
	ManuscriptID string     `json:"manuscript_id"`
	UserID       string     `json:"user_id"`
	Level        string     `json:"level"`
	GrantedAt    time.Time  `json:"granted_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Active       bool       `json:"active"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	WatermarkID  string     `json:"watermark_id"`
}

func grant(g *models.ManuscriptAccess) *Grant {
	return &Grant{
		ID:           g.ID,
		ManuscriptID: g.ManuscriptID,
		UserID:       g.UserID,
		Level:        g.Level.String(),
		GrantedAt:    g.GrantedAt,
		ExpiresAt:    g.ExpiresAt,
		Active:       g.Active,
		RevokedAt:    g.RevokedAt,
		WatermarkID:  g.WatermarkID,
	}
}

type AuthorizeRequest struct {
	ManuscriptID string `json:"manuscript_id"`
	Operation    string `json:"operation"`
}

type AuthorizeResponse struct {
	Level       string `json:"level"`
	Basis       string `json:"basis"`
	WatermarkID string `json:"watermark_id,omitempty"`
}

type GetContentRequest struct {
	ManuscriptID string `json:"manuscript_id"`
	Download     bool   `json:"download"`
}

type ContentResponse struct {
	Data        []byte `json:"data"`
	MimeType    string `json:"mime_type"`
	WatermarkID string `json:"watermark_id,omitempty"`
}

type GetDownloadLinkRequest struct {
	ManuscriptID string `json:"manuscript_id"`
}

type DownloadLinkResponse struct {
	URL         string    `json:"url"`
	WatermarkID string    `json:"watermark_id,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}
