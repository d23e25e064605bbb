package grpc

import (
	"context"
	"net"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"

	"github.com/dmitrijs2005/archivekeeper/internal/common"
	"github.com/dmitrijs2005/archivekeeper/internal/logging"
	"github.com/dmitrijs2005/archivekeeper/internal/server/auth"
	"github.com/dmitrijs2005/archivekeeper/internal/server/models"
	"github.com/dmitrijs2005/archivekeeper/internal/server/services"
)

type accountService interface {
	Register(ctx context.Context, email, password string) (*models.User, error)
	Login(ctx context.Context, email, password, ip, userAgent string) (*services.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*services.LoginResult, error)
	Logout(ctx context.Context, claims *auth.Claims) error
	VerifyEmail(ctx context.Context, token string) error
	ResendEmailVerification(ctx context.Context, userID string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, password string) error
	ChangePassword(ctx context.Context, userID, current, next string) error
}

type grantService interface {
	Submit(ctx context.Context, requesterID string, in services.SubmitInput) (*models.AccessRequest, error)
	Approve(ctx context.Context, actorID, requestID string, d services.Decision) (*models.ManuscriptAccess, error)
	Reject(ctx context.Context, actorID, requestID, notes string) (*models.AccessRequest, error)
	Revoke(ctx context.Context, actorID, manuscriptID, userID, reason string) (*models.ManuscriptAccess, error)
	ListByRequester(ctx context.Context, requesterID string) ([]*models.AccessRequest, error)
	ListByManuscript(ctx context.Context, actorID, manuscriptID string) ([]*models.AccessRequest, error)
}

type contentService interface {
	AuthorizeContentAccess(ctx context.Context, userID, manuscriptID string, op services.Operation) (*services.Permit, error)
	Deliver(ctx context.Context, userID, manuscriptID string, op services.Operation) (*services.Content, error)
	Link(ctx context.Context, userID, manuscriptID string) (*services.DownloadLink, error)
}

// ArchiveService implements ArchiveServer over the domain services. Errors
// are returned as domain errors; the server's error interceptor maps them
// onto status codes.
type ArchiveService struct {
	users   accountService
	grants  grantService
	content contentService
	logger  logging.Logger
}

func NewArchiveService(users accountService, grants grantService, content contentService, l logging.Logger) *ArchiveService {
	return &ArchiveService{
		users:   users,
		grants:  grants,
		content: content,
		logger:  l.With("module", "archive_api"),
	}
}

var _ ArchiveServer = (*ArchiveService)(nil)

// caller returns the claims of an authenticated call.
func caller(ctx context.Context) (*auth.Claims, error) {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		return nil, common.ErrorUnauthorized
	}
	return c, nil
}

func clientInfo(ctx context.Context) (ip, userAgent string) {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		ip = p.Addr.String()
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ua := md.Get("user-agent"); len(ua) > 0 {
			userAgent = ua[0]
		}
	}
	return ip, userAgent
}

func (s *ArchiveService) Ping(context.Context, *Empty) (*PingResponse, error) {
	return &PingResponse{Status: "OK"}, nil
}

func (s *ArchiveService) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	s.logger.Info(ctx, "Registration request")

	user, err := s.users.Register(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}
	return &RegisterResponse{UserID: user.ID}, nil
}

func (s *ArchiveService) Login(ctx context.Context, req *LoginRequest) (*TokenResponse, error) {
	ip, ua := clientInfo(ctx)
	res, err := s.users.Login(ctx, req.Email, req.Password, ip, ua)
	if err != nil {
		return nil, err
	}
	return tokenResponse(res), nil
}

func (s *ArchiveService) Refresh(ctx context.Context, req *RefreshRequest) (*TokenResponse, error) {
	res, err := s.users.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return nil, err
	}
	return tokenResponse(res), nil
}

func (s *ArchiveService) Logout(ctx context.Context, _ *Empty) (*Empty, error) {
	c, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.users.Logout(ctx, c); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *ArchiveService) VerifyEmail(ctx context.Context, req *VerifyEmailRequest) (*Empty, error) {
	if err := s.users.VerifyEmail(ctx, req.Token); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *ArchiveService) ResendEmailVerification(ctx context.Context, _ *Empty) (*Empty, error) {
	c, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.users.ResendEmailVerification(ctx, c.UserID); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *ArchiveService) RequestPasswordReset(ctx context.Context, req *RequestPasswordResetRequest) (*Empty, error) {
	if err := s.users.RequestPasswordReset(ctx, req.Email); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *ArchiveService) ResetPassword(ctx context.Context, req *ResetPasswordRequest) (*Empty, error) {
	if err := s.users.ResetPassword(ctx, req.Token, req.Password); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *ArchiveService) ChangePassword(ctx context.Context, req *ChangePasswordRequest) (*Empty, error) {
	c, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.users.ChangePassword(ctx, c.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *ArchiveService) SubmitAccessRequest(ctx context.Context, req *SubmitAccessRequestRequest) (*AccessRequest, error) {
	c, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	level, err := models.ParseAccessLevel(req.Level)
	if err != nil {
		return nil, err
	}

	r, err := s.grants.Submit(ctx, c.UserID, services.SubmitInput{
		ManuscriptID:  req.ManuscriptID,
		Level:         level,
		Days:          req.Days,
		Purpose:       req.Purpose,
		Institution:   req.Institution,
		Justification: req.Justification,
	})
	if err != nil {
		return nil, err
	}
	return accessRequest(r), nil
}

func (s *ArchiveService) ApproveAccessRequest(ctx context.Context, req *ApproveRequest) (*Grant, error) {
	c, err := caller(ctx)
	if err != nil {
		return nil, err
	}

	d := services.Decision{Days: req.Days, Notes: req.Notes}
	if req.Level != "" {
		if d.Level, err = models.ParseAccessLevel(req.Level); err != nil {
			return nil, err
		}
	}

	g, err := s.grants.Approve(ctx, c.UserID, req.RequestID, d)
	if err != nil {
		return nil, err
	}
	return grant(g), nil
}

func (s *ArchiveService) RejectAccessRequest(ctx context.Context, req *RejectRequest) (*AccessRequest, error) {
	c, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	r, err := s.grants.Reject(ctx, c.UserID, req.RequestID, req.Notes)
	if err != nil {
		return nil, err
	}
	return accessRequest(r), nil
}

func (s *ArchiveService) RevokeAccess(ctx context.Context, req *RevokeRequest) (*Grant, error) {
	c, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	g, err := s.grants.Revoke(ctx, c.UserID, req.ManuscriptID, req.UserID, req.Reason)
	if err != nil {
		return nil, err
	}
	return grant(g), nil
}

func (s *ArchiveService) ListMyRequests(ctx context.Context, _ *Empty) (*AccessRequestList, error) {
	c, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	rs, err := s.grants.ListByRequester(ctx, c.UserID)
	if err != nil {
		return nil, err
	}
	return accessRequestList(rs), nil
}

func (s *ArchiveService) ListManuscriptRequests(ctx context.Context, req *ListManuscriptRequestsRequest) (*AccessRequestList, error) {
	c, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	rs, err := s.grants.ListByManuscript(ctx, c.UserID, req.ManuscriptID)
	if err != nil {
		return nil, err
	}
	return accessRequestList(rs), nil
}

// AuthorizeContentAccess is open to anonymous callers; the gate applies the
// visibility baseline for them.
func (s *ArchiveService) AuthorizeContentAccess(ctx context.Context, req *AuthorizeRequest) (*AuthorizeResponse, error) {
	p, err := s.content.AuthorizeContentAccess(ctx, UserIDFromContext(ctx), req.ManuscriptID, services.Operation(req.Operation))
	if err != nil {
		return nil, err
	}
	return &AuthorizeResponse{Level: p.Level.String(), Basis: string(p.Basis), WatermarkID: p.WatermarkID()}, nil
}

func (s *ArchiveService) GetContent(ctx context.Context, req *GetContentRequest) (*ContentResponse, error) {
	op := services.OpViewContent
	if req.Download {
		op = services.OpDownload
	}
	content, err := s.content.Deliver(ctx, UserIDFromContext(ctx), req.ManuscriptID, op)
	if err != nil {
		return nil, err
	}
	return &ContentResponse{Data: content.Data, MimeType: content.MimeType, WatermarkID: content.WatermarkID}, nil
}

func (s *ArchiveService) GetDownloadLink(ctx context.Context, req *GetDownloadLinkRequest) (*DownloadLinkResponse, error) {
	link, err := s.content.Link(ctx, UserIDFromContext(ctx), req.ManuscriptID)
	if err != nil {
		return nil, err
	}
	return &DownloadLinkResponse{URL: link.URL, WatermarkID: link.WatermarkID, ExpiresAt: link.ExpiresAt}, nil
}
