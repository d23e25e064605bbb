package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"

	"github.com/dmitrijs2005/archivekeeper/internal/common"
	"github.com/dmitrijs2005/archivekeeper/internal/logging"
	"github.com/dmitrijs2005/archivekeeper/internal/server/auth"
)

// Authenticator resolves an access token into verified claims bound to a
// live session.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*auth.Claims, error)
}

type ctxKey string

const claimsKey ctxKey = "claims"

// ClaimsFromContext returns the claims the interceptor attached. Anonymous
// calls carry none.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*auth.Claims)
	return c, ok && c != nil
}

// UserIDFromContext returns the authenticated user id, or "" for an
// anonymous caller.
func UserIDFromContext(ctx context.Context) string {
	if c, ok := ClaimsFromContext(ctx); ok {
		return c.UserID
	}
	return ""
}

func isPublicMethod(fullMethod string) bool {
	if strings.HasPrefix(fullMethod, "/"+healthpb.Health_ServiceDesc.ServiceName+"/") {
		return true
	}
	method, ok := strings.CutPrefix(fullMethod, "/"+ArchiveServiceName+"/")
	return ok && publicArchiveMethods[method]
}

func tokenFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(common.AccessTokenHeaderName)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

// authenticate attaches claims when a token is present. A missing token
// leaves the call anonymous; a present but unusable one is rejected.
func (s *Server) authenticate(ctx context.Context, method string) (context.Context, error) {
	if isPublicMethod(method) {
		return ctx, nil
	}

	token := tokenFromContext(ctx)
	if token == "" {
		return ctx, nil
	}

	claims, err := s.auth.Authenticate(ctx, token)
	if err != nil {
		s.logger.Warn(ctx, "access token rejected", "method", method, "error", err)
		return nil, statusFromError(err)
	}

	ctx = logging.ContextWith(ctx, "user_id", claims.UserID, "session_id", claims.SessionID)
	return context.WithValue(ctx, claimsKey, claims), nil
}

func (s *Server) accessTokenInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	ctx, err := s.authenticate(ctx, info.FullMethod)
	if err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

type authenticatedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *authenticatedStream) Context() context.Context { return w.ctx }

func (s *Server) accessTokenStreamInterceptor(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	ctx, err := s.authenticate(ss.Context(), info.FullMethod)
	if err != nil {
		return err
	}
	return handler(srv, &authenticatedStream{ServerStream: ss, ctx: ctx})
}
