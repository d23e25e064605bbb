package grpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/archivekeeper/internal/common"
	"github.com/dmitrijs2005/archivekeeper/internal/logging"
	"github.com/dmitrijs2005/archivekeeper/internal/server/auth"
	"github.com/dmitrijs2005/archivekeeper/internal/server/models"
)

type fakeAuth struct {
	claims *auth.Claims
	err    error
	seen   []string
}

func (f *fakeAuth) Authenticate(_ context.Context, token string) (*auth.Claims, error) {
	f.seen = append(f.seen, token)
	if f.err != nil {
		return nil, f.err
	}
	return f.claims, nil
}

func newTestServer(a Authenticator) *Server {
	return NewServer("127.0.0.1:0", logging.Nop(), a)
}

func withToken(token string) context.Context {
	md := metadata.New(map[string]string{common.AccessTokenHeaderName: token})
	return metadata.NewIncomingContext(context.Background(), md)
}

var readInfo = &grpc.UnaryServerInfo{FullMethod: "/archivekeeper.v1.Archive/GetContent"}

func TestInterceptor_AnonymousWithoutToken(t *testing.T) {
	fa := &fakeAuth{}
	s := newTestServer(fa)

	var userID string
	var hasClaims bool
	h := func(ctx context.Context, req interface{}) (interface{}, error) {
		userID = UserIDFromContext(ctx)
		_, hasClaims = ClaimsFromContext(ctx)
		return "ok", nil
	}

	resp, err := s.accessTokenInterceptor(context.Background(), nil, readInfo, h)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.Empty(t, userID)
	assert.False(t, hasClaims)
	assert.Empty(t, fa.seen)
}

func TestInterceptor_AttachesClaims(t *testing.T) {
	fa := &fakeAuth{claims: &auth.Claims{UserID: "u-1", Role: models.RoleReviewer, SessionID: "s-1"}}
	s := newTestServer(fa)

	var got *auth.Claims
	h := func(ctx context.Context, req interface{}) (interface{}, error) {
		got, _ = ClaimsFromContext(ctx)
		return nil, nil
	}

	_, err := s.accessTokenInterceptor(withToken(" tok "), nil, readInfo, h)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u-1", got.UserID)
	assert.Equal(t, []string{"tok"}, fa.seen)
}

func TestInterceptor_RejectsBadTokens(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code codes.Code
		msg  string
	}{
		{"expired", common.ErrTokenExpired, codes.Unauthenticated, "unauthorized"},
		{"invalid", common.ErrTokenInvalid, codes.Unauthenticated, "unauthorized"},
		{"session", common.ErrSessionInvalid, codes.Unauthenticated, "unauthorized"},
		{"backend", context.DeadlineExceeded, codes.DeadlineExceeded, context.DeadlineExceeded.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&fakeAuth{err: tt.err})
			h := func(ctx context.Context, req interface{}) (interface{}, error) {
				t.Fatal("handler must not run")
				return nil, nil
			}

			_, err := s.accessTokenInterceptor(withToken("tok"), nil, readInfo, h)
			require.Error(t, err)
			assert.Equal(t, tt.code, status.Code(err))
			assert.Equal(t, tt.msg, status.Convert(err).Message())
		})
	}
}

func TestInterceptor_HealthIsPublic(t *testing.T) {
	fa := &fakeAuth{err: common.ErrTokenInvalid}
	s := newTestServer(fa)
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	called := false
	h := func(ctx context.Context, req interface{}) (interface{}, error) {
		called = true
		return nil, nil
	}

	_, err := s.accessTokenInterceptor(withToken("garbage"), nil, info, h)
	require.NoError(t, err)
	assert.True(t, called)
	assert.Empty(t, fa.seen)
}

func TestInterceptor_PublicArchiveMethods(t *testing.T) {
	tests := []struct {
		method string
		public bool
	}{
		{"/archivekeeper.v1.Archive/Login", true},
		{"/archivekeeper.v1.Archive/Register", true},
		{"/archivekeeper.v1.Archive/ResetPassword", true},
		{"/archivekeeper.v1.Archive/ChangePassword", false},
		{"/archivekeeper.v1.Archive/GetContent", false},
		{"/other.v1.Service/Login", false},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			s := newTestServer(&fakeAuth{err: common.ErrTokenInvalid})
			h := func(ctx context.Context, req interface{}) (interface{}, error) { return "ok", nil }

			_, err := s.accessTokenInterceptor(withToken("stale"), nil, &grpc.UnaryServerInfo{FullMethod: tt.method}, h)
			if tt.public {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, codes.Unauthenticated, status.Code(err))
			}
		})
	}
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f fakeStream) Context() context.Context { return f.ctx }

func TestStreamInterceptor_WrapsContext(t *testing.T) {
	s := newTestServer(&fakeAuth{claims: &auth.Claims{UserID: "u-2"}})
	info := &grpc.StreamServerInfo{FullMethod: "/archivekeeper.v1.Archive/GetDownloadLink"}

	var userID string
	h := func(srv interface{}, ss grpc.ServerStream) error {
		userID = UserIDFromContext(ss.Context())
		return nil
	}

	require.NoError(t, s.accessTokenStreamInterceptor(nil, fakeStream{ctx: withToken("tok")}, info, h))
	assert.Equal(t, "u-2", userID)

	s = newTestServer(&fakeAuth{err: common.ErrSessionInvalid})
	err := s.accessTokenStreamInterceptor(nil, fakeStream{ctx: withToken("tok")}, info, h)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}
