package grpc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/archivekeeper/internal/common"
)

func TestStatusFromError(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
		msg  string
	}{
		{fmt.Errorf("manuscript m-1: %w", common.ErrorNotFound), codes.NotFound, "not found"},
		{fmt.Errorf("%w: review notes are required", common.ErrValidation), codes.InvalidArgument, "validation error: review notes are required"},
		{common.ErrWeakPassword, codes.InvalidArgument, common.ErrWeakPassword.Error()},
		{common.ErrorUnauthorized, codes.Unauthenticated, "unauthorized"},
		{common.ErrTokenExpired, codes.Unauthenticated, "unauthorized"},
		{fmt.Errorf("refresh: %w", common.ErrSessionInvalid), codes.Unauthenticated, "unauthorized"},
		{common.ErrInsufficientAccess, codes.PermissionDenied, "insufficient access"},
		{common.ErrIdentityNotVerified, codes.PermissionDenied, common.ErrIdentityNotVerified.Error()},
		{common.ErrPendingRequestExists, codes.AlreadyExists, common.ErrPendingRequestExists.Error()},
		{common.ErrInvalidStateTransition, codes.FailedPrecondition, common.ErrInvalidStateTransition.Error()},
		{fmt.Errorf("%w: checksum mismatch", common.ErrIntegrity), codes.DataLoss, common.ErrIntegrity.Error()},
		{errors.New("pq: connection refused"), codes.Internal, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			st := status.Convert(statusFromError(tt.err))
			assert.Equal(t, tt.code, st.Code())
			assert.Equal(t, tt.msg, st.Message())
		})
	}

	assert.NoError(t, statusFromError(nil))

	already := status.Error(codes.ResourceExhausted, "slow down")
	assert.Equal(t, already, statusFromError(already))
}

func TestErrorInterceptor(t *testing.T) {
	s := newTestServer(&fakeAuth{})
	info := &grpc.UnaryServerInfo{FullMethod: "/archive.v1.Archive/Approve"}

	_, err := s.errorInterceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, common.ErrInvalidStateTransition
	})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	resp, err := s.errorInterceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "granted", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "granted", resp)
}
