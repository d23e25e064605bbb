package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/archivekeeper/internal/common"
)

type errorMapping struct {
	target error
	code   codes.Code
}

// Order matters: the first match wins.
var errorMappings = []errorMapping{
	{common.ErrorNotFound, codes.NotFound},
	{common.ErrValidation, codes.InvalidArgument},
	{common.ErrWeakPassword, codes.InvalidArgument},
	{common.ErrorUnauthorized, codes.Unauthenticated},
	{common.ErrTokenExpired, codes.Unauthenticated},
	{common.ErrTokenInvalid, codes.Unauthenticated},
	{common.ErrSessionInvalid, codes.Unauthenticated},
	{common.ErrInsufficientAccess, codes.PermissionDenied},
	{common.ErrIdentityNotVerified, codes.PermissionDenied},
	{common.ErrAlreadyExists, codes.AlreadyExists},
	{common.ErrAlreadyHasAccess, codes.AlreadyExists},
	{common.ErrPendingRequestExists, codes.AlreadyExists},
	{common.ErrInvalidStateTransition, codes.FailedPrecondition},
	{common.ErrIntegrity, codes.DataLoss},
	{context.Canceled, codes.Canceled},
	{context.DeadlineExceeded, codes.DeadlineExceeded},
}

// statusFromError converts a domain error into a gRPC status. Only
// validation failures keep their detail. Authentication failures share one
// message whatever the cause; everything else reports the sentinel text so
// internals do not leak to callers.
func statusFromError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		msg := m.target.Error()
		switch m.code {
		case codes.InvalidArgument:
			msg = err.Error()
		case codes.Unauthenticated:
			msg = common.ErrorUnauthorized.Error()
		}
		return status.Error(m.code, msg)
	}
	return status.Error(codes.Internal, common.ErrorInternal.Error())
}

func (s *Server) errorInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		st := statusFromError(err)
		if status.Code(st) == codes.Internal {
			s.logger.Error(ctx, "request failed", "method", info.FullMethod, "error", err)
		}
		return resp, st
	}
	return resp, nil
}

func (s *Server) errorStreamInterceptor(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	err := handler(srv, ss)
	if err != nil {
		st := statusFromError(err)
		if status.Code(st) == codes.Internal {
			s.logger.Error(ss.Context(), "stream failed", "method", info.FullMethod, "error", err)
		}
		return st
	}
	return nil
}
