package grpc

import (
	"context"

	"google.golang.org/grpc"
)

// ArchiveServiceName is the full gRPC service name of the archive API.
const ArchiveServiceName = "archivekeeper.v1.Archive"

// ArchiveServer is the archive API. Every method is unary.
type ArchiveServer interface {
	Ping(context.Context, *Empty) (*PingResponse, error)

	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	Login(context.Context, *LoginRequest) (*TokenResponse, error)
	Refresh(context.Context, *RefreshRequest) (*TokenResponse, error)
	Logout(context.Context, *Empty) (*Empty, error)
	VerifyEmail(context.Context, *VerifyEmailRequest) (*Empty, error)
	ResendEmailVerification(context.Context, *Empty) (*Empty, error)
	RequestPasswordReset(context.Context, *RequestPasswordResetRequest) (*Empty, error)
	ResetPassword(context.Context, *ResetPasswordRequest) (*Empty, error)
	ChangePassword(context.Context, *ChangePasswordRequest) (*Empty, error)

	SubmitAccessRequest(context.Context, *SubmitAccessRequestRequest) (*AccessRequest, error)
	ApproveAccessRequest(context.Context, *ApproveRequest) (*Grant, error)
	RejectAccessRequest(context.Context, *RejectRequest) (*AccessRequest, error)
	RevokeAccess(context.Context, *RevokeRequest) (*Grant, error)
	ListMyRequests(context.Context, *Empty) (*AccessRequestList, error)
	ListManuscriptRequests(context.Context, *ListManuscriptRequestsRequest) (*AccessRequestList, error)

	AuthorizeContentAccess(context.Context, *AuthorizeRequest) (*AuthorizeResponse, error)
	GetContent(context.Context, *GetContentRequest) (*ContentResponse, error)
	GetDownloadLink(context.Context, *GetDownloadLinkRequest) (*DownloadLinkResponse, error)
}

// unary adapts a typed ArchiveServer method to a grpc.MethodDesc.
func unary[Req, Resp any](name string, call func(ArchiveServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ArchiveServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ArchiveServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(ArchiveServer), ctx, req.(*Req))
			})
		},
	}
}

// ArchiveServiceDesc describes the archive API to grpc.Server.
var ArchiveServiceDesc = grpc.ServiceDesc{
	ServiceName: ArchiveServiceName,
	HandlerType: (*ArchiveServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Ping", ArchiveServer.Ping),
		unary("Register", ArchiveServer.Register),
		unary("Login", ArchiveServer.Login),
		unary("Refresh", ArchiveServer.Refresh),
		unary("Logout", ArchiveServer.Logout),
		unary("VerifyEmail", ArchiveServer.VerifyEmail),
		unary("ResendEmailVerification", ArchiveServer.ResendEmailVerification),
		unary("RequestPasswordReset", ArchiveServer.RequestPasswordReset),
		unary("ResetPassword", ArchiveServer.ResetPassword),
		unary("ChangePassword", ArchiveServer.ChangePassword),
		unary("SubmitAccessRequest", ArchiveServer.SubmitAccessRequest),
		unary("ApproveAccessRequest", ArchiveServer.ApproveAccessRequest),
		unary("RejectAccessRequest", ArchiveServer.RejectAccessRequest),
		unary("RevokeAccess", ArchiveServer.RevokeAccess),
		unary("ListMyRequests", ArchiveServer.ListMyRequests),
		unary("ListManuscriptRequests", ArchiveServer.ListManuscriptRequests),
		unary("AuthorizeContentAccess", ArchiveServer.AuthorizeContentAccess),
		unary("GetContent", ArchiveServer.GetContent),
		unary("GetDownloadLink", ArchiveServer.GetDownloadLink),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "archivekeeper/v1/archive",
}

// publicArchiveMethods never look at the access token header, so a stale
// token does not stop a user from logging in again.
var publicArchiveMethods = map[string]bool{
	"Ping":                 true,
	"Register":             true,
	"Login":                true,
	"Refresh":              true,
	"VerifyEmail":          true,
	"RequestPasswordReset": true,
	"ResetPassword":        true,
}

// ArchiveRegistration registers srv as the archive API.
func ArchiveRegistration(srv ArchiveServer) Registration {
	return func(r grpc.ServiceRegistrar) {
		r.RegisterService(&ArchiveServiceDesc, srv)
	}
}

// ArchiveClient calls the archive API over conn using the JSON codec.
type ArchiveClient struct {
	cc grpc.ClientConnInterface
}

func NewArchiveClient(cc grpc.ClientConnInterface) *ArchiveClient {
	return &ArchiveClient{cc: cc}
}

// Call invokes method (for example "Login") with in and decodes the reply
// into out.
func (c *ArchiveClient) Call(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+ArchiveServiceName+"/"+method, in, out, opts...)
}
