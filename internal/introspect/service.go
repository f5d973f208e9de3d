// Package introspect exposes token verification and revocation lookups
// over gRPC so services without the signing secret, or without store
// access, can still check tokens.
//
// Messages are google.protobuf.Struct values:
//
//	Verify           {token, kind}      -> {jti, sub, typ, iss, ver, iat, exp, username, email, role}
//	CheckRevocation  {jti, sub, iat}    -> {revoked}
//
// Times are RFC 3339 strings with sub-second precision. "ver" is the claims
// schema version; clients reject any version they do not know, and any
// CheckRevocation reply whose "revoked" is not a bool.
package introspect

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "sentinel.authority.v1.TokenAuthority"
	// ErrorDomain is set on every errdetails.ErrorInfo this service returns.
	ErrorDomain = "auth.sentinel"
)

type TokenAuthorityServer interface {
	Verify(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	CheckRevocation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

func Register(s grpc.ServiceRegistrar, srv TokenAuthorityServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TokenAuthorityServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Verify", Handler: unaryHandler("Verify", TokenAuthorityServer.Verify)},
		{MethodName: "CheckRevocation", Handler: unaryHandler("CheckRevocation", TokenAuthorityServer.CheckRevocation)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sentinel/authority/v1/authority.proto",
}

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

func unaryHandler(
	name string,
	call func(TokenAuthorityServer, context.Context, *structpb.Struct) (*structpb.Struct, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(TokenAuthorityServer)
		if interceptor == nil {
			return call(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(s, ctx, req.(*structpb.Struct))
		})
	}
}
