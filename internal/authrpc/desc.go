// Package authrpc carries the auth.Backend and auth.Directory contracts over
// gRPC. Messages are protobuf well-known types, so no generated code is
// needed: names and challenges travel as StringValue/BytesValue, compound
// requests as a Struct whose byte fields are base64url strings.
package authrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "shary.auth.v1.AuthBackend"

// MaxMsgSize bounds request and response sizes. All messages are a few
// hundred bytes.
const MaxMsgSize = 16 * 1024

// Full method names.
const (
	MethodRequestChallenge = "/" + ServiceName + "/RequestChallenge"
	MethodVerifyLogin      = "/" + ServiceName + "/VerifyLogin"
	MethodRegisterIdentity = "/" + ServiceName + "/RegisterIdentity"
	MethodGetPublicKey     = "/" + ServiceName + "/GetPublicKey"
)

// Struct field names.
const (
	fieldUsername      = "username"
	fieldEmail         = "email"
	fieldChallenge     = "challenge"
	fieldSignature     = "signature"
	fieldSignPublicKey = "sign_public_key"
	fieldKexPublicKey  = "kex_public_key"
)

// AuthBackendServer is the server API of the service.
type AuthBackendServer interface {
	RequestChallenge(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	VerifyLogin(context.Context, *structpb.Struct) (*wrapperspb.BoolValue, error)
	RegisterIdentity(context.Context, *structpb.Struct) (*wrapperspb.BoolValue, error)
	GetPublicKey(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
}

// RegisterAuthBackendServer registers srv on s.
func RegisterAuthBackendServer(s grpc.ServiceRegistrar, srv AuthBackendServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthBackendServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "RequestChallenge",
			Handler: unaryHandler(MethodRequestChallenge,
				func(srv AuthBackendServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
					return srv.RequestChallenge(ctx, in)
				}),
		},
		{
			MethodName: "VerifyLogin",
			Handler: unaryHandler(MethodVerifyLogin,
				func(srv AuthBackendServer, ctx context.Context, in *structpb.Struct) (any, error) {
					return srv.VerifyLogin(ctx, in)
				}),
		},
		{
			MethodName: "RegisterIdentity",
			Handler: unaryHandler(MethodRegisterIdentity,
				func(srv AuthBackendServer, ctx context.Context, in *structpb.Struct) (any, error) {
					return srv.RegisterIdentity(ctx, in)
				}),
		},
		{
			MethodName: "GetPublicKey",
			Handler: unaryHandler(MethodGetPublicKey,
				func(srv AuthBackendServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
					return srv.GetPublicKey(ctx, in)
				}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "shary/auth/v1/auth.proto",
}

// unaryHandler builds the grpc.MethodDesc handler for one method, the way
// protoc-gen-go-grpc would.
func unaryHandler[Req any, PReq interface {
	*Req
	proto.Message
}](fullMethod string, call func(AuthBackendServer, context.Context, PReq) (any, error),
) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := PReq(new(Req))
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AuthBackendServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AuthBackendServer), ctx, req.(PReq))
		}
		return interceptor(ctx, in, info, handler)
	}
}
