// Package authrpc declares the gRPC surface shared by the client and the
// reference server. Messages are protobuf well-known types, so no code
// generation step is involved; messages.go converts them to and from Go
// structs.
package authrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const ServiceName = "sessionkeeper.auth.AuthService"

const (
	LoginMethod         = "/" + ServiceName + "/Login"
	RefreshTokenMethod  = "/" + ServiceName + "/RefreshToken"
	LogoutMethod        = "/" + ServiceName + "/Logout"
	ClusterStatusMethod = "/" + ServiceName + "/ClusterStatus"
	PingMethod          = "/" + ServiceName + "/Ping"
)

// AuthServiceServer is implemented by the server.
type AuthServiceServer interface {
	Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	RefreshToken(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
	Logout(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error)
	ClusterStatus(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	Ping(ctx context.Context, req *emptypb.Empty) (*wrapperspb.StringValue, error)
}

// RegisterAuthServiceServer registers srv on s.
func RegisterAuthServiceServer(s grpc.ServiceRegistrar, srv AuthServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unary builds a method handler decoding into a fresh In.
func unary[In any, Out any](method string, call func(AuthServiceServer, context.Context, *In) (Out, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(In)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AuthServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AuthServiceServer), ctx, req.(*In))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes the auth service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Login",
			Handler:    unary(LoginMethod, AuthServiceServer.Login),
		},
		{
			MethodName: "RefreshToken",
			Handler:    unary(RefreshTokenMethod, AuthServiceServer.RefreshToken),
		},
		{
			MethodName: "Logout",
			Handler:    unary(LogoutMethod, AuthServiceServer.Logout),
		},
		{
			MethodName: "ClusterStatus",
			Handler:    unary(ClusterStatusMethod, AuthServiceServer.ClusterStatus),
		},
		{
			MethodName: "Ping",
			Handler:    unary(PingMethod, AuthServiceServer.Ping),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sessionkeeper/auth.proto",
}

// AuthServiceClient is the client side of the auth service.
type AuthServiceClient interface {
	Login(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	RefreshToken(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error)
	Logout(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
	ClusterStatus(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	Ping(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
}

type authServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewAuthServiceClient(cc grpc.ClientConnInterface) AuthServiceClient {
	return &authServiceClient{cc: cc}
}

func (c *authServiceClient) Login(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, LoginMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *authServiceClient) RefreshToken(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, RefreshTokenMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *authServiceClient) Logout(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, LogoutMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *authServiceClient) ClusterStatus(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ClusterStatusMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *authServiceClient) Ping(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, PingMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
