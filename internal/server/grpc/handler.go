package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/sessionkeeper/internal/authrpc"
	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func (s *GRPCServer) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {

	in, err := authrpc.ParseLoginRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	issued, err := s.users.Login(ctx, in.Username, []byte(in.Password))
	if err != nil {
		if !errors.Is(err, common.ErrorUnauthorized) {
			s.logger.Error(ctx, "login failed", "username", in.Username, "error", err)
		}
		return nil, toStatus(err)
	}

	s.logger.Info(ctx, "Logged in", "username", in.Username, "first_login", issued.FirstLogin)
	return sessionResponse(issued)
}

func (s *GRPCServer) RefreshToken(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {

	token := req.GetValue()
	if token == "" {
		token = tokenFromMetadata(ctx)
	}
	if token == "" {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	issued, err := s.users.RefreshToken(ctx, token)
	if err != nil {
		s.logger.Warn(ctx, "refresh rejected", "error", err)
		return nil, toStatus(err)
	}

	return sessionResponse(issued)
}

func (s *GRPCServer) Logout(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {

	sub, ok := subjectFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	reason := authrpc.ParseLogoutRequest(req).Reason
	if err := s.users.Logout(ctx, sub, reason); err != nil {
		s.logger.Error(ctx, "logout failed", "session", sub.SessionID, "error", err)
		return nil, toStatus(err)
	}

	return &emptypb.Empty{}, nil
}

func (s *GRPCServer) ClusterStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {

	st, err := s.cluster.Status(ctx)
	if err != nil {
		s.logger.Error(ctx, "cluster status", "error", err)
		return nil, status.Error(codes.Unavailable, "cluster status unavailable")
	}

	return st.Struct()
}

func (s *GRPCServer) Ping(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {

	return wrapperspb.String("OK"), nil

}

func sessionResponse(issued *services.IssuedSession) (*structpb.Struct, error) {
	u := issued.User
	resp, err := authrpc.Session{
		AccessToken: issued.AccessToken,
		FirstLogin:  issued.FirstLogin,
		User: authrpc.User{
			ID:          u.ID,
			Username:    u.UserName,
			Role:        u.Role,
			Permissions: u.Permissions,
			LastLogin:   u.LastLogin,
		},
	}.Struct()
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	return resp, nil
}

// authErrors are reported as Unauthenticated; clients treat them as final.
var authErrors = []error{
	common.ErrorUnauthorized,
	common.ErrInvalidToken,
	common.ErrTokenExpired,
	common.ErrSessionExpired,
	common.ErrSessionRevoked,
}

func toStatus(err error) error {
	for _, e := range authErrors {
		if errors.Is(err, e) {
			return status.Error(codes.Unauthenticated, e.Error())
		}
	}
	return status.Error(codes.Internal, "internal error")
}
