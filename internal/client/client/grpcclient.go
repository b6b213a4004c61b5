package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/authrpc"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/credentials"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/refresh"
	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const callTimeout = 12 * time.Second

type GRPCClient struct {
	endpointURL string
	conn        *grpc.ClientConn
	client      authrpc.AuthServiceClient

	mu          sync.RWMutex
	accessToken string
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

// accessTokenInterceptor attaches the current access token unless the
// caller already put one into the outgoing metadata.
func (s *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if md, ok := metadata.FromOutgoingContext(ctx); !ok || len(md.Get(common.AccessTokenHeaderName)) == 0 {
		if tok := s.AccessToken(); tok != "" {
			ctx = withAccessToken(ctx, tok)
		}
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

// NewGRPCClient connects to endpointURL. Extra dial options are appended
// to the defaults.
func NewGRPCClient(endpointURL string, opts ...grpc.DialOption) (*GRPCClient, error) {
	c := &GRPCClient{endpointURL: endpointURL}
	if err := c.InitGRPCClient(opts...); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *GRPCClient) InitGRPCClient(opts ...grpc.DialOption) error {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(s.accessTokenInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(s.endpointURL, opts...)
	if err != nil {
		return err
	}
	s.conn = conn
	s.client = authrpc.NewAuthServiceClient(conn)
	return nil
}

func (s *GRPCClient) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// AccessToken returns the token attached to outgoing calls.
func (s *GRPCClient) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// SetAccessToken replaces the token attached to outgoing calls.
func (s *GRPCClient) SetAccessToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = token
}

func (s *GRPCClient) Login(ctx context.Context, username, password string) (*credentials.Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	req, err := authrpc.LoginRequest{Username: username, Password: password}.Struct()
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Login(ctx, req)
	if err != nil {
		return nil, s.mapError(err)
	}
	return s.session(resp)
}

// Refresh exchanges token for a new credential. Errors are
// *refresh.RefreshError.
func (s *GRPCClient) Refresh(ctx context.Context, token string) (*credentials.Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	ctx = withAccessToken(ctx, token)
	resp, err := s.client.RefreshToken(ctx, wrapperspb.String(token))
	if err != nil {
		return nil, s.mapRefreshError(err)
	}
	c, err := s.session(resp)
	if err != nil {
		return nil, refresh.TransientError("bad_response", err)
	}
	return c, nil
}

// Logout ends the server-side session of token.
func (s *GRPCClient) Logout(ctx context.Context, token, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	req, err := authrpc.LogoutRequest{Reason: reason}.Struct()
	if err != nil {
		return err
	}
	if _, err := s.client.Logout(withAccessToken(ctx, token), req); err != nil {
		return s.mapError(err)
	}
	s.SetAccessToken("")
	return nil
}

func (s *GRPCClient) CheckStatus(ctx context.Context) (models.ClusterStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := s.client.ClusterStatus(ctx, &emptypb.Empty{})
	if err != nil {
		return models.ClusterStatus{}, s.mapError(err)
	}
	st := authrpc.ParseClusterStatus(resp)
	return models.ClusterStatus{IsReady: st.IsReady, IsCreating: st.IsCreating, IsJoining: st.IsJoining}, nil
}

func (s *GRPCClient) Ping(ctx context.Context) error {
	resp, err := s.client.Ping(ctx, &emptypb.Empty{})
	if err != nil {
		return s.mapError(err)
	}

	if resp.GetValue() != "OK" {
		return ErrUnavailable
	}

	return nil
}

// session converts a Login/RefreshToken response and remembers the new
// access token for later calls.
func (s *GRPCClient) session(resp *structpb.Struct) (*credentials.Credential, error) {
	sess, err := authrpc.ParseSession(resp)
	if err != nil {
		return nil, err
	}

	c := &credentials.Credential{
		AccessToken: sess.AccessToken,
		FirstLogin:  sess.FirstLogin,
		Subject: credentials.Subject{
			Username:    sess.User.Username,
			Role:        sess.User.Role,
			Permissions: sess.User.Permissions,
			LastLogin:   sess.User.LastLogin,
		},
	}
	if info, err := credentials.InspectToken(sess.AccessToken); err == nil {
		c.IssuedAt = info.IssuedAt
		c.ExpiresAt = info.ExpiresAt
	}

	s.SetAccessToken(sess.AccessToken)
	return c, nil
}

func (s *GRPCClient) mapError(err error) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return ErrUnauthorized
	case codes.Unavailable, codes.DeadlineExceeded:
		return ErrUnavailable
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}

// mapRefreshError keeps the status in the chain so the coordinator can
// classify it, and adds the package sentinels for callers of this client.
func (s *GRPCClient) mapRefreshError(err error) error {
	re := refresh.Classify(err)
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied:
		re.Err = errors.Join(ErrUnauthorized, err)
	case codes.Unavailable, codes.DeadlineExceeded:
		re.Err = errors.Join(ErrUnavailable, err)
	}
	return re
}
