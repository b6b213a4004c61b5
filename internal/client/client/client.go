package client

import (
	"context"

	"github.com/dmitrijs2005/sessionkeeper/internal/client/credentials"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/models"
)

type Client interface {
	Close() error
	Login(ctx context.Context, username, password string) (*credentials.Credential, error)
	Refresh(ctx context.Context, token string) (*credentials.Credential, error)
	Logout(ctx context.Context, token, reason string) error
	CheckStatus(ctx context.Context) (models.ClusterStatus, error)
	Ping(ctx context.Context) error
}
