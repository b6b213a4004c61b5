// Package services contains application services for the sessionkeeper
// client. This file defines the authentication service: login against the
// server, server-side logout, the session journal and a refresh middleware
// that records successful exchanges.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/sessionkeeper/internal/client/client"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/credentials"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/refresh"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/repositories/events"
	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"k8s.io/utils/clock"
)

// ErrEmptyCredentials is returned by Login when username or password is
// blank.
var ErrEmptyCredentials = errors.New("username and password are required")

// AuthService defines authentication operations for the CLI.
//
// Contract:
//   - Login: authenticate against the server and store the credential.
//   - Clear: end the server-side session (best effort) and drop the local
//     credential. It satisfies the clearer interfaces of the activity
//     monitor and the session gate.
//   - Record/History: append to and read the local session journal.
//   - Journal: a refresh middleware recording successful exchanges.
//   - Ping, Close: pass through to the client.
//
// All methods must honor context cancellation/timeouts.
type AuthService interface {
	Login(ctx context.Context, username string, password []byte) (*credentials.Credential, error)
	Clear(ctx context.Context) error
	Record(ctx context.Context, kind models.EventKind, reason string)
	History(ctx context.Context, limit int) ([]models.SessionEvent, error)
	Journal() refresh.Middleware
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// CredentialStore is the part of credentials.Store the service needs.
type CredentialStore interface {
	Get(ctx context.Context) (*credentials.Credential, error)
	Set(ctx context.Context, c credentials.Credential) error
	Clear(ctx context.Context) error
}

type authService struct {
	client client.Client
	store  CredentialStore
	events events.Repository
	clock  clock.PassiveClock
	logger logging.Logger
}

// NewAuthService constructs an AuthService bound to the given API client,
// credential store and journal. events may be nil to disable the journal.
func NewAuthService(c client.Client, store CredentialStore, ev events.Repository, clk clock.PassiveClock, logger logging.Logger) AuthService {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &authService{client: c, store: store, events: ev, clock: clk, logger: logger.With("module", "auth")}
}

// Login authenticates against the server and persists the credential.
func (a *authService) Login(ctx context.Context, username string, password []byte) (*credentials.Credential, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(password) == 0 {
		return nil, ErrEmptyCredentials
	}

	c, err := a.client.Login(ctx, username, string(password))
	if err != nil {
		return nil, fmt.Errorf("login error: %w", err)
	}
	if c.Subject.LastLogin.IsZero() {
		c.Subject.LastLogin = a.clock.Now()
	}
	if err := a.store.Set(ctx, *c); err != nil {
		return nil, fmt.Errorf("credential saving error: %w", err)
	}

	a.record(ctx, models.EventLogin, "", c.Subject.Username)
	return c, nil
}

// Clear revokes the server-side session with the reason carried by ctx,
// then drops the local credential. A server failure is logged, never
// returned: the local session must end regardless.
func (a *authService) Clear(ctx context.Context) error {
	reason := common.LogoutReason(ctx)
	if reason == "" {
		reason = "manual"
	}

	var username string
	c, err := a.store.Get(ctx)
	if err != nil {
		a.logger.Warn(ctx, "failed to read credential before logout", "error", err)
	}
	if c != nil {
		username = c.Subject.Username
		if err := a.client.Logout(ctx, c.AccessToken, reason); err != nil {
			a.logger.Warn(ctx, "server logout failed", "reason", reason, "error", err)
		}
	}

	if err := a.store.Clear(ctx); err != nil {
		return err
	}
	if c == nil {
		return nil
	}

	kind := models.EventLogout
	if reason == "timeout" {
		kind = models.EventTimeout
	}
	a.record(ctx, kind, reason, username)
	return nil
}

// Record appends an event for the current user to the journal.
func (a *authService) Record(ctx context.Context, kind models.EventKind, reason string) {
	var username string
	if c, err := a.store.Get(ctx); err == nil && c != nil {
		username = c.Subject.Username
	}
	a.record(ctx, kind, reason, username)
}

func (a *authService) record(ctx context.Context, kind models.EventKind, reason, username string) {
	if a.events == nil {
		return
	}
	_, err := a.events.Append(ctx, models.SessionEvent{
		Kind:     kind,
		Reason:   reason,
		Username: username,
		At:       a.clock.Now(),
	})
	if err != nil {
		a.logger.Warn(ctx, "failed to record session event", "kind", kind, "error", err)
	}
}

// History returns up to limit journal entries, oldest first.
func (a *authService) History(ctx context.Context, limit int) ([]models.SessionEvent, error) {
	if a.events == nil {
		return nil, nil
	}
	return a.events.Recent(ctx, limit)
}

// Journal records every successful exchange as a refresh event.
func (a *authService) Journal() refresh.Middleware {
	return func(next refresh.Exchanger) refresh.Exchanger {
		return refresh.ExchangerFunc(func(ctx context.Context, token string) (*credentials.Credential, error) {
			c, err := next.Refresh(ctx, token)
			if err == nil && c != nil {
				a.record(ctx, models.EventRefresh, "", c.Subject.Username)
			}
			return c, err
		})
	}
}

// Ping proxies a liveness check to the underlying client.
func (a *authService) Ping(ctx context.Context) error {
	return a.client.Ping(ctx)
}

// Close releases resources held by the underlying client.
func (a *authService) Close(ctx context.Context) error {
	return a.client.Close()
}
