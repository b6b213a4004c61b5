// Package gate decides which part of the client a user may see: the
// cluster initialization flow, the login screen or the authenticated
// area. It starts the refresh coordinator when a session is established
// and stops it when the session ends.
package gate

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/sessionkeeper/internal/client/credentials"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
)

type State int

const (
	StateLoading State = iota
	StateClusterNotReady
	StateUnauthenticated
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateClusterNotReady:
		return "cluster_not_ready"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	}
	return "unknown"
}

// Route is the screen shown for s.
func (s State) Route() string {
	switch s {
	case StateClusterNotReady:
		return common.RouteClusterInit
	case StateUnauthenticated:
		return common.RouteLogin
	case StateAuthenticated:
		return common.RouteDashboard
	}
	return ""
}

type ClusterReadiness interface {
	CheckStatus(ctx context.Context) (models.ClusterStatus, error)
}

type CredentialStore interface {
	Get(ctx context.Context) (*credentials.Credential, error)
	IsValid(ctx context.Context) bool
	CleanupInvalid(ctx context.Context) (bool, error)
	Clear(ctx context.Context) error
}

type Coordinator interface {
	Start()
	Stop()
}

type Navigator interface {
	GoTo(route string)
}

// Gate is the session state machine.
type Gate struct {
	cluster ClusterReadiness
	store   CredentialStore
	coord   Coordinator
	nav     Navigator
	logger  logging.Logger

	mu       sync.Mutex
	state    State
	detached bool
	onChange func(State)
}

func New(cluster ClusterReadiness, store CredentialStore, coord Coordinator, nav Navigator, logger logging.Logger) *Gate {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Gate{
		cluster: cluster,
		store:   store,
		coord:   coord,
		nav:     nav,
		logger:  logger.With("module", "gate"),
	}
}

// OnChange registers fn to be called after every state change.
func (g *Gate) OnChange(fn func(State)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onChange = fn
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Boot resolves the initial state. A failing readiness check counts as not
// ready.
func (g *Gate) Boot(ctx context.Context) State {
	g.set(StateLoading, false)

	st, err := g.cluster.CheckStatus(ctx)
	if err != nil {
		g.logger.Warn(ctx, "cluster status check failed", "error", err)
	}
	if err != nil || !st.IsReady {
		g.logger.Info(ctx, "cluster not ready", "creating", st.IsCreating, "joining", st.IsJoining)
		g.transition(StateClusterNotReady)
		return StateClusterNotReady
	}

	if cleaned, err := g.store.CleanupInvalid(ctx); err != nil {
		g.logger.Warn(ctx, "credential cleanup failed", "error", err)
	} else if cleaned {
		g.logger.Info(ctx, "removed invalid stored credential")
	}

	if !g.store.IsValid(ctx) {
		g.transition(StateUnauthenticated)
		return StateUnauthenticated
	}

	g.coord.Start()
	g.transition(StateAuthenticated)
	return StateAuthenticated
}

// Authenticated records a successful interactive login.
func (g *Gate) Authenticated(ctx context.Context) error {
	if !g.store.IsValid(ctx) {
		return fmt.Errorf("authenticate: %w", common.ErrorUnauthorized)
	}
	g.coord.Start()
	g.transition(StateAuthenticated)
	g.logger.Info(ctx, "session authenticated")
	return nil
}

// Logout ends the session: the coordinator stops, the credential is
// dropped and the login screen is shown.
func (g *Gate) Logout(ctx context.Context, reason string) {
	g.coord.Stop()
	if err := g.store.Clear(common.WithLogoutReason(ctx, reason)); err != nil {
		g.logger.Error(ctx, "failed to clear credential store", "error", err)
	}
	g.logger.Info(ctx, "session ended", "reason", reason)
	g.transition(StateUnauthenticated)
}

// Expire records that the session ended elsewhere (a terminal refresh
// failure or the activity monitor's logout). The credential is already
// gone and whoever ended the session has chosen the next screen, so
// nothing is cleared and nothing is shown.
func (g *Gate) Expire(ctx context.Context, reason string) {
	g.coord.Stop()
	g.logger.Info(ctx, "session expired", "reason", reason)
	g.set(StateUnauthenticated, false)
}

// OnTimeout is Logout for an idle timeout.
func (g *Gate) OnTimeout(ctx context.Context) {
	g.Logout(ctx, "timeout")
}

// Guard admits the caller to the authenticated area only when both the
// token and the subject are stored, and logs out otherwise.
func (g *Gate) Guard(ctx context.Context) bool {
	c, err := g.store.Get(ctx)
	if err == nil && c != nil && c.Complete() {
		return true
	}
	if err != nil {
		g.logger.Warn(ctx, "credential lookup failed", "error", err)
	}
	if _, err := g.store.CleanupInvalid(ctx); err != nil {
		g.logger.Warn(ctx, "credential cleanup failed", "error", err)
	}
	g.Logout(ctx, "guard")
	return false
}

// ClusterInitialized moves on from the cluster initialization flow.
func (g *Gate) ClusterInitialized(ctx context.Context) {
	g.mu.Lock()
	if g.state != StateClusterNotReady {
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	g.logger.Info(ctx, "cluster initialized")
	g.transition(StateUnauthenticated)
}

// Detach marks the gate's own view as gone. Background refresh keeps
// running.
func (g *Gate) Detach() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.detached = true
}

// Attach undoes Detach and shows the current state's screen again.
func (g *Gate) Attach() {
	g.mu.Lock()
	g.detached = false
	route := g.state.Route()
	g.mu.Unlock()
	if route != "" && g.nav != nil {
		g.nav.GoTo(route)
	}
}

func (g *Gate) transition(s State) {
	g.set(s, true)
}

func (g *Gate) set(s State, navigate bool) {
	g.mu.Lock()
	g.state = s
	detached := g.detached
	fn := g.onChange
	g.mu.Unlock()

	if navigate && !detached && g.nav != nil {
		if route := s.Route(); route != "" {
			g.nav.GoTo(route)
		}
	}
	if fn != nil {
		fn(s)
	}
}
