package gate

import (
	"context"
	"errors"
	"testing"

	"github.com/dmitrijs2005/sessionkeeper/internal/client/credentials"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCluster struct {
	status models.ClusterStatus
	err    error
}

func (f fakeCluster) CheckStatus(context.Context) (models.ClusterStatus, error) {
	return f.status, f.err
}

type fakeCoordinator struct {
	starts, stops int
}

func (f *fakeCoordinator) Start() { f.starts++ }
func (f *fakeCoordinator) Stop()  { f.stops++ }

type fakeNav struct{ routes []string }

func (n *fakeNav) GoTo(r string) { n.routes = append(n.routes, r) }

func seeded(t *testing.T) *credentials.Store {
	t.Helper()
	s := credentials.NewMemory(credentials.WithTokenCheck(nil))
	require.NoError(t, s.Set(context.Background(), credentials.Credential{
		AccessToken: "t1",
		Subject:     credentials.Subject{Username: "a"},
	}))
	return s
}

func TestBoot(t *testing.T) {
	ready := fakeCluster{status: models.ClusterStatus{IsReady: true}}

	tests := []struct {
		name      string
		cluster   fakeCluster
		withCred  bool
		want      State
		wantRoute string
		started   int
	}{
		{"cluster not ready", fakeCluster{status: models.ClusterStatus{IsCreating: true}}, true, StateClusterNotReady, common.RouteClusterInit, 0},
		{"cluster check fails", fakeCluster{err: errors.New("unavailable")}, true, StateClusterNotReady, common.RouteClusterInit, 0},
		{"no credential", ready, false, StateUnauthenticated, common.RouteLogin, 0},
		{"valid credential", ready, true, StateAuthenticated, common.RouteDashboard, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := credentials.NewMemory()
			if tt.withCred {
				store = seeded(t)
			}
			coord, nav := &fakeCoordinator{}, &fakeNav{}
			g := New(tt.cluster, store, coord, nav, nil)

			var seen []State
			g.OnChange(func(s State) { seen = append(seen, s) })

			assert.Equal(t, tt.want, g.Boot(context.Background()))
			assert.Equal(t, tt.want, g.State())
			assert.Equal(t, []string{tt.wantRoute}, nav.routes)
			assert.Equal(t, tt.started, coord.starts)
			assert.Equal(t, []State{StateLoading, tt.want}, seen)
		})
	}
}

func TestBoot_PurgesPartialCredential(t *testing.T) {
	backend := credentials.NewMemoryBackend()
	require.NoError(t, backend.Save(context.Background(), map[string][]byte{common.TokenStorageKey: []byte(`{"access_token":"t"}`)}))
	store := credentials.New(backend)

	g := New(fakeCluster{status: models.ClusterStatus{IsReady: true}}, store, &fakeCoordinator{}, &fakeNav{}, nil)
	require.Equal(t, StateUnauthenticated, g.Boot(context.Background()))

	left, err := backend.Load(context.Background(), common.TokenStorageKey)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestLogoutStopsCoordinatorButDetachDoesNot(t *testing.T) {
	store := seeded(t)
	coord, nav := &fakeCoordinator{}, &fakeNav{}
	g := New(fakeCluster{status: models.ClusterStatus{IsReady: true}}, store, coord, nav, nil)
	require.Equal(t, StateAuthenticated, g.Boot(context.Background()))

	g.Detach()
	assert.Zero(t, coord.stops)
	g.Attach()
	assert.Equal(t, []string{common.RouteDashboard, common.RouteDashboard}, nav.routes)

	g.OnTimeout(context.Background())
	assert.Equal(t, 1, coord.stops)
	assert.Equal(t, StateUnauthenticated, g.State())
	assert.False(t, store.IsValid(context.Background()))
	assert.Equal(t, common.RouteLogin, nav.routes[len(nav.routes)-1])
}

func TestAuthenticated(t *testing.T) {
	store := credentials.NewMemory(credentials.WithTokenCheck(nil))
	coord := &fakeCoordinator{}
	g := New(fakeCluster{status: models.ClusterStatus{IsReady: true}}, store, coord, &fakeNav{}, nil)
	g.Boot(context.Background())

	require.ErrorIs(t, g.Authenticated(context.Background()), common.ErrorUnauthorized)

	require.NoError(t, store.Set(context.Background(), credentials.Credential{
		AccessToken: "t2", Subject: credentials.Subject{Username: "a"},
	}))
	require.NoError(t, g.Authenticated(context.Background()))
	assert.Equal(t, StateAuthenticated, g.State())
	assert.Equal(t, 1, coord.starts)
}

func TestGuard(t *testing.T) {
	store := seeded(t)
	coord := &fakeCoordinator{}
	g := New(fakeCluster{status: models.ClusterStatus{IsReady: true}}, store, coord, &fakeNav{}, nil)
	g.Boot(context.Background())

	assert.True(t, g.Guard(context.Background()))

	require.NoError(t, store.Clear(context.Background()))
	assert.False(t, g.Guard(context.Background()))
	assert.Equal(t, StateUnauthenticated, g.State())
	assert.Equal(t, 1, coord.stops)
}

func TestClusterInitialized(t *testing.T) {
	nav := &fakeNav{}
	g := New(fakeCluster{}, credentials.NewMemory(), &fakeCoordinator{}, nav, nil)
	require.Equal(t, StateClusterNotReady, g.Boot(context.Background()))

	g.ClusterInitialized(context.Background())
	assert.Equal(t, StateUnauthenticated, g.State())
	assert.Equal(t, []string{common.RouteClusterInit, common.RouteLogin}, nav.routes)

	g.ClusterInitialized(context.Background())
	assert.Len(t, nav.routes, 2, "only leaves the cluster flow once")
}

func TestExpire_NoNavigationNoClear(t *testing.T) {
	store := seeded(t)
	coord, nav := &fakeCoordinator{}, &fakeNav{}
	g := New(fakeCluster{status: models.ClusterStatus{IsReady: true}}, store, coord, nav, nil)
	require.Equal(t, StateAuthenticated, g.Boot(context.Background()))

	g.Expire(context.Background(), "token_expired")

	assert.Equal(t, StateUnauthenticated, g.State())
	assert.Equal(t, 1, coord.stops)
	assert.Equal(t, []string{common.RouteDashboard}, nav.routes)
	assert.True(t, store.IsValid(context.Background()), "Expire leaves the store to its caller")
}
