package cli

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/client/client"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/config"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/credentials"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/escalation"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/gate"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/refresh"
	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	testingclock "k8s.io/utils/clock/testing"
)

// ---- fake API client ----

type fakeAPI struct {
	mu  sync.Mutex
	clk *testingclock.FakeClock

	cluster    models.ClusterStatus
	loginErr   error
	refreshErr error
	firstLogin bool

	logoutReasons []string
	refreshes     int
}

func (f *fakeAPI) token(t time.Time) string {
	tok, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"iat": t.Unix(),
		"exp": t.Add(time.Hour).Unix(),
	}).SignedString([]byte("k"))
	return tok
}

func (f *fakeAPI) Close() error { return nil }

func (f *fakeAPI) Login(ctx context.Context, username, password string) (*credentials.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &credentials.Credential{
		AccessToken: f.token(f.clk.Now()),
		FirstLogin:  f.firstLogin,
		Subject:     credentials.Subject{Username: username, Role: "administrator"},
	}, nil
}

func (f *fakeAPI) Refresh(ctx context.Context, token string) (*credentials.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &credentials.Credential{AccessToken: f.token(f.clk.Now())}, nil
}

func (f *fakeAPI) Logout(ctx context.Context, token, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutReasons = append(f.logoutReasons, reason)
	return nil
}

func (f *fakeAPI) CheckStatus(ctx context.Context) (models.ClusterStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cluster, nil
}

func (f *fakeAPI) Ping(ctx context.Context) error { return nil }

func (f *fakeAPI) reasons() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.logoutReasons...)
}

// ---- harness ----

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func capturePrintln(t *testing.T) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	orig := printlnFn
	printlnFn = func(a ...any) (int, error) {
		parts := make([]string, len(a))
		for i, v := range a {
			parts[i], _ = v.(string)
		}
		return buf.Write([]byte(strings.Join(parts, " ") + "\n"))
	}
	t.Cleanup(func() { printlnFn = orig })
	return buf
}

func stubInputs(t *testing.T, username string, password []byte) {
	t.Helper()
	origU, origP := askUsername, askPassword
	askUsername = func(_ *bufio.Reader, _ io.Writer) (string, error) { return username, nil }
	askPassword = func(_ io.Writer) ([]byte, error) { return append([]byte(nil), password...), nil }
	t.Cleanup(func() {
		askUsername = origU
		askPassword = origP
	})
}

func newTestApp(t *testing.T, mutate func(*config.Config)) (*App, *fakeAPI, *testingclock.FakeClock, *syncBuffer) {
	t.Helper()
	ctx := context.Background()

	db, err := client.InitDatabase(ctx, ":memory:")
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.Environment = "test"
	cfg.DeviceSecret = "device"
	if mutate != nil {
		mutate(cfg)
	}

	clk := testingclock.NewFakeClock(time.Unix(1_700_000_000, 0))
	api := &fakeAPI{clk: clk, cluster: models.ClusterStatus{IsReady: true}}
	screen := &syncBuffer{}

	a, err := newApp(ctx, cfg, db, api, clk, logging.Nop(), strings.NewReader(""), screen)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(context.Background()) })
	return a, api, clk, screen
}

func login(t *testing.T, a *App) {
	t.Helper()
	stubInputs(t, "admin", []byte("secret"))
	require.Equal(t, gate.StateUnauthenticated, a.gate.Boot(context.Background()))
	require.NoError(t, a.Login(context.Background()))
}

// ---- tests ----

func TestLogin_StartsSession(t *testing.T) {
	out := capturePrintln(t)
	a, api, _, screen := newTestApp(t, func(c *config.Config) {})
	api.firstLogin = true

	login(t, a)

	assert.True(t, a.isLoggedIn())
	assert.True(t, a.coord.IsRunning())
	assert.NotNil(t, a.currentMonitor())
	assert.Equal(t, common.RouteDashboard, a.nav.Route())
	assert.Contains(t, screen.String(), "== Dashboard ==")
	assert.Contains(t, out.String(), "first login")
	assert.Equal(t, "(admin authenticated)", a.getStatus())

	require.NoError(t, a.Status(context.Background()))
	assert.Contains(t, out.String(), "session:  authenticated")
	assert.Contains(t, out.String(), "access:   administrator, no permissions")
	assert.Contains(t, out.String(), "activity: active")
}

func TestLogin_WrongPassword(t *testing.T) {
	out := capturePrintln(t)
	a, api, _, _ := newTestApp(t, nil)
	api.loginErr = client.ErrUnauthorized
	stubInputs(t, "admin", []byte("nope"))
	a.gate.Boot(context.Background())

	require.ErrorIs(t, a.Login(context.Background()), client.ErrUnauthorized)
	assert.False(t, a.isLoggedIn())
	assert.Nil(t, a.currentMonitor())
	assert.Contains(t, out.String(), "wrong username or password")
}

func TestLogin_ClusterNotReady(t *testing.T) {
	out := capturePrintln(t)
	a, api, _, screen := newTestApp(t, nil)
	api.cluster = models.ClusterStatus{IsCreating: true}

	require.Equal(t, gate.StateClusterNotReady, a.gate.Boot(context.Background()))
	require.NoError(t, a.Login(context.Background()))
	assert.Contains(t, out.String(), "not ready yet")
	assert.Contains(t, screen.String(), "Cluster initialization")

	require.NoError(t, a.Init(context.Background()))
	assert.Contains(t, out.String(), "being created")
	assert.Equal(t, gate.StateClusterNotReady, a.gate.State())

	api.mu.Lock()
	api.cluster = models.ClusterStatus{IsReady: true}
	api.mu.Unlock()
	require.NoError(t, a.Init(context.Background()))
	assert.Equal(t, gate.StateUnauthenticated, a.gate.State())
	assert.Equal(t, common.RouteLogin, a.nav.Route())
}

func TestLogout_EndsServerSessionAndJournals(t *testing.T) {
	capturePrintln(t)
	a, api, _, _ := newTestApp(t, nil)
	login(t, a)
	ctx := context.Background()

	require.NoError(t, a.Logout(ctx))

	assert.Equal(t, []string{"manual"}, api.reasons())
	assert.False(t, a.store.IsValid(ctx))
	assert.False(t, a.coord.IsRunning())
	assert.Nil(t, a.currentMonitor())
	assert.Equal(t, gate.StateUnauthenticated, a.gate.State())
	assert.Equal(t, common.RouteLogin, a.nav.Route())

	evs, err := a.auth.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, models.EventLogin, evs[0].Kind)
	assert.Equal(t, models.EventLogout, evs[1].Kind)
}

func TestStoredSessionSurvivesRestart(t *testing.T) {
	capturePrintln(t)
	a, _, _, _ := newTestApp(t, nil)
	login(t, a)

	// Same database and device secret: the sealed credential is readable.
	b, err := newApp(context.Background(), a.config, a.db, a.api, a.clock, logging.Nop(), strings.NewReader(""), io.Discard)
	require.NoError(t, err)
	assert.Equal(t, gate.StateAuthenticated, b.gate.Boot(context.Background()))
	b.coord.Stop()

	// A different secret cannot open it, so the gate purges it.
	other := *a.config
	other.DeviceSecret = "another device"
	c, err := newApp(context.Background(), &other, a.db, a.api, a.clock, logging.Nop(), strings.NewReader(""), io.Discard)
	require.NoError(t, err)
	assert.Equal(t, gate.StateUnauthenticated, c.gate.Boot(context.Background()))
}

func TestRefresh_ManualAndTerminalFailure(t *testing.T) {
	out := capturePrintln(t)
	a, api, _, screen := newTestApp(t, nil)
	login(t, a)
	ctx := context.Background()

	require.NoError(t, a.Refresh(ctx))
	assert.Contains(t, out.String(), "Token refreshed")
	ok, failed := refreshTotals(a.registry)
	assert.Equal(t, 1.0, ok)
	assert.Zero(t, failed)

	api.mu.Lock()
	api.refreshErr = status.Error(codes.Unauthenticated, "session revoked")
	api.mu.Unlock()

	err := a.Refresh(ctx)
	require.True(t, refresh.IsTerminal(err))
	assert.False(t, a.store.IsValid(ctx))
	assert.Equal(t, gate.StateUnauthenticated, a.gate.State())
	assert.Nil(t, a.currentMonitor())
	assert.True(t, a.esc.IsVisible())
	assert.Contains(t, screen.String(), "Session error")

	require.ErrorIs(t, a.Retry(ctx), escalation.ErrNotRetryable)
	require.NoError(t, a.Confirm(ctx))
	assert.Equal(t, common.RouteLogin, a.nav.Route())

	evs, err := a.auth.History(ctx, 10)
	require.NoError(t, err)
	kinds := make([]models.EventKind, len(evs))
	for i, e := range evs {
		kinds[i] = e.Kind
	}
	assert.Equal(t, []models.EventKind{models.EventLogin, models.EventRefresh, models.EventEscalation}, kinds)

	require.NoError(t, a.Events(ctx))
	assert.Contains(t, out.String(), "escalation")
}

func TestIdleTimeout_LogsOut(t *testing.T) {
	out := capturePrintln(t)
	a, api, clk, _ := newTestApp(t, nil)
	login(t, a)

	require.Eventually(t, func() bool {
		clk.Step(time.Second)
		return a.gate.State() == gate.StateUnauthenticated
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool { return len(api.reasons()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"timeout"}, api.reasons())
	assert.False(t, a.store.IsValid(context.Background()))
	assert.Contains(t, out.String(), "logged out in")
	assert.Contains(t, out.String(), "logged out due to inactivity")
}

func TestContinue_WithoutPrompt(t *testing.T) {
	out := capturePrintln(t)
	a, _, _, _ := newTestApp(t, nil)

	require.NoError(t, a.Continue(context.Background()))
	assert.Contains(t, out.String(), "Nothing to confirm")
}

func TestContinue_ResetsIdleTimer(t *testing.T) {
	out := capturePrintln(t)
	a, _, clk, _ := newTestApp(t, nil)
	login(t, a)

	clk.Step(500 * time.Millisecond)
	require.NoError(t, a.Continue(context.Background()))
	assert.Contains(t, out.String(), "Idle timer reset")
	assert.True(t, a.currentMonitor().GetState().LastActiveAt.Equal(clk.Now()))
}

func TestGuard_EndsIncompleteSession(t *testing.T) {
	out := capturePrintln(t)
	a, _, _, _ := newTestApp(t, nil)
	login(t, a)
	ctx := context.Background()

	require.True(t, a.guard(ctx))

	require.NoError(t, a.meta.Delete(ctx, common.UserStorageKey))
	require.False(t, a.guard(ctx))
	assert.False(t, a.isLoggedIn())
	assert.False(t, a.coord.IsRunning())
	assert.Nil(t, a.currentMonitor())
	assert.Equal(t, common.RouteLogin, a.nav.Route())
	assert.Contains(t, out.String(), "session data is incomplete")
}

func TestAwayBack(t *testing.T) {
	capturePrintln(t)
	a, _, _, _ := newTestApp(t, func(c *config.Config) { c.PauseOnHidden = true })
	login(t, a)
	ctx := context.Background()

	require.NoError(t, a.Away(ctx))
	assert.True(t, a.currentMonitor().GetState().IsPaused)

	a.coord.Stop()
	require.NoError(t, a.Back(ctx))
	assert.False(t, a.currentMonitor().GetState().IsPaused)
	assert.True(t, a.coord.IsRunning(), "coordinator restarts when the session is visible again")
}
