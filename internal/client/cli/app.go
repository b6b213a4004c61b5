package cli

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dmitrijs2005/sessionkeeper/internal/client/activity"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/broadcast"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/client"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/config"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/credentials"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/escalation"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/gate"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/refresh"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/services"
	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/cryptox"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/utils/clock"
)

const sealSaltSize = 16

type App struct {
	config   *config.Config
	logger   logging.Logger
	clock    clock.WithTicker
	db       *sql.DB
	api      client.Client
	auth     services.AuthService
	store    *credentials.Store
	session  sessionStore
	meta     metadata.Repository
	coord    *refresh.Coordinator
	esc      *escalation.Channel
	gate     *gate.Gate
	nav      *screenNavigator
	recorder *refresh.Recorder
	registry *prometheus.Registry
	activity activity.Config
	reader   *bufio.Reader
	out      io.Writer

	mu      sync.Mutex
	monitor *activity.Monitor
	bus     *broadcast.WSBus
}

// sessionStore is the credential store as seen by the gate and the monitor:
// clearing it also ends the server-side session.
type sessionStore struct {
	*credentials.Store
	auth services.AuthService
}

func (s sessionStore) Clear(ctx context.Context) error {
	return s.auth.Clear(ctx)
}

// NewApp opens the local database, connects to the server and wires the
// session components.
func NewApp(c *config.Config) (*App, error) {
	ctx := context.Background()
	logger := logging.New(os.Stderr, "text", c.LogLevel)

	db, err := client.InitDatabase(ctx, c.DatabasePath)
	if err != nil {
		logger.Error(ctx, "error initializing database", "error", err)
		return nil, err
	}

	apiClient, err := client.NewGRPCClient(c.ServerEndpointAddr)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return newApp(ctx, c, db, apiClient, clock.RealClock{}, logger, os.Stdin, os.Stdout)
}

func newApp(ctx context.Context, c *config.Config, db *sql.DB, api client.Client, clk clock.WithTicker, logger logging.Logger, in io.Reader, out io.Writer) (*App, error) {
	actCfg, err := c.Activity()
	if err != nil {
		return nil, err
	}

	repos := client.NewRepositories(db)

	opts := []credentials.Option{credentials.WithClock(clk), credentials.WithLogger(logger)}
	if c.DeviceSecret != "" {
		key, err := sealKey(ctx, repos.Metadata, c.DeviceSecret)
		if err != nil {
			return nil, err
		}
		opts = append(opts, credentials.WithSealKey(key))
	}
	store := credentials.NewSQLite(db, opts...)

	a := &App{
		config:   c,
		logger:   logger,
		clock:    clk,
		db:       db,
		api:      api,
		store:    store,
		meta:     repos.Metadata,
		nav:      newNavigator(out),
		recorder: refresh.NewRecorder(20, clk),
		registry: prometheus.NewRegistry(),
		activity: actCfg,
		reader:   bufio.NewReader(in),
		out:      out,
	}

	a.auth = services.NewAuthService(api, store, repos.Events, clk, logger)
	a.session = sessionStore{Store: store, auth: a.auth}
	a.esc = escalation.New(escalation.NewTerminalSurface(out), a.nav, clk, logger)
	a.coord = refresh.New(c.Refresh(), store, api,
		refresh.WithClock(clk),
		refresh.WithLogger(logger),
		refresh.WithEscalator(a.esc),
		refresh.WithMiddleware(
			refresh.WithLogging(logger),
			refresh.WithMetrics(a.registry),
			refresh.WithRecorder(a.recorder),
			a.auth.Journal(),
		),
		refresh.WithTerminalHandler(a.onTerminal),
	)
	a.gate = gate.New(api, a.session, a.coord, a.nav, logger)
	a.gate.OnChange(func(s gate.State) {
		logger.Debug(context.Background(), "session state changed", "state", s.String())
	})

	return a, nil
}

// sealKey derives the credential sealing key from the device secret and a
// per-database salt, creating the salt on first use.
func sealKey(ctx context.Context, meta metadata.Repository, secret string) ([]byte, error) {
	salt, err := meta.Get(ctx, common.SealSaltStorageKey)
	if err != nil {
		return nil, err
	}
	if len(salt) == 0 {
		salt = common.GenerateRandByteArray(sealSaltSize)
		if err := meta.Set(ctx, common.SealSaltStorageKey, salt); err != nil {
			return nil, fmt.Errorf("store seal salt: %w", err)
		}
	}
	return cryptox.DeriveKey([]byte(secret), salt), nil
}

// Run boots the session gate and serves the REPL until the user exits.
func (a *App) Run(ctx context.Context) {
	defer a.Close(ctx)

	printlnFn("Welcome to sessionkeeper CLI (type 'help' for commands)")

	if a.gate.Boot(ctx) == gate.StateAuthenticated {
		a.startSession(ctx)
	}

	runREPL(ctx, a, a.getStatus, a.reader)
}

// Close stops the background components and releases the connections.
func (a *App) Close(ctx context.Context) {
	a.coord.Stop()
	a.esc.Hide()
	a.releaseSession()
	if err := a.auth.Close(ctx); err != nil {
		a.logger.Warn(ctx, "failed to close client", "error", err)
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func (a *App) isLoggedIn() bool {
	return a.gate.State() == gate.StateAuthenticated
}

func (a *App) getStatus() string {
	s := a.gate.State().String()
	if c, err := a.store.Get(context.Background()); err == nil && c != nil && a.isLoggedIn() {
		s = c.Subject.Username + " " + s
	}
	return fmt.Sprintf("(%s)", s)
}

// startSession starts inactivity tracking for an authenticated session.
func (a *App) startSession(ctx context.Context) {
	bus := a.dialBus(ctx)

	deps := activity.Deps{
		Coordinator: a.coord,
		Store:       a.session,
		Metadata:    a.meta,
		Navigator:   a.nav,
		Clock:       a.clock,
		Logger:      a.logger,
	}
	if bus != nil {
		deps.Bus = bus
	}

	mon, err := activity.New(a.activity, deps, a.callbacks())
	if err != nil {
		a.logger.Error(ctx, "failed to create activity monitor", "error", err)
		if bus != nil {
			_ = bus.Close()
		}
		return
	}

	a.mu.Lock()
	old, oldBus := a.monitor, a.bus
	a.monitor, a.bus = mon, bus
	a.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	if oldBus != nil {
		_ = oldBus.Close()
	}
	mon.Start()
}

func (a *App) dialBus(ctx context.Context) *broadcast.WSBus {
	if a.config.RelayURL == "" || !a.activity.CrossTab {
		return nil
	}
	c, err := a.store.Get(ctx)
	if err != nil || c == nil {
		return nil
	}
	bus, err := broadcast.Dial(ctx, a.config.RelayURL, c.AccessToken, a.logger)
	if err != nil {
		a.logger.Warn(ctx, "cross-tab relay unavailable", "url", a.config.RelayURL, "error", err)
		return nil
	}
	return bus
}

// releaseSession stops the monitor and disconnects from the relay.
func (a *App) releaseSession() {
	a.mu.Lock()
	mon, bus := a.monitor, a.bus
	a.monitor, a.bus = nil, nil
	a.mu.Unlock()

	if mon != nil {
		mon.Stop()
	}
	if bus != nil {
		_ = bus.Close()
	}
}

func (a *App) currentMonitor() *activity.Monitor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.monitor
}

// onTerminal runs after the coordinator gave up on the session. The
// escalation notice is already on screen and will take the user to the
// login screen.
func (a *App) onTerminal(err error) {
	ctx := context.Background()
	reason := "terminal"
	if re := refresh.Classify(err); re != nil {
		reason = re.Code
	}
	a.auth.Record(ctx, models.EventEscalation, reason)
	a.releaseSession()
	a.gate.Expire(ctx, reason)
}

func (a *App) callbacks() activity.Callbacks {
	return activity.Callbacks{
		OnIdle: func(e activity.IdleEvent) {
			a.logger.Debug(context.Background(), "session idle", "since", e.LastActiveAt)
		},
		OnPrompt: func(e activity.PromptEvent) {
			secs := int(e.Remaining.Seconds())
			if e.Remaining == e.PromptTimeout || secs <= 5 || secs%10 == 0 {
				printlnFn(fmt.Sprintf("No activity: you will be logged out in %ds. Type 'continue' to stay signed in.", secs))
			}
		},
		OnActive: func(e activity.ActiveEvent) {
			if e.IdleDuration > 0 {
				printlnFn("Welcome back.")
			}
		},
		OnTimeout: func(e activity.TimeoutEvent) {
			printlnFn("You were logged out due to inactivity.")
		},
		OnLogout: func(e activity.LogoutEvent) {
			a.mu.Lock()
			bus := a.bus
			a.monitor, a.bus = nil, nil
			a.mu.Unlock()
			if bus != nil {
				_ = bus.Close()
			}
			a.gate.Expire(context.Background(), e.Reason)
		},
	}
}
