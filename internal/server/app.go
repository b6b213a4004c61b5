// Package server initializes and runs the sessionkeeper auth server: the
// gRPC auth service, the cross-tab relay and /metrics on the HTTP
// listener, and the purge of expired sessions.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/audit"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/cluster"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/config"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/relay"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/utils/clock"

	gs "github.com/dmitrijs2005/sessionkeeper/internal/server/grpc"
)

const (
	purgeInterval   = time.Minute
	shutdownTimeout = 5 * time.Second
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	clock       clock.WithTicker
	registry    *prometheus.Registry
	userService *services.UserService
	hub         *relay.Hub
	grpcServer  *gs.GRPCServer
}

func NewApp(c *config.Config) (*App, error) {
	ctx := context.Background()
	logger := logging.New(os.Stdout, "json", c.LogLevel)

	db, err := repomanager.OpenPostgres(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	var archive audit.Archive = audit.Nop{}
	if c.S3Bucket != "" {
		s3a, err := audit.NewS3Archive(ctx, audit.S3Config{
			Region:       c.S3Region,
			AccessKey:    c.S3RootUser,
			SecretKey:    c.S3RootPassword,
			Bucket:       c.S3Bucket,
			BaseEndpoint: c.S3BaseEndpoint,
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("audit archive init error: %w", err)
		}
		archive = s3a
	}

	app := newApp(c, db, rm, archive, clock.RealClock{}, logger)

	if c.AdminPassword != "" {
		created, err := app.userService.EnsureUser(ctx, c.AdminUsername, []byte(c.AdminPassword), "admin", []string{"*"})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("admin account error: %w", err)
		}
		if created {
			logger.Info(ctx, "Created admin account", "username", c.AdminUsername)
		}
	}

	return app, nil
}

func newApp(c *config.Config, db *sql.DB, rm repomanager.RepositoryManager, archive audit.Archive, clk clock.WithTicker, logger logging.Logger) *App {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	us := services.NewUserService(db, rm, archive, clk, logger, c)
	hub := relay.NewHub(relay.TokenAuthenticator([]byte(c.SecretKey), clk), logger, reg)

	return &App{
		config:      c,
		logger:      logger,
		db:          db,
		clock:       clk,
		registry:    reg,
		userService: us,
		hub:         hub,
		grpcServer:  gs.NewGRPCServer(c.EndpointAddrGRPC, logger, us, cluster.New(c.ClusterReady, c.ClusterStateFile), c.SecretKey),
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) httpHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(app.hub.Path(), app.hub)
	mux.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))
	return mux
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.grpcServer.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	srv := &http.Server{
		Addr:              app.config.EndpointAddrHTTP,
		Handler:           app.httpHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping HTTP server...")
		app.hub.Stop(ctx)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// purgeExpiredSessions deletes dead sessions every purgeInterval until ctx
// is done.
func (app *App) purgeExpiredSessions(ctx context.Context) {
	ticker := app.clock.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			n, err := app.userService.PurgeExpired(ctx)
			if err != nil {
				app.logger.Warn(ctx, "failed to purge expired sessions", "error", err)
				continue
			}
			if n > 0 {
				app.logger.Debug(ctx, "purged expired sessions", "count", n)
			}
		}
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.purgeExpiredSessions(ctx)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(context.Background(), "closing database", "error", err)
	}
}
