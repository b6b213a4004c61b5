package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/client/credentials"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/escalation"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"
)

const (
	DefaultInterval             = 3 * time.Minute
	DiagnosticInterval          = 30 * time.Second
	DefaultMaxTransientFailures = 3
	DefaultTimeout              = 15 * time.Second
)

// Config controls the refresh schedule.
type Config struct {
	// Interval between scheduled refreshes. Zero means DefaultInterval,
	// or DiagnosticInterval when Diagnostic is set.
	Interval   time.Duration
	Diagnostic bool
	// MaxTransientFailures consecutive transient failures notify the user.
	// Zero means DefaultMaxTransientFailures, negative never notifies.
	MaxTransientFailures int
	// Timeout bounds every exchange, scheduled or not.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
		if c.Diagnostic {
			c.Interval = DiagnosticInterval
		}
	}
	if c.MaxTransientFailures == 0 {
		c.MaxTransientFailures = DefaultMaxTransientFailures
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// EffectiveInterval is the schedule a Coordinator built from c runs on.
func (c Config) EffectiveInterval() time.Duration {
	return c.withDefaults().Interval
}

// CredentialStore is the part of credentials.Store the coordinator uses.
type CredentialStore interface {
	Get(ctx context.Context) (*credentials.Credential, error)
	Set(ctx context.Context, c credentials.Credential) error
	Clear(ctx context.Context) error
	IsValid(ctx context.Context) bool
}

// Escalator raises a failure to the user.
type Escalator interface {
	Show(opts escalation.Options) bool
	Hide()
}

// RefreshState is a snapshot of the coordinator.
type RefreshState struct {
	IsRunning           bool
	IsRefreshing        bool
	LastAttemptAt       time.Time
	LastSuccessAt       time.Time
	ConsecutiveFailures int
	SkippedTicks        int
	Interval            time.Duration
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

func WithClock(c clock.WithTicker) Option {
	return func(co *Coordinator) { co.clock = c }
}

func WithLogger(l logging.Logger) Option {
	return func(co *Coordinator) { co.logger = l }
}

// WithEscalator sets where terminal and repeated transient failures go.
func WithEscalator(e Escalator) Option {
	return func(co *Coordinator) { co.escalator = e }
}

// WithMiddleware wraps the exchanger, first middleware outermost.
func WithMiddleware(mws ...Middleware) Option {
	return func(co *Coordinator) { co.middleware = append(co.middleware, mws...) }
}

// WithTerminalHandler is called after a terminal failure has cleared the
// store, so the owner can switch to its unauthenticated path.
func WithTerminalHandler(fn func(error)) Option {
	return func(co *Coordinator) { co.onTerminal = fn }
}

// WithTokenCheck replaces the structural check applied to the stored token
// before each exchange. nil disables it.
func WithTokenCheck(fn func(string) error) Option {
	return func(co *Coordinator) { co.tokenCheck = fn }
}

// Coordinator schedules and performs token refreshes. Construct one per
// session holder and share it.
type Coordinator struct {
	cfg        Config
	store      CredentialStore
	exchanger  Exchanger
	clock      clock.WithTicker
	logger     logging.Logger
	escalator  Escalator
	middleware []Middleware
	onTerminal func(error)
	tokenCheck func(string) error

	group singleflight.Group

	mu      sync.Mutex
	running bool
	epoch   uint64
	stops   uint64
	ticker  clock.Ticker
	done    chan struct{}
	state   RefreshState
	// notified is set once per transient failure streak; noticeUp while
	// the notice raised for it is still on screen.
	notified bool
	noticeUp bool
}

// New returns a stopped Coordinator.
func New(cfg Config, store CredentialStore, ex Exchanger, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:        cfg.withDefaults(),
		store:      store,
		clock:      clock.RealClock{},
		logger:     logging.Nop(),
		tokenCheck: credentials.CheckTokenFormat,
	}
	for _, o := range opts {
		o(c)
	}
	c.exchanger = Chain(ex, c.middleware...)
	c.logger = c.logger.With("module", "refresh")
	c.state.Interval = c.cfg.Interval
	return c
}

// Start schedules refreshes every Interval. Calling it while running is a
// no-op.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.epoch++
	c.ticker = c.clock.NewTicker(c.cfg.Interval)
	c.done = make(chan struct{})
	c.state.IsRunning = true
	go c.loop(c.epoch, c.ticker, c.done)

	c.logger.Info(context.Background(), "coordinator started", "interval", c.cfg.Interval)
}

// Stop cancels the schedule. Once it returns no further tick is acted on.
// An exchange already in flight completes but its outcome, success or
// failure, is discarded.
// The stored credential is left alone.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Coordinator) stopLocked() {
	if !c.running {
		return
	}
	c.running = false
	c.epoch++
	c.stops++
	c.ticker.Stop()
	close(c.done)
	c.ticker, c.done = nil, nil
	c.state.IsRunning = false
	c.logger.Info(context.Background(), "coordinator stopped")
}

// IsRunning reports whether refreshes are scheduled.
func (c *Coordinator) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Status returns a snapshot of the coordinator state.
func (c *Coordinator) Status() RefreshState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnVisible restarts the schedule when the host becomes visible again and
// a valid credential is stored.
func (c *Coordinator) OnVisible(ctx context.Context) {
	if c.IsRunning() || !c.store.IsValid(ctx) {
		return
	}
	c.logger.Info(ctx, "host visible again, restarting coordinator")
	c.Start()
}

func (c *Coordinator) loop(epoch uint64, t clock.Ticker, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-t.C():
			c.tick(epoch)
		}
	}
}

func (c *Coordinator) tick(epoch uint64) {
	c.mu.Lock()
	if epoch != c.epoch || !c.running {
		c.mu.Unlock()
		return
	}
	if c.state.IsRefreshing {
		c.state.SkippedTicks++
		c.mu.Unlock()
		c.logger.Debug(context.Background(), "refresh still in flight, tick skipped")
		return
	}
	c.state.IsRefreshing = true
	c.mu.Unlock()

	// The outcome is fully handled inside.
	go func() { _, _ = c.RefreshNow(context.Background()) }()
}

// RefreshNow performs one exchange. Callers arriving while one is in
// flight share its result.
func (c *Coordinator) RefreshNow(ctx context.Context) (*credentials.Credential, error) {
	v, err, _ := c.group.Do("refresh", func() (any, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*credentials.Credential), nil
}

func (c *Coordinator) refresh(ctx context.Context) (*credentials.Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	c.mu.Lock()
	c.state.IsRefreshing = true
	c.state.LastAttemptAt = c.clock.Now()
	stops := c.stops
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.state.IsRefreshing = false
		c.mu.Unlock()
	}()

	current, err := c.store.Get(ctx)
	if err != nil {
		return nil, c.fail(ctx, stops, TransientError("storage", err))
	}
	if current == nil {
		c.mu.Lock()
		if c.stops != stops {
			c.mu.Unlock()
			return nil, ErrNoCredential
		}
		c.logger.Info(ctx, "no stored credential, stopping coordinator")
		c.state.ConsecutiveFailures = 0
		c.notified = false
		c.stopLocked()
		c.mu.Unlock()
		if err := c.store.Clear(ctx); err != nil {
			c.logger.Warn(ctx, "failed to clear credential store", "error", err)
		}
		return nil, ErrNoCredential
	}

	if c.tokenCheck != nil {
		if err := c.tokenCheck(current.AccessToken); err != nil {
			return nil, c.fail(ctx, stops, TerminalError("malformed_token", err))
		}
	}

	next, err := c.exchanger.Refresh(ctx, current.AccessToken)
	if err != nil {
		return nil, c.fail(ctx, stops, Classify(err))
	}
	if next == nil || next.AccessToken == "" {
		return nil, c.fail(ctx, stops, TransientError("empty_response", errors.New("exchange returned no token")))
	}

	merged := *next
	if merged.Subject.Username == "" {
		merged.Subject = current.Subject
	}
	merged.Subject.LastLogin = c.clock.Now()

	// Held across Set so a Stop followed by Clear cannot slip in between.
	c.mu.Lock()
	if c.stops != stops {
		c.mu.Unlock()
		c.logger.Info(ctx, "coordinator stopped during exchange, result discarded")
		return nil, TransientError("stopped", errors.New("coordinator stopped during exchange"))
	}
	if err := c.store.Set(ctx, merged); err != nil {
		c.mu.Unlock()
		return nil, c.fail(ctx, stops, TransientError("storage", err))
	}
	c.state.ConsecutiveFailures = 0
	c.state.LastSuccessAt = c.clock.Now()
	c.notified, c.noticeUp = false, false
	c.mu.Unlock()

	return &merged, nil
}

// fail records a classified failure and applies its policy. A failure of an
// exchange that began before the last Stop is returned untouched.
func (c *Coordinator) fail(ctx context.Context, stops uint64, re *RefreshError) error {
	c.mu.Lock()
	if c.stops != stops {
		c.mu.Unlock()
		c.logger.Info(ctx, "coordinator stopped during exchange, failure discarded", "code", re.Code)
		return re
	}
	c.state.ConsecutiveFailures++
	failures := c.state.ConsecutiveFailures

	if re.Kind == Terminal {
		c.stopLocked()
		noticeUp := c.noticeUp
		c.notified, c.noticeUp = false, false
		c.mu.Unlock()

		c.logger.Error(ctx, "terminal refresh failure", "code", re.Code, "error", re)
		if err := c.store.Clear(ctx); err != nil {
			c.logger.Error(ctx, "failed to clear credential store", "error", err)
		}
		if c.escalator != nil {
			if noticeUp {
				c.escalator.Hide()
			}
			reason := re.Error()
			c.escalator.Show(escalation.Options{
				Message: escalation.MessageForReason(reason),
				Reason:  reason,
			})
		}
		if c.onTerminal != nil {
			c.onTerminal(re)
		}
		return re
	}

	notify := c.escalator != nil && c.cfg.MaxTransientFailures > 0 &&
		failures >= c.cfg.MaxTransientFailures && !c.notified
	if notify {
		c.notified = true
	}
	c.mu.Unlock()

	c.logger.Warn(ctx, "transient refresh failure", "code", re.Code, "failures", failures, "error", re)
	if notify {
		shown := c.escalator.Show(escalation.Options{
			Message:          "Unable to reach the server to renew your session.",
			Reason:           re.Error(),
			CountdownSeconds: -1,
			Retryable:        true,
			OnRetry: func(ctx context.Context) error {
				_, err := c.RefreshNow(ctx)
				return err
			},
			OnConfirm: func() {
				c.mu.Lock()
				c.noticeUp = false
				c.mu.Unlock()
			},
		})
		c.mu.Lock()
		c.noticeUp = shown
		c.mu.Unlock()
	}
	return re
}
