// Package escalation is the single surface through which an unrecoverable
// session failure reaches the user.
//
// A Channel shows at most one request at a time. While a request is shown a
// countdown ticks once per second and confirms automatically at zero
// (by default: go to the login screen). A retryable request also offers a
// retry action; a successful retry dismisses the request, a failed one keeps
// it on screen. There is deliberately no way for the user to dismiss a
// request without acting on it.
package escalation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"k8s.io/utils/clock"
)

// DefaultCountdown is used when Options.CountdownSeconds is zero.
const DefaultCountdown = 5

var (
	ErrNotVisible   = errors.New("escalation: nothing is shown")
	ErrNotRetryable = errors.New("escalation: request is not retryable")
	ErrRetrying     = errors.New("escalation: retry already in progress")
)

// Options describe one escalation request.
type Options struct {
	Message string
	Reason  string
	// CountdownSeconds until OnConfirm runs on its own. Zero means
	// DefaultCountdown, a negative value disables the countdown.
	CountdownSeconds int
	Retryable        bool
	OnRetry          func(ctx context.Context) error
	// OnConfirm defaults to navigating to the login screen.
	OnConfirm func()
}

// View is the state a Surface renders.
type View struct {
	Message   string
	Reason    string
	Remaining int
	Retryable bool
	Retrying  bool
}

// Surface renders a request. Calls are serialized by the Channel and must
// not call back into it.
type Surface interface {
	Mount(View)
	Update(View)
	Unmount()
}

// Navigator switches the application to another screen.
type Navigator interface {
	GoTo(route string)
}

type request struct {
	opts      Options
	remaining int
	retrying  bool
	ticker    clock.Ticker
	done      chan struct{}
}

func (r *request) view() View {
	return View{
		Message:   r.opts.Message,
		Reason:    r.opts.Reason,
		Remaining: r.remaining,
		Retryable: r.opts.Retryable,
		Retrying:  r.retrying,
	}
}

// Channel is the escalation surface owner. Construct one per application.
type Channel struct {
	mu      sync.Mutex
	clock   clock.WithTicker
	surface Surface
	nav     Navigator
	logger  logging.Logger
	active  *request
}

// New returns a Channel rendering to surface. nav may be nil when every
// request supplies its own OnConfirm.
func New(surface Surface, nav Navigator, c clock.WithTicker, logger logging.Logger) *Channel {
	if c == nil {
		c = clock.RealClock{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Channel{
		clock:   c,
		surface: surface,
		nav:     nav,
		logger:  logger.With("module", "escalation"),
	}
}

// Show mounts the request. It returns false, ignoring opts entirely, when a
// request is already shown.
func (c *Channel) Show(opts Options) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		c.logger.Debug(context.Background(), "escalation already visible, request ignored", "reason", opts.Reason)
		return false
	}

	if opts.Message == "" {
		opts.Message = MessageForReason(opts.Reason)
	}
	if opts.CountdownSeconds == 0 {
		opts.CountdownSeconds = DefaultCountdown
	}

	req := &request{opts: opts, done: make(chan struct{})}
	if opts.CountdownSeconds > 0 {
		req.remaining = opts.CountdownSeconds
		req.ticker = c.clock.NewTicker(time.Second)
		go c.run(req)
	}
	c.active = req
	c.surface.Mount(req.view())

	c.logger.Info(context.Background(), "escalation shown", "reason", opts.Reason, "countdown", req.remaining, "retryable", opts.Retryable)
	return true
}

// Hide unmounts the current request without running any callback. It is
// meant for the owner of the request, not for the user. Idempotent.
func (c *Channel) Hide() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hideLocked()
}

// IsVisible reports whether a request is shown.
func (c *Channel) IsVisible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Current returns the shown request's view.
func (c *Channel) Current() (View, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return View{}, false
	}
	return c.active.view(), true
}

// Confirm hides the request and runs its OnConfirm.
func (c *Channel) Confirm() error {
	c.mu.Lock()
	req := c.active
	if req == nil {
		c.mu.Unlock()
		return ErrNotVisible
	}
	c.hideLocked()
	c.mu.Unlock()

	c.confirm(req)
	return nil
}

// Retry runs the request's OnRetry. The countdown is held while it runs.
// On success the request is hidden; on failure it stays visible and the
// error is returned.
func (c *Channel) Retry(ctx context.Context) error {
	c.mu.Lock()
	req := c.active
	switch {
	case req == nil:
		c.mu.Unlock()
		return ErrNotVisible
	case !req.opts.Retryable || req.opts.OnRetry == nil:
		c.mu.Unlock()
		return ErrNotRetryable
	case req.retrying:
		c.mu.Unlock()
		return ErrRetrying
	}
	req.retrying = true
	c.surface.Update(req.view())
	c.mu.Unlock()

	err := req.opts.OnRetry(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	req.retrying = false
	if c.active != req {
		return err
	}
	if err != nil {
		c.logger.Warn(ctx, "escalation retry failed", "reason", req.opts.Reason, "error", err)
		c.surface.Update(req.view())
		return err
	}
	c.logger.Info(ctx, "escalation retry succeeded", "reason", req.opts.Reason)
	c.hideLocked()
	return nil
}

func (c *Channel) run(req *request) {
	for {
		select {
		case <-req.done:
			return
		case <-req.ticker.C():
			if c.tick(req) {
				return
			}
		}
	}
}

// tick advances req's countdown by one second and reports whether it
// expired.
func (c *Channel) tick(req *request) bool {
	c.mu.Lock()
	if c.active != req {
		c.mu.Unlock()
		return true
	}
	if req.retrying {
		c.mu.Unlock()
		return false
	}

	req.remaining--
	if req.remaining > 0 {
		c.surface.Update(req.view())
		c.mu.Unlock()
		return false
	}

	c.hideLocked()
	c.mu.Unlock()

	c.logger.Info(context.Background(), "escalation countdown elapsed", "reason", req.opts.Reason)
	c.confirm(req)
	return true
}

func (c *Channel) confirm(req *request) {
	if req.opts.OnConfirm != nil {
		req.opts.OnConfirm()
		return
	}
	if c.nav != nil {
		c.nav.GoTo(common.RouteLogin)
	}
}

func (c *Channel) hideLocked() {
	req := c.active
	if req == nil {
		return
	}
	if req.ticker != nil {
		req.ticker.Stop()
	}
	close(req.done)
	c.active = nil
	c.surface.Unmount()
}
