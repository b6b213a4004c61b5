package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/client/credentials"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"k8s.io/utils/clock"
)

// Exchanger trades the current access token for a fresh credential.
// Errors should be *RefreshError where the cause is known; anything else is
// run through Classify.
type Exchanger interface {
	Refresh(ctx context.Context, token string) (*credentials.Credential, error)
}

// ExchangerFunc adapts a function to Exchanger.
type ExchangerFunc func(ctx context.Context, token string) (*credentials.Credential, error)

func (f ExchangerFunc) Refresh(ctx context.Context, token string) (*credentials.Credential, error) {
	return f(ctx, token)
}

// Middleware decorates an Exchanger.
type Middleware func(Exchanger) Exchanger

// Chain applies mws so that the first one is the outermost.
func Chain(next Exchanger, mws ...Middleware) Exchanger {
	for i := len(mws) - 1; i >= 0; i-- {
		next = mws[i](next)
	}
	return next
}

// WithLogging logs every exchange and its outcome.
func WithLogging(l logging.Logger) Middleware {
	return func(next Exchanger) Exchanger {
		return ExchangerFunc(func(ctx context.Context, token string) (*credentials.Credential, error) {
			l.Debug(ctx, "token exchange started")
			c, err := next.Refresh(ctx, token)
			if err != nil {
				re := Classify(err)
				l.Warn(ctx, "token exchange failed", "kind", re.Kind.String(), "code", re.Code, "error", err)
				return nil, err
			}
			l.Info(ctx, "token exchange succeeded", "expires_at", c.ExpiresAt)
			return c, nil
		})
	}
}

// WithMetrics counts exchanges by outcome and kind and observes their
// latency. It registers its collectors on reg, so it must be called once
// per registry.
func WithMetrics(reg prometheus.Registerer) Middleware {
	total := promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionkeeper_token_refresh_total",
			Help: "Counter for token refresh exchanges by outcome and failure kind",
		},
		[]string{"outcome", "kind"},
	)
	duration := promauto.With(reg).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "sessionkeeper_token_refresh_duration_seconds",
			Help:                            "Histogram of token refresh exchange latencies by outcome",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"outcome"},
	)

	return func(next Exchanger) Exchanger {
		return ExchangerFunc(func(ctx context.Context, token string) (*credentials.Credential, error) {
			start := time.Now()
			c, err := next.Refresh(ctx, token)
			outcome, kind := "success", ""
			if err != nil {
				outcome, kind = "failure", Classify(err).Kind.String()
			}
			total.WithLabelValues(outcome, kind).Inc()
			duration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
			return c, err
		})
	}
}

// Attempt is one recorded exchange.
type Attempt struct {
	At       time.Time
	Duration time.Duration
	Err      error
	Kind     Kind
}

// Recorder keeps the most recent exchanges for diagnostics.
type Recorder struct {
	mu       sync.Mutex
	clock    clock.PassiveClock
	capacity int
	attempts []Attempt
}

// NewRecorder keeps up to capacity attempts. A nil clock means wall time.
func NewRecorder(capacity int, c clock.PassiveClock) *Recorder {
	if capacity <= 0 {
		capacity = 50
	}
	if c == nil {
		c = clock.RealClock{}
	}
	return &Recorder{clock: c, capacity: capacity}
}

func (r *Recorder) record(a Attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
	if over := len(r.attempts) - r.capacity; over > 0 {
		r.attempts = append(r.attempts[:0:0], r.attempts[over:]...)
	}
}

// Attempts returns the recorded attempts, oldest first.
func (r *Recorder) Attempts() []Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Attempt(nil), r.attempts...)
}

// Failures counts recorded attempts that failed.
func (r *Recorder) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.attempts {
		if a.Err != nil {
			n++
		}
	}
	return n
}

// WithRecorder stores every exchange in r.
func WithRecorder(r *Recorder) Middleware {
	return func(next Exchanger) Exchanger {
		return ExchangerFunc(func(ctx context.Context, token string) (*credentials.Credential, error) {
			start := r.clock.Now()
			c, err := next.Refresh(ctx, token)
			a := Attempt{At: start, Duration: r.clock.Since(start), Err: err}
			if err != nil {
				a.Kind = Classify(err).Kind
			}
			r.record(a)
			return c, err
		})
	}
}
