package refresh

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/client/credentials"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next Exchanger) Exchanger {
			return ExchangerFunc(func(ctx context.Context, tok string) (*credentials.Credential, error) {
				order = append(order, name)
				return next.Refresh(ctx, tok)
			})
		}
	}
	base := ExchangerFunc(func(context.Context, string) (*credentials.Credential, error) {
		order = append(order, "base")
		return &credentials.Credential{AccessToken: "t"}, nil
	})

	_, err := Chain(base, mark("outer"), mark("inner")).Refresh(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner", "base"}, order)
}

func TestWithMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	fail := true
	ex := Chain(ExchangerFunc(func(context.Context, string) (*credentials.Credential, error) {
		if fail {
			return nil, errors.New("HTTP 401")
		}
		return &credentials.Credential{AccessToken: "t"}, nil
	}), WithMetrics(reg), WithLogging(logging.Nop()))

	_, _ = ex.Refresh(context.Background(), "t")
	fail = false
	_, _ = ex.Refresh(context.Background(), "t")
	_, _ = ex.Refresh(context.Background(), "t")

	mf, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, mf)

	total := mustCounterVec(t, reg)
	assert.Equal(t, 1.0, testutil.ToFloat64(total.WithLabelValues("failure", "terminal")))
	assert.Equal(t, 2.0, testutil.ToFloat64(total.WithLabelValues("success", "")))
}

// mustCounterVec re-registers the counter definition to obtain the
// already registered collector.
func mustCounterVec(t *testing.T, reg prometheus.Registerer) *prometheus.CounterVec {
	t.Helper()
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionkeeper_token_refresh_total",
		Help: "Counter for token refresh exchanges by outcome and failure kind",
	}, []string{"outcome", "kind"})
	err := reg.Register(cv)
	var are prometheus.AlreadyRegisteredError
	require.ErrorAs(t, err, &are)
	return are.ExistingCollector.(*prometheus.CounterVec)
}

func TestWithRecorder(t *testing.T) {
	clk := testingclock.NewFakeClock(epoch)
	rec := NewRecorder(2, clk)
	calls := 0
	ex := Chain(ExchangerFunc(func(context.Context, string) (*credentials.Credential, error) {
		calls++
		clk.Step(time.Second)
		if calls == 2 {
			return nil, errors.New("connection refused")
		}
		return &credentials.Credential{AccessToken: "t"}, nil
	}), WithRecorder(rec))

	for range 3 {
		_, _ = ex.Refresh(context.Background(), "t")
	}

	got := rec.Attempts()
	require.Len(t, got, 2)
	assert.Error(t, got[0].Err)
	assert.Equal(t, Transient, got[0].Kind)
	assert.NoError(t, got[1].Err)
	assert.Equal(t, time.Second, got[1].Duration)
	assert.True(t, got[1].At.Equal(epoch.Add(2*time.Second)))
	assert.Equal(t, 1, rec.Failures())
}
