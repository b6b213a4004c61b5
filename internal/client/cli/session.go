package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/client/credentials"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/escalation"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/refresh"
	"github.com/prometheus/client_golang/prometheus"
)

const historyLimit = 20

// touch records a REPL command as user activity.
func (a *App) touch() {
	if mon := a.currentMonitor(); mon != nil {
		mon.RecordActivity("command")
	}
}

// Status prints the gate, credential, refresh and inactivity state.
func (a *App) Status(ctx context.Context) error {
	var b strings.Builder
	fmt.Fprintf(&b, "session:  %s\n", a.gate.State())

	if c, err := a.store.Get(ctx); err == nil && c != nil {
		fmt.Fprintf(&b, "user:     %s (%s)\n", c.Subject.Username, c.Subject.Role)
		fmt.Fprintf(&b, "access:   %s\n", accessSummary(c.Subject))
		fmt.Fprintf(&b, "expires:  %s\n", c.ExpiresAt.Format(time.RFC3339))
	}

	rs := a.coord.Status()
	fmt.Fprintf(&b, "refresh:  running=%t every %s, failures=%d, skipped=%d\n",
		rs.IsRunning, rs.Interval, rs.ConsecutiveFailures, rs.SkippedTicks)
	if !rs.LastSuccessAt.IsZero() {
		fmt.Fprintf(&b, "          last success %s\n", rs.LastSuccessAt.Format(time.RFC3339))
	}
	ok, failed := refreshTotals(a.registry)
	fmt.Fprintf(&b, "          %.0f succeeded, %.0f failed since start (%d recent failures)\n",
		ok, failed, a.recorder.Failures())

	if mon := a.currentMonitor(); mon != nil {
		st := mon.GetState()
		fmt.Fprintf(&b, "activity: %s, logout in %s", st.State, st.RemainingTime.Round(time.Second))
		if st.IsPaused {
			b.WriteString(" (paused)")
		}
		b.WriteString("\n")
	}

	printlnFn(strings.TrimRight(b.String(), "\n"))
	return nil
}

func accessSummary(s credentials.Subject) string {
	var perms string
	switch {
	case s.HasPermission("*"):
		perms = "all permissions"
	case len(s.Permissions) == 0:
		perms = "no permissions"
	default:
		perms = strings.Join(s.Permissions, ", ")
	}
	if s.IsAdministrator() {
		return "administrator, " + perms
	}
	return perms
}

// refreshTotals sums the refresh counter by outcome.
func refreshTotals(g prometheus.Gatherer) (success, failure float64) {
	mfs, err := g.Gather()
	if err != nil {
		return 0, 0
	}
	for _, mf := range mfs {
		if mf.GetName() != "sessionkeeper_token_refresh_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() != "outcome" {
					continue
				}
				if lp.GetValue() == "success" {
					success += m.GetCounter().GetValue()
				} else {
					failure += m.GetCounter().GetValue()
				}
			}
		}
	}
	return success, failure
}

// Events prints the local session journal.
func (a *App) Events(ctx context.Context) error {
	evs, err := a.auth.History(ctx, historyLimit)
	if err != nil {
		printlnFn(fmt.Sprintf("Cannot read session history: %s", err))
		return err
	}
	if len(evs) == 0 {
		printlnFn("No session events.")
		return nil
	}
	for _, e := range evs {
		line := fmt.Sprintf("%s  %-10s %s", e.At.Format(time.RFC3339), e.Kind, e.Username)
		if e.Reason != "" {
			line += " (" + e.Reason + ")"
		}
		printlnFn(line)
	}
	return nil
}

// Refresh exchanges the token now instead of waiting for the next tick.
func (a *App) Refresh(ctx context.Context) error {
	if !a.isLoggedIn() {
		printlnFn("Not signed in.")
		return nil
	}
	c, err := a.coord.RefreshNow(ctx)
	if err != nil {
		var re *refresh.RefreshError
		if errors.As(err, &re) && re.Kind == refresh.Terminal {
			return err
		}
		printlnFn(fmt.Sprintf("Refresh failed, will retry: %s", err))
		return err
	}
	printlnFn(fmt.Sprintf("Token refreshed, valid until %s.", c.ExpiresAt.Format(time.RFC3339)))
	return nil
}

// Continue answers the inactivity warning. Without one open it restarts
// the idle timer.
func (a *App) Continue(ctx context.Context) error {
	mon := a.currentMonitor()
	if mon == nil {
		printlnFn("Nothing to confirm.")
		return nil
	}
	if mon.AcknowledgePrompt() {
		printlnFn("Session extended.")
		return nil
	}
	mon.Reset()
	printlnFn("Idle timer reset.")
	return nil
}

// Retry runs the retry action of the shown session error.
func (a *App) Retry(ctx context.Context) error {
	err := a.esc.Retry(ctx)
	switch {
	case err == nil:
		printlnFn("Connection restored.")
	case errors.Is(err, escalation.ErrNotVisible):
		printlnFn("Nothing to retry.")
	case errors.Is(err, escalation.ErrNotRetryable):
		printlnFn("This error cannot be retried. Type 'ok' to sign in again.")
	default:
		printlnFn(fmt.Sprintf("Retry failed: %s", err))
	}
	return err
}

// Confirm acknowledges the shown session error.
func (a *App) Confirm(ctx context.Context) error {
	if err := a.esc.Confirm(); err != nil {
		printlnFn("Nothing to confirm.")
		return err
	}
	return nil
}

// Away pauses inactivity tracking, as if the window were hidden.
func (a *App) Away(ctx context.Context) error {
	if mon := a.currentMonitor(); mon != nil {
		mon.SetVisible(false)
	}
	a.gate.Detach()
	return nil
}

// Back resumes inactivity tracking and catches up on a missed refresh.
func (a *App) Back(ctx context.Context) error {
	if mon := a.currentMonitor(); mon != nil {
		mon.SetVisible(true)
	}
	if a.isLoggedIn() {
		a.coord.OnVisible(ctx)
	}
	a.gate.Attach()
	return nil
}

// guard checks the stored session before a logged-in command runs. A
// session missing its token or its user is ended.
func (a *App) guard(ctx context.Context) bool {
	if !a.isLoggedIn() || a.gate.Guard(ctx) {
		return true
	}
	a.releaseSession()
	printlnFn("Your session data is incomplete. Please log in again.")
	return false
}

// Init re-checks the cluster and leaves the initialization screen once it
// is ready.
func (a *App) Init(ctx context.Context) error {
	st, err := a.api.CheckStatus(ctx)
	if err != nil {
		printlnFn(fmt.Sprintf("Cannot reach the server: %s", err))
		return err
	}
	if !st.IsReady {
		switch {
		case st.IsCreating:
			printlnFn("The cluster is being created.")
		case st.IsJoining:
			printlnFn("The node is joining the cluster.")
		default:
			printlnFn("The cluster is not ready.")
		}
		return nil
	}
	a.gate.ClusterInitialized(ctx)
	return nil
}
