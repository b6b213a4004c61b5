// Package activity detects idle sessions and logs them out.
//
// The Monitor is a small state machine advanced by a single Tick entry
// point, driven once per TickInterval by a ticker. Host input is reported
// through RecordActivity. Once the idle prompt is open, ordinary input no
// longer counts: only AcknowledgePrompt brings the session back, so an
// incidental key press cannot dismiss a warning the user has not read.
//
// With CrossTab enabled, monitors sharing a broadcast.Bus keep each other
// alive and a logout in any of them logs out all of them.
package activity

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/client/broadcast"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/credentials"
	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"
)

// Coordinator is the part of the refresh coordinator the monitor drives.
type Coordinator interface {
	Stop()
	RefreshNow(ctx context.Context) (*credentials.Credential, error)
}

// CredentialClearer drops the stored credential.
type CredentialClearer interface {
	Clear(ctx context.Context) error
}

// Metadata persists the cross-tab session markers.
type Metadata interface {
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
}

type Navigator interface {
	GoTo(route string)
}

// Deps are the monitor's collaborators. Every field is optional.
type Deps struct {
	Coordinator Coordinator
	Store       CredentialClearer
	Metadata    Metadata
	Navigator   Navigator
	Bus         broadcast.Bus
	Clock       clock.WithTicker
	Logger      logging.Logger
}

var sessionKeys = []string{
	common.LastActivityStorageKey,
	common.UserActiveStorageKey,
	common.IdleStateStorageKey,
}

type activityMessage struct {
	TabID string    `json:"tab_id"`
	At    time.Time `json:"at"`
}

type logoutMessage struct {
	TabID  string `json:"tab_id"`
	Reason string `json:"reason"`
}

// Monitor tracks user activity for one client instance (tab).
type Monitor struct {
	cfg    Config
	deps   Deps
	cb     Callbacks
	clock  clock.WithTicker
	logger logging.Logger
	tabID  string

	mu          sync.Mutex
	running     bool
	epoch       uint64
	ticker      clock.Ticker
	done        chan struct{}
	unsubscribe []func()
	state       State
	paused      bool
	pausedAt    time.Time
	lastActive  time.Time
	lastTick    time.Time
	promptedAt  time.Time
	totalActive time.Duration
	totalIdle   time.Duration
	limiter     *rate.Limiter
	refreshGate *rate.Limiter
}

// New validates cfg and returns a stopped Monitor.
func New(cfg Config, deps Deps, cb Callbacks) (*Monitor, error) {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.TokenResetInterval <= 0 {
		cfg.TokenResetInterval = 3 * time.Minute
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}

	limit := rate.Inf
	if cfg.Throttle > 0 {
		limit = rate.Every(cfg.Throttle)
	}

	m := &Monitor{
		cfg:         cfg,
		deps:        deps,
		cb:          cb,
		clock:       deps.Clock,
		tabID:       uuid.NewString(),
		limiter:     rate.NewLimiter(limit, 1),
		refreshGate: rate.NewLimiter(rate.Every(cfg.TokenResetInterval), 1),
	}
	m.logger = deps.Logger.With("module", "activity", "tab", m.tabID)
	return m, nil
}

// TabID identifies this monitor on the broadcast bus.
func (m *Monitor) TabID() string { return m.tabID }

// Start arms the monitor with fresh activity. Calling it while running is
// a no-op. A logged-out monitor can be started again for a new session.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	now := m.clock.Now()
	m.running = true
	m.epoch++
	m.state = StateActive
	m.paused = false
	m.lastActive, m.lastTick = now, now
	m.totalActive, m.totalIdle = 0, 0
	// a session was just issued; the first activity refresh waits a full interval
	m.refreshGate.AllowN(now, 1)
	m.ticker = m.clock.NewTicker(m.cfg.TickInterval)
	m.done = make(chan struct{})
	go m.loop(m.epoch, m.ticker, m.done)
	if m.cfg.CrossTab && m.deps.Bus != nil {
		m.unsubscribe = []func(){
			m.deps.Bus.Subscribe(broadcast.TopicActivity, m.onRemoteActivity),
			m.deps.Bus.Subscribe(broadcast.TopicLogout, m.onRemoteLogout),
		}
	}
	m.mu.Unlock()

	m.persistActivity(now)
	m.logger.Info(context.Background(), "activity monitor started", "total_timeout", m.cfg.Total())
}

// Stop disarms the monitor without logging out. Once it returns no further
// tick is acted on.
func (m *Monitor) Stop() {
	m.mu.Lock()
	subs := m.stopLocked()
	m.mu.Unlock()
	for _, unsub := range subs {
		unsub()
	}
}

func (m *Monitor) stopLocked() []func() {
	if !m.running {
		return nil
	}
	m.running = false
	m.epoch++
	m.ticker.Stop()
	close(m.done)
	m.ticker, m.done = nil, nil
	subs := m.unsubscribe
	m.unsubscribe = nil
	return subs
}

func (m *Monitor) loop(epoch uint64, t clock.Ticker, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-t.C():
			m.tick(epoch)
		}
	}
}

// Tick advances the state machine to the current time.
func (m *Monitor) Tick() {
	m.mu.Lock()
	epoch := m.epoch
	m.mu.Unlock()
	m.tick(epoch)
}

func (m *Monitor) tick(epoch uint64) {
	var fire []func()

	m.mu.Lock()
	if epoch != m.epoch || !m.running || m.paused || m.state == StateLoggedOut {
		m.mu.Unlock()
		return
	}

	now := m.clock.Now()
	elapsed := now.Sub(m.lastTick)
	m.lastTick = now
	if m.state == StateActive {
		m.totalActive += elapsed
	} else {
		m.totalIdle += elapsed
	}

	idleFor := now.Sub(m.lastActive)
	timedOut := false

	if m.state == StateActive && idleFor >= m.cfg.IdleAfter {
		m.state = StateIdle
		ev := IdleEvent{At: now, LastActiveAt: m.lastActive, IdleDuration: idleFor}
		fire = append(fire, func() {
			m.persistState(StateIdle)
			if m.cb.OnIdle != nil {
				m.cb.OnIdle(ev)
			}
		})
		m.logger.Debug(context.Background(), "session idle", "idle_for", idleFor)
	}

	if m.state == StateIdle && idleFor >= m.cfg.IdleAfter+m.cfg.PromptAfter {
		m.state = StatePrompted
		m.promptedAt = now
		ev := PromptEvent{At: now, Remaining: m.cfg.PromptTimeout, PromptTimeout: m.cfg.PromptTimeout}
		fire = append(fire, func() {
			m.persistState(StatePrompted)
			if m.cb.OnPrompt != nil {
				m.cb.OnPrompt(ev)
			}
		})
		m.logger.Info(context.Background(), "idle prompt opened", "timeout", m.cfg.PromptTimeout)
	} else if m.state == StatePrompted {
		remaining := m.cfg.PromptTimeout - now.Sub(m.promptedAt)
		if remaining <= 0 {
			m.state = StateLoggedOut
			timedOut = true
		} else {
			ev := PromptEvent{At: now, Remaining: remaining, PromptTimeout: m.cfg.PromptTimeout}
			fire = append(fire, func() {
				if m.cb.OnPrompt != nil {
					m.cb.OnPrompt(ev)
				}
			})
		}
	}

	var subs []func()
	var timeout TimeoutEvent
	if timedOut {
		timeout = TimeoutEvent{At: now, TotalIdle: m.totalIdle, Reason: "auto"}
		subs = m.stopLocked()
	}
	m.mu.Unlock()

	for _, f := range fire {
		f()
	}
	if timedOut {
		m.logger.Info(context.Background(), "idle prompt expired, logging out", "total_idle", timeout.TotalIdle)
		for _, unsub := range subs {
			unsub()
		}
		if m.cb.OnTimeout != nil {
			m.cb.OnTimeout(timeout)
		}
		m.logoutPath(context.Background(), ReasonTimeout, true)
	}
}

// RecordActivity reports host input of the given kind and reports whether
// it was accepted. Input is ignored while stopped, paused, prompted or
// faster than the throttle allows.
func (m *Monitor) RecordActivity(kind string) bool {
	m.mu.Lock()
	if !m.running || m.paused || m.state == StateLoggedOut {
		m.mu.Unlock()
		return false
	}
	if m.state == StatePrompted {
		m.mu.Unlock()
		m.logger.Debug(context.Background(), "idle prompt open, activity ignored", "kind", kind)
		return false
	}
	now := m.clock.Now()
	if !m.limiter.AllowN(now, 1) {
		m.mu.Unlock()
		return false
	}
	fire := m.activateLocked(now)
	m.mu.Unlock()

	if m.cb.OnActivity != nil {
		m.cb.OnActivity(ActivityEvent{At: now, Kind: kind})
	}
	for _, f := range fire {
		f()
	}
	m.afterLocalActivity(now)
	return true
}

// activateLocked marks the session active at now and returns the callbacks
// to fire for it.
func (m *Monitor) activateLocked(now time.Time) []func() {
	var fire []func()
	if m.state != StateActive {
		ev := ActiveEvent{At: now, IdleDuration: now.Sub(m.lastActive)}
		fire = append(fire, func() {
			m.persistState(StateActive)
			if m.cb.OnActive != nil {
				m.cb.OnActive(ev)
			}
		})
	}
	m.state = StateActive
	if now.After(m.lastActive) {
		m.lastActive = now
	}
	return fire
}

func (m *Monitor) afterLocalActivity(now time.Time) {
	m.persistActivity(now)
	m.publish(broadcast.TopicActivity, activityMessage{TabID: m.tabID, At: now})

	if m.cfg.ResetTokenOnActivity && m.deps.Coordinator != nil && m.refreshGate.AllowN(now, 1) {
		go func() {
			if _, err := m.deps.Coordinator.RefreshNow(context.Background()); err != nil {
				m.logger.Debug(context.Background(), "activity-driven refresh failed", "error", err)
			}
		}()
	}
}

// AcknowledgePrompt closes the idle prompt and returns the session to
// active. It reports false when no prompt is open.
func (m *Monitor) AcknowledgePrompt() bool {
	m.mu.Lock()
	if !m.running || m.state != StatePrompted {
		m.mu.Unlock()
		return false
	}
	now := m.clock.Now()
	fire := m.activateLocked(now)
	m.mu.Unlock()

	m.logger.Info(context.Background(), "idle prompt acknowledged")
	for _, f := range fire {
		f()
	}
	m.afterLocalActivity(now)
	return true
}

// Reset re-arms the idle timer from any state short of logged out,
// including an open prompt.
func (m *Monitor) Reset() {
	m.mu.Lock()
	if !m.running || m.state == StateLoggedOut {
		m.mu.Unlock()
		return
	}
	now := m.clock.Now()
	fire := m.activateLocked(now)
	m.mu.Unlock()

	if m.cb.OnActivity != nil {
		m.cb.OnActivity(ActivityEvent{At: now, Kind: "reset"})
	}
	for _, f := range fire {
		f()
	}
	m.afterLocalActivity(now)
}

// Pause stops idle accounting. Once it returns no tick is acted on until
// Resume.
func (m *Monitor) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || m.paused {
		return
	}
	m.paused = true
	m.pausedAt = m.clock.Now()
	m.logger.Debug(context.Background(), "activity monitor paused")
}

// Resume restarts idle accounting and records fresh activity. An open
// prompt keeps its remaining time.
func (m *Monitor) Resume() {
	m.mu.Lock()
	if !m.running || !m.paused {
		m.mu.Unlock()
		return
	}
	now := m.clock.Now()
	m.paused = false
	if m.state == StatePrompted {
		m.promptedAt = m.promptedAt.Add(now.Sub(m.pausedAt))
		m.lastTick = now
		m.mu.Unlock()
		return
	}
	m.lastTick = now
	fire := m.activateLocked(now)
	m.mu.Unlock()

	m.logger.Debug(context.Background(), "activity monitor resumed")
	for _, f := range fire {
		f()
	}
	m.afterLocalActivity(now)
}

// SetVisible pauses or resumes the monitor when PauseOnHidden is set.
func (m *Monitor) SetVisible(visible bool) {
	if !m.cfg.PauseOnHidden {
		return
	}
	if visible {
		m.Resume()
	} else {
		m.Pause()
	}
}

// Logout ends the session with reason and logs out the other tabs.
func (m *Monitor) Logout(ctx context.Context, reason string) {
	if reason == "" {
		reason = ReasonManual
	}
	m.mu.Lock()
	if m.state == StateLoggedOut {
		m.mu.Unlock()
		return
	}
	m.state = StateLoggedOut
	subs := m.stopLocked()
	m.mu.Unlock()

	for _, unsub := range subs {
		unsub()
	}
	m.logoutPath(ctx, reason, true)
}

// logoutPath stops refreshing, drops the credential and session markers,
// then hands over to the login screen.
func (m *Monitor) logoutPath(ctx context.Context, reason string, announce bool) {
	m.logger.Info(ctx, "logging out", "reason", reason)

	if m.deps.Coordinator != nil {
		m.deps.Coordinator.Stop()
	}
	if m.deps.Store != nil {
		if err := m.deps.Store.Clear(common.WithLogoutReason(ctx, reason)); err != nil {
			m.logger.Error(ctx, "failed to clear credential store", "error", err)
		}
	}
	if m.deps.Metadata != nil {
		if err := m.deps.Metadata.Delete(ctx, sessionKeys...); err != nil {
			m.logger.Warn(ctx, "failed to clear session metadata", "error", err)
		}
	}
	if announce {
		m.publish(broadcast.TopicLogout, logoutMessage{TabID: m.tabID, Reason: reason})
	}
	if m.cb.OnLogout != nil {
		m.cb.OnLogout(LogoutEvent{At: m.clock.Now(), Reason: reason})
	}
	if m.deps.Navigator != nil {
		m.deps.Navigator.GoTo(common.RouteLogin)
	}
}

// GetState returns a snapshot of the monitor.
func (m *Monitor) GetState() ActivityState {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if m.paused {
		now = m.pausedAt
	}
	s := ActivityState{
		State:        m.state,
		IsIdle:       m.state == StateIdle || m.state == StatePrompted,
		IsPrompted:   m.state == StatePrompted,
		IsPaused:     m.paused,
		LastActiveAt: m.lastActive,
		TotalActive:  m.totalActive,
		TotalIdle:    m.totalIdle,
		TabID:        m.tabID,
	}
	switch m.state {
	case StatePrompted:
		s.RemainingTime = m.cfg.PromptTimeout - now.Sub(m.promptedAt)
	case StateActive, StateIdle:
		s.RemainingTime = m.cfg.Total() - now.Sub(m.lastActive)
	}
	if s.RemainingTime < 0 {
		s.RemainingTime = 0
	}
	return s
}

func (m *Monitor) onRemoteActivity(payload []byte) {
	var msg activityMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		m.logger.Debug(context.Background(), "undecodable activity message", "error", err)
		return
	}
	if msg.TabID == m.tabID {
		return
	}

	m.mu.Lock()
	if !m.running || m.state == StatePrompted || m.state == StateLoggedOut || !msg.At.After(m.lastActive) {
		m.mu.Unlock()
		return
	}
	fire := m.activateLocked(msg.At)
	m.mu.Unlock()

	for _, f := range fire {
		f()
	}
}

func (m *Monitor) onRemoteLogout(payload []byte) {
	var msg logoutMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		m.logger.Debug(context.Background(), "undecodable logout message", "error", err)
		return
	}
	if msg.TabID == m.tabID {
		return
	}

	m.mu.Lock()
	if m.state == StateLoggedOut {
		m.mu.Unlock()
		return
	}
	m.state = StateLoggedOut
	subs := m.stopLocked()
	m.mu.Unlock()

	// Unsubscribing from inside a delivery is safe: the bus copies its
	// handler list before calling out.
	for _, unsub := range subs {
		unsub()
	}
	m.logger.Info(context.Background(), "logout received from another tab", "tab", msg.TabID)
	m.logoutPath(context.Background(), msg.Reason, false)
}

func (m *Monitor) publish(topic string, v any) {
	if !m.cfg.CrossTab || m.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		m.logger.Error(context.Background(), "failed to encode broadcast", "topic", topic, "error", err)
		return
	}
	if err := m.deps.Bus.Publish(context.Background(), topic, payload); err != nil {
		m.logger.Warn(context.Background(), "broadcast failed", "topic", topic, "error", err)
	}
}

func (m *Monitor) persistActivity(at time.Time) {
	if m.deps.Metadata == nil {
		return
	}
	ctx := context.Background()
	if err := m.deps.Metadata.Set(ctx, common.LastActivityStorageKey, []byte(at.UTC().Format(time.RFC3339Nano))); err != nil {
		m.logger.Warn(ctx, "failed to persist last activity", "error", err)
		return
	}
	if err := m.deps.Metadata.Set(ctx, common.UserActiveStorageKey, []byte("true")); err != nil {
		m.logger.Warn(ctx, "failed to persist activity marker", "error", err)
	}
}

func (m *Monitor) persistState(s State) {
	if m.deps.Metadata == nil {
		return
	}
	ctx := context.Background()
	if err := m.deps.Metadata.Set(ctx, common.IdleStateStorageKey, []byte(s.String())); err != nil {
		m.logger.Warn(ctx, "failed to persist idle state", "error", err)
	}
}
