// Package idle implements the inactivity watchdog for authenticated
// sessions. A Monitor consumes discrete activity signals from any
// environment (HTTP middleware, a terminal, a browser bridge) and forces
// logout after a configured quiet period, with a warning phase the user
// can still catch.
package idle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jmcleod/aegis/notify"
)

const (
	// DefaultTimeout is the total inactivity window before forced logout.
	DefaultTimeout = 15 * time.Minute
	// DefaultWarning is how long before the timeout the warning shows.
	DefaultWarning = 1 * time.Minute

	// DefaultThrottle collapses bursts of activity signals so rapid
	// interaction doesn't churn the timers.
	DefaultThrottle = 1 * time.Second

	// terminateTimeout bounds the store call made when a session expires.
	terminateTimeout = 10 * time.Second
)

// Terminator terminates a session by ID. The session registry satisfies
// this.
type Terminator interface {
	Terminate(ctx context.Context, sessionID string) error
}

// Config holds the monitor timing parameters.
type Config struct {
	// Timeout is the total inactivity window.
	Timeout time.Duration
	// Warning is the span between the warning and the forced logout.
	// Must be positive and shorter than Timeout.
	Warning time.Duration
	// Throttle collapses activity signals arriving closer together
	// than this while no warning is showing. Zero disables collapsing.
	Throttle time.Duration
}

// DefaultConfig returns the standard 15-minute timeout with a 1-minute
// warning.
func DefaultConfig() Config {
	return Config{Timeout: DefaultTimeout, Warning: DefaultWarning, Throttle: DefaultThrottle}
}

func (c Config) validate() error {
	if c.Warning <= 0 {
		return errWarningNotPositive
	}
	if c.Warning >= c.Timeout {
		return errWarningTooLong
	}
	if c.Throttle < 0 {
		return errThrottleNegative
	}
	return nil
}

// Callbacks let the consuming layer react to monitor transitions. All
// callbacks are optional and are invoked from timer goroutines.
type Callbacks struct {
	// OnWarning fires when the inactivity warning should be shown.
	OnWarning func()
	// OnWarningCleared fires when activity after a warning hides it.
	OnWarningCleared func()
	// OnExpired fires after the session is terminated; the consuming
	// layer should transition to an unauthenticated state.
	OnExpired func()
}

// Monitor is the per-session watchdog. At most one warning/expiry timer
// pair is outstanding at any time; every accepted activity signal
// replaces the pair.
type Monitor struct {
	sessionID  string
	cfg        Config
	terminator Terminator
	notifier   notify.Notifier
	logger     *slog.Logger
	callbacks  Callbacks

	mu          sync.Mutex
	warnTimer   *time.Timer
	expireTimer *time.Timer
	warned      bool
	lastSignal  time.Time
	stopped     bool
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithConfig overrides the timing parameters.
func WithConfig(cfg Config) MonitorOption {
	return func(m *Monitor) { m.cfg = cfg }
}

// WithNotifier sets the user-facing notification sink.
func WithNotifier(n notify.Notifier) MonitorOption {
	return func(m *Monitor) { m.notifier = n }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = logger }
}

// WithCallbacks sets the transition callbacks.
func WithCallbacks(cb Callbacks) MonitorOption {
	return func(m *Monitor) { m.callbacks = cb }
}

// NewMonitor creates a monitor for one session and starts its
// inactivity window immediately.
func NewMonitor(sessionID string, terminator Terminator, opts ...MonitorOption) (*Monitor, error) {
	m := &Monitor{
		sessionID:  sessionID,
		cfg:        DefaultConfig(),
		terminator: terminator,
		notifier:   notify.Discard{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.cfg.validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.scheduleLocked()
	m.mu.Unlock()
	return m, nil
}

// Signal reports user activity. Signals within the throttle window are
// collapsed unless a warning is showing; a signal after the warning
// always counts, clears the warning, and restarts the full window.
func (m *Monitor) Signal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}

	now := time.Now()
	if !m.warned && m.cfg.Throttle > 0 && now.Sub(m.lastSignal) < m.cfg.Throttle {
		return
	}
	m.lastSignal = now

	if m.warned {
		m.warned = false
		if m.callbacks.OnWarningCleared != nil {
			go m.callbacks.OnWarningCleared()
		}
	}
	m.scheduleLocked()
}

// Stop cancels all pending timers. The monitor cannot be restarted.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	m.cancelLocked()
}

// scheduleLocked replaces the outstanding timer pair with a fresh
// warning timer. The expiry timer is armed only when the warning fires.
func (m *Monitor) scheduleLocked() {
	m.cancelLocked()
	m.warnTimer = time.AfterFunc(m.cfg.Timeout-m.cfg.Warning, m.warn)
}

func (m *Monitor) cancelLocked() {
	if m.warnTimer != nil {
		m.warnTimer.Stop()
		m.warnTimer = nil
	}
	if m.expireTimer != nil {
		m.expireTimer.Stop()
		m.expireTimer = nil
	}
}

func (m *Monitor) warn() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.warned = true
	m.expireTimer = time.AfterFunc(m.cfg.Warning, m.expire)
	m.mu.Unlock()

	m.notifier.Notify(notify.KindWarning, "Are you still there?",
		"You will be signed out due to inactivity.")
	if m.callbacks.OnWarning != nil {
		m.callbacks.OnWarning()
	}
}

func (m *Monitor) expire() {
	m.mu.Lock()
	if m.stopped || !m.warned {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.cancelLocked()
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), terminateTimeout)
	defer cancel()
	if err := m.terminator.Terminate(ctx, m.sessionID); err != nil {
		m.logger.Error("failed to terminate idle session",
			"session_id", m.sessionID, "error", err)
	}
	m.notifier.Notify(notify.KindWarning, "Signed out",
		"Your session ended due to inactivity.")
	if m.callbacks.OnExpired != nil {
		m.callbacks.OnExpired()
	}
}
