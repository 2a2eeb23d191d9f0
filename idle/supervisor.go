package idle

import (
	"log/slog"
	"sync"

	"github.com/jmcleod/aegis/notify"
)

// Supervisor keeps one Monitor per live session. The API middleware
// calls Touch on every authenticated request, so each request doubles as
// an activity signal.
type Supervisor struct {
	terminator Terminator
	cfg        Config
	notifier   notify.Notifier
	logger     *slog.Logger

	mu       sync.Mutex
	monitors map[string]*Monitor
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithSupervisorConfig overrides the timing parameters applied to every
// monitor.
func WithSupervisorConfig(cfg Config) SupervisorOption {
	return func(s *Supervisor) { s.cfg = cfg }
}

// WithSupervisorNotifier sets the notification sink.
func WithSupervisorNotifier(n notify.Notifier) SupervisorOption {
	return func(s *Supervisor) { s.notifier = n }
}

// WithSupervisorLogger sets the structured logger.
func WithSupervisorLogger(logger *slog.Logger) SupervisorOption {
	return func(s *Supervisor) { s.logger = logger }
}

// NewSupervisor creates a Supervisor that terminates idle sessions
// through the given Terminator.
func NewSupervisor(terminator Terminator, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		terminator: terminator,
		cfg:        DefaultConfig(),
		notifier:   notify.Discard{},
		logger:     slog.Default(),
		monitors:   make(map[string]*Monitor),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Touch signals activity for the session, starting a monitor on first
// sight.
func (s *Supervisor) Touch(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.monitors[sessionID]; ok {
		m.Signal()
		return
	}

	m, err := NewMonitor(sessionID, s.terminator,
		WithConfig(s.cfg),
		WithNotifier(s.notifier),
		WithLogger(s.logger),
		WithCallbacks(Callbacks{
			OnExpired: func() { s.Release(sessionID) },
		}))
	if err != nil {
		s.logger.Error("failed to start idle monitor",
			"session_id", sessionID, "error", err)
		return
	}
	s.monitors[sessionID] = m
}

// Release stops and discards the session's monitor. Called on logout,
// explicit termination, and expiry.
func (s *Supervisor) Release(sessionID string) {
	s.mu.Lock()
	m, ok := s.monitors[sessionID]
	if ok {
		delete(s.monitors, sessionID)
	}
	s.mu.Unlock()
	if ok {
		m.Stop()
	}
}

// Stop stops every monitor.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	monitors := s.monitors
	s.monitors = make(map[string]*Monitor)
	s.mu.Unlock()
	for _, m := range monitors {
		m.Stop()
	}
}
