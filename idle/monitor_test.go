package idle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Timer-driven tests run on scaled-down durations: a 150ms window with a
// 50ms warning stands in for the 15m/1m production profile.
const (
	testTimeout = 150 * time.Millisecond
	testWarning = 50 * time.Millisecond
)

type fakeTerminator struct {
	mu         sync.Mutex
	terminated []string
}

func (f *fakeTerminator) Terminate(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, sessionID)
	return nil
}

func (f *fakeTerminator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.terminated)
}

type eventLog struct {
	warned  chan struct{}
	cleared chan struct{}
	expired chan struct{}
}

func newEventLog() *eventLog {
	return &eventLog{
		warned:  make(chan struct{}, 8),
		cleared: make(chan struct{}, 8),
		expired: make(chan struct{}, 8),
	}
}

func (e *eventLog) callbacks() Callbacks {
	return Callbacks{
		OnWarning:        func() { e.warned <- struct{}{} },
		OnWarningCleared: func() { e.cleared <- struct{}{} },
		OnExpired:        func() { e.expired <- struct{}{} },
	}
}

func waitFor(t *testing.T, ch chan struct{}, within time.Duration, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(within):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func assertQuiet(t *testing.T, ch chan struct{}, during time.Duration, what string) {
	t.Helper()
	select {
	case <-ch:
		t.Fatalf("unexpected %s", what)
	case <-time.After(during):
	}
}

func TestMonitor_ConfigValidation(t *testing.T) {
	term := &fakeTerminator{}

	_, err := NewMonitor("s1", term, WithConfig(Config{Timeout: time.Minute, Warning: 0}))
	assert.ErrorIs(t, err, errWarningNotPositive)

	_, err = NewMonitor("s1", term, WithConfig(Config{Timeout: time.Minute, Warning: time.Minute}))
	assert.ErrorIs(t, err, errWarningTooLong)

	_, err = NewMonitor("s1", term, WithConfig(Config{Timeout: time.Minute, Warning: time.Second, Throttle: -time.Second}))
	assert.ErrorIs(t, err, errThrottleNegative)

	m, err := NewMonitor("s1", term, WithConfig(Config{Timeout: time.Minute, Warning: time.Second}))
	require.NoError(t, err)
	m.Stop()
}

func TestMonitor_SignalBurstsCollapse(t *testing.T) {
	term := &fakeTerminator{}

	m, err := NewMonitor("s1", term,
		WithConfig(Config{Timeout: testTimeout, Warning: testWarning, Throttle: 50 * time.Millisecond}))
	require.NoError(t, err)
	defer m.Stop()

	m.Signal()
	m.mu.Lock()
	stamped := m.lastSignal
	timer := m.warnTimer
	m.mu.Unlock()

	// A burst right behind an accepted signal is absorbed whole: the
	// stamp does not move and the timer pair is not replaced.
	m.Signal()
	m.Signal()
	m.mu.Lock()
	assert.Equal(t, stamped, m.lastSignal)
	assert.Same(t, timer, m.warnTimer)
	m.mu.Unlock()

	// Past the throttle window the next signal counts again.
	time.Sleep(60 * time.Millisecond)
	m.Signal()
	m.mu.Lock()
	assert.True(t, m.lastSignal.After(stamped))
	assert.NotSame(t, timer, m.warnTimer)
	m.mu.Unlock()
}

func TestMonitor_WarnsThenExpires(t *testing.T) {
	term := &fakeTerminator{}
	events := newEventLog()

	m, err := NewMonitor("s1", term,
		WithConfig(Config{Timeout: testTimeout, Warning: testWarning}),
		WithCallbacks(events.callbacks()))
	require.NoError(t, err)
	defer m.Stop()

	// No warning before Timeout-Warning elapses.
	assertQuiet(t, events.warned, testTimeout-testWarning-30*time.Millisecond, "early warning")
	waitFor(t, events.warned, testTimeout, "warning")

	waitFor(t, events.expired, testWarning+100*time.Millisecond, "expiry")
	assert.Equal(t, []string{"s1"}, term.terminated)
}

func TestMonitor_ActivityDefersWarning(t *testing.T) {
	term := &fakeTerminator{}
	events := newEventLog()

	m, err := NewMonitor("s1", term,
		WithConfig(Config{Timeout: testTimeout, Warning: testWarning}),
		WithCallbacks(events.callbacks()))
	require.NoError(t, err)
	defer m.Stop()

	// Activity shortly before the warning threshold restarts the window,
	// so the point where the warning would have fired passes quietly.
	time.Sleep(testTimeout - testWarning - 30*time.Millisecond)
	m.Signal()
	assertQuiet(t, events.warned, testTimeout-testWarning-20*time.Millisecond, "warning despite activity")
	assert.Zero(t, term.count())
}

func TestMonitor_ActivityAfterWarningClears(t *testing.T) {
	term := &fakeTerminator{}
	events := newEventLog()

	m, err := NewMonitor("s1", term,
		WithConfig(Config{Timeout: testTimeout, Warning: testWarning}),
		WithCallbacks(events.callbacks()))
	require.NoError(t, err)
	defer m.Stop()

	waitFor(t, events.warned, testTimeout, "warning")

	// Catching the warning cancels the pending expiry and restarts the
	// full inactivity window.
	m.Signal()
	waitFor(t, events.cleared, 100*time.Millisecond, "warning cleared")
	assertQuiet(t, events.expired, testWarning+50*time.Millisecond, "expiry after catch")
	assert.Zero(t, term.count())

	// Left alone again, the cycle repeats.
	waitFor(t, events.warned, testTimeout, "second warning")
	waitFor(t, events.expired, testWarning+100*time.Millisecond, "second expiry")
	assert.Equal(t, 1, term.count())
}

func TestMonitor_StopCancels(t *testing.T) {
	term := &fakeTerminator{}
	events := newEventLog()

	m, err := NewMonitor("s1", term,
		WithConfig(Config{Timeout: testTimeout, Warning: testWarning}),
		WithCallbacks(events.callbacks()))
	require.NoError(t, err)

	m.Stop()
	assertQuiet(t, events.warned, testTimeout+50*time.Millisecond, "warning after stop")
	assert.Zero(t, term.count())

	// Signals after Stop are ignored.
	m.Signal()
	assertQuiet(t, events.warned, testTimeout+50*time.Millisecond, "warning after stopped signal")
}

func TestSupervisor_TouchAndRelease(t *testing.T) {
	term := &fakeTerminator{}
	s := NewSupervisor(term, WithSupervisorConfig(Config{Timeout: testTimeout, Warning: testWarning}))
	defer s.Stop()

	s.Touch("s1")
	s.mu.Lock()
	_, ok := s.monitors["s1"]
	s.mu.Unlock()
	require.True(t, ok)

	s.Release("s1")
	s.mu.Lock()
	_, ok = s.monitors["s1"]
	s.mu.Unlock()
	assert.False(t, ok)

	// Releasing twice is harmless.
	s.Release("s1")
}

func TestSupervisor_ExpiredSessionIsRemoved(t *testing.T) {
	term := &fakeTerminator{}
	s := NewSupervisor(term, WithSupervisorConfig(Config{Timeout: testTimeout, Warning: testWarning}))
	defer s.Stop()

	s.Touch("s1")

	require.Eventually(t, func() bool {
		return term.count() == 1
	}, time.Second, 10*time.Millisecond, "idle session should be terminated")

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, ok := s.monitors["s1"]
		return !ok
	}, time.Second, 10*time.Millisecond, "expired monitor should be discarded")
}
