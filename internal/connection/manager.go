package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateBackoff      State = "backoff"
)

// Logger defines the logging interface for the manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Observer is notified of lifecycle events, typically to export metrics.
// Calls are made from the Run goroutine and must not block.
type Observer interface {
	StateChanged(name string, state State)
	ConnectionFailed(name string, err error)
}

// Manager owns one broker connection and keeps it alive.
type Manager struct {
	name      string
	dialer    Dialer
	backoff   Backoff
	logger    Logger
	observer  Observer
	onConnect func(ctx context.Context, sess Session) error
	now       func() time.Time

	mu             sync.RWMutex
	running        bool
	state          State
	session        Session
	failed         chan struct{}
	failErr        error
	attempts       uint64
	failures       uint64
	reconnects     uint64
	consecutive    int
	lastError      error
	lastChange     time.Time
	connectedSince time.Time
}

// NewManager creates a manager in StateDisconnected. The backoff policy is
// expected to have passed Validate.
func NewManager(name string, dialer Dialer, backoff Backoff) *Manager {
	return &Manager{
		name:       name,
		dialer:     dialer,
		backoff:    backoff,
		logger:     noopLogger{},
		now:        time.Now,
		state:      StateDisconnected,
		lastChange: time.Now(),
	}
}

// SetLogger sets the logger. Call before Run.
func (m *Manager) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// SetObserver sets the lifecycle observer. Call before Run.
func (m *Manager) SetObserver(o Observer) {
	m.observer = o
}

// SetOnConnect registers a hook that runs on every new session before it is
// reported as connected. A hook error is treated as a failed attempt.
// Call before Run.
func (m *Manager) SetOnConnect(fn func(ctx context.Context, sess Session) error) {
	m.onConnect = fn
}

// Name returns the manager's identifier.
func (m *Manager) Name() string {
	return m.name
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Session returns the live session, or nil unless the state is
// StateConnected.
func (m *Manager) Session() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateConnected {
		return nil
	}
	return m.session
}

// Fail reports a broker error seen while using sess. If sess is still the
// live session the manager drops it and moves to StateBackoff. Reports for
// older sessions are ignored.
func (m *Manager) Fail(sess Session, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess == nil || m.session != sess || m.failErr != nil {
		return
	}
	if err == nil {
		err = ErrConnectionFailed
	}
	m.failErr = err
	close(m.failed)
}

// Begin moves an idle manager to StateConnecting. Owners call it before
// launching Run in a goroutine so State reports the pending attempt as soon
// as they return. It has no effect once Run has started.
func (m *Manager) Begin() {
	m.mu.RLock()
	idle := !m.running && m.state == StateDisconnected
	m.mu.RUnlock()
	if idle {
		m.setState(StateConnecting)
	}
}

// Run keeps the connection alive until ctx is cancelled, returning nil, or
// until the retry budget is spent, returning an error wrapping
// ErrRetriesExhausted. The session is closed on every exit path.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.mu.Unlock()

	defer m.shutdown()

	for {
		if ctx.Err() != nil {
			return nil
		}

		m.setState(StateConnecting)
		sess, err := m.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if err := m.recordFailure(err); err != nil {
				return err
			}
			if !m.wait(ctx) {
				return nil
			}
			continue
		}

		connectedAt := m.now()
		m.logger.Info("broker connected", "name", m.name)
		cause := m.hold(ctx, sess)
		m.release(sess)

		if ctx.Err() != nil {
			return nil
		}

		if m.now().Sub(connectedAt) >= m.backoff.StabilityThreshold {
			m.mu.Lock()
			m.consecutive = 0
			m.mu.Unlock()
		}

		m.logger.Warn("broker connection lost", "name", m.name, "error", cause)
		if err := m.recordFailure(cause); err != nil {
			return err
		}
		if !m.wait(ctx) {
			return nil
		}
	}
}

// connect dials and runs the on-connect hook.
func (m *Manager) connect(ctx context.Context) (Session, error) {
	m.mu.Lock()
	m.attempts++
	attempt := m.attempts
	m.mu.Unlock()

	m.logger.Debug("connecting to broker", "name", m.name, "attempt", attempt)

	sess, err := m.dialer.Dial(ctx)
	if err != nil {
		return nil, wrapConnErr(err)
	}

	if m.onConnect != nil {
		if err := m.onConnect(ctx, sess); err != nil {
			_ = sess.Close()
			return nil, wrapConnErr(err)
		}
	}

	m.mu.Lock()
	m.session = sess
	m.failed = make(chan struct{})
	m.failErr = nil
	m.connectedSince = m.now()
	if attempt > 1 {
		m.reconnects++
	}
	m.mu.Unlock()
	m.setState(StateConnected)

	return sess, nil
}

// hold blocks while sess is healthy and returns why it stopped being so.
func (m *Manager) hold(ctx context.Context, sess Session) error {
	m.mu.RLock()
	failed := m.failed
	m.mu.RUnlock()

	select {
	case <-ctx.Done():
		return nil
	case <-sess.Lost():
		if err := sess.Err(); err != nil {
			return wrapConnErr(err)
		}
		return ErrConnectionFailed
	case <-failed:
		m.mu.RLock()
		err := m.failErr
		m.mu.RUnlock()
		return wrapConnErr(err)
	}
}

// release detaches and closes sess.
func (m *Manager) release(sess Session) {
	m.mu.Lock()
	if m.session == sess {
		m.session = nil
		m.connectedSince = time.Time{}
	}
	m.mu.Unlock()

	if err := sess.Close(); err != nil {
		m.logger.Debug("closing session", "name", m.name, "error", err)
	}
}

// recordFailure counts a failure and returns a terminal error if the retry
// budget is spent.
func (m *Manager) recordFailure(err error) error {
	m.mu.Lock()
	m.failures++
	m.consecutive++
	m.lastError = err
	consecutive := m.consecutive
	m.mu.Unlock()

	if m.observer != nil {
		m.observer.ConnectionFailed(m.name, err)
	}

	if m.backoff.exhausted(consecutive) {
		m.logger.Error("max retries reached",
			"name", m.name,
			"failures", consecutive,
			"error", err,
		)
		return fmt.Errorf("%w after %d consecutive failures: %w", ErrRetriesExhausted, consecutive, err)
	}
	return nil
}

// wait sleeps for the current backoff delay. It returns false if ctx ended
// first.
func (m *Manager) wait(ctx context.Context) bool {
	m.mu.RLock()
	delay := m.backoff.Delay(m.consecutive)
	failures := m.consecutive
	lastErr := m.lastError
	m.mu.RUnlock()

	m.setState(StateBackoff)
	m.logger.Info("reconnecting after delay",
		"name", m.name,
		"failures", failures,
		"delay", delay,
		"error", lastErr,
	)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (m *Manager) shutdown() {
	m.mu.Lock()
	sess := m.session
	m.session = nil
	m.connectedSince = time.Time{}
	m.running = false
	m.mu.Unlock()

	if sess != nil {
		_ = sess.Close()
	}
	m.setState(StateDisconnected)
	m.logger.Info("connection manager stopped", "name", m.name)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.lastChange = m.now()
	m.mu.Unlock()

	m.logger.Debug("connection state changed", "name", m.name, "state", s)
	if m.observer != nil {
		m.observer.StateChanged(m.name, s)
	}
}

func wrapConnErr(err error) error {
	if err == nil || errors.Is(err, ErrConnectionFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
}

// Stats is a snapshot of the manager's counters.
type Stats struct {
	Name                string    `json:"name"`
	State               State     `json:"state"`
	Attempts            uint64    `json:"attempts"`
	Failures            uint64    `json:"failures"`
	Reconnects          uint64    `json:"reconnects"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
	LastChange          time.Time `json:"last_change"`
	Uptime              string    `json:"uptime,omitempty"`
}

// Stats returns current statistics for the connection.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:                m.name,
		State:               m.state,
		Attempts:            m.attempts,
		Failures:            m.failures,
		Reconnects:          m.reconnects,
		ConsecutiveFailures: m.consecutive,
		LastChange:          m.lastChange,
	}
	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}
	if m.state == StateConnected && !m.connectedSince.IsZero() {
		stats.Uptime = m.now().Sub(m.connectedSince).Round(time.Second).String()
	}
	return stats
}
