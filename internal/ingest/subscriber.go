package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/airsense/internal/connection"
	"github.com/nerrad567/airsense/internal/infrastructure/config"
	"github.com/nerrad567/airsense/internal/infrastructure/logging"
	"github.com/nerrad567/airsense/internal/telemetry"
)

// Consumer receives validated readings.
type Consumer func(telemetry.Reading)

// Config holds the subscriber settings.
type Config struct {
	Topic string
	QoS   byte

	// Location is the zone wire timestamps are read in. Nil means UTC.
	Location *time.Location

	Bounds  telemetry.Bounds
	Backoff connection.Backoff
}

// Validate reports configuration errors. They wrap config.ErrInvalidConfig.
func (c Config) Validate() error {
	var errs []error
	if c.Topic == "" {
		errs = append(errs, errors.New("topic is required"))
	}
	if c.QoS > 2 {
		errs = append(errs, fmt.Errorf("qos %d must be 0, 1, or 2", c.QoS))
	}
	if err := c.Bounds.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Backoff.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: subscriber: %w", config.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Deps holds the subscriber's collaborators.
type Deps struct {
	// Dialer opens broker sessions. Required.
	Dialer connection.Dialer

	// Logger defaults to a discarding logger.
	Logger *logging.Logger

	// Observer receives connection lifecycle events. Optional.
	Observer connection.Observer
}

// Subscriber is a running ingestor. Create one with Start.
type Subscriber struct {
	cfg      Config
	codec    telemetry.Codec
	consumer Consumer
	mgr      *connection.Manager
	logger   *logging.Logger

	cancel context.CancelFunc
	done   chan struct{}

	activeMu sync.RWMutex
	active   connection.Session

	received       atomic.Uint64
	delivered      atomic.Uint64
	rejected       atomic.Uint64
	consumerPanics atomic.Uint64

	mu            sync.RWMutex
	err           error
	lastRejection string
}

// Start validates cfg and launches the subscriber's connection loop.
func Start(ctx context.Context, cfg Config, consumer Consumer, deps Deps) (*Subscriber, error) {
	s, err := New(cfg, consumer, deps)
	if err != nil {
		return nil, err
	}
	if deps.Dialer == nil {
		return nil, fmt.Errorf("%w: subscriber: dialer is required", config.ErrInvalidConfig)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	s.logger.Info("subscriber started", "topic", cfg.Topic, "qos", cfg.QoS)
	s.mgr.Begin()
	go s.run(runCtx)

	return s, nil
}

// New builds a subscriber without connecting. Messages can be fed with
// HandleMessage; Start is New plus the connection loop.
func New(cfg Config, consumer Consumer, deps Deps) (*Subscriber, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if consumer == nil {
		return nil, fmt.Errorf("%w: subscriber: consumer is required", config.ErrInvalidConfig)
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.With("component", "subscriber")

	s := &Subscriber{
		cfg:      cfg,
		codec:    telemetry.Codec{Location: cfg.Location},
		consumer: consumer,
		logger:   logger,
		cancel:   func() {},
	}

	if deps.Dialer != nil {
		s.mgr = connection.NewManager("subscriber", deps.Dialer, cfg.Backoff)
		s.mgr.SetLogger(logger)
		s.mgr.SetObserver(deps.Observer)
		s.mgr.SetOnConnect(s.subscribe)
	}

	return s, nil
}

// Stop cancels the subscriber, waits for its connection to close, and
// returns the terminal error if retries were exhausted.
func (s *Subscriber) Stop() error {
	s.cancel()
	if s.done != nil {
		<-s.done
	}
	return s.Err()
}

// Done is closed once the subscriber has stopped. It is nil for a
// subscriber built with New and never started.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal error, if any.
func (s *Subscriber) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// State returns the connection state. A subscriber that was never started
// reports StateDisconnected.
func (s *Subscriber) State() connection.State {
	if s.mgr == nil {
		return connection.StateDisconnected
	}
	return s.mgr.State()
}

func (s *Subscriber) run(ctx context.Context) {
	defer close(s.done)
	defer s.cancel()

	if err := s.mgr.Run(ctx); err != nil {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.logger.Error("subscriber giving up", "error", err)
	}

	s.setActive(nil)
	s.logger.Info("subscriber stopped",
		"received", s.received.Load(),
		"delivered", s.delivered.Load(),
		"rejected", s.rejected.Load(),
	)
}

// subscribe runs on every new session before it is reported connected.
func (s *Subscriber) subscribe(ctx context.Context, sess connection.Session) error {
	s.setActive(sess)

	handler := func(_ string, payload []byte) {
		if !s.isActive(sess) {
			return
		}
		_ = s.HandleMessage(payload)
	}

	if err := sess.Subscribe(ctx, s.cfg.Topic, s.cfg.QoS, handler); err != nil {
		s.setActive(nil)
		return fmt.Errorf("subscribing to %q: %w", s.cfg.Topic, err)
	}

	s.logger.Info("subscribed", "topic", s.cfg.Topic)
	return nil
}

func (s *Subscriber) setActive(sess connection.Session) {
	s.activeMu.Lock()
	s.active = sess
	s.activeMu.Unlock()
}

func (s *Subscriber) isActive(sess connection.Session) bool {
	s.activeMu.RLock()
	defer s.activeMu.RUnlock()
	return s.active != nil && s.active == sess
}

// HandleMessage decodes, validates, and delivers one payload. It returns
// the validation error for rejected payloads; the error is also counted and
// logged, so callers may ignore it. It never panics.
func (s *Subscriber) HandleMessage(payload []byte) error {
	s.received.Add(1)

	reading, err := s.codec.Decode(payload)
	if err == nil {
		err = s.cfg.Bounds.Check(reading)
	}
	if err != nil {
		s.rejected.Add(1)
		s.mu.Lock()
		s.lastRejection = err.Error()
		s.mu.Unlock()
		s.logger.Debug("reading rejected", "error", err, "size", len(payload))
		return err
	}

	if s.deliver(reading) {
		s.delivered.Add(1)
	}
	return nil
}

// deliver calls the consumer, containing any panic.
func (s *Subscriber) deliver(r telemetry.Reading) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			s.consumerPanics.Add(1)
			s.logger.Error("consumer panic recovered", "panic", p)
			ok = false
		}
	}()
	s.consumer(r)
	return true
}

// Stats is a snapshot of subscriber counters.
type Stats struct {
	Received       uint64           `json:"received"`
	Delivered      uint64           `json:"delivered"`
	Rejected       uint64           `json:"rejected"`
	ConsumerPanics uint64           `json:"consumer_panics"`
	LastRejection  string           `json:"last_rejection,omitempty"`
	Connection     connection.Stats `json:"connection"`
}

// Stats returns current counters.
func (s *Subscriber) Stats() Stats {
	s.mu.RLock()
	lastRejection := s.lastRejection
	s.mu.RUnlock()

	stats := Stats{
		Received:       s.received.Load(),
		Delivered:      s.delivered.Load(),
		Rejected:       s.rejected.Load(),
		ConsumerPanics: s.consumerPanics.Load(),
		LastRejection:  lastRejection,
	}
	if s.mgr != nil {
		stats.Connection = s.mgr.Stats()
	} else {
		stats.Connection = connection.Stats{State: connection.StateDisconnected}
	}
	return stats
}
