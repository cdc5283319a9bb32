package publisher

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

// Config holds the publisher settings.
type Config struct {
	Topic    string
	QoS      byte
	Interval time.Duration

	// PublishTimeout bounds one publish. Zero or anything above Interval
	// is clamped to Interval.
	PublishTimeout time.Duration

	// DeviceID is added to payloads when set.
	DeviceID string

	// Location is the zone wire timestamps are written in. Nil means UTC.
	Location *time.Location

	Bounds  telemetry.Bounds
	Backoff connection.Backoff

	// Seed makes the generator deterministic when non-zero.
	Seed uint64
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
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("publish interval must be positive, got %v", c.Interval))
	}
	if c.PublishTimeout < 0 {
		errs = append(errs, errors.New("publish timeout must not be negative"))
	}
	if err := c.Bounds.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Backoff.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: publisher: %w", config.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Source supplies readings. *telemetry.Generator is the production source.
type Source interface {
	Next() telemetry.Reading
}

// Deps holds the publisher's collaborators.
type Deps struct {
	// Dialer opens broker sessions. Required.
	Dialer connection.Dialer

	// Logger defaults to a discarding logger.
	Logger *logging.Logger

	// Observer receives connection lifecycle events. Optional.
	Observer connection.Observer

	// Source overrides the reading generator. Optional.
	Source Source
}

// Publisher is a running simulator. Create one with Start.
type Publisher struct {
	cfg    Config
	mgr    *connection.Manager
	source Source
	codec  telemetry.Codec
	logger *logging.Logger

	cancel context.CancelFunc
	done   chan struct{}

	published atomic.Uint64
	failed    atomic.Uint64
	skipped   atomic.Uint64

	mu   sync.RWMutex
	err  error
	last *telemetry.Reading
}

// Start validates cfg and launches the publish loop and its connection
// manager. It returns before the first connection attempt completes;
// configuration problems are the only errors returned here.
func Start(ctx context.Context, cfg Config, deps Deps) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Dialer == nil {
		return nil, fmt.Errorf("%w: publisher: dialer is required", config.ErrInvalidConfig)
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.With("component", "publisher")

	source := deps.Source
	if source == nil {
		var opts []telemetry.GeneratorOption
		if cfg.Seed != 0 {
			opts = append(opts, telemetry.WithSeed(cfg.Seed))
		}
		gen, err := telemetry.NewGenerator(cfg.Bounds, opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: publisher: %w", config.ErrInvalidConfig, err)
		}
		source = gen
	}

	mgr := connection.NewManager("publisher", deps.Dialer, cfg.Backoff)
	mgr.SetLogger(logger)
	mgr.SetObserver(deps.Observer)

	runCtx, cancel := context.WithCancel(ctx)
	p := &Publisher{
		cfg:    cfg,
		mgr:    mgr,
		source: source,
		codec:  telemetry.Codec{Location: cfg.Location, DeviceID: cfg.DeviceID},
		logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	logger.Info("publisher started",
		"topic", cfg.Topic,
		"interval", cfg.Interval,
		"qos", cfg.QoS,
	)
	mgr.Begin()
	go p.run(runCtx)

	return p, nil
}

// Stop cancels the publisher, waits for it to release its connection, and
// returns the terminal error if one occurred.
func (p *Publisher) Stop() error {
	p.cancel()
	<-p.done
	return p.Err()
}

// Done is closed once the publisher has stopped for any reason.
func (p *Publisher) Done() <-chan struct{} {
	return p.done
}

// Err returns the terminal error: retry exhaustion or a serialization
// defect. It is nil while running and after a clean Stop.
func (p *Publisher) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

// State returns the connection state.
func (p *Publisher) State() connection.State {
	return p.mgr.State()
}

func (p *Publisher) run(ctx context.Context) {
	defer close(p.done)
	defer p.cancel()

	mgrDone := make(chan error, 1)
	go func() { mgrDone <- p.mgr.Run(ctx) }()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-mgrDone
			p.logger.Info("publisher stopped",
				"published", p.published.Load(),
				"failed", p.failed.Load(),
				"skipped", p.skipped.Load(),
			)
			return

		case err := <-mgrDone:
			if err != nil {
				p.setErr(err)
				p.logger.Error("publisher giving up", "error", err)
			}
			return

		case <-ticker.C:
			if err := p.tick(ctx); err != nil {
				p.setErr(err)
				p.logger.Error("publisher stopped on serialization failure", "error", err)
				p.cancel()
				<-mgrDone
				return
			}
		}
	}
}

// tick publishes one reading. Only serialization failures are returned.
func (p *Publisher) tick(ctx context.Context) error {
	sess := p.mgr.Session()
	if sess == nil {
		p.skipped.Add(1)
		p.logger.Debug("tick skipped, not connected", "state", p.mgr.State())
		return nil
	}

	reading := p.source.Next()
	payload, err := p.codec.Encode(reading)
	if err != nil {
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, p.publishTimeout())
	defer cancel()

	if err := sess.Publish(pubCtx, p.cfg.Topic, p.cfg.QoS, payload); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		p.failed.Add(1)
		p.logger.Warn("publish failed", "topic", p.cfg.Topic, "error", err)
		p.mgr.Fail(sess, err)
		return nil
	}

	p.published.Add(1)
	p.mu.Lock()
	p.last = &reading
	p.mu.Unlock()
	return nil
}

func (p *Publisher) publishTimeout() time.Duration {
	if p.cfg.PublishTimeout <= 0 || p.cfg.PublishTimeout > p.cfg.Interval {
		return p.cfg.Interval
	}
	return p.cfg.PublishTimeout
}

func (p *Publisher) setErr(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
}

// Stats is a snapshot of publisher counters.
type Stats struct {
	Published   uint64             `json:"published"`
	Failed      uint64             `json:"failed"`
	Skipped     uint64             `json:"skipped"`
	LastReading *telemetry.Reading `json:"last_reading,omitempty"`
	Connection  connection.Stats   `json:"connection"`
}

// Stats returns current counters.
func (p *Publisher) Stats() Stats {
	p.mu.RLock()
	last := p.last
	p.mu.RUnlock()

	return Stats{
		Published:   p.published.Load(),
		Failed:      p.failed.Load(),
		Skipped:     p.skipped.Load(),
		LastReading: last,
		Connection:  p.mgr.Stats(),
	}
}
