package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/airsense/internal/connection"
	"github.com/nerrad567/airsense/internal/connection/conntest"
	"github.com/nerrad567/airsense/internal/infrastructure/config"
	"github.com/nerrad567/airsense/internal/telemetry"
)

const validPayload = `{"timestamp":"2026-03-01 14:05:09","temperature":24.31,"humidity":51.2,"co2":812.77}`

func testConfig() Config {
	return Config{
		Topic:  "iot/sensors",
		Bounds: telemetry.DefaultBounds(),
		Backoff: connection.Backoff{
			Min: 10 * time.Millisecond,
			Max: 40 * time.Millisecond,
		},
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// collector is a thread-safe consumer.
type collector struct {
	mu       sync.Mutex
	readings []telemetry.Reading
}

func (c *collector) consume(r telemetry.Reading) {
	c.mu.Lock()
	c.readings = append(c.readings, r)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.readings)
}

// ============================================================================
// Message Handling Tests
// ============================================================================

func TestHandleMessage_DeliversValidReading(t *testing.T) {
	var got []telemetry.Reading
	s, err := New(testConfig(), func(r telemetry.Reading) { got = append(got, r) }, Deps{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := s.HandleMessage([]byte(validPayload)); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("consumer called %d times, want 1", len(got))
	}
	want := time.Date(2026, 3, 1, 14, 5, 9, 0, time.UTC)
	if !got[0].Timestamp.Equal(want) || got[0].CO2 != 812.77 {
		t.Errorf("reading = %+v", got[0])
	}

	stats := s.Stats()
	if stats.Received != 1 || stats.Delivered != 1 || stats.Rejected != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestHandleMessage_IgnoresUnknownKeys(t *testing.T) {
	calls := 0
	s, _ := New(testConfig(), func(telemetry.Reading) { calls++ }, Deps{})

	payload := `{"timestamp":"2026-03-01 14:05:09","temperature":24.31,"humidity":51.2,"co2":812.77,"device_id":"sim-02"}`
	if err := s.HandleMessage([]byte(payload)); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("consumer called %d times, want 1", calls)
	}
}

func TestHandleMessage_RejectionIsIdempotent(t *testing.T) {
	payloads := []struct {
		name    string
		payload []byte
	}{
		{"nil", nil},
		{"empty", []byte{}},
		{"garbage", []byte("\x00\xff not json")},
		{"missing co2", []byte(`{"timestamp":"2026-03-01 14:05:09","temperature":24.31,"humidity":51.2}`)},
		{"missing timestamp", []byte(`{"temperature":24.31,"humidity":51.2,"co2":812.77}`)},
		{"bad timestamp", []byte(`{"timestamp":"yesterday","temperature":24.31,"humidity":51.2,"co2":812.77}`)},
		{"temperature too high", []byte(`{"timestamp":"2026-03-01 14:05:09","temperature":35.01,"humidity":51.2,"co2":812.77}`)},
		{"humidity too low", []byte(`{"timestamp":"2026-03-01 14:05:09","temperature":24.31,"humidity":29.99,"co2":812.77}`)},
		{"co2 negative", []byte(`{"timestamp":"2026-03-01 14:05:09","temperature":24.31,"humidity":51.2,"co2":-1}`)},
		{"co2 as string", []byte(`{"timestamp":"2026-03-01 14:05:09","temperature":24.31,"humidity":51.2,"co2":"812"}`)},
	}

	for _, tt := range payloads {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			s, err := New(testConfig(), func(telemetry.Reading) { calls++ }, Deps{})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			for i := 1; i <= 2; i++ {
				err := s.HandleMessage(tt.payload)
				if !errors.Is(err, telemetry.ErrInvalidReading) {
					t.Fatalf("call %d: HandleMessage() error = %v, want ErrInvalidReading", i, err)
				}
				if got := s.Stats().Rejected; got != uint64(i) {
					t.Fatalf("call %d: Rejected = %d, want %d", i, got, i)
				}
			}

			if calls != 0 {
				t.Errorf("consumer called %d times for a rejected payload", calls)
			}
			if s.Stats().LastRejection == "" {
				t.Error("LastRejection empty after rejection")
			}
		})
	}
}

func TestHandleMessage_ConsumerPanicContained(t *testing.T) {
	s, _ := New(testConfig(), func(telemetry.Reading) { panic("consumer bug") }, Deps{})

	for i := 0; i < 3; i++ {
		if err := s.HandleMessage([]byte(validPayload)); err != nil {
			t.Fatalf("HandleMessage() error = %v", err)
		}
	}

	stats := s.Stats()
	if stats.ConsumerPanics != 3 {
		t.Errorf("ConsumerPanics = %d, want 3", stats.ConsumerPanics)
	}
	if stats.Delivered != 0 {
		t.Errorf("Delivered = %d, want panicking deliveries excluded", stats.Delivered)
	}
}

// ============================================================================
// Configuration Tests
// ============================================================================

func TestStart_ConfigurationErrors(t *testing.T) {
	consumer := func(telemetry.Reading) {}
	tests := []struct {
		name     string
		cfg      func() Config
		consumer Consumer
		dialer   bool
	}{
		{"empty topic", func() Config { c := testConfig(); c.Topic = ""; return c }, consumer, true},
		{"bad qos", func() Config { c := testConfig(); c.QoS = 5; return c }, consumer, true},
		{"inverted bounds", func() Config {
			c := testConfig()
			c.Bounds.Temperature = telemetry.Range{Min: 35, Max: 20}
			return c
		}, consumer, true},
		{"bad backoff", func() Config { c := testConfig(); c.Backoff.Min = 0; return c }, consumer, true},
		{"nil consumer", testConfig, nil, true},
		{"nil dialer", testConfig, consumer, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := conntest.NewBroker()
			deps := Deps{}
			if tt.dialer {
				deps.Dialer = broker
			}

			_, err := Start(context.Background(), tt.cfg(), tt.consumer, deps)
			if !errors.Is(err, config.ErrInvalidConfig) {
				t.Fatalf("Start() error = %v, want ErrInvalidConfig", err)
			}
			if broker.Dials() != 0 {
				t.Error("connection attempted despite invalid configuration")
			}
		})
	}
}

// ============================================================================
// Subscription Lifecycle Tests
// ============================================================================

func TestStart_ReportsConnectingBeforeReturning(t *testing.T) {
	broker := conntest.NewBroker()
	broker.SetDown(true)
	cfg := testConfig()
	cfg.Backoff = connection.Backoff{Min: time.Minute, Max: time.Minute}

	s, err := Start(context.Background(), cfg, func(telemetry.Reading) {}, Deps{Dialer: broker})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	if st := s.State(); st != connection.StateConnecting && st != connection.StateBackoff {
		t.Errorf("State() right after Start = %q, want connecting or backoff", st)
	}
}

func TestSubscriber_ReceivesFromBroker(t *testing.T) {
	broker := conntest.NewBroker()
	c := &collector{}

	s, err := Start(context.Background(), testConfig(), c.consume, Deps{Dialer: broker})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, time.Second, "connected", func() bool { return s.State() == connection.StateConnected })
	broker.Inject("iot/sensors", []byte(validPayload))
	broker.Inject("iot/other", []byte(validPayload))
	broker.Inject("iot/sensors", []byte(`{"bad":true}`))

	if c.len() != 1 {
		t.Errorf("consumer got %d readings, want 1", c.len())
	}
	if got := s.Stats().Rejected; got != 1 {
		t.Errorf("Rejected = %d, want 1", got)
	}

	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if n := broker.LiveSessions(); n != 0 {
		t.Errorf("LiveSessions() = %d after Stop, want 0", n)
	}
}

func TestSubscriber_ResubscribesBeforeDelivering(t *testing.T) {
	broker := conntest.NewBroker()

	var mu sync.Mutex
	var subscribesAtDelivery []int
	consumer := func(telemetry.Reading) {
		mu.Lock()
		subscribesAtDelivery = append(subscribesAtDelivery, broker.Subscribes())
		mu.Unlock()
	}

	s, err := Start(context.Background(), testConfig(), consumer, Deps{Dialer: broker})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	waitFor(t, time.Second, "connected", func() bool { return s.State() == connection.StateConnected })
	broker.Inject("iot/sensors", []byte(validPayload))

	broker.SetDown(true)
	broker.DropAll(errors.New("broker restarted"))
	waitFor(t, time.Second, "backoff", func() bool { return s.State() == connection.StateBackoff })

	// Nothing is subscribed while disconnected.
	broker.Inject("iot/sensors", []byte(validPayload))

	broker.SetDown(false)
	waitFor(t, time.Second, "reconnected", func() bool { return s.State() == connection.StateConnected })
	broker.Inject("iot/sensors", []byte(validPayload))

	mu.Lock()
	defer mu.Unlock()
	if len(subscribesAtDelivery) != 2 {
		t.Fatalf("consumer called %d times, want 2", len(subscribesAtDelivery))
	}
	if subscribesAtDelivery[0] != 1 || subscribesAtDelivery[1] != 2 {
		t.Errorf("subscribe count at each delivery = %v, want [1 2]", subscribesAtDelivery)
	}
}

// captureSession keeps its handler so tests can invoke it after the session
// has been replaced.
type captureSession struct {
	mu      sync.Mutex
	handler connection.MessageHandler
	lost    chan struct{}
}

func (c *captureSession) Publish(context.Context, string, byte, []byte) error { return nil }

func (c *captureSession) Subscribe(_ context.Context, _ string, _ byte, h connection.MessageHandler) error {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
	return nil
}

func (c *captureSession) Lost() <-chan struct{} { return c.lost }
func (c *captureSession) Err() error            { return errors.New("dropped") }
func (c *captureSession) Close() error          { return nil }

func (c *captureSession) deliver(payload string) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	h("iot/sensors", []byte(payload))
}

func TestSubscriber_StaleSessionMessagesDiscarded(t *testing.T) {
	var mu sync.Mutex
	var sessions []*captureSession
	dialer := connection.DialFunc(func(context.Context) (connection.Session, error) {
		s := &captureSession{lost: make(chan struct{})}
		mu.Lock()
		sessions = append(sessions, s)
		mu.Unlock()
		return s, nil
	})
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(sessions)
	}

	c := &collector{}
	s, err := Start(context.Background(), testConfig(), c.consume, Deps{Dialer: dialer})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	waitFor(t, time.Second, "first session", func() bool { return s.State() == connection.StateConnected })
	mu.Lock()
	first := sessions[0]
	mu.Unlock()
	close(first.lost)

	waitFor(t, time.Second, "second session", func() bool {
		return count() == 2 && s.State() == connection.StateConnected
	})

	first.deliver(validPayload)
	if c.len() != 0 {
		t.Error("message from a superseded session reached the consumer")
	}

	mu.Lock()
	second := sessions[1]
	mu.Unlock()
	second.deliver(validPayload)
	if c.len() != 1 {
		t.Errorf("consumer got %d readings from the live session, want 1", c.len())
	}
}

func TestSubscriber_SubscribeFailureRetries(t *testing.T) {
	attempts := 0
	var mu sync.Mutex
	dialer := connection.DialFunc(func(context.Context) (connection.Session, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
		return &refusingSession{lost: make(chan struct{})}, nil
	})

	cfg := testConfig()
	cfg.Backoff.MaxRetries = 2
	s, err := Start(context.Background(), cfg, func(telemetry.Reading) {}, Deps{Dialer: dialer})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not give up")
	}
	if err := s.Stop(); !errors.Is(err, connection.ErrRetriesExhausted) {
		t.Errorf("Stop() error = %v, want ErrRetriesExhausted", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

type refusingSession struct {
	captureSession
	lost chan struct{}
}

func (r *refusingSession) Subscribe(context.Context, string, byte, connection.MessageHandler) error {
	return errors.New("not authorised")
}

func (r *refusingSession) Lost() <-chan struct{} { return r.lost }
