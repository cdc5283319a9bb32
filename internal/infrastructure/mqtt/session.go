package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/airsense/internal/connection"
)

// Maximum payload size for MQTT messages (1MB).
const maxPayloadSize = 1 << 20

// Session is one MQTT network connection. It implements connection.Session.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Handlers run on paho's delivery goroutine, in arrival order.
type Session struct {
	client   pahomqtt.Client
	clientID string
	logger   Logger

	lost     chan struct{}
	lostOnce sync.Once
	lostErr  error

	mu     sync.RWMutex
	closed bool
}

// Publish sends payload to topic and waits for the broker acknowledgement
// (QoS 1/2) or for the write to complete (QoS 0), whichever applies, bounded
// by ctx.
func (s *Session) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	if err := validatePublishTopic(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !s.usable() {
		return ErrNotConnected
	}

	token := s.client.Publish(topic, qos, false, payload)
	if err := waitToken(ctx, token, 0); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Subscribe registers handler for filter on this session. Messages stop
// reaching handler once the session is closed or lost.
func (s *Session) Subscribe(ctx context.Context, filter string, qos byte, handler connection.MessageHandler) error {
	if err := validateFilter(filter); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !s.usable() {
		return ErrNotConnected
	}

	token := s.client.Subscribe(filter, qos, s.wrapHandler(handler))
	if err := waitToken(ctx, token, 0); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	if st, ok := token.(*pahomqtt.SubscribeToken); ok {
		if code, found := st.Result()[filter]; found && code >= 0x80 {
			return fmt.Errorf("%w: broker refused %q", ErrSubscribeFailed, filter)
		}
	}
	return nil
}

// Lost is closed when the broker connection drops unexpectedly, including
// keep-alive timeouts.
func (s *Session) Lost() <-chan struct{} {
	return s.lost
}

// Err returns the reason the session was lost.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lostErr
}

// Close publishes a graceful offline status and disconnects. Calling Close
// more than once is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.client.IsConnectionOpen() {
		s.publishStatus(context.Background(), offlineStatusTimeout, "offline", "graceful_shutdown")
	}
	s.client.Disconnect(disconnectQuiesce)
	return nil
}

// ClientID returns the MQTT client identifier.
func (s *Session) ClientID() string {
	return s.clientID
}

func (s *Session) usable() bool {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()

	select {
	case <-s.lost:
		return false
	default:
	}
	return !closed && s.client.IsConnectionOpen()
}

func (s *Session) markLost(err error) {
	s.lostOnce.Do(func() {
		s.mu.Lock()
		s.lostErr = err
		s.mu.Unlock()
		close(s.lost)
	})
}

// publishStatus writes the retained client status, waiting at most timeout
// or until ctx ends. Failures are logged, never returned.
func (s *Session) publishStatus(ctx context.Context, timeout time.Duration, status, reason string) {
	token := s.client.Publish(Topics{}.ClientStatus(s.clientID), 1, true, buildStatusPayload(s.clientID, status, reason))
	if err := waitToken(ctx, token, timeout); err != nil && s.logger != nil {
		s.logger.Warn("MQTT status publish failed", "client_id", s.clientID, "status", status, "error", err)
	}
}

// wrapHandler adds panic recovery and drops messages arriving after the
// session was closed.
func (s *Session) wrapHandler(handler connection.MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil && s.logger != nil {
				s.logger.Error("MQTT handler panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}()

		if !s.usable() {
			return
		}
		handler(msg.Topic(), msg.Payload())
	}
}

// waitToken waits for a paho token, honouring ctx and an optional timeout.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-expired:
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
}
