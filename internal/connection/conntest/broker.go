// Package conntest provides an in-memory broker implementing
// connection.Dialer for tests.
package conntest

import (
	"context"
	"errors"
	"sync"

	"github.com/nerrad567/airsense/internal/connection"
)

// ErrUnavailable is returned by Dial while the broker is down.
var ErrUnavailable = errors.New("conntest: broker unavailable")

// ErrSessionClosed is returned by operations on a closed session.
var ErrSessionClosed = errors.New("conntest: session closed")

// Message is a payload accepted by the broker.
type Message struct {
	Topic   string
	Payload []byte
}

// Broker is a single-process pub/sub relay with exact topic matching.
type Broker struct {
	mu         sync.Mutex
	down       bool
	dials      int
	sessions   map[*Session]struct{}
	published  []Message
	publishErr error
	blockPub   bool
	subscribes int
}

// NewBroker returns a reachable broker.
func NewBroker() *Broker {
	return &Broker{sessions: make(map[*Session]struct{})}
}

// Dial implements connection.Dialer.
func (b *Broker) Dial(ctx context.Context) (connection.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	if b.down {
		return nil, ErrUnavailable
	}

	s := &Session{
		broker: b,
		lost:   make(chan struct{}),
		subs:   make(map[string]connection.MessageHandler),
	}
	b.sessions[s] = struct{}{}
	return s, nil
}

// SetDown makes subsequent dials fail. It does not affect live sessions.
func (b *Broker) SetDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

// SetPublishError makes every publish fail with err; nil restores success.
func (b *Broker) SetPublishError(err error) {
	b.mu.Lock()
	b.publishErr = err
	b.mu.Unlock()
}

// BlockPublishes makes publishes wait for their context to end.
func (b *Broker) BlockPublishes(block bool) {
	b.mu.Lock()
	b.blockPub = block
	b.mu.Unlock()
}

// DropAll severs every live session as if the network failed.
func (b *Broker) DropAll(err error) {
	b.mu.Lock()
	sessions := make([]*Session, 0, len(b.sessions))
	for s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()

	for _, s := range sessions {
		s.drop(err)
	}
}

// Dials returns the number of connection attempts, successful or not.
func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// Subscribes returns the number of subscribe calls accepted.
func (b *Broker) Subscribes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribes
}

// LiveSessions returns the number of open sessions.
func (b *Broker) LiveSessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// Published returns a copy of every accepted message.
func (b *Broker) Published() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.published))
	copy(out, b.published)
	return out
}

// Inject delivers payload to every session subscribed to topic, as if an
// external client had published it.
func (b *Broker) Inject(topic string, payload []byte) {
	b.mu.Lock()
	var handlers []connection.MessageHandler
	for s := range b.sessions {
		if h, ok := s.handler(topic); ok {
			handlers = append(handlers, h)
		}
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(topic, payload)
	}
}

func (b *Broker) remove(s *Session) {
	b.mu.Lock()
	delete(b.sessions, s)
	b.mu.Unlock()
}

// Session is an in-memory connection.Session.
type Session struct {
	broker *Broker

	mu     sync.Mutex
	subs   map[string]connection.MessageHandler
	closed bool
	err    error
	lost   chan struct{}
}

func (s *Session) handler(topic string) (connection.MessageHandler, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	h, ok := s.subs[topic]
	return h, ok
}

// Publish implements connection.Session.
func (s *Session) Publish(ctx context.Context, topic string, _ byte, payload []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}

	s.broker.mu.Lock()
	block, pubErr := s.broker.blockPub, s.broker.publishErr
	s.broker.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if pubErr != nil {
		return pubErr
	}

	s.broker.mu.Lock()
	s.broker.published = append(s.broker.published, Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	s.broker.mu.Unlock()

	s.broker.Inject(topic, payload)
	return nil
}

// Subscribe implements connection.Session.
func (s *Session) Subscribe(_ context.Context, topic string, _ byte, handler connection.MessageHandler) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.subs[topic] = handler
	s.mu.Unlock()

	s.broker.mu.Lock()
	s.broker.subscribes++
	s.broker.mu.Unlock()
	return nil
}

// Lost implements connection.Session.
func (s *Session) Lost() <-chan struct{} {
	return s.lost
}

// Err implements connection.Session.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements connection.Session.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.broker.remove(s)
	return nil
}

func (s *Session) drop(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = err
	close(s.lost)
	s.mu.Unlock()

	s.broker.remove(s)
}
