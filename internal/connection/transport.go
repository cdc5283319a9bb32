package connection

import "context"

// MessageHandler receives messages delivered on a subscription.
type MessageHandler func(topic string, payload []byte)

// Session is one established broker connection. A Session is never reused
// after it is lost or closed.
type Session interface {
	// Publish sends payload to topic and waits for the broker to accept it
	// or for ctx to end.
	Publish(ctx context.Context, topic string, qos byte, payload []byte) error

	// Subscribe registers handler for topic on this session only.
	Subscribe(ctx context.Context, topic string, qos byte, handler MessageHandler) error

	// Lost is closed when the transport detects the connection has dropped.
	Lost() <-chan struct{}

	// Err reports why the session was lost, once Lost is closed.
	Err() error

	// Close disconnects. It is safe to call more than once.
	Close() error
}

// Dialer establishes sessions.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// DialFunc adapts a function to the Dialer interface.
type DialFunc func(ctx context.Context) (Session, error)

// Dial calls f(ctx).
func (f DialFunc) Dial(ctx context.Context) (Session, error) {
	return f(ctx)
}
