package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/airsense/internal/connection"
	"github.com/nerrad567/airsense/internal/infrastructure/config"
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Dialer opens MQTT sessions for one AirSense component. It implements
// connection.Dialer.
//
// Every Dial creates a fresh paho client; the session state never outlives
// the network connection.
type Dialer struct {
	cfg      config.BrokerConfig
	clientID string

	logger   Logger
	loggerMu sync.RWMutex
}

// NewDialer creates a dialer. The client ID is derived from cfg.ClientID,
// the component role, and a random suffix so that several AirSense
// processes can share a broker.
func NewDialer(cfg config.BrokerConfig, role string) *Dialer {
	base := cfg.ClientID
	if base == "" {
		base = "airsense"
	}
	return &Dialer{
		cfg:      cfg,
		clientID: fmt.Sprintf("%s-%s-%s", base, role, uuid.NewString()[:8]),
	}
}

// ClientID returns the MQTT client identifier used by this dialer.
func (d *Dialer) ClientID() string {
	return d.clientID
}

// SetLogger sets a logger for handler panics and errors.
func (d *Dialer) SetLogger(logger Logger) {
	d.loggerMu.Lock()
	d.logger = logger
	d.loggerMu.Unlock()
}

func (d *Dialer) getLogger() Logger {
	d.loggerMu.RLock()
	defer d.loggerMu.RUnlock()
	return d.logger
}

// Dial connects to the broker. It returns when the broker accepts the
// connection, when the configured connect timeout passes, or when ctx ends.
func (d *Dialer) Dial(ctx context.Context) (connection.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	opts := buildClientOptions(d.cfg, d.clientID)

	s := &Session{
		clientID: d.clientID,
		lost:     make(chan struct{}),
		logger:   d.getLogger(),
	}
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.markLost(err)
	})

	client := pahomqtt.NewClient(opts)
	s.client = client

	token := client.Connect()
	if err := waitToken(ctx, token, connectTimeout(d.cfg)); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("%w: %s:%d: %w", ErrConnectionFailed, d.cfg.Host, d.cfg.Port, err)
	}

	s.publishStatus(ctx, statusPublishTimeout, "online", "")

	return s, nil
}
