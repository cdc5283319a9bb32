// Package brokertest runs an embedded MQTT broker for tests.
package brokertest

import (
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/nerrad567/airsense/internal/infrastructure/config"
)

// Broker is an in-process MQTT 3.1.1/5 broker listening on localhost.
type Broker struct {
	Host string
	Port int

	mu     sync.Mutex
	server *mochi.Server
}

// Start launches a broker on a free port. It is stopped when the test ends.
func Start(t testing.TB) *Broker {
	t.Helper()

	b := &Broker{Host: "127.0.0.1", Port: freePort(t)}
	b.start(t)
	t.Cleanup(b.Stop)
	return b
}

// StartAt launches a broker on a specific port, typically one previously
// returned by FreePort for an "unreachable at start" scenario.
func StartAt(t testing.TB, port int) *Broker {
	t.Helper()

	b := &Broker{Host: "127.0.0.1", Port: port}
	b.start(t)
	t.Cleanup(b.Stop)
	return b
}

// FreePort returns a localhost port with nothing listening on it.
func FreePort(t testing.TB) int {
	t.Helper()
	return freePort(t)
}

func (b *Broker) start(t testing.TB) {
	t.Helper()

	server := mochi.New(&mochi.Options{
		InlineClient: true,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		t.Fatalf("brokertest: adding auth hook: %v", err)
	}

	tcp := listeners.NewTCP(listeners.Config{
		ID:      "tcp",
		Address: net.JoinHostPort(b.Host, strconv.Itoa(b.Port)),
	})
	if err := server.AddListener(tcp); err != nil {
		t.Fatalf("brokertest: adding listener: %v", err)
	}
	if err := server.Serve(); err != nil {
		t.Fatalf("brokertest: serve: %v", err)
	}

	b.mu.Lock()
	b.server = server
	b.mu.Unlock()
}

// Stop shuts the broker down, dropping every client connection.
func (b *Broker) Stop() {
	b.mu.Lock()
	server := b.server
	b.server = nil
	b.mu.Unlock()

	if server != nil {
		_ = server.Close()
	}
}

// Restart stops the broker and starts a new one on the same port.
func (b *Broker) Restart(t testing.TB) {
	t.Helper()
	b.Stop()
	b.start(t)
}

// Publish injects a message as if an external client had sent it.
func (b *Broker) Publish(topic string, payload []byte) error {
	b.mu.Lock()
	server := b.server
	b.mu.Unlock()
	if server == nil {
		return net.ErrClosed
	}
	return server.Publish(topic, payload, false, 0)
}

// Config returns broker settings pointing at this broker.
func (b *Broker) Config() config.BrokerConfig {
	return Config(b.Host, b.Port)
}

func freePort(t testing.TB) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("brokertest: finding free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// Config returns broker settings for an arbitrary localhost port.
func Config(host string, port int) config.BrokerConfig {
	return config.BrokerConfig{
		Host:           host,
		Port:           port,
		ClientID:       "airsense-test",
		ConnectTimeout: 2,
		KeepAlive:      5,
	}
}
