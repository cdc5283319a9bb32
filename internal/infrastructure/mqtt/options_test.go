package mqtt

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nerrad567/airsense/internal/infrastructure/config"
)

func TestBuildClientOptions(t *testing.T) {
	cfg := config.BrokerConfig{
		Host:           "broker.local",
		Port:           8883,
		TLS:            true,
		Username:       "sensor",
		Password:       "secret",
		ConnectTimeout: 3,
		KeepAlive:      20,
	}

	opts := buildClientOptions(cfg, "airsense-publisher-abc")

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://broker.local:8883" {
		t.Errorf("Servers = %v, want ssl://broker.local:8883", opts.Servers)
	}
	if opts.ClientID != "airsense-publisher-abc" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.AutoReconnect {
		t.Error("AutoReconnect = true, want paho reconnect disabled")
	}
	if opts.ConnectRetry {
		t.Error("ConnectRetry = true, want false")
	}
	if !opts.CleanSession {
		t.Error("CleanSession = false, want true")
	}
	if opts.ConnectTimeout != 3*time.Second {
		t.Errorf("ConnectTimeout = %v, want 3s", opts.ConnectTimeout)
	}
	if opts.KeepAlive != 20 {
		t.Errorf("KeepAlive = %d, want 20", opts.KeepAlive)
	}
	if opts.Username != "sensor" {
		t.Errorf("Username = %q, want sensor", opts.Username)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLSConfig missing or below TLS 1.2")
	}
	if !opts.WillEnabled || opts.WillTopic != "airsense/status/airsense-publisher-abc" || !opts.WillRetained {
		t.Errorf("LWT = enabled:%v topic:%q retained:%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
}

func TestBuildClientOptions_Defaults(t *testing.T) {
	opts := buildClientOptions(config.BrokerConfig{Host: "localhost", Port: 1883}, "id")

	if opts.Servers[0].String() != "tcp://localhost:1883" {
		t.Errorf("Servers[0] = %v, want tcp://localhost:1883", opts.Servers[0])
	}
	if opts.ConnectTimeout != defaultConnectTimeout {
		t.Errorf("ConnectTimeout = %v, want %v", opts.ConnectTimeout, defaultConnectTimeout)
	}
	if opts.TLSConfig != nil && opts.TLSConfig.MinVersion != 0 {
		t.Error("TLS configured without broker.tls")
	}
}

func TestBuildStatusPayload(t *testing.T) {
	var doc map[string]string
	if err := json.Unmarshal([]byte(buildStatusPayload("c1", "offline", "graceful_shutdown")), &doc); err != nil {
		t.Fatalf("status payload is not JSON: %v", err)
	}
	if doc["status"] != "offline" || doc["client_id"] != "c1" || doc["reason"] != "graceful_shutdown" {
		t.Errorf("payload = %v", doc)
	}
	if _, err := time.Parse(time.RFC3339, doc["timestamp"]); err != nil {
		t.Errorf("timestamp %q is not RFC3339", doc["timestamp"])
	}

	doc = nil
	_ = json.Unmarshal([]byte(buildStatusPayload("c1", "online", "")), &doc)
	if _, ok := doc["reason"]; ok {
		t.Error("online payload carries a reason")
	}
}
