package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/airsense/internal/telemetry"
)

// Config is the root configuration structure for AirSense.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Ingestor  IngestorConfig  `yaml:"ingestor"`
	Archive   ArchiveConfig   `yaml:"archive"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	ML        MLConfig        `yaml:"ml"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BrokerConfig contains MQTT broker connection settings.
type BrokerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	TLS            bool   `yaml:"tls"`
	ClientID       string `yaml:"client_id"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	ConnectTimeout int    `yaml:"connect_timeout"` // seconds
	KeepAlive      int    `yaml:"keep_alive"`      // seconds
}

// TelemetryConfig describes the reading stream shared by publisher and subscriber.
type TelemetryConfig struct {
	Topic    string           `yaml:"topic"`
	QoS      int              `yaml:"qos"`
	Timezone string           `yaml:"timezone"`
	Bounds   telemetry.Bounds `yaml:"bounds"`
}

// ReconnectConfig contains connection backoff settings. Durations are seconds
// and may be fractional.
type ReconnectConfig struct {
	MinBackoff         float64 `yaml:"min_backoff"`
	MaxBackoff         float64 `yaml:"max_backoff"`
	MaxRetries         int     `yaml:"max_retries"` // 0 = retry forever
	StabilityThreshold float64 `yaml:"stability_threshold"`
}

// SimulatorConfig contains publisher settings.
type SimulatorConfig struct {
	Enabled                bool    `yaml:"enabled"`
	PublishIntervalSeconds float64 `yaml:"publish_interval_seconds"`
	PublishTimeout         float64 `yaml:"publish_timeout"` // seconds, capped by the interval
	DeviceID               string  `yaml:"device_id"`
	Seed                   uint64  `yaml:"seed"` // 0 = random
}

// IngestorConfig contains subscriber settings.
type IngestorConfig struct {
	Enabled    bool         `yaml:"enabled"`
	BufferSize int          `yaml:"buffer_size"`
	Alerts     AlertsConfig `yaml:"alerts"`
}

// AlertsConfig contains the anomaly thresholds applied to ingested readings.
type AlertsConfig struct {
	Enabled     bool            `yaml:"enabled"`
	Temperature telemetry.Range `yaml:"temperature"`
	Humidity    telemetry.Range `yaml:"humidity"`
	CO2Max      float64         `yaml:"co2_max"`
	History     int             `yaml:"history"`
}

// ArchiveConfig contains settings for the SQL reading archive.
type ArchiveConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Driver      string `yaml:"driver"` // sqlite3, postgres, mysql
	DSN         string `yaml:"dsn"`    // postgres/mysql connection string
	Path        string `yaml:"path"`   // sqlite database file
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
	QueueSize   int    `yaml:"queue_size"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	Measurement   string `yaml:"measurement"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // milliseconds
}

// KafkaConfig contains settings for forwarding readings to Kafka.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// MLConfig points at the prediction service proxied by GET /predict.
// An empty URL disables the route.
type MLConfig struct {
	URL     string `yaml:"url"`     // e.g. http://127.0.0.1:8000
	Timeout int    `yaml:"timeout"` // seconds
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains live stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, text, console
	Output string `yaml:"output"` // stdout, stderr
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: AIRSENSE_SECTION_KEY
// For example: AIRSENSE_BROKER_HOST, AIRSENSE_TOPIC
//
// Validation failures wrap ErrInvalidConfig.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing config file: %w", ErrInvalidConfig, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults: simulator and ingestor
// enabled against a local broker, readings on "iot/sensors" every 3 seconds.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Host:           "localhost",
			Port:           1883,
			ClientID:       "airsense",
			ConnectTimeout: 10,
			KeepAlive:      30,
		},
		Telemetry: TelemetryConfig{
			Topic:    "iot/sensors",
			QoS:      0,
			Timezone: "UTC",
			Bounds:   telemetry.DefaultBounds(),
		},
		Reconnect: ReconnectConfig{
			MinBackoff:         1,
			MaxBackoff:         60,
			StabilityThreshold: 30,
		},
		Simulator: SimulatorConfig{
			Enabled:                true,
			PublishIntervalSeconds: 3,
			PublishTimeout:         5,
		},
		Ingestor: IngestorConfig{
			Enabled:    true,
			BufferSize: 1000,
			Alerts: AlertsConfig{
				Enabled:     true,
				Temperature: telemetry.Range{Min: 15, Max: 30},
				Humidity:    telemetry.Range{Min: 30, Max: 70},
				CO2Max:      1000,
				History:     100,
			},
		},
		Archive: ArchiveConfig{
			Driver:      "sqlite3",
			Path:        "./data/airsense.db",
			WALMode:     true,
			BusyTimeout: 5,
			QueueSize:   256,
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Org:           "airsense",
			Bucket:        "telemetry",
			Measurement:   "environment",
			BatchSize:     100,
			FlushInterval: 1000,
		},
		Kafka: KafkaConfig{
			Topic: "airsense.readings",
		},
		ML: MLConfig{
			Timeout: 5,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/v1/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AIRSENSE_BROKER_HOST"); v != "" {
		cfg.Broker.Host = v
	}
	if v := os.Getenv("AIRSENSE_BROKER_PORT"); v != "" {
		// Unparseable values become 0 and are reported by Validate.
		port, _ := strconv.Atoi(v)
		cfg.Broker.Port = port
	}
	if v := os.Getenv("AIRSENSE_BROKER_USERNAME"); v != "" {
		cfg.Broker.Username = v
	}
	if v := os.Getenv("AIRSENSE_BROKER_PASSWORD"); v != "" {
		cfg.Broker.Password = v
	}
	if v := os.Getenv("AIRSENSE_TOPIC"); v != "" {
		cfg.Telemetry.Topic = v
	}
	if v := os.Getenv("AIRSENSE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("AIRSENSE_ARCHIVE_DSN"); v != "" {
		cfg.Archive.DSN = v
	}
	if v := os.Getenv("AIRSENSE_ML_URL"); v != "" {
		cfg.ML.URL = v
	}
	if v := os.Getenv("AIRSENSE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration and reports every problem at once.
// The returned error wraps ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []string

	// Broker
	if c.Broker.Host == "" {
		errs = append(errs, "broker.host is required")
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		errs = append(errs, "broker.port must be between 1 and 65535")
	}
	if c.Broker.ConnectTimeout <= 0 {
		errs = append(errs, "broker.connect_timeout must be positive")
	}
	if c.Broker.KeepAlive <= 0 {
		errs = append(errs, "broker.keep_alive must be positive")
	}

	// Telemetry
	if strings.TrimSpace(c.Telemetry.Topic) == "" {
		errs = append(errs, "telemetry.topic is required")
	}
	if c.Telemetry.QoS < 0 || c.Telemetry.QoS > 2 {
		errs = append(errs, "telemetry.qos must be 0, 1, or 2")
	}
	if _, err := time.LoadLocation(c.Telemetry.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("telemetry.timezone %q is unknown", c.Telemetry.Timezone))
	}
	if err := c.Telemetry.Bounds.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("telemetry.bounds: %v", err))
	}

	// Reconnect
	if c.Reconnect.MinBackoff <= 0 {
		errs = append(errs, "reconnect.min_backoff must be positive")
	}
	if c.Reconnect.MaxBackoff < c.Reconnect.MinBackoff {
		errs = append(errs, "reconnect.max_backoff must not be below reconnect.min_backoff")
	}
	if c.Reconnect.MaxRetries < 0 {
		errs = append(errs, "reconnect.max_retries must not be negative")
	}
	if c.Reconnect.StabilityThreshold < 0 {
		errs = append(errs, "reconnect.stability_threshold must not be negative")
	}

	// Simulator
	if c.Simulator.Enabled {
		if c.Simulator.PublishIntervalSeconds <= 0 {
			errs = append(errs, "simulator.publish_interval_seconds must be positive")
		}
		if c.Simulator.PublishTimeout < 0 {
			errs = append(errs, "simulator.publish_timeout must not be negative")
		}
	}

	// Ingestor
	if c.Ingestor.Enabled && c.Ingestor.BufferSize < 1 {
		errs = append(errs, "ingestor.buffer_size must be at least 1")
	}
	if c.Ingestor.Alerts.Enabled && c.Ingestor.Alerts.Temperature.Min > c.Ingestor.Alerts.Temperature.Max {
		errs = append(errs, "ingestor.alerts.temperature min exceeds max")
	}
	if c.Ingestor.Alerts.Enabled && c.Ingestor.Alerts.Humidity.Min > c.Ingestor.Alerts.Humidity.Max {
		errs = append(errs, "ingestor.alerts.humidity min exceeds max")
	}

	// Sinks
	if c.Archive.Enabled {
		switch c.Archive.Driver {
		case "sqlite3":
			if c.Archive.Path == "" {
				errs = append(errs, "archive.path is required for sqlite3")
			}
		case "postgres", "mysql":
			if c.Archive.DSN == "" {
				errs = append(errs, fmt.Sprintf("archive.dsn is required for %s", c.Archive.Driver))
			}
		default:
			errs = append(errs, fmt.Sprintf("archive.driver %q must be sqlite3, postgres, or mysql", c.Archive.Driver))
		}
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when enabled")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		errs = append(errs, "kafka.brokers and kafka.topic are required when enabled")
	}

	// ML
	if c.ML.URL != "" {
		if u, err := url.Parse(c.ML.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("ml.url %q must be an absolute http(s) URL", c.ML.URL))
		}
		if c.ML.Timeout <= 0 {
			errs = append(errs, "ml.timeout must be positive")
		}
	}

	// API
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if !c.Simulator.Enabled && !c.Ingestor.Enabled {
		errs = append(errs, "at least one of simulator.enabled or ingestor.enabled must be set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// Location returns the configured telemetry time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Telemetry.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// MinBackoff returns reconnect.min_backoff as a Duration.
func (c *Config) MinBackoff() time.Duration {
	return seconds(c.Reconnect.MinBackoff)
}

// MaxBackoff returns reconnect.max_backoff as a Duration.
func (c *Config) MaxBackoff() time.Duration {
	return seconds(c.Reconnect.MaxBackoff)
}

// StabilityThreshold returns reconnect.stability_threshold as a Duration.
func (c *Config) StabilityThreshold() time.Duration {
	return seconds(c.Reconnect.StabilityThreshold)
}

// PublishInterval returns simulator.publish_interval_seconds as a Duration.
func (c *Config) PublishInterval() time.Duration {
	return seconds(c.Simulator.PublishIntervalSeconds)
}

// PublishTimeout returns simulator.publish_timeout as a Duration.
func (c *Config) PublishTimeout() time.Duration {
	return seconds(c.Simulator.PublishTimeout)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
