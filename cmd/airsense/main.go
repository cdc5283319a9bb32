// AirSense - environmental telemetry over MQTT.
//
// One process can run the simulated sensor (publisher), the ingestor
// (subscriber) or both. Ingested readings fan out to an in-memory buffer,
// threshold alerts, the WebSocket stream and the optional archive, InfluxDB
// and Kafka sinks. The HTTP API exposes health, stats, history and metrics.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/airsense/migrations"

	"github.com/nerrad567/airsense/internal/api"
	"github.com/nerrad567/airsense/internal/archive"
	"github.com/nerrad567/airsense/internal/connection"
	"github.com/nerrad567/airsense/internal/infrastructure/config"
	"github.com/nerrad567/airsense/internal/infrastructure/database"
	"github.com/nerrad567/airsense/internal/infrastructure/influxdb"
	"github.com/nerrad567/airsense/internal/infrastructure/logging"
	"github.com/nerrad567/airsense/internal/infrastructure/mqtt"
	"github.com/nerrad567/airsense/internal/ingest"
	"github.com/nerrad567/airsense/internal/metrics"
	"github.com/nerrad567/airsense/internal/publisher"
	"github.com/nerrad567/airsense/internal/sink"
	"github.com/nerrad567/airsense/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// archiveDrainTimeout bounds how long shutdown waits for queued
	// archive inserts.
	archiveDrainTimeout = 10 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on a clean shutdown and an error when startup fails or a
// component stops on its own (for example after exhausting its retries).
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting AirSense",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	loc := cfg.Location()
	backoff := connection.Backoff{
		Min:                cfg.MinBackoff(),
		Max:                cfg.MaxBackoff(),
		StabilityThreshold: cfg.StabilityThreshold(),
		MaxRetries:         cfg.Reconnect.MaxRetries,
	}

	m := metrics.New()
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)
	m.WatchGauge("websocket_clients", "Connected WebSocket clients.", func() float64 {
		return float64(hub.ClientCount())
	})

	extra := make(map[string]func() any)
	var (
		db           *database.DB
		store        *archive.Store
		influxClient *influxdb.Client
		ring         *sink.Ring
		alerts       *sink.Alerts
		sub          *ingest.Subscriber
		subDone      <-chan struct{}
		pub          *publisher.Publisher
		pubDone      <-chan struct{}
	)

	// The ingest side owns every sink. Deferred closes run in reverse, so
	// the subscriber stops before the sinks it feeds are drained.
	if cfg.Ingestor.Enabled {
		ring = sink.NewRing(cfg.Ingestor.BufferSize)
		sinks := []sink.Sink{ring, sink.NewBroadcast(hub)}

		if cfg.Ingestor.Alerts.Enabled {
			alerts = sink.NewAlerts(sink.Thresholds{
				Temperature: cfg.Ingestor.Alerts.Temperature,
				Humidity:    cfg.Ingestor.Alerts.Humidity,
				CO2Max:      cfg.Ingestor.Alerts.CO2Max,
			}, cfg.Ingestor.Alerts.History)
			toHub := sink.BroadcastAlerts(hub)
			alerts.OnTransition(func(ev sink.AlertEvent) {
				log.Warn("alert "+ev.Kind, "reasons", ev.Reasons, "timestamp", ev.Reading.Timestamp)
				toHub(ev)
			})
			sinks = append(sinks, alerts)
		}

		if cfg.Archive.Enabled {
			db, err = database.Open(ctx, database.Config{
				Driver:      cfg.Archive.Driver,
				DSN:         cfg.Archive.DSN,
				Path:        cfg.Archive.Path,
				WALMode:     cfg.Archive.WALMode,
				BusyTimeout: cfg.Archive.BusyTimeout,
			})
			if err != nil {
				return fmt.Errorf("opening archive database: %w", err)
			}
			defer func() {
				log.Info("closing archive database")
				if closeErr := db.Close(); closeErr != nil {
					log.Error("error closing archive database", "error", closeErr)
				}
			}()

			if migrateErr := db.Migrate(ctx); migrateErr != nil {
				return fmt.Errorf("running migrations: %w", migrateErr)
			}
			log.Info("archive ready", "driver", db.Driver())

			store = archive.NewStore(db, loc)
			arch := sink.NewArchive(store, cfg.Simulator.DeviceID, cfg.Archive.QueueSize, log)
			defer func() {
				drainCtx, cancel := context.WithTimeout(context.Background(), archiveDrainTimeout)
				defer cancel()
				log.Info("draining archive queue")
				if closeErr := arch.Close(drainCtx); closeErr != nil {
					log.Error("error draining archive queue", "error", closeErr)
				}
			}()
			extra["archive"] = func() any { return arch.Stats() }
			m.WatchGauge("archive_queue_depth", "Readings waiting to be archived.", func() float64 {
				return float64(arch.Stats().Queued)
			})
			sinks = append(sinks, arch)
		} else {
			log.Info("archive disabled")
		}

		if cfg.InfluxDB.Enabled {
			influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
			if err != nil {
				return fmt.Errorf("connecting to InfluxDB: %w", err)
			}
			defer func() {
				log.Info("closing InfluxDB connection")
				if closeErr := influxClient.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			log.Info("InfluxDB connected",
				"url", cfg.InfluxDB.URL,
				"org", cfg.InfluxDB.Org,
				"bucket", cfg.InfluxDB.Bucket,
			)
			influxClient.SetOnError(func(err error) {
				log.Error("InfluxDB write error", "error", err)
			})
			sinks = append(sinks, sink.NewInflux(influxClient, cfg.Simulator.DeviceID))
		} else {
			log.Info("InfluxDB disabled")
		}

		if cfg.Kafka.Enabled {
			k := sink.NewKafka(cfg.Kafka, telemetry.Codec{Location: loc, DeviceID: cfg.Simulator.DeviceID}, log)
			defer func() {
				log.Info("closing Kafka writer")
				if closeErr := k.Close(); closeErr != nil {
					log.Error("error closing Kafka writer", "error", closeErr)
				}
			}()
			extra["kafka"] = func() any { return k.Stats() }
			log.Info("Kafka forwarding enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
			sinks = append(sinks, k)
		}

		if err := healthCheck(ctx, db, influxClient); err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}

		fan := sink.NewFanout(log, sinks...)
		dialer := mqtt.NewDialer(cfg.Broker, "ingest")
		dialer.SetLogger(log)

		sub, err = ingest.Start(ctx, ingest.Config{
			Topic:    cfg.Telemetry.Topic,
			QoS:      byte(cfg.Telemetry.QoS),
			Location: loc,
			Bounds:   cfg.Telemetry.Bounds,
			Backoff:  backoff,
		}, fan.Consume, ingest.Deps{
			Dialer:   dialer,
			Logger:   log,
			Observer: m,
		})
		if err != nil {
			return fmt.Errorf("starting subscriber: %w", err)
		}
		defer func() {
			log.Info("stopping subscriber")
			if stopErr := sub.Stop(); stopErr != nil {
				log.Error("error stopping subscriber", "error", stopErr)
			}
		}()
		subDone = sub.Done()
		m.WatchIngest(sub)
		log.Info("subscriber started",
			"topic", cfg.Telemetry.Topic,
			"client_id", dialer.ClientID(),
			"sinks", fan.Len(),
		)
	} else {
		log.Info("ingestor disabled")
	}

	if cfg.Simulator.Enabled {
		dialer := mqtt.NewDialer(cfg.Broker, "publisher")
		dialer.SetLogger(log)

		pub, err = publisher.Start(ctx, publisher.Config{
			Topic:          cfg.Telemetry.Topic,
			QoS:            byte(cfg.Telemetry.QoS),
			Interval:       cfg.PublishInterval(),
			PublishTimeout: cfg.PublishTimeout(),
			DeviceID:       cfg.Simulator.DeviceID,
			Location:       loc,
			Bounds:         cfg.Telemetry.Bounds,
			Backoff:        backoff,
			Seed:           cfg.Simulator.Seed,
		}, publisher.Deps{
			Dialer:   dialer,
			Logger:   log,
			Observer: m,
		})
		if err != nil {
			return fmt.Errorf("starting publisher: %w", err)
		}
		defer func() {
			log.Info("stopping publisher")
			if stopErr := pub.Stop(); stopErr != nil {
				log.Error("error stopping publisher", "error", stopErr)
			}
		}()
		pubDone = pub.Done()
		m.WatchPublisher(pub)
		log.Info("publisher started",
			"topic", cfg.Telemetry.Topic,
			"interval", cfg.PublishInterval(),
			"client_id", dialer.ClientID(),
		)
	} else {
		log.Info("simulator disabled")
	}

	if cfg.API.Enabled {
		deps := api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   log,
			Location: loc,
			Metrics:  m,
			ML:       cfg.ML,
			Extra:    extra,
			Hub:      hub,
			Version:  version,
		}
		// Typed nils must not leak into the interfaces.
		if pub != nil {
			deps.Publisher = pub
		}
		if sub != nil {
			deps.Ingest = sub
		}
		if ring != nil {
			deps.Readings = ring
		}
		if alerts != nil {
			deps.Alerts = alerts
		}
		if store != nil {
			deps.History = store
		}

		srv, err := api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
		log.Info("API server listening", "addr", srv.Addr().String())
	} else {
		log.Info("API server disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	// A nil channel never fires, so disabled components are ignored here.
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case <-pubDone:
		return stopped("publisher", pub.Err())
	case <-subDone:
		return stopped("subscriber", sub.Err())
	}

	log.Info("AirSense stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses AIRSENSE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("AIRSENSE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the optional storage backends. Either may be nil.
// Broker connectivity is not checked: the connection managers retry on
// their own and report through /api/v1/health.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("archive: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// stopped turns a component's terminal error into run's return value.
func stopped(component string, err error) error {
	if err == nil {
		return fmt.Errorf("%s stopped unexpectedly", component)
	}
	return fmt.Errorf("%s stopped: %w", component, err)
}
