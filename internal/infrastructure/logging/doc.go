// Package logging provides structured logging for AirSense.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same shape and default fields.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output, or colourised console output via tint, for development
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text, console
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting simulator", "topic", cfg.Telemetry.Topic)
//	logger.Error("publish failed", "error", err)
//
// Broker passwords and API tokens must never be logged.
package logging
