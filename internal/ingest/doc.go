// Package ingest subscribes to the AirSense telemetry topic and hands each
// valid reading to a consumer.
//
// Every inbound payload is decoded and checked against the configured
// bounds. Malformed or out-of-range payloads are counted as rejected and
// dropped; they never reach the consumer and never stop the subscriber.
// Valid readings are passed to the consumer synchronously, so consumers
// must be fast. The sink package provides buffered and asynchronous
// consumers for slower destinations.
//
// The subscription is made on every (re)connect before the connection is
// reported live, and each handler is bound to the session it was
// registered on. Messages from a superseded session are discarded.
package ingest
