// Package sink provides ready-made consumers for ingested readings.
//
// Every sink implements Sink and returns quickly: work that touches the
// network or disk is queued or handed to an asynchronous writer so the
// ingest callback never waits on I/O. Sinks are combined with Fanout and
// passed to ingest.Start as a single consumer:
//
//	ring := sink.NewRing(1000)
//	alerts := sink.NewAlerts(sink.DefaultThresholds(), 100)
//	sub, err := ingest.Start(ctx, cfg, sink.NewFanout(logger, ring, alerts).Consume, deps)
package sink
