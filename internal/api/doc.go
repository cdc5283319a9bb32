// Package api serves the AirSense HTTP API and WebSocket stream.
//
// It exposes the latest readings held in memory, archived history, the
// anomaly status, pipeline counters and Prometheus metrics. Every
// dependency except the logger is optional; endpoints whose backing
// component is absent answer 503.
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// # WebSocket
//
// Clients connect to the configured path and send
//
//	{"type":"subscribe","id":"1","payload":{"channels":["reading","alert"]}}
//
// after which every ingested reading and every alert transition is pushed
// as an "event" message. The stream has no authentication.
package api
