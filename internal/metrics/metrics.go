// Package metrics exports pipeline counters in Prometheus format.
//
// Publisher and subscriber counters are read from their Stats snapshots at
// scrape time, so nothing on the hot path touches Prometheus. Connection
// lifecycle events arrive through the connection.Observer interface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/airsense/internal/connection"
	"github.com/nerrad567/airsense/internal/ingest"
	"github.com/nerrad567/airsense/internal/publisher"
)

const namespace = "airsense"

var allStates = []connection.State{
	connection.StateDisconnected,
	connection.StateConnecting,
	connection.StateConnected,
	connection.StateBackoff,
}

// PublisherSource is satisfied by *publisher.Publisher.
type PublisherSource interface {
	Stats() publisher.Stats
}

// IngestSource is satisfied by *ingest.Subscriber.
type IngestSource interface {
	Stats() ingest.Stats
}

// Metrics owns a private registry. It implements connection.Observer.
type Metrics struct {
	reg *prometheus.Registry

	connFailures *prometheus.CounterVec
	connState    *prometheus.GaugeVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates the registry with Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		connFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_failures_total",
			Help:      "Failed connection attempts and dropped sessions by component.",
		}, []string{"component"}),
		connState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current connection state of each component, 0 otherwise.",
		}, []string{"component", "state"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connFailures,
		m.connState,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// StateChanged implements connection.Observer.
func (m *Metrics) StateChanged(component string, state connection.State) {
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.connState.WithLabelValues(component, string(s)).Set(v)
	}
}

// ConnectionFailed implements connection.Observer.
func (m *Metrics) ConnectionFailed(component string, _ error) {
	m.connFailures.WithLabelValues(component).Inc()
}

// WatchPublisher exports airsense_publish_total{result}.
func (m *Metrics) WatchPublisher(src PublisherSource) {
	results := map[string]func(publisher.Stats) uint64{
		"published": func(s publisher.Stats) uint64 { return s.Published },
		"failed":    func(s publisher.Stats) uint64 { return s.Failed },
		"skipped":   func(s publisher.Stats) uint64 { return s.Skipped },
	}
	for result, pick := range results {
		m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "publish_total",
			Help:        "Publisher ticks by outcome.",
			ConstLabels: prometheus.Labels{"result": result},
		}, func() float64 { return float64(pick(src.Stats())) }))
	}
}

// WatchIngest exports airsense_ingest_messages_total{result}.
func (m *Metrics) WatchIngest(src IngestSource) {
	results := map[string]func(ingest.Stats) uint64{
		"received":       func(s ingest.Stats) uint64 { return s.Received },
		"delivered":      func(s ingest.Stats) uint64 { return s.Delivered },
		"rejected":       func(s ingest.Stats) uint64 { return s.Rejected },
		"consumer_panic": func(s ingest.Stats) uint64 { return s.ConsumerPanics },
	}
	for result, pick := range results {
		m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "ingest_messages_total",
			Help:        "Subscriber messages by outcome.",
			ConstLabels: prometheus.Labels{"result": result},
		}, func() float64 { return float64(pick(src.Stats())) }))
	}
}

// WatchGauge exports an arbitrary gauge read at scrape time, such as the
// archive queue depth or the number of WebSocket clients.
func (m *Metrics) WatchGauge(name, help string, read func() float64) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, read))
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(route string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
