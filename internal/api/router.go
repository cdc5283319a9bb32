package api

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/airsense/internal/archive"
	"github.com/nerrad567/airsense/internal/connection"
	"github.com/nerrad567/airsense/internal/sink"
)

const (
	defaultReadingsLimit = 50
	defaultHistoryWindow = 5 // minutes
	maxHistoryWindow     = 24 * 60
	historyAtLayout      = "2006-01-02T15:04"
)

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Get("/", s.handleRoot)
	r.Get("/predict", s.handlePredict)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)
		r.Get("/alerts", s.handleAlerts)

		r.Route("/readings", func(r chi.Router) {
			r.Get("/", s.handleRecentReadings)
			r.Get("/latest", s.handleLatestReading)
			r.Get("/history", s.handleHistory)
		})
	})

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = "/api/v1/ws"
	}
	r.Get(wsPath, s.handleWebSocket)

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("AirSense is running")) //nolint:errcheck // Best-effort write
}

// handleHealth reports 503 while the ingest side has no live session.
// A simulator-only process is healthy whatever its connection state.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	code := http.StatusOK
	components := map[string]connection.State{}

	if s.publisher != nil {
		components["publisher"] = s.publisher.State()
	}
	if s.ingest != nil {
		st := s.ingest.State()
		components["ingest"] = st
		if st != connection.StateConnected {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}

func (s *Server) handleLatestReading(w http.ResponseWriter, _ *http.Request) {
	if s.readings == nil {
		writeUnavailable(w, "reading buffer is not enabled")
		return
	}
	latest, ok := s.readings.Latest()
	if !ok {
		writeNotFound(w, "no readings received yet")
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

func (s *Server) handleRecentReadings(w http.ResponseWriter, r *http.Request) {
	if s.readings == nil {
		writeUnavailable(w, "reading buffer is not enabled")
		return
	}

	limit := defaultReadingsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	limit = min(limit, s.readings.Cap())

	readings := s.readings.Recent(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(readings),
		"readings": readings,
	})
}

// handleHistory returns archived readings within window minutes either
// side of at.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "archive is not enabled")
		return
	}

	q := r.URL.Query()
	at, err := s.parseAt(q.Get("at"))
	if err != nil {
		writeBadRequest(w, "at must be RFC3339 or YYYY-MM-DDTHH:MM")
		return
	}

	window := defaultHistoryWindow
	if raw := q.Get("window"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > maxHistoryWindow {
			writeBadRequest(w, "window must be between 0 and 1440 minutes")
			return
		}
		window = n
	}

	span := time.Duration(window) * time.Minute
	from, to := at.Add(-span), at.Add(span)

	records, err := s.history.Between(r.Context(), from, to, archive.DefaultLimit)
	if err != nil {
		s.logger.Error("history query failed", "error", err)
		writeInternalError(w, "history query failed")
		return
	}
	if records == nil {
		records = []archive.Record{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"from":     from.Format(time.RFC3339),
		"to":       to.Format(time.RFC3339),
		"count":    len(records),
		"readings": records,
	})
}

func (s *Server) parseAt(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.ParseInLocation(historyAtLayout, raw, s.loc)
}

func (s *Server) handleAlerts(w http.ResponseWriter, _ *http.Request) {
	if s.alerts == nil {
		writeUnavailable(w, "alerts are not enabled")
		return
	}
	events := s.alerts.Events()
	if events == nil {
		events = []sink.AlertEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     s.alerts.Status(),
		"thresholds": s.alerts.Thresholds(),
		"events":     events,
	})
}

// RuntimeStats contains Go runtime statistics.
type RuntimeStats struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := map[string]any{
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"websocket":      s.hub.Stats(),
		"runtime": RuntimeStats{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / 1024 / 1024,
			NumGC:         mem.NumGC,
		},
	}
	if s.publisher != nil {
		resp["publisher"] = s.publisher.Stats()
	}
	if s.ingest != nil {
		resp["ingest"] = s.ingest.Stats()
	}
	if s.readings != nil {
		latest, ok := s.readings.Latest()
		if ok {
			resp["latest_reading"] = latest
		}
	}
	for name, read := range s.extra {
		resp[name] = read()
	}

	writeJSON(w, http.StatusOK, resp)
}
