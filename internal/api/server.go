package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/airsense/internal/archive"
	"github.com/nerrad567/airsense/internal/connection"
	"github.com/nerrad567/airsense/internal/infrastructure/config"
	"github.com/nerrad567/airsense/internal/infrastructure/logging"
	"github.com/nerrad567/airsense/internal/ingest"
	"github.com/nerrad567/airsense/internal/metrics"
	"github.com/nerrad567/airsense/internal/publisher"
	"github.com/nerrad567/airsense/internal/sink"
	"github.com/nerrad567/airsense/internal/telemetry"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// PublisherView is satisfied by *publisher.Publisher.
type PublisherView interface {
	Stats() publisher.Stats
	State() connection.State
}

// IngestView is satisfied by *ingest.Subscriber.
type IngestView interface {
	Stats() ingest.Stats
	State() connection.State
}

// ReadingBuffer is satisfied by *sink.Ring.
type ReadingBuffer interface {
	Latest() (telemetry.Reading, bool)
	Recent(n int) []telemetry.Reading
	Cap() int
}

// AlertView is satisfied by *sink.Alerts.
type AlertView interface {
	Status() sink.AlertStatus
	Events() []sink.AlertEvent
	Thresholds() sink.Thresholds
}

// History is satisfied by *archive.Store.
type History interface {
	Between(ctx context.Context, from, to time.Time, limit int) ([]archive.Record, error)
}

var (
	_ PublisherView = (*publisher.Publisher)(nil)
	_ IngestView    = (*ingest.Subscriber)(nil)
	_ ReadingBuffer = (*sink.Ring)(nil)
	_ AlertView     = (*sink.Alerts)(nil)
	_ History       = (*archive.Store)(nil)
)

// Deps holds the server's collaborators. Only Logger is required.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Logger    *logging.Logger
	Publisher PublisherView
	Ingest    IngestView
	Readings  ReadingBuffer
	Alerts    AlertView
	History   History
	Location  *time.Location
	Metrics   *metrics.Metrics

	// ML enables GET /predict when its URL is set.
	ML config.MLConfig

	// Extra adds named sections to /api/v1/stats, such as sink counters.
	Extra map[string]func() any

	// Hub, when set, is used instead of a server-owned hub so sinks can
	// broadcast before the server starts.
	Hub     *Hub
	Version string
}

// Server is the HTTP API server.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	publisher PublisherView
	ingest    IngestView
	readings  ReadingBuffer
	alerts    AlertView
	history   History
	loc       *time.Location
	metrics   *metrics.Metrics
	predictor *predictor
	extra     map[string]func() any
	version   string
	startTime time.Time

	hub         *Hub
	externalHub bool

	mu     sync.Mutex
	server *http.Server
	addr   net.Addr
	cancel context.CancelFunc
}

// New creates a server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}

	pred, err := newPredictor(deps.ML)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		publisher: deps.Publisher,
		ingest:    deps.Ingest,
		readings:  deps.Readings,
		alerts:    deps.Alerts,
		history:   deps.History,
		loc:       loc,
		metrics:   deps.Metrics,
		predictor: pred,
		extra:     deps.Extra,
		version:   deps.Version,
		startTime: time.Now(),
	}
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(deps.WS, deps.Logger)
	}
	return s, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener and serves in the background. A bind failure
// is returned directly.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}
	s.addr = ln.Addr()

	s.logger.Info("API server listening", "address", s.addr.String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Close shuts the server down, waiting for in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	cancel := s.cancel
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer done()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
