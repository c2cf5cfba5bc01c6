package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"motorlink/internal/api"
	"motorlink/internal/config"
	"motorlink/internal/heartbeat"
	"motorlink/internal/logger"
	"motorlink/internal/metrics"
	"motorlink/internal/registry"
	"motorlink/internal/telemetry"
)

// Server owns the listener and every long-lived component of the broker
type Server struct {
	config     *config.Config
	registry   *registry.Registry
	telemetry  *telemetry.Store
	metrics    *metrics.Metrics
	supervisor *heartbeat.Supervisor
	router     *Router
	api        *api.APIServer
	httpServer *http.Server
	logger     zerolog.Logger
	mutex      sync.Mutex
	stopped    bool
}

// NewServer wires the broker components around reg
func NewServer(cfg *config.Config, reg *registry.Registry) (*Server, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if reg == nil {
		reg = registry.Default()
	}

	store, err := telemetry.NewStore(cfg.Telemetry.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create telemetry store: %w", err)
	}

	m := metrics.New(reg)

	s := &Server{
		config:     cfg,
		registry:   reg,
		telemetry:  store,
		metrics:    m,
		supervisor: heartbeat.NewSupervisor(reg, cfg.GetHeartbeatInterval(), m),
		router: NewRouter(Options{
			Registry:      reg,
			Telemetry:     store,
			Metrics:       m,
			DevicePath:    cfg.Server.DevicePath,
			DashboardPath: cfg.Server.DashboardPath,
			MaxPayload:    cfg.Server.MaxPayloadBytes,
			SendBuffer:    cfg.Server.SendBuffer,
			WriteWait:     cfg.GetWriteTimeout(),
		}),
		api:    api.NewAPIServer(reg, store),
		logger: logger.With("server"),
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s, nil
}

// Handler returns the HTTP handler serving WebSocket upgrades, the REST API
// and the metrics endpoint on one listener
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	// Every upgrade is classified by the WebSocket router, whatever its path
	router.MatcherFunc(func(r *http.Request, _ *mux.RouteMatch) bool {
		return websocket.IsWebSocketUpgrade(r)
	}).Handler(s.router)

	s.api.Routes(router)

	if s.config.Metrics.Enabled {
		router.Handle(s.config.Metrics.Path, s.metrics.Handler()).Methods("GET")
	}

	return router
}

// Telemetry returns the latest-telemetry store
func (s *Server) Telemetry() *telemetry.Store {
	return s.telemetry
}

// Start begins the heartbeat loop and serves on the configured address.
// It blocks until the server stops.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Server.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Server.Address, err)
	}
	return s.Serve(listener)
}

// Serve is Start on an existing listener
func (s *Server) Serve(listener net.Listener) error {
	s.supervisor.Start()

	s.logger.Info().
		Str("address", listener.Addr().String()).
		Str("device_path", s.config.Server.DevicePath).
		Str("dashboard_path", s.config.Server.DashboardPath).
		Dur("heartbeat_interval", s.supervisor.Interval()).
		Msg("Broker listening")

	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Stop halts the heartbeat loop, stops accepting connections and terminates
// every registered peer. Stop is safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	s.mutex.Lock()
	if s.stopped {
		s.mutex.Unlock()
		return nil
	}
	s.stopped = true
	s.mutex.Unlock()

	s.logger.Info().Msg("Stopping broker")

	s.supervisor.Stop()

	// Upgraded connections are hijacked, Shutdown does not wait for them
	err := s.httpServer.Shutdown(ctx)
	s.registry.Close()

	if err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}

	s.logger.Info().Msg("Broker stopped")
	return nil
}
