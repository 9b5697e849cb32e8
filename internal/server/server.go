// Package server exposes the car over HTTP: the websocket telemetry channel
// and the request/response control surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/cs-isia-racer/car/internal/capture"
	"github.com/cs-isia-racer/car/internal/config"
	"github.com/cs-isia-racer/car/internal/device"
	"github.com/cs-isia-racer/car/internal/observability"
	"github.com/cs-isia-racer/car/internal/state"
	"github.com/cs-isia-racer/car/internal/stream"
	"github.com/cs-isia-racer/car/internal/types"
)

// SessionLister lists recorded capture sessions, newest first.
type SessionLister interface {
	List(ctx context.Context, limit int) ([]types.SessionRecord, error)
}

// StatsSource reports the streaming loop state.
type StatsSource interface {
	Stats() stream.Stats
}

// Deps are the long-lived components the server drives.
type Deps struct {
	Shared    *state.Shared
	Frames    *state.FrameBuffer
	Actuators device.Actuators
	Capture   *capture.Session
	Catalog   SessionLister
	Stream    StatsSource
	Health    *device.Health
	Registry  *Registry
}

type Server struct {
	cfg      *config.Config
	upgrader websocket.Upgrader
	registry *Registry
	shared   *state.Shared
	frames   *state.FrameBuffer
	controls *Controls
	capture  *capture.Session
	catalog  SessionLister
	stream   StatsSource
	health   *device.Health
	host     func(ctx context.Context) types.HostStats
	logger   *slog.Logger
}

func New(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	logger = observability.WithComponent(observability.OrDefault(logger), "server")
	registry := deps.Registry
	if registry == nil {
		registry = NewRegistry(logger)
	}
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		registry: registry,
		shared:   deps.Shared,
		frames:   deps.Frames,
		controls: NewControls(deps.Shared, deps.Actuators),
		capture:  deps.Capture,
		catalog:  deps.Catalog,
		stream:   deps.Stream,
		health:   deps.Health,
		host:     sampleHost,
		logger:   logger,
	}
}

func (s *Server) Registry() *Registry {
	return s.registry
}

// Handler returns the routed HTTP surface.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(recovery(s.logger))

	// The upgrade needs the raw ResponseWriter, so /ws sits outside request logging.
	r.Get("/ws", s.handleWS)

	r.Group(func(r chi.Router) {
		r.Use(requestLogging(s.logger))

		r.Get("/healthz", s.handleHealthz)
		r.Get("/health", s.handleHealth)
		r.Get("/config", s.handleConfig)

		r.Get("/capture", s.handleCapturing)
		r.Post("/capture", s.handleCapturing)
		r.Get("/capture/start", s.handleCaptureStart)
		r.Post("/capture/start", s.handleCaptureStart)
		r.Get("/capture/stop", s.handleCaptureStop)
		r.Post("/capture/stop", s.handleCaptureStop)
		r.Get("/capture/sessions", s.handleCaptureSessions)

		r.Get("/steer/set/{value}", s.handleSteerSet)
		r.Get("/steer/{delta}", s.handleSteer)
		r.Get("/throttle/{delta}", s.handleThrottle)

		r.Get("/stream/start", s.handleStreamStart)
	})
	return r
}

// Run serves until ctx is done, then shuts down and disconnects every client.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Server.Address(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", slog.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("starting server: %w", err)
			return
		}
		errc <- nil
	}()

	select {
	case err := <-errc:
		s.registry.Close()
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP server", slog.Duration("timeout", s.cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	err := httpServer.Shutdown(shutdownCtx)
	s.registry.Close()
	if err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return <-errc
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	newChannel(s, conn).start()
}

// snapshot builds a telemetry message from the current state. Steering,
// throttle and frame are read independently and may be from different instants.
func (s *Server) snapshot() types.Telemetry {
	return types.NewTelemetry(s.shared.Throttle.Get(), s.shared.Steering.Get(), s.frames.Read())
}

func (s *Server) streamStats() stream.Stats {
	if s.stream == nil {
		return stream.Stats{}
	}
	return s.stream.Stats()
}

func (s *Server) captureDir(r *http.Request) string {
	if out := r.URL.Query().Get("out"); out != "" {
		return out
	}
	return s.cfg.Capture.DefaultDir
}
