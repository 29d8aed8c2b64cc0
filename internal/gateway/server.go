// Package gateway provides the HTTP gateway server.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sleuth/internal/config"
	"sleuth/internal/gateway/handlers"
	"sleuth/internal/gateway/middleware"
	"sleuth/internal/gateway/websocket"
	"sleuth/pkg/logger"
)

// Engine is the conversation engine behind the chat and session routes.
type Engine interface {
	handlers.Runner
	handlers.SessionStore
	handlers.SessionCounter
}

// Deps are the collaborators the gateway serves.
type Deps struct {
	Engine Engine
	Tools  handlers.ToolLister
	// Jobs is optional; without it /api/jobs is not routed.
	Jobs handlers.JobScheduler
	// Checks feed the services section of /health.
	Checks  map[string]handlers.Check
	Version string
}

// Server represents the HTTP gateway server.
type Server struct {
	httpServer  *http.Server
	router      *mux.Router
	hub         *websocket.Hub
	config      *config.Config
	rateLimiter *middleware.RateLimiter
}

// NewServer creates a new gateway server with all routes registered.
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Engine == nil || deps.Tools == nil {
		return nil, errors.New("gateway: engine and tools are required")
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	router := mux.NewRouter()

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RequestsPerMinute: cfg.Gateway.RateLimit.RequestsPerMinute,
		Burst:             cfg.Gateway.RateLimit.Burst,
		Enabled:           cfg.Gateway.RateLimit.Enabled,
		CleanupInterval:   cfg.Gateway.RateLimit.CleanupInterval,
	})

	// Recovery -> Logging -> CORS -> RateLimit -> Version
	handler := middleware.Recovery(
		middleware.Logging(
			middleware.CORS(cfg.Gateway.CORSOrigins...)(
				rateLimiter.RateLimit(
					middleware.Version(version)(router),
				),
			),
		),
	)

	s := &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       60 * time.Second,
			// Chat turns can run for minutes; the workflow bounds them.
			WriteTimeout: 0,
			IdleTimeout:  120 * time.Second,
		},
		router:      router,
		hub:         websocket.NewHub(deps.Engine),
		config:      cfg,
		rateLimiter: rateLimiter,
	}
	s.setupRoutes(deps, version)
	return s, nil
}

func (s *Server) setupRoutes(deps Deps, version string) {
	r := s.router

	r.HandleFunc("/health", handlers.HealthHandler(version, deps.Checks)).Methods(http.MethodGet)
	r.HandleFunc("/api/status", handlers.StatusHandler(version, deps.Engine)).Methods(http.MethodGet)
	r.Handle("/api/chat", handlers.NewChatHandler(deps.Engine)).Methods(http.MethodPost)
	r.HandleFunc("/api/capabilities", handlers.CapabilitiesHandler(deps.Tools)).Methods(http.MethodGet)
	handlers.NewSessionHandler(deps.Engine).RegisterRoutes(r)
	if deps.Jobs != nil {
		handlers.NewJobHandler(deps.Jobs).RegisterRoutes(r)
	}
	if s.config.Metrics.Enabled {
		path := s.config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/ws", websocket.Upgrader(s.hub, s.config.Gateway.CORSOrigins))
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Router returns the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *websocket.Hub {
	return s.hub
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	handlers.InitStartTime()
	go s.hub.Run()

	logger.Info().
		Str("addr", ln.Addr().String()).
		Msg("Starting gateway server")

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, then closes WebSocket clients and waits
// for their turns.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info().Msg("Shutting down gateway server")

	s.rateLimiter.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	s.hub.Stop()
	if err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
