package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"sleuth/internal/config"
	"sleuth/internal/cron"
	"sleuth/internal/gateway"
	"sleuth/internal/gateway/handlers"
	"sleuth/internal/provider"
	"sleuth/pkg/logger"
)

// Server runs the gateway, housekeeping jobs and config hot reload around
// one set of Components.
type Server struct {
	cfg     *config.Config
	version string
	logger  zerolog.Logger

	comps   *Components
	gateway *gateway.Server
	cron    *cron.Scheduler

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
	addr      string
	errChan   chan error
}

// ServerConfig holds configuration for the server.
type ServerConfig struct {
	Config  *config.Config
	Version string
	Logger  zerolog.Logger
	// Watch hot-reloads the log level when the config file changes.
	Watch bool
}

// NewServer creates a server; nothing is started until Start.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Config == nil {
		return nil, errors.New("server: config is required")
	}
	s := &Server{
		cfg:     cfg.Config,
		version: cfg.Version,
		logger:  cfg.Logger,
		errChan: make(chan error, 1),
	}
	if cfg.Watch {
		config.Watch(s.onConfigChange)
	}
	return s, nil
}

// ErrorChan returns the error channel for monitoring server errors.
func (s *Server) ErrorChan() <-chan error {
	return s.errChan
}

// Addr returns the address the gateway listens on once started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Start builds the components, starts the housekeeping jobs and begins
// serving. It returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	comps, err := Build(ctx, s.cfg, Options{Version: s.version})
	if err != nil {
		return fmt.Errorf("build components: %w", err)
	}

	var jobs handlers.JobScheduler
	if s.cfg.Cron.Enabled {
		sched, err := s.startCron(comps)
		if err != nil {
			_ = comps.Close(ctx)
			return err
		}
		s.cron = sched
		jobs = sched
	}

	gw, err := gateway.NewServer(s.cfg, gateway.Deps{
		Engine:  comps.Engine,
		Tools:   comps.Catalog,
		Jobs:    jobs,
		Checks:  healthChecks(comps),
		Version: s.version,
	})
	if err != nil {
		s.stopCron()
		_ = comps.Close(ctx)
		return err
	}

	ln, err := net.Listen("tcp", gw.Addr())
	if err != nil {
		s.stopCron()
		_ = comps.Close(ctx)
		return fmt.Errorf("listen %s: %w", gw.Addr(), err)
	}

	s.comps = comps
	s.gateway = gw
	s.addr = ln.Addr().String()
	s.running = true
	s.startedAt = time.Now()

	go func() {
		if err := gw.Serve(ln); err != nil {
			select {
			case s.errChan <- err:
			default:
			}
		}
	}()

	s.logger.Info().Str("addr", s.addr).Msg("sleuth server started")
	return nil
}

// Stop shuts the gateway down, stops jobs and releases the components.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}

	var errs []error
	if err := s.gateway.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	s.stopCron()
	if err := s.comps.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	s.running = false

	s.logger.Info().Msg("sleuth server stopped")
	return errors.Join(errs...)
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// StartedAt returns when Start last succeeded.
func (s *Server) StartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

func (s *Server) startCron(comps *Components) (*cron.Scheduler, error) {
	sched := cron.NewScheduler()
	jobs := []cron.Job{
		cron.CatalogRefreshJob(s.cfg.Cron.CatalogRefresh, comps.Catalog),
		cron.PruneJob(s.cfg.Cron.Prune, comps.Store, s.cfg.Storage.Retention, time.Now),
		cron.HealthProbeJob(s.cfg.Cron.HealthProbe, comps.Catalog),
	}
	for _, job := range jobs {
		if job.Schedule == "" || (job.Name == cron.JobPrune && s.cfg.Storage.Retention <= 0) {
			continue
		}
		if err := sched.Add(job); err != nil {
			return nil, fmt.Errorf("register job %s: %w", job.Name, err)
		}
	}
	sched.Start()
	return sched, nil
}

func (s *Server) stopCron() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
}

// onConfigChange applies the settings that are safe to change live.
func (s *Server) onConfigChange(cfg *config.Config, e fsnotify.Event) {
	logger.SetLevel(cfg.Log.Level)
	s.logger.Info().
		Str("file", e.Name).
		Str("log_level", cfg.Log.Level).
		Msg("configuration reloaded")
}

func healthChecks(comps *Components) map[string]handlers.Check {
	checks := map[string]handlers.Check{
		"tool_service": func(ctx context.Context) error {
			_, err := comps.Catalog.Health(ctx)
			return err
		},
	}
	if comps.Provider == nil {
		checks["oracle"] = func(context.Context) error { return nil }
	} else {
		checks["oracle"] = func(ctx context.Context) error {
			status, err := provider.Probe(ctx, comps.Provider)
			if err == nil && status == provider.StatusUnavailable {
				return errors.New("provider unavailable")
			}
			return err
		}
	}
	return checks
}
