// Package server wires configuration into a running engine. The CLI's serve
// command and its one-shot commands share this wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sleuth/internal/config"
	"sleuth/internal/invoker"
	"sleuth/internal/mcp"
	"sleuth/internal/oracle"
	"sleuth/internal/provider"
	"sleuth/internal/provider/ollama"
	"sleuth/internal/provider/openai"
	"sleuth/internal/storage"
	"sleuth/internal/toolservice"
	"sleuth/internal/workflow"
	"sleuth/pkg/logger"
)

// Transports and backends accepted in configuration.
const (
	TransportREST = "rest"
	TransportMCP  = "mcp"

	BackendHeuristic = "heuristic"
	BackendOllama    = "ollama"
	BackendOpenAI    = "openai"

	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// ErrUnknownOption is returned for an unsupported transport, backend or driver.
var ErrUnknownOption = errors.New("unknown configuration option")

// Options adjust Build for callers that do not want the full setup.
type Options struct {
	// Ephemeral forces the in-memory checkpoint store.
	Ephemeral bool
	// SkipVersionCheck does not probe the tool service at build time.
	SkipVersionCheck bool
	// Version identifies this build to the tool service.
	Version string
}

// Components is everything a turn needs, built from one Config.
type Components struct {
	Config   *config.Config
	Tools    toolservice.Service
	Catalog  *toolservice.CachedCatalog
	Provider provider.Provider // nil for the heuristic backend
	Oracle   oracle.Oracle
	Store    storage.Checkpointer
	Engine   *workflow.Engine
}

// Build constructs the components described by cfg. Close releases them.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*Components, error) {
	log := logger.Component("server")

	svc, err := NewToolService(cfg.ToolService, opts.Version)
	if err != nil {
		return nil, err
	}
	catalog := toolservice.NewCachedCatalog(svc, cfg.ToolService.CatalogTTL)

	if !opts.SkipVersionCheck {
		h, err := toolservice.CheckCompatibility(ctx, catalog, cfg.ToolService.MinVersion)
		switch {
		case errors.Is(err, toolservice.ErrIncompatible):
			closeService(svc)
			return nil, err
		case err != nil:
			// An unreachable backend is survivable: turns fall back to the
			// built-in catalog and tool failures are reported in answers.
			log.Warn().Err(err).Str("base_url", cfg.ToolService.BaseURL).Msg("tool service not reachable")
		default:
			log.Info().Str("status", h.Status).Str("version", h.Version).Msg("tool service reachable")
		}
	}

	p, err := NewProvider(cfg)
	if err != nil {
		closeService(svc)
		return nil, err
	}
	o := NewOracle(p)

	var store storage.Checkpointer
	if opts.Ephemeral {
		store = storage.NewMemoryStore()
	} else if store, err = OpenStore(cfg.Storage); err != nil {
		closeService(svc)
		return nil, err
	}

	engine, err := workflow.New(workflow.Deps{
		Oracle:   o,
		Catalog:  catalog,
		Executor: invoker.New(catalog, invokerConfig(cfg.Invoker)),
		Store:    store,
	}, workflowConfig(cfg.Workflow))
	if err != nil {
		_ = store.Close()
		closeService(svc)
		return nil, err
	}

	return &Components{
		Config:   cfg,
		Tools:    svc,
		Catalog:  catalog,
		Provider: p,
		Oracle:   o,
		Store:    store,
		Engine:   engine,
	}, nil
}

// Close drains the engine, then closes the store and the tool transport.
func (c *Components) Close(ctx context.Context) error {
	var errs []error
	if err := c.Engine.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("engine: %w", err))
	}
	if err := c.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	closeService(c.Tools)
	return errors.Join(errs...)
}

// NewToolService builds the configured tool transport.
func NewToolService(cfg config.ToolServiceConfig, version string) (toolservice.Service, error) {
	if version == "" {
		version = "dev"
	}
	switch strings.ToLower(cfg.Transport) {
	case "", TransportREST:
		return toolservice.NewRESTClient(toolservice.RESTConfig{
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		}), nil
	case TransportMCP:
		return mcp.NewClient(mcp.Config{
			URL:           cfg.BaseURL,
			Timeout:       cfg.Timeout,
			ClientName:    "sleuth",
			ClientVersion: version,
		}), nil
	}
	return nil, fmt.Errorf("%w: tool_service.transport %q", ErrUnknownOption, cfg.Transport)
}

// NewProvider builds the LLM provider for the configured oracle backend, or
// nil for the heuristic backend.
func NewProvider(cfg *config.Config) (provider.Provider, error) {
	switch strings.ToLower(cfg.Oracle.Backend) {
	case "", BackendHeuristic:
		return nil, nil
	case BackendOllama:
		timeout, err := parseTimeout("ollama.timeout", cfg.Ollama.Timeout)
		if err != nil {
			return nil, err
		}
		return ollama.NewOllamaProvider(ollama.Config{
			Endpoint:  cfg.Ollama.Endpoint,
			Model:     cfg.Ollama.Model,
			Timeout:   timeout,
			KeepAlive: cfg.Ollama.KeepAlive,
		}), nil
	case BackendOpenAI:
		timeout, err := parseTimeout("openai.timeout", cfg.OpenAI.Timeout)
		if err != nil {
			return nil, err
		}
		return openai.New(openai.Config{
			APIKey:    cfg.OpenAI.APIKey,
			Endpoint:  cfg.OpenAI.Endpoint,
			Model:     cfg.OpenAI.Model,
			MaxTokens: cfg.OpenAI.MaxTokens,
			Timeout:   timeout,
		}), nil
	}
	return nil, fmt.Errorf("%w: oracle.backend %q", ErrUnknownOption, cfg.Oracle.Backend)
}

// NewOracle returns the heuristic oracle, or an LLM oracle over p that falls
// back to the heuristic on failure.
func NewOracle(p provider.Provider) oracle.Oracle {
	h := oracle.NewHeuristic()
	if p == nil {
		return h
	}
	return oracle.NewFallback(oracle.NewLLM(p), h)
}

// OpenStore opens the configured checkpoint store.
func OpenStore(cfg config.StorageConfig) (storage.Checkpointer, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverSQLite:
		path := cfg.Path
		if path == "" {
			p, err := config.DefaultDataPath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		db, err := storage.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open checkpoint store: %w", err)
		}
		return db, nil
	case DriverMemory:
		return storage.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("%w: storage.driver %q", ErrUnknownOption, cfg.Driver)
}

func invokerConfig(cfg config.InvokerConfig) invoker.Config {
	return invoker.Config{
		MaxAttempts: cfg.MaxAttempts,
		CallTimeout: cfg.CallTimeout,
		Concurrency: cfg.Concurrency,
		Backoff: invoker.Backoff{
			InitialDelay: cfg.Backoff.InitialDelay,
			MaxDelay:     cfg.Backoff.MaxDelay,
			Multiplier:   cfg.Backoff.Multiplier,
		},
	}
}

func workflowConfig(cfg config.WorkflowConfig) workflow.Config {
	return workflow.DefaultConfig().
		WithTurnTimeout(cfg.TurnTimeout).
		WithHistoryLimit(cfg.HistoryLimit).
		WithMaxQueryLength(cfg.MaxQueryLength)
}

func parseTimeout(key, v string) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func closeService(svc toolservice.Service) {
	if c, ok := svc.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}
