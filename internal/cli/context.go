package cli

import (
	"context"
	"errors"
	"sync"

	"sleuth/internal/config"
	"sleuth/internal/server"
	"sleuth/internal/storage"
	"sleuth/pkg/logger"

	"github.com/rs/zerolog"
)

var errNoContext = errors.New("CLI context not initialized")

// CLIContext CLI 上下文
type CLIContext struct {
	Config     *config.Config
	ConfigPath string
	Logger     *zerolog.Logger
	Verbose    bool
	Quiet      bool

	mu         sync.Mutex
	store      storage.Checkpointer
	components *server.Components
}

// NewCLIContext 创建 CLI 上下文
func NewCLIContext(cfg *config.Config, configPath string, log *zerolog.Logger, verbose, quiet bool) *CLIContext {
	return &CLIContext{
		Config:     cfg,
		ConfigPath: configPath,
		Logger:     log,
		Verbose:    verbose,
		Quiet:      quiet,
	}
}

// Store 获取检查点存储（懒加载）
func (c *CLIContext) Store() (storage.Checkpointer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store != nil {
		return c.store, nil
	}
	if c.components != nil {
		return c.components.Store, nil
	}
	store, err := server.OpenStore(c.Config.Storage)
	if err != nil {
		return nil, err
	}
	c.store = store
	return store, nil
}

// Components builds the engine and its collaborators once per command.
func (c *CLIContext) Components(ctx context.Context, opts server.Options) (*server.Components, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.components != nil {
		return c.components, nil
	}
	if opts.Version == "" {
		opts.Version = CurrentBuild().Version
	}
	comps, err := server.Build(ctx, c.Config, opts)
	if err != nil {
		return nil, err
	}
	c.components = comps
	return comps, nil
}

// Close 关闭资源
func (c *CLIContext) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	var errs []error
	if c.components != nil {
		errs = append(errs, c.components.Close(ctx))
		c.components = nil
	}
	if c.store != nil {
		errs = append(errs, c.store.Close())
		c.store = nil
	}
	return errors.Join(errs...)
}

// Log 获取 Logger
func (c *CLIContext) Log() *zerolog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logger.Get()
}
