package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sleuth/internal/server"
)

const shutdownTimeout = 15 * time.Second

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Sleuth gateway server",
		Long: `Start the Sleuth gateway server.

This command starts the HTTP gateway that provides:
- the chat and session REST API
- WebSocket streaming of tool batches and answer tokens
- health, capability and job endpoints

The server listens on the configured host and port (default: 127.0.0.1:8080).`,
		Example: `  # Start server with default configuration
  sleuth serve

  # Start server with custom port
  sleuth serve --port 8080

  # Start server with verbose logging
  sleuth serve --verbose`,
		RunE: runServe,
	}

	cmd.Flags().IntP("port", "p", 0, "port to listen on (overrides config)")
	cmd.Flags().String("host", "", "host to bind to (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return errNoContext
	}

	cfg := cliCtx.Config
	log := cliCtx.Log()

	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Gateway.Port = port
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Gateway.Host = host
	}

	srv, err := server.NewServer(server.ServerConfig{
		Config:  cfg,
		Version: CurrentBuild().Version,
		Logger:  *log,
		Watch:   true,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := srv.Start(cmd.Context()); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	log.Info().
		Str("address", "http://"+srv.Addr()).
		Str("tool_service", cfg.ToolService.BaseURL).
		Str("oracle", cfg.Oracle.Backend).
		Msg("Server started successfully")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var serveErr error
	select {
	case <-sigCh:
		log.Info().Msg("Shutting down server...")
	case <-cmd.Context().Done():
		log.Info().Msg("Shutting down server...")
	case serveErr = <-srv.ErrorChan():
		log.Error().Err(serveErr).Msg("Server error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
		if serveErr == nil {
			serveErr = err
		}
	}
	return serveErr
}
