package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"sleuth/internal/config"
	"sleuth/internal/storage"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// InitOptions init 命令选项
type InitOptions struct {
	Force      bool
	ConfigPath string
}

// NewInitCmd 创建 init 命令
func NewInitCmd() *cobra.Command {
	opts := &InitOptions{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize sleuth configuration",
		Long:  "Write a default configuration file and create the checkpoint database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cliCtx := GetCLIContext(cmd); cliCtx != nil {
				opts.ConfigPath = cliCtx.ConfigPath
			}
			return RunInit(cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "overwrite existing configuration")

	return cmd
}

// RunInit 执行初始化
func RunInit(out io.Writer, opts *InitOptions) error {
	configPath := opts.ConfigPath
	if configPath == "" {
		var err error
		if configPath, err = config.DefaultConfigPath(); err != nil {
			return fmt.Errorf("get config path: %w", err)
		}
	}
	configPath, err := config.ExpandPath(configPath)
	if err != nil {
		return err
	}
	configDir := filepath.Dir(configPath)

	if _, err := os.Stat(configPath); err == nil && !opts.Force {
		return fmt.Errorf("configuration already exists at %s (use --force to overwrite)", configPath)
	}

	for _, dir := range []string{configDir, filepath.Join(configDir, "logs")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	dataPath := filepath.Join(configDir, "data.db")

	// 生成默认配置
	defaultConfig := map[string]any{
		"gateway": map[string]any{
			"port":         8080,
			"host":         "127.0.0.1",
			"cors_origins": []string{"*"},
		},
		"tool_service": map[string]any{
			"base_url":  "http://localhost:3001",
			"transport": "rest", // rest 或 mcp
			"timeout":   "60s",
		},
		"oracle": map[string]any{
			"backend": "heuristic", // 可选 "ollama", "openai"
		},
		"ollama": map[string]any{
			"endpoint": "http://localhost:11434",
			"model":    "llama3.2",
		},
		"log": map[string]any{
			"level":  "info",
			"format": "console",
		},
		"storage": map[string]any{
			"driver": "sqlite",
			"path":   dataPath,
		},
		"cron": map[string]any{
			"enabled": true,
		},
	}

	data, err := yaml.Marshal(defaultConfig)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	// 初始化数据库
	db, err := storage.Open(dataPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	db.Close()

	fmt.Fprintf(out, "Initialized sleuth at %s\n", configDir)
	fmt.Fprintf(out, "  Config:   %s\n", configPath)
	fmt.Fprintf(out, "  Database: %s\n", dataPath)
	return nil
}
