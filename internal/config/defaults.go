package config

import (
	"time"

	"github.com/spf13/viper"
)

// SetDefaults 设置所有配置项的默认值
func SetDefaults() {
	// Gateway 配置
	viper.SetDefault("gateway.port", 8080)
	viper.SetDefault("gateway.host", "127.0.0.1")
	viper.SetDefault("gateway.cors_origins", []string{"*"})
	viper.SetDefault("gateway.rate_limit.enabled", true)
	viper.SetDefault("gateway.rate_limit.requests_per_minute", 120)
	viper.SetDefault("gateway.rate_limit.burst", 20)
	viper.SetDefault("gateway.rate_limit.cleanup_interval", 10*time.Minute)

	// Tool service 配置
	viper.SetDefault("tool_service.base_url", "http://localhost:3001")
	viper.SetDefault("tool_service.transport", "rest")
	viper.SetDefault("tool_service.timeout", 60*time.Second)
	viper.SetDefault("tool_service.catalog_ttl", 5*time.Minute)
	viper.SetDefault("tool_service.min_version", "")

	// Oracle 配置
	viper.SetDefault("oracle.backend", "heuristic")

	viper.SetDefault("ollama.endpoint", "http://localhost:11434")
	viper.SetDefault("ollama.model", "llama3.2")
	viper.SetDefault("ollama.timeout", "5m")
	viper.SetDefault("ollama.keep_alive", "5m")

	viper.SetDefault("openai.endpoint", "https://api.openai.com/v1")
	viper.SetDefault("openai.model", "gpt-4o-mini")
	viper.SetDefault("openai.max_tokens", 2048)
	viper.SetDefault("openai.timeout", "2m")

	// Invoker 配置
	viper.SetDefault("invoker.max_attempts", 2)
	viper.SetDefault("invoker.call_timeout", 60*time.Second)
	viper.SetDefault("invoker.concurrency", 1)
	viper.SetDefault("invoker.backoff.initial_delay", time.Duration(0))
	viper.SetDefault("invoker.backoff.max_delay", 5*time.Second)
	viper.SetDefault("invoker.backoff.multiplier", 2.0)

	// Workflow 配置
	viper.SetDefault("workflow.max_query_length", 1000)
	viper.SetDefault("workflow.turn_timeout", 5*time.Minute)
	viper.SetDefault("workflow.history_limit", 10)

	// Log 配置
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.file", "")

	// Storage 配置
	viper.SetDefault("storage.driver", "sqlite")
	viper.SetDefault("storage.path", "~/.sleuth/data.db")
	viper.SetDefault("storage.retention", 7*24*time.Hour)

	// Cron 配置
	viper.SetDefault("cron.enabled", true)
	viper.SetDefault("cron.catalog_refresh", "@every 5m")
	viper.SetDefault("cron.prune", "@hourly")
	viper.SetDefault("cron.health_probe", "@every 1m")

	// Metrics 配置
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
}
