// Package config 加载和持久化 sleuth 配置（viper + yaml）。
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config 是应用配置的根结构体
type Config struct {
	Version     string            `mapstructure:"version" yaml:"version"`
	Gateway     GatewayConfig     `mapstructure:"gateway" yaml:"gateway"`
	ToolService ToolServiceConfig `mapstructure:"tool_service" yaml:"tool_service"`
	Oracle      OracleConfig      `mapstructure:"oracle" yaml:"oracle"`
	Ollama      OllamaConfig      `mapstructure:"ollama" yaml:"ollama"`
	OpenAI      OpenAIConfig      `mapstructure:"openai" yaml:"openai"`
	Invoker     InvokerConfig     `mapstructure:"invoker" yaml:"invoker"`
	Workflow    WorkflowConfig    `mapstructure:"workflow" yaml:"workflow"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	Storage     StorageConfig     `mapstructure:"storage" yaml:"storage"`
	Cron        CronConfig        `mapstructure:"cron" yaml:"cron"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
}

// GatewayConfig 网关配置
type GatewayConfig struct {
	Port        int             `mapstructure:"port" yaml:"port"`
	Host        string          `mapstructure:"host" yaml:"host"`
	CORSOrigins []string        `mapstructure:"cors_origins" yaml:"cors_origins"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// ToolServiceConfig 工具服务配置
type ToolServiceConfig struct {
	BaseURL    string        `mapstructure:"base_url" yaml:"base_url"`
	Transport  string        `mapstructure:"transport" yaml:"transport"` // rest, mcp
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	CatalogTTL time.Duration `mapstructure:"catalog_ttl" yaml:"catalog_ttl"`
	MinVersion string        `mapstructure:"min_version" yaml:"min_version"` // semver constraint, empty = skip
}

// OracleConfig selects the decision backend.
type OracleConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"` // heuristic, ollama, openai
}

// OllamaConfig Ollama 本地 LLM 配置
type OllamaConfig struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	Model     string `mapstructure:"model" yaml:"model"`
	Timeout   string `mapstructure:"timeout" yaml:"timeout"`
	KeepAlive string `mapstructure:"keep_alive" yaml:"keep_alive"`
}

// OpenAIConfig covers any OpenAI-compatible chat completions endpoint (OpenAI, vLLM).
type OpenAIConfig struct {
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	Model     string `mapstructure:"model" yaml:"model"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout   string `mapstructure:"timeout" yaml:"timeout"`
}

// InvokerConfig 工具调用配置
type InvokerConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	CallTimeout time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`
	Backoff     BackoffConfig `mapstructure:"backoff" yaml:"backoff"`
}

// BackoffConfig 重试退避配置，InitialDelay 为 0 表示立即重试
type BackoffConfig struct {
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier" yaml:"multiplier"`
}

// WorkflowConfig 编排流程配置
type WorkflowConfig struct {
	MaxQueryLength int           `mapstructure:"max_query_length" yaml:"max_query_length"`
	TurnTimeout    time.Duration `mapstructure:"turn_timeout" yaml:"turn_timeout"`
	HistoryLimit   int           `mapstructure:"history_limit" yaml:"history_limit"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	Driver    string        `mapstructure:"driver" yaml:"driver"` // sqlite, memory
	Path      string        `mapstructure:"path" yaml:"path"`
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`
}

// CronConfig 定时任务配置
type CronConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	CatalogRefresh string `mapstructure:"catalog_refresh" yaml:"catalog_refresh"`
	Prune          string `mapstructure:"prune" yaml:"prune"`
	HealthProbe    string `mapstructure:"health_probe" yaml:"health_probe"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

var (
	globalConfig *Config
	configPath   string
	mu           sync.RWMutex
)

// Load 加载配置文件
// 优先级: ENV > .env > 配置文件 > 默认值
func Load(path string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	SetDefaults()

	// .env 只补充未设置的环境变量，缺失时忽略
	_ = godotenv.Load()

	viper.SetEnvPrefix("SLEUTH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if path != "" {
		expandedPath, err := ExpandPath(path)
		if err != nil {
			return nil, err
		}
		configPath = expandedPath

		viper.SetConfigFile(expandedPath)
		if err := viper.ReadInConfig(); err != nil {
			var pathErr *os.PathError
			if !errors.As(err, &pathErr) && !os.IsNotExist(err) {
				if _, ok := err.(viper.ConfigParseError); ok {
					return nil, err
				}
			}
		}
	}

	cfg, err := unmarshal()
	if err != nil {
		return nil, err
	}
	globalConfig = cfg
	return cfg, nil
}

func unmarshal() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetConfig 获取当前配置
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return globalConfig
}

// Path returns the config file path given to Load, expanded.
func Path() string {
	mu.RLock()
	defer mu.RUnlock()
	return configPath
}

// Set 设置配置值并持久化
func Set(key string, value any) error {
	mu.Lock()
	defer mu.Unlock()

	viper.Set(key, value)
	if cfg, err := unmarshal(); err == nil {
		globalConfig = cfg
	}

	if configPath != "" {
		return save()
	}
	return nil
}

// Save 保存配置到文件
func Save() error {
	mu.Lock()
	defer mu.Unlock()
	return save()
}

// save 内部保存函数，调用者需要持有锁
func save() error {
	if configPath == "" {
		return errors.New("config path not set")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return err
	}

	// 0600: 配置中可能包含 API Key
	return os.WriteFile(configPath, data, 0600)
}

// Reset 重置配置（主要用于测试）
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	configPath = ""
	viper.Reset()
}
