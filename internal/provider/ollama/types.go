// Package ollama implements the Provider interface for Ollama.
package ollama

import "time"

// Default configuration values.
const (
	DefaultEndpoint  = "http://localhost:11434"
	DefaultModel     = "llama3.2"
	DefaultTimeout   = 5 * time.Minute
	DefaultKeepAlive = "5m"
)

// Config holds Ollama provider configuration.
type Config struct {
	Endpoint  string        `mapstructure:"endpoint"`
	Model     string        `mapstructure:"model"`
	Timeout   time.Duration `mapstructure:"timeout"`
	KeepAlive string        `mapstructure:"keep_alive"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Endpoint:  DefaultEndpoint,
		Model:     DefaultModel,
		Timeout:   DefaultTimeout,
		KeepAlive: DefaultKeepAlive,
	}
}

type ollamaRequest struct {
	Model     string          `json:"model"`
	Messages  []ollamaMessage `json:"messages"`
	Stream    bool            `json:"stream"`
	Format    string          `json:"format,omitempty"` // "json" constrains output
	Options   *ollamaOptions  `json:"options,omitempty"`
	KeepAlive string          `json:"keep_alive,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// ollamaResponse is both the non-streaming body and one NDJSON stream line.
type ollamaResponse struct {
	Model      string        `json:"model"`
	CreatedAt  string        `json:"created_at"`
	Message    ollamaMessage `json:"message"`
	Done       bool          `json:"done"`
	DoneReason string        `json:"done_reason,omitempty"`
	Error      string        `json:"error,omitempty"`

	// Only present when done=true.
	PromptEvalCount int `json:"prompt_eval_count,omitempty"`
	EvalCount       int `json:"eval_count,omitempty"`
}

type ollamaModelsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

type ollamaErrorResponse struct {
	Error string `json:"error"`
}
