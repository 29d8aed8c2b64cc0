package workflow

import (
	"time"

	"sleuth/internal/session"
)

// Config holds configuration for the turn engine.
type Config struct {
	// TurnTimeout bounds a whole turn, Oracle and tool calls included.
	// Default is 2 minutes.
	TurnTimeout time.Duration `json:"turn_timeout"`

	// HistoryLimit is the number of history entries kept per session.
	// Default and maximum is 10.
	HistoryLimit int `json:"history_limit"`

	// MaxQueryLength is the longest accepted query in runes.
	// Default is 1000.
	MaxQueryLength int `json:"max_query_length"`

	// QueueSize is the number of turns that may wait behind a running turn
	// of the same session. Default is 8.
	QueueSize int `json:"queue_size"`

	// IdleTimeout is how long a session's worker lingers without turns.
	// Default is 5 minutes.
	IdleTimeout time.Duration `json:"idle_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		TurnTimeout:    2 * time.Minute,
		HistoryLimit:   session.DefaultHistoryLimit,
		MaxQueryLength: session.DefaultMaxQueryLength,
		QueueSize:      8,
		IdleTimeout:    5 * time.Minute,
	}
}

// WithTurnTimeout returns a copy of the config with the specified turn timeout.
func (c Config) WithTurnTimeout(d time.Duration) Config {
	c.TurnTimeout = d
	return c
}

// WithHistoryLimit returns a copy of the config with the specified history limit.
func (c Config) WithHistoryLimit(n int) Config {
	c.HistoryLimit = n
	return c
}

// WithMaxQueryLength returns a copy of the config with the specified query length limit.
func (c Config) WithMaxQueryLength(n int) Config {
	c.MaxQueryLength = n
	return c
}

// WithQueueSize returns a copy of the config with the specified per-session queue size.
func (c Config) WithQueueSize(n int) Config {
	c.QueueSize = n
	return c
}

// normalized fills zero fields with defaults.
func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = d.TurnTimeout
	}
	if c.HistoryLimit <= 0 || c.HistoryLimit > session.DefaultHistoryLimit {
		c.HistoryLimit = d.HistoryLimit
	}
	if c.MaxQueryLength <= 0 {
		c.MaxQueryLength = d.MaxQueryLength
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	return c
}
