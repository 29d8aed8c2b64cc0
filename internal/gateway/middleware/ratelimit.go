package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sleuth/internal/gateway/handlers"
)

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// RequestsPerMinute is the sustained rate allowed per client.
	RequestsPerMinute int
	// Burst is the maximum burst size.
	Burst int
	// Enabled enables or disables rate limiting.
	Enabled bool
	// CleanupInterval is how often idle clients are forgotten.
	CleanupInterval time.Duration
}

// DefaultRateLimiterConfig returns the default rate limiter configuration.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerMinute: 60,
		Burst:             10,
		Enabled:           true,
		CleanupInterval:   5 * time.Minute,
	}
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter provides per-client rate limiting on token buckets.
type RateLimiter struct {
	config  RateLimiterConfig
	clients map[string]*client
	mu      sync.Mutex
	stopCh  chan struct{}
	once    sync.Once
	now     func() time.Time
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	d := DefaultRateLimiterConfig()
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = d.RequestsPerMinute
	}
	if config.Burst <= 0 {
		config.Burst = d.Burst
	}
	rl := &RateLimiter{
		config:  config,
		clients: make(map[string]*client),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	if config.Enabled && config.CleanupInterval > 0 {
		go rl.cleanup()
	}
	return rl
}

// Stop stops the rate limiter's cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.mu.Lock()
			cutoff := rl.now().Add(-2 * rl.config.CleanupInterval)
			for ip, c := range rl.clients {
				if c.lastSeen.Before(cutoff) {
					delete(rl.clients, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *RateLimiter) limiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	c, ok := rl.clients[ip]
	if !ok {
		perSecond := rate.Limit(float64(rl.config.RequestsPerMinute) / 60.0)
		c = &client{limiter: rate.NewLimiter(perSecond, rl.config.Burst)}
		rl.clients[ip] = c
	}
	c.lastSeen = rl.now()
	return c.limiter
}

// Allow checks if a request from ip is allowed. It returns the remaining
// tokens and how long until the next token when denied.
func (rl *RateLimiter) Allow(ip string) (bool, int, time.Duration) {
	if !rl.config.Enabled {
		return true, rl.config.Burst, 0
	}
	lim := rl.limiter(ip)
	now := rl.now()
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return false, 0, time.Minute
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, 0, delay
	}
	remaining := int(math.Max(0, math.Floor(lim.TokensAt(now))))
	return true, remaining, 0
}

// RateLimit returns a middleware that rate limits requests per client IP.
func (rl *RateLimiter) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.config.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		allowed, remaining, retryAfter := rl.Allow(getClientIP(r))
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.config.RequestsPerMinute))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			handlers.SendError(w, http.StatusTooManyRequests, handlers.ErrCodeRateLimited, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
