package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerMinute: 60,
		Burst:             5,
		Enabled:           true,
	})
	defer rl.Stop()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	ip := "192.168.1.1"
	for i := 0; i < 5; i++ {
		allowed, remaining, _ := rl.Allow(ip)
		if !allowed {
			t.Errorf("Request %d should be allowed", i+1)
		}
		if remaining != 4-i {
			t.Errorf("Request %d: expected remaining %d, got %d", i+1, 4-i, remaining)
		}
	}

	allowed, _, retryAfter := rl.Allow(ip)
	if allowed {
		t.Error("6th request should be denied")
	}
	if retryAfter <= 0 || retryAfter > time.Second {
		t.Errorf("unexpected retry after %v", retryAfter)
	}

	// One token refills per second at 60/min.
	now = now.Add(time.Second)
	if allowed, _, _ := rl.Allow(ip); !allowed {
		t.Error("request after refill should be allowed")
	}

	// Other clients have their own bucket.
	if allowed, _, _ := rl.Allow("10.0.0.1"); !allowed {
		t.Error("different IP should be allowed")
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 60, Burst: 1, Enabled: false})
	defer rl.Stop()

	for i := 0; i < 100; i++ {
		if allowed, _, _ := rl.Allow("192.168.1.1"); !allowed {
			t.Fatalf("Request %d should be allowed when disabled", i+1)
		}
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 60, Burst: 2, Enabled: true})
	defer rl.Stop()
	handler := rl.RateLimit(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)

		if w.Header().Get("X-RateLimit-Limit") != "60" {
			t.Errorf("missing X-RateLimit-Limit header")
		}
		if w.Code == http.StatusTooManyRequests && w.Header().Get("Retry-After") == "" {
			t.Error("missing Retry-After header")
		}
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("status codes = %v", codes)
	}
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	if got := getClientIP(req); got != "10.1.2.3" {
		t.Errorf("remote addr ip = %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := getClientIP(req); got != "203.0.113.9" {
		t.Errorf("forwarded ip = %q", got)
	}
}
