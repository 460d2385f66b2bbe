package middleware

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/chorus-net/chorus-bridge/internal/metrics"
)

// InstanceIDHeader identifies the calling Stage on every bridge request.
const InstanceIDHeader = "X-Chorus-Instance-Id"

// RateLimiter enforces per-instance fixed-window limits. One-second
// windows with a burst allowance spread over two adjacent windows; keyed
// purely on the instance id header so individual users stay anonymous.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*rateLimitWindow
	cfg     RateLimitConfig
	metrics *metrics.Metrics
	logger  *log.Logger
}

// RateLimitConfig defines the rate limiting thresholds.
type RateLimitConfig struct {
	RequestsPerSecond int // steady-state per-instance limit
	Burst             int // allowance over two adjacent windows
}

type rateLimitWindow struct {
	windowStart time.Time
	count       int
	prevCount   int
}

// NewRateLimiter creates a rate limiter and starts its window GC loop.
// metrics may be nil.
func NewRateLimiter(cfg RateLimitConfig, m *metrics.Metrics) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RequestsPerSecond * 2
	}

	rl := &RateLimiter{
		windows: make(map[string]*rateLimitWindow),
		cfg:     cfg,
		metrics: m,
		logger:  log.New(log.Writer(), "[RATE-LIMIT] ", log.LstdFlags),
	}
	go rl.cleanup()
	return rl
}

// Allow reports whether a request from the given instance fits its window.
func (rl *RateLimiter) Allow(instanceID string) bool {
	now := time.Now()
	windowStart := now.Truncate(time.Second)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	window, exists := rl.windows[instanceID]
	if !exists {
		rl.windows[instanceID] = &rateLimitWindow{windowStart: windowStart, count: 1}
		return true
	}

	if windowStart.After(window.windowStart) {
		// Rotate: the previous count only carries over from the window
		// immediately before this one.
		if windowStart.Sub(window.windowStart) == time.Second {
			window.prevCount = window.count
		} else {
			window.prevCount = 0
		}
		window.windowStart = windowStart
		window.count = 0
	}

	window.count++
	if window.count <= rl.cfg.RequestsPerSecond {
		return true
	}
	if window.count+window.prevCount <= rl.cfg.Burst {
		return true
	}
	rl.logger.Printf("🚫 Rate limit exceeded: instance=%s count=%d burst=%d",
		instanceID, window.count, rl.cfg.Burst)
	return false
}

// Middleware rejects over-limit requests with 429. Requests without an
// instance header are keyed as "anonymous"; the JWT middleware decides
// whether that header is mandatory.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		instanceID := r.Header.Get(InstanceIDHeader)
		if instanceID == "" {
			instanceID = "anonymous"
		}

		if !rl.Allow(instanceID) {
			if rl.metrics != nil {
				rl.metrics.RateLimitRejections.Inc()
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded","retry_after_seconds":1}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// cleanup periodically removes stale windows to prevent unbounded growth.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for key, window := range rl.windows {
			if now.Sub(window.windowStart) > 10*time.Second {
				delete(rl.windows, key)
			}
		}
		rl.mu.Unlock()
	}
}

// Stats returns current rate limiter statistics.
func (rl *RateLimiter) Stats() map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return map[string]interface{}{
		"active_windows":      len(rl.windows),
		"requests_per_second": rl.cfg.RequestsPerSecond,
		"burst":               rl.cfg.Burst,
	}
}
