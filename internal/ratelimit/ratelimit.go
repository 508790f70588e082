// Package ratelimit provides fixed-window counters for httprate.
//
// httprate estimates a sliding window from the current and previous window
// counts. Both counters here report zero for the previous window, which
// turns the limiter into a plain fixed window keyed by caller.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/httprate"

	"github.com/fedutinova/shopgen/internal/auth"
	appredis "github.com/fedutinova/shopgen/internal/redis"
)

// Middleware limits requests to limit per window, per authenticated shop or
// per client IP for anonymous requests.
func Middleware(limit int, window time.Duration, counter httprate.LimitCounter) func(http.Handler) http.Handler {
	opts := []httprate.Option{
		httprate.WithKeyFuncs(KeyByShop),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
		}),
	}
	if counter != nil {
		opts = append(opts, httprate.WithLimitCounter(counter))
	}
	return httprate.Limit(limit, window, opts...)
}

// KeyByShop keys on the session's shop domain, falling back to the real IP.
func KeyByShop(r *http.Request) (string, error) {
	if shop := auth.ShopFromContext(r.Context()); shop != "" {
		return "shop:" + shop, nil
	}
	return httprate.KeyByRealIP(r)
}

// MemoryCounter keeps window counts in process memory.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]int
	// current window start; counts from older windows are dropped
	current time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[string]int)}
}

func (c *MemoryCounter) Config(requestLimit int, windowLength time.Duration) {}

func (c *MemoryCounter) Increment(key string, currentWindow time.Time) error {
	return c.IncrementBy(key, currentWindow, 1)
}

func (c *MemoryCounter) IncrementBy(key string, currentWindow time.Time, amount int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roll(currentWindow)
	c.counts[key] += amount
	return nil
}

func (c *MemoryCounter) Get(key string, currentWindow, previousWindow time.Time) (int, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roll(currentWindow)
	return c.counts[key], 0, nil
}

func (c *MemoryCounter) roll(window time.Time) {
	if window.After(c.current) {
		c.current = window
		clear(c.counts)
	}
}

// RedisCounter shares window counts across replicas. Redis errors fail open.
type RedisCounter struct {
	redis   *appredis.Service
	prefix  string
	window  time.Duration
	timeout time.Duration
}

func NewRedisCounter(svc *appredis.Service, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisCounter{redis: svc, prefix: prefix, window: time.Minute, timeout: time.Second}
}

func (c *RedisCounter) Config(requestLimit int, windowLength time.Duration) {
	c.window = windowLength
}

func (c *RedisCounter) Increment(key string, currentWindow time.Time) error {
	return c.IncrementBy(key, currentWindow, 1)
}

func (c *RedisCounter) IncrementBy(key string, currentWindow time.Time, amount int) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if _, err := c.redis.IncrWindow(ctx, c.key(key, currentWindow), amount, 2*c.window); err != nil {
		slog.Warn("rate limit counter unavailable", "err", err)
	}
	return nil
}

func (c *RedisCounter) Get(key string, currentWindow, previousWindow time.Time) (int, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	n, err := c.redis.GetCount(ctx, c.key(key, currentWindow))
	if err != nil {
		slog.Warn("rate limit counter unavailable", "err", err)
		return 0, 0, nil
	}
	return n, 0, nil
}

func (c *RedisCounter) key(key string, window time.Time) string {
	return fmt.Sprintf("%s:%s:%d", c.prefix, key, window.Unix())
}
