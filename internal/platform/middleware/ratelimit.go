package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// KeyFunc picks the bucket of a request. Defaults to the client IP.
	KeyFunc func(c echo.Context) string
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
	}
}

func (cfg RateLimitConfig) key(c echo.Context) string {
	if cfg.KeyFunc != nil {
		if k := cfg.KeyFunc(c); k != "" {
			return k
		}
	}
	return c.RealIP()
}

// tokenBucket implements a token bucket rate limiter.
type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: time.Now(),
	}
}

func (b *tokenBucket) allow() (bool, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.lastRefill).Seconds() * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if b.refillRate <= 0 {
		return false, 1
	}
	return false, int((1-b.tokens)/b.refillRate) + 1
}

// limiter decides whether the request under key may proceed and, when not,
// after how many seconds to retry.
type limiter interface {
	allow(ctx context.Context, key string) (bool, int)
}

type memoryLimiter struct {
	cfg     RateLimitConfig
	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

func (l *memoryLimiter) allow(_ context.Context, key string) (bool, int) {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = newTokenBucket(l.cfg.RequestsPerSecond, l.cfg.BurstSize)
		l.buckets[key] = b
	}
	l.mu.Unlock()
	return b.allow()
}

// redisLimiter counts requests per key in one-second windows shared by every
// instance. It lets requests through when Redis is unreachable.
type redisLimiter struct {
	rdb    *redis.Client
	limit  int64
	logger zerolog.Logger
}

func (l *redisLimiter) allow(ctx context.Context, key string) (bool, int) {
	window := time.Now().Unix()
	k := "ratelimit:" + key + ":" + strconv.FormatInt(window, 10)
	n, err := l.rdb.Incr(ctx, k).Result()
	if err != nil {
		l.logger.Warn().Err(err).Msg("rate limit store unavailable, allowing request")
		return true, 0
	}
	if n == 1 {
		l.rdb.Expire(ctx, k, 2*time.Second)
	}
	if n > l.limit {
		return false, 1
	}
	return true, 0
}

// RateLimit limits requests per client with an in-process token bucket.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	return rateLimit(cfg, &memoryLimiter{cfg: cfg, buckets: make(map[string]*tokenBucket)})
}

// RedisRateLimit limits requests per client across instances. The per-second
// allowance is BurstSize, or RequestsPerSecond when no burst is set.
func RedisRateLimit(cfg RateLimitConfig, rdb *redis.Client, logger zerolog.Logger) echo.MiddlewareFunc {
	limit := int64(cfg.BurstSize)
	if limit <= 0 {
		limit = int64(cfg.RequestsPerSecond)
	}
	return rateLimit(cfg, &redisLimiter{rdb: rdb, limit: limit, logger: logger})
}

func rateLimit(cfg RateLimitConfig, l limiter) echo.MiddlewareFunc {
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limitHeader)
			ok, retryAfter := l.allow(c.Request().Context(), cfg.key(c))
			if !ok {
				h.Set("Retry-After", strconv.Itoa(retryAfter))
				h.Set("X-RateLimit-Remaining", "0")
				return reject(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			}
			return next(c)
		}
	}
}
