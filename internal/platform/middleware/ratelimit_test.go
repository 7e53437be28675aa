package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func serve(e *echo.Echo, h echo.HandlerFunc, setup func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if setup != nil {
		setup(req)
	}
	rec := httptest.NewRecorder()
	if err := h(e.NewContext(req, rec)); err != nil {
		e.HTTPErrorHandler(err, e.NewContext(req, rec))
	}
	return rec
}

func TestRateLimit_RequestsWithinLimit(t *testing.T) {
	e := echo.New()
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})(okHandler)

	for i := 0; i < 5; i++ {
		rec := serve(e, handler, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit 10, got %q", i+1, got)
		}
	}
}

func TestRateLimit_ExceedsLimit(t *testing.T) {
	e := echo.New()
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})(okHandler)

	for i := 0; i < 2; i++ {
		if rec := serve(e, handler, nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	rec := serve(e, handler, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	retry, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	if err != nil || retry < 1 {
		t.Errorf("expected Retry-After >= 1, got %q", rec.Header().Get("Retry-After"))
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected X-RateLimit-Remaining 0, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimit_PerKeyIsolation(t *testing.T) {
	cfg := RateLimitConfig{
		RequestsPerSecond: 1,
		BurstSize:         1,
		KeyFunc:           func(c echo.Context) string { return c.Request().Header.Get("X-User-ID") },
	}
	e := echo.New()
	handler := RateLimit(cfg)(okHandler)
	as := func(user string) func(*http.Request) {
		return func(r *http.Request) { r.Header.Set("X-User-ID", user) }
	}

	if rec := serve(e, handler, as("user-a")); rec.Code != http.StatusOK {
		t.Fatalf("user-a first request: expected 200, got %d", rec.Code)
	}
	if rec := serve(e, handler, as("user-a")); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("user-a second request: expected 429, got %d", rec.Code)
	}
	if rec := serve(e, handler, as("user-b")); rec.Code != http.StatusOK {
		t.Fatalf("user-b first request: expected 200, got %d", rec.Code)
	}
}

func TestRateLimit_DefaultConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 100 || cfg.BurstSize != 200 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestTokenBucket_RetryAfterWithZeroRate(t *testing.T) {
	b := newTokenBucket(0, 1)
	b.allow()
	if ok, retry := b.allow(); ok || retry != 1 {
		t.Errorf("expected denial with retry 1, got %v %d", ok, retry)
	}
}

func TestRedisRateLimit_SharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cfg := RateLimitConfig{RequestsPerSecond: 2, BurstSize: 2}
	e := echo.New()
	a := RedisRateLimit(cfg, rdb, zerolog.Nop())(okHandler)
	b := RedisRateLimit(cfg, rdb, zerolog.Nop())(okHandler)

	if rec := serve(e, a, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := serve(e, b, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	// Both instances count against the same window; the third request is
	// over the limit unless the second boundary was crossed meanwhile.
	rec := serve(e, a, nil)
	if rec.Code != http.StatusTooManyRequests && rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if len(mr.Keys()) == 0 {
		t.Error("expected window counters in redis")
	}
}

func TestRedisRateLimit_FailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	handler := RedisRateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}, rdb, zerolog.Nop())(okHandler)
	e := echo.New()
	for i := 0; i < 3; i++ {
		if rec := serve(e, handler, nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 while redis is down, got %d", i+1, rec.Code)
		}
	}
}
