package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func slowHandler(c echo.Context) error {
	select {
	case <-time.After(5 * time.Second):
		return c.String(http.StatusOK, "ok")
	case <-c.Request().Context().Done():
		return c.Request().Context().Err()
	}
}

func TestRequestTimeout_CompletesWithinDeadline(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/expert/consultations", nil), rec)

	if err := RequestTimeout(time.Minute)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequestTimeout_ReturnsTimeoutOnExpiry(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/expert/consultations", nil), rec)

	if err := RequestTimeout(time.Second / 20)(slowHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rec.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "timeout" {
		t.Errorf("expected timeout error code, got %q", body.Error)
	}
}

// A handler that ignores its deadline keeps its own response; the next
// request served by the same pooled context sees only its own body.
func TestRequestTimeout_LateHandlerDoesNotLeakIntoNextRequest(t *testing.T) {
	e := echo.New()
	e.Use(RequestTimeout(20 * time.Millisecond))
	e.POST("/api/v1/expert/consultations", func(c echo.Context) error {
		time.Sleep(60 * time.Millisecond)
		return c.String(http.StatusCreated, "LATE-BOOKING-RESPONSE")
	})
	e.GET("/api/v1/expert/consultations", func(c echo.Context) error {
		return c.String(http.StatusOK, "other")
	})

	rec1 := httptest.NewRecorder()
	e.ServeHTTP(rec1, httptest.NewRequest(http.MethodPost, "/api/v1/expert/consultations", nil))
	rec2 := httptest.NewRecorder()
	e.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/api/v1/expert/consultations", nil))

	// Give a stray goroutine time to write, if there were one.
	time.Sleep(80 * time.Millisecond)

	if rec1.Code != http.StatusCreated || rec1.Body.String() != "LATE-BOOKING-RESPONSE" {
		t.Errorf("first request: got %d %q", rec1.Code, rec1.Body.String())
	}
	if rec2.Code != http.StatusOK || rec2.Body.String() != "other" {
		t.Errorf("second request: got %d %q", rec2.Code, rec2.Body.String())
	}
}

func TestRequestTimeout_SkipsPrefixes(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/metrics", nil), httptest.NewRecorder())

	var deadline bool
	handler := func(c echo.Context) error {
		_, deadline = c.Request().Context().Deadline()
		return nil
	}
	if err := RequestTimeout(time.Millisecond, "/metrics")(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deadline {
		t.Error("expected no deadline on a skipped path")
	}
}
