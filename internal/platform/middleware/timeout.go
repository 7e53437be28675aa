package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// RequestTimeout puts a deadline on the request context. The handler runs on
// the request goroutine; when it gives up with context.DeadlineExceeded and
// has not written a response yet, the client gets a 504. Paths under any of
// skip are exempt.
//
// The orchestrators compensate on a detached context, so a reservation made
// before the deadline is still released when the booking does not complete.
func RequestTimeout(timeout time.Duration, skip ...string) echo.MiddlewareFunc {
	return echomw.ContextTimeoutWithConfig(echomw.ContextTimeoutConfig{
		Timeout: timeout,
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			for _, prefix := range skip {
				if strings.HasPrefix(path, prefix) {
					return true
				}
			}
			return false
		},
		ErrorHandler: func(err error, c echo.Context) error {
			if errors.Is(err, context.DeadlineExceeded) {
				return reject(c, http.StatusGatewayTimeout, "timeout", "request exceeded the allowed time")
			}
			return err
		},
	})
}
