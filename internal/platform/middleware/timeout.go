package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// TimeoutConfig sets per-request deadlines. Requests under one of
// SlowPrefixes wait on the clearinghouse and get SlowTimeout instead.
type TimeoutConfig struct {
	Timeout      time.Duration
	SlowTimeout  time.Duration
	SlowPrefixes []string
}

func (cfg TimeoutConfig) deadlineFor(path string) time.Duration {
	for _, p := range cfg.SlowPrefixes {
		if strings.HasPrefix(path, p) && cfg.SlowTimeout > 0 {
			return cfg.SlowTimeout
		}
	}
	return cfg.Timeout
}

// RequestTimeout puts a deadline on the request context. When it passes
// before the handler returns, the client gets a 504 and the handler's
// context is cancelled.
func RequestTimeout(cfg TimeoutConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			timeout := cfg.deadlineFor(c.Request().URL.Path)
			if timeout <= 0 {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			done := make(chan error, 1)
			go func() {
				done <- next(c)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return gatewayTimeout(c)
				}
				return ctx.Err()
			}
		}
	}
}

func gatewayTimeout(c echo.Context) error {
	if c.Response().Committed {
		return nil
	}
	return c.JSON(http.StatusGatewayTimeout, map[string]string{
		"message": "request processing exceeded the allowed time limit",
	})
}
