package middleware

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/cds/cds/internal/platform/auth"
)

// Logger emits one structured line per request. Health probes drop to
// debug so steady-state output stays clinical traffic.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			err := next(c)

			evt := logger.Info()
			switch {
			case err != nil:
				evt = logger.Error().Err(err)
			case strings.HasPrefix(req.URL.Path, "/health"):
				evt = logger.Debug()
			}

			rid, _ := c.Get("request_id").(string)
			if actor := auth.UserIDFromContext(req.Context()); actor != "" {
				evt = evt.Str("actor_id", actor)
			}
			evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", c.Response().Status).
				Int64("bytes_out", c.Response().Size).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}
