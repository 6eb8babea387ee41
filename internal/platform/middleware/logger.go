package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/advisa/consult/internal/platform/auth"
)

// Logger writes one access line per request. The error handler runs after
// the middleware chain, so a returned error is rendered here to learn the
// status the client will see.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			status := c.Response().Status
			var code string
			if err != nil {
				status, code = renderedStatus(err)
			}

			var evt *zerolog.Event
			switch {
			case status >= 500:
				evt = logger.Error().Err(err)
			case status >= 400:
				evt = logger.Warn()
			default:
				evt = logger.Info()
			}
			if code != "" {
				evt = evt.Str("error_code", code)
			}
			// auth stores the caller on the request it replaces, so read it
			// after next returns.
			if caller, ok := auth.CallerFromContext(c.Request().Context()); ok {
				evt = evt.Str("caller_id", caller.ID.String()).Str("caller_role", caller.Role)
			} else if uid, ok := c.Get("user_id").(string); ok {
				evt = evt.Str("caller_id", uid)
			}

			rid, _ := c.Get("request_id").(string)
			req := c.Request()
			evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("route", c.Path()).
				Str("path", req.URL.Path).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}

func renderedStatus(err error) (int, string) {
	status, body := render(err)
	return status, body.Code
}
