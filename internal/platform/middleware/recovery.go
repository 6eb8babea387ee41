package middleware

import (
	"fmt"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/advisa/consult/internal/platform/auth"
	"github.com/advisa/consult/pkg/apperror"
)

// Recovery turns a handler panic into an internal apperror so the client gets
// the standard error body and the booking that panicked is traceable to its
// caller and route.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				var stack [4096]byte
				n := runtime.Stack(stack[:], false)

				evt := logger.Error().
					Str("request_id", fmt.Sprintf("%v", c.Get("request_id"))).
					Str("route", c.Path()).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(stack[:n]))
				if caller, ok := auth.CallerFromContext(c.Request().Context()); ok {
					evt = evt.Str("caller_id", caller.ID.String())
				}
				evt.Msg("panic recovered")

				err = &apperror.Error{
					Kind:    apperror.KindInternal,
					Code:    "internal",
					Message: "internal server error",
					Err:     fmt.Errorf("panic in %s %s: %v", c.Request().Method, c.Path(), r),
				}
			}()
			return next(c)
		}
	}
}
