package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityHeaders sets response headers for the JSON API and the calendar
// feed. HSTS is only sent when hsts is set, since development runs over
// plain HTTP on localhost.
func SecurityHeaders(hsts bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cross-Origin-Resource-Policy", "same-origin")
			// Video runs on the room provider's domain, never on ours.
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			if hsts {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			// Room tokens and consultation details must not be cached.
			h.Set("Cache-Control", "no-store")
			return next(c)
		}
	}
}
