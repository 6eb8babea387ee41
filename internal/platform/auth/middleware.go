package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const callerKey contextKey = "caller"

// Roles understood by the booking engine.
const (
	RoleClient  = "client"
	RoleAdvisor = "advisor"
	RoleAdmin   = "admin"
)

// Caller is the authenticated identity behind a request.
type Caller struct {
	ID   uuid.UUID
	Role string
}

func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }

// Claims is the bearer token payload.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

type JWTConfig struct {
	SigningKey []byte
	Issuer     string
	Audience   string
}

// WithCaller stores the caller in ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFromContext returns the caller stored by the auth middleware.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey).(Caller)
	return c, ok
}

func setCaller(c echo.Context, caller Caller) {
	c.SetRequest(c.Request().WithContext(WithCaller(c.Request().Context(), caller)))
	c.Set("user_id", caller.ID.String())
}

// JWTMiddleware validates HS256 bearer tokens and stores the caller.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	keyFunc := func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			// Browsers cannot set headers on websocket upgrades.
			if authHeader == "" && c.IsWebSocket() {
				if tok := c.QueryParam("access_token"); tok != "" {
					authHeader = "Bearer " + tok
				}
			}
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			scheme, tokenStr, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(tokenStr) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			caller, err := claims.Caller()
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}
			setCaller(c, caller)
			return next(c)
		}
	}
}

// Caller converts validated claims to a Caller.
func (cl *Claims) Caller() (Caller, error) {
	id, err := uuid.Parse(cl.Subject)
	if err != nil {
		return Caller{}, fmt.Errorf("token subject is not a user id")
	}
	switch cl.Role {
	case RoleClient, RoleAdvisor, RoleAdmin:
	default:
		return Caller{}, fmt.Errorf("token role %q is not recognised", cl.Role)
	}
	return Caller{ID: id, Role: cl.Role}, nil
}

// IssueToken signs a bearer token for the given user.
func IssueToken(key []byte, userID uuid.UUID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// DevUserID is the identity used by DevAuthMiddleware when no header is set.
var DevUserID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// DevAuthMiddleware trusts X-User-ID and X-User-Role headers and falls back
// to an admin caller. Development only.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			caller := Caller{ID: DevUserID, Role: RoleAdmin}
			if raw := c.Request().Header.Get("X-User-ID"); raw != "" {
				id, err := uuid.Parse(raw)
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid X-User-ID")
				}
				caller.ID = id
			}
			if role := c.Request().Header.Get("X-User-Role"); role != "" {
				caller.Role = role
			}
			setCaller(c, caller)
			return next(c)
		}
	}
}
