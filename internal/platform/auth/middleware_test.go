package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func runJWT(t *testing.T, header string, handler echo.HandlerFunc) error {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	c := e.NewContext(req, httptest.NewRecorder())
	return JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(handler)(c)
}

func okHandler(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected HTTP %d, got nil error", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	expectStatus(t, runJWT(t, "", okHandler), http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, runJWT(t, tt.header, okHandler), http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidTokenSetsCaller(t *testing.T) {
	userID := uuid.New()
	tokenStr, err := IssueToken(testSigningKey, userID, RoleAdvisor, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	var got Caller
	err = runJWT(t, "Bearer "+tokenStr, func(c echo.Context) error {
		got, _ = CallerFromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != userID || got.Role != RoleAdvisor {
		t.Errorf("expected advisor %s, got %+v", userID, got)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
		Role: RoleClient,
	}
	expectStatus(t, runJWT(t, "Bearer "+createTestToken(t, claims, testSigningKey), okHandler), http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	tokenStr, _ := IssueToken([]byte("another-key-another-key-another-key"), uuid.New(), RoleClient, time.Hour)
	expectStatus(t, runJWT(t, "Bearer "+tokenStr, okHandler), http.StatusUnauthorized)
}

func TestJWTMiddleware_UnknownRole(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: "physician",
	}
	expectStatus(t, runJWT(t, "Bearer "+createTestToken(t, claims, testSigningKey), okHandler), http.StatusUnauthorized)
}

func TestJWTMiddleware_NonUUIDSubject(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: RoleClient,
	}
	expectStatus(t, runJWT(t, "Bearer "+createTestToken(t, claims, testSigningKey), okHandler), http.StatusUnauthorized)
}

func TestDevAuthMiddleware_DefaultsToAdmin(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	var got Caller
	err := DevAuthMiddleware()(func(c echo.Context) error {
		got, _ = CallerFromContext(c.Request().Context())
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != DevUserID || !got.IsAdmin() {
		t.Errorf("expected dev admin, got %+v", got)
	}
}

func TestDevAuthMiddleware_HeaderOverride(t *testing.T) {
	id := uuid.New()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", id.String())
	req.Header.Set("X-User-Role", RoleClient)
	c := e.NewContext(req, httptest.NewRecorder())

	var got Caller
	_ = DevAuthMiddleware()(func(c echo.Context) error {
		got, _ = CallerFromContext(c.Request().Context())
		return nil
	})(c)
	if got.ID != id || got.Role != RoleClient {
		t.Errorf("expected client %s, got %+v", id, got)
	}
}
