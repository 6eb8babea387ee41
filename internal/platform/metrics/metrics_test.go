package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := NewNop()
	m.Transitions.WithLabelValues("pending_confirmation", "scheduled").Inc()
	m.SweepExpired.Add(3)

	if got := testutil.ToFloat64(m.Transitions.WithLabelValues("pending_confirmation", "scheduled")); got != 1 {
		t.Errorf("expected 1 transition, got %v", got)
	}
	if got := testutil.ToFloat64(m.SweepExpired); got != 3 {
		t.Errorf("expected 3 expired, got %v", got)
	}
}

func TestHandler_ExposesMetrics(t *testing.T) {
	m := NewNop()
	m.OutboxDead.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "consult_outbox_dead_total 1") {
		t.Errorf("expected outbox_dead_total in output")
	}
}

func TestMiddleware_ObservesRoute(t *testing.T) {
	m := NewNop()
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil), httptest.NewRecorder())
	c.SetPath("/api/v1/appointments")

	_ = m.Middleware()(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c)

	if n := testutil.CollectAndCount(m.HTTPDuration); n != 1 {
		t.Errorf("expected one observed series, got %d", n)
	}
}
