package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "consult"

// Metrics holds all prometheus metrics
type Metrics struct {
	AppointmentsCreated *prometheus.CounterVec
	Transitions         *prometheus.CounterVec
	Rejections          *prometheus.CounterVec
	SweepExpired        prometheus.Counter
	SweepDuration       prometheus.Histogram
	RoomAutoCompleted   prometheus.Counter
	OutboxDispatched    *prometheus.CounterVec
	OutboxDead          prometheus.Counter
	RefundFailures      prometheus.Counter
	HTTPDuration        *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the booking metrics on reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AppointmentsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointments_created_total",
			Help:      "Appointments created, by type.",
		}, []string{"type"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointment_transitions_total",
			Help:      "Applied status transitions.",
		}, []string{"from", "to"}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_rejections_total",
			Help:      "Rejected operations, by error code.",
		}, []string{"code"}),
		SweepExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_expired_total",
			Help:      "Pending appointments cancelled by the deadline sweep.",
		}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Time taken by one deadline sweep.",
			Buckets:   prometheus.DefBuckets,
		}),
		RoomAutoCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_auto_completed_total",
			Help:      "Consultations completed because both parties left the room.",
		}),
		OutboxDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_dispatched_total",
			Help:      "Outbox deliveries, by channel and result.",
		}, []string{"channel", "result"}),
		OutboxDead: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_dead_total",
			Help:      "Outbox messages abandoned after the final attempt.",
		}),
		RefundFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refund_failures_total",
			Help:      "Refund calls that failed after a cancellation.",
		}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		gatherer: reg,
	}
}

// NewNop returns metrics on a private registry, for tests and tools.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request latency by matched route.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			m.HTTPDuration.
				WithLabelValues(c.Request().Method, c.Path(), strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}
