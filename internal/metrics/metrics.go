// Package metrics exposes Prometheus collectors for the records service and
// the HTTP API.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector. It satisfies records.MetricsRecorder.
//
// Metrics:
//   - estatedesk_records_operations_total{operation,result}
//   - estatedesk_records_operation_duration_seconds{operation}
//   - estatedesk_http_requests_total{method,route,status}
//   - estatedesk_http_request_duration_seconds{method,route}
type Metrics struct {
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	Requests          *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
}

// New registers the collectors on reg. Tests pass a fresh registry; the
// binaries pass prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "estatedesk_records_operations_total",
				Help: "Records service calls by operation and result",
			},
			[]string{"operation", "result"}, // result: "success" or "error"
		),
		OperationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "estatedesk_records_operation_duration_seconds",
				Help:    "Duration of records service calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		Requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "estatedesk_http_requests_total",
				Help: "HTTP API requests by route and status",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "estatedesk_http_request_duration_seconds",
				Help:    "HTTP API request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Observe records one records-service call.
func (m *Metrics) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "error"
	}
	m.Operations.WithLabelValues(operation, result).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Middleware counts requests by their route template.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.Requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.RequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
