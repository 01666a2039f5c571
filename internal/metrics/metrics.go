// Package metrics holds the Prometheus collectors shared by the API and the
// analytics worker.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	httpInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Number of HTTP requests currently being served",
		},
	)

	resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "link_resolutions_total",
			Help: "Short code resolutions partitioned by outcome",
		},
		[]string{"outcome"},
	)

	clicksIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clicks_ingested_total",
			Help: "Clicks persisted with their counter increment",
		},
	)

	clicksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clicks_failed_total",
			Help: "Click ingestion failures partitioned by stage",
		},
		[]string{"stage"},
	)

	clicksDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clicks_dropped_total",
			Help: "Click jobs discarded before ingestion",
		},
		[]string{"reason"},
	)
)

// Middleware records per-route request metrics, labelled by the route
// template rather than the raw path.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		err := c.Next()

		route := c.Path()
		if r := c.Route(); r != nil && r.Path != "" {
			route = r.Path
		}
		labels := prometheus.Labels{
			"method": c.Method(),
			"route":  route,
			"status": strconv.Itoa(statusOf(c, err)),
		}
		httpRequestsTotal.With(labels).Inc()
		httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
		return err
	}
}

// statusOf predicts the code the app's error handler will write for err,
// which runs only after the middleware chain unwinds.
func statusOf(c *fiber.Ctx, err error) int {
	if err == nil {
		return c.Response().StatusCode()
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return fiber.StatusInternalServerError
}

// Handler exposes the default registry.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

func Resolution(outcome string) {
	resolutions.WithLabelValues(outcome).Inc()
}

func ClicksIngested(n int) {
	clicksIngested.Add(float64(n))
}

// ClickFailed counts a click that was lost at stage ("append", "increment",
// "publish", "decode").
func ClickFailed(stage string) {
	clicksFailed.WithLabelValues(stage).Inc()
}

func ClickDropped(reason string) {
	clicksDropped.WithLabelValues(reason).Inc()
}
