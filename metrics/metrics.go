package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the service's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "referral",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "referral",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "referral",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	commissionEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "referral",
			Subsystem: "commission",
			Name:      "events_total",
			Help:      "Commission events by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	commissionCredited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "referral",
			Subsystem: "commission",
			Name:      "credited_total",
			Help:      "Commission credited per level, in currency units.",
		},
		[]string{"level"},
	)

	commissionSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "referral",
			Subsystem: "commission",
			Name:      "levels_skipped_total",
			Help:      "Levels whose rounded amount fell below the minimum credit unit.",
		},
	)

	distributionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "referral",
			Subsystem: "commission",
			Name:      "distribution_duration_seconds",
			Help:      "Time spent distributing one event.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	attachOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "referral",
			Subsystem: "network",
			Name:      "attach_total",
			Help:      "Sponsor attach attempts by outcome.",
		},
		[]string{"outcome"},
	)

	traversalTruncations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "referral",
			Subsystem: "network",
			Name:      "traversal_truncations_total",
			Help:      "Descendant expansions cut short by the depth limit.",
		},
	)

	rateActivations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "referral",
			Subsystem: "rates",
			Name:      "activations_total",
			Help:      "Rate configuration activations.",
		},
	)

	analyticsCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "referral",
			Subsystem: "analytics",
			Name:      "cache_lookups_total",
			Help:      "Overview cache lookups by result.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		commissionEvents,
		commissionCredited,
		commissionSkipped,
		distributionDuration,
		attachOutcomes,
		traversalTruncations,
		rateActivations,
		analyticsCache,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware records request count, latency and in-flight requests.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Path() == "/metrics" {
				return next(c)
			}

			start := time.Now()
			httpInFlight.Inc()
			defer httpInFlight.Dec()

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			method := c.Request().Method
			httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
			httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// ObserveEvent records the outcome of one commission event.
func ObserveEvent(kind, outcome string, took time.Duration) {
	commissionEvents.WithLabelValues(kind, outcome).Inc()
	distributionDuration.Observe(took.Seconds())
}

// ObserveCredit records an amount credited at a level.
func ObserveCredit(level int, amount float64) {
	commissionCredited.WithLabelValues(strconv.Itoa(level)).Add(amount)
}

// ObserveSkip records a level skipped by rounding.
func ObserveSkip() {
	commissionSkipped.Inc()
}

// ObserveAttach records the outcome of a sponsor attach.
func ObserveAttach(outcome string) {
	attachOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveTruncation records a depth-limited traversal.
func ObserveTruncation() {
	traversalTruncations.Inc()
}

// ObserveActivation records a rate config activation.
func ObserveActivation() {
	rateActivations.Inc()
}

// ObserveCacheLookup records an analytics cache hit or miss.
func ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	analyticsCache.WithLabelValues(result).Inc()
}
