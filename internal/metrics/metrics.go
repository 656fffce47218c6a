package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Call lifecycle metrics
	WebhookEvents        *prometheus.CounterVec
	WebhookRejections    *prometheus.CounterVec
	CorrelationMisses    prometheus.Counter
	IgnoredTransitions   *prometheus.CounterVec
	CapacityReleases     *prometheus.CounterVec
	QueuePromotions      *prometheus.CounterVec
	ConsumptionDecisions *prometheus.CounterVec
	SecondaryFailures    *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers all metrics on reg. Tests pass a fresh prometheus.NewRegistry().
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),

		WebhookEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callflow_webhook_events_total",
				Help: "Provider events received, by classified kind",
			},
			[]string{"kind"}, // ringing, answered, ended, end_of_call_report, transcript, conversation_update, unknown
		),
		WebhookRejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callflow_webhook_rejections_total",
				Help: "Provider webhooks rejected before dispatch",
			},
			[]string{"reason"}, // bad_secret, too_large, unreadable, invalid_payload
		),
		CorrelationMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "callflow_correlation_misses_total",
			Help: "Events whose external call id matched no call job",
		}),
		IgnoredTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callflow_ignored_transitions_total",
				Help: "Status updates dropped because they would move a call backwards",
			},
			[]string{"from", "to"},
		),
		CapacityReleases: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callflow_capacity_releases_total",
				Help: "Caller identity capacity releases",
			},
			[]string{"result"}, // released, noop, error
		),
		QueuePromotions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callflow_queue_promotions_total",
				Help: "Queue promotion attempts",
			},
			[]string{"result"}, // promoted, empty, no_capacity, lost_race, initiate_failed, error
		),
		ConsumptionDecisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callflow_consumption_decisions_total",
				Help: "Consumption policy outcomes",
			},
			[]string{"result"}, // consumed, not_consumed, already_evaluated, error
		),
		SecondaryFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callflow_secondary_failures_total",
				Help: "Side-effect failures that did not fail the webhook response",
			},
			[]string{"step"},
		),

		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request count and latency per route pattern.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}
