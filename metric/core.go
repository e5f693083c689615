package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gateway"

// Metrics contains the gateway runtime and HTTP metrics
type Metrics struct {
	ServiceState        *prometheus.GaugeVec
	MessagesProcessed   *prometheus.CounterVec
	ConsecutiveFailures *prometheus.GaugeVec
	Pauses              *prometheus.CounterVec
	SessionRestarts     *prometheus.CounterVec
	Published           *prometheus.CounterVec
	HTTPRequests        *prometheus.CounterVec
	ReplyWait           *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "service",
				Name:      "state",
				Help:      "Runtime state (0=starting, 1=running, 2=paused, 3=stopping, 4=stopped)",
			},
			[]string{"service"},
		),

		MessagesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "processed_total",
				Help:      "Messages consumed, by outcome (acked, ignored, refused, failed)",
			},
			[]string{"service", "outcome"},
		),

		ConsecutiveFailures: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "consecutive_failures",
				Help:      "Current run of processing failures without a success",
			},
			[]string{"service"},
		),

		Pauses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "service",
				Name:      "pauses_total",
				Help:      "Times the runtime paused itself after reaching the failure limit",
			},
			[]string{"service"},
		),

		SessionRestarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "consumer",
				Name:      "session_restarts_total",
				Help:      "Consumption sessions reopened, by reason",
			},
			[]string{"service", "stream", "reason"},
		),

		Published: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "published_total",
				Help:      "Envelopes published, by kind",
			},
			[]string{"service", "kind"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Webhook requests handled, by endpoint type and status code",
			},
			[]string{"service", "type", "code"},
		),

		ReplyWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "reply",
				Name:      "wait_seconds",
				Help:      "Time spent waiting for correlated replies",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service", "outcome"},
		),
	}
}

func (c *Metrics) mustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		c.ServiceState,
		c.MessagesProcessed,
		c.ConsecutiveFailures,
		c.Pauses,
		c.SessionRestarts,
		c.Published,
		c.HTTPRequests,
		c.ReplyWait,
	)
}

// RecordServiceState updates the runtime state gauge
func (c *Metrics) RecordServiceState(service string, state int) {
	c.ServiceState.WithLabelValues(service).Set(float64(state))
}

// RecordMessageOutcome counts one consumed message
func (c *Metrics) RecordMessageOutcome(service, outcome string) {
	c.MessagesProcessed.WithLabelValues(service, outcome).Inc()
}

// RecordConsecutiveFailures updates the failure counter gauge
func (c *Metrics) RecordConsecutiveFailures(service string, n int) {
	c.ConsecutiveFailures.WithLabelValues(service).Set(float64(n))
}

// RecordPause increments the pause counter
func (c *Metrics) RecordPause(service string) {
	c.Pauses.WithLabelValues(service).Inc()
}

// RecordSessionRestart counts a reopened consumption session
func (c *Metrics) RecordSessionRestart(service, stream, reason string) {
	c.SessionRestarts.WithLabelValues(service, stream, reason).Inc()
}

// RecordPublished counts a published envelope
func (c *Metrics) RecordPublished(service, kind string) {
	c.Published.WithLabelValues(service, kind).Inc()
}

// RecordHTTPRequest counts a handled webhook request
func (c *Metrics) RecordHTTPRequest(service, endpointType, code string) {
	c.HTTPRequests.WithLabelValues(service, endpointType, code).Inc()
}

// RecordReplyWait observes how long a request waited for its reply
func (c *Metrics) RecordReplyWait(service, outcome string, d time.Duration) {
	c.ReplyWait.WithLabelValues(service, outcome).Observe(d.Seconds())
}
