package natsclient

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jetdream/webhook-nats-gateway/metric"
)

// JetStreamMetrics holds Prometheus metrics for the streams and durable
// consumers the gateway touches. It is created once per process and shared by
// every Client built across runtime restarts.
type JetStreamMetrics struct {
	streamMessages *prometheus.GaugeVec
	streamBytes    *prometheus.GaugeVec
	streamState    *prometheus.GaugeVec

	// Consumer values are server-side totals, so they are exported as gauges
	consumerPending     *prometheus.GaugeVec
	consumerDelivered   *prometheus.GaugeVec
	consumerAckFloor    *prometheus.GaugeVec
	consumerRedelivered *prometheus.GaugeVec

	errors *prometheus.CounterVec

	interval time.Duration

	mu        sync.RWMutex
	streams   map[string]jetstream.Stream
	consumers map[string]jetstream.Consumer
}

// NewJetStreamMetrics creates and registers JetStream metrics. Stats are polled
// every interval while a client is connected.
func NewJetStreamMetrics(registry *metric.MetricsRegistry, interval time.Duration) (*JetStreamMetrics, error) {
	if registry == nil {
		return nil, nil
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gateway",
			Subsystem: "jetstream",
			Name:      name,
			Help:      help,
		}, labels)
	}

	m := &JetStreamMetrics{
		streamMessages:      gauge("stream_messages", "Current number of messages in stream", "stream"),
		streamBytes:         gauge("stream_bytes", "Storage bytes used by stream", "stream"),
		streamState:         gauge("stream_state", "Stream state (1=reachable, 0=unreachable)", "stream"),
		consumerPending:     gauge("consumer_pending_messages", "Messages not yet delivered to consumer", "stream", "consumer"),
		consumerDelivered:   gauge("consumer_delivered", "Stream sequence last delivered to consumer", "stream", "consumer"),
		consumerAckFloor:    gauge("consumer_ack_floor", "Stream sequence acknowledged by consumer", "stream", "consumer"),
		consumerRedelivered: gauge("consumer_redelivered_messages", "Messages currently being redelivered", "stream", "consumer"),

		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "jetstream",
			Name:      "operation_errors_total",
			Help:      "Total number of JetStream operation errors",
		}, []string{"operation"}),

		interval:  interval,
		streams:   make(map[string]jetstream.Stream),
		consumers: make(map[string]jetstream.Consumer),
	}

	for name, vec := range map[string]*prometheus.GaugeVec{
		"stream_messages":      m.streamMessages,
		"stream_bytes":         m.streamBytes,
		"stream_state":         m.streamState,
		"consumer_pending":     m.consumerPending,
		"consumer_delivered":   m.consumerDelivered,
		"consumer_ack_floor":   m.consumerAckFloor,
		"consumer_redelivered": m.consumerRedelivered,
	} {
		if err := registry.RegisterGaugeVec("jetstream", name, vec); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterCounterVec("jetstream", "errors", m.errors); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *JetStreamMetrics) trackStream(name string, stream jetstream.Stream) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[name] = stream
	m.streamState.WithLabelValues(name).Set(1)
}

func (m *JetStreamMetrics) trackConsumer(streamName, consumerName string, consumer jetstream.Consumer) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumers[streamName+":"+consumerName] = consumer
}

func (m *JetStreamMetrics) recordError(operation string) {
	if m != nil {
		m.errors.WithLabelValues(operation).Inc()
	}
}

// updateStats refreshes every tracked stream and consumer. Unreachable
// resources are skipped.
func (m *JetStreamMetrics) updateStats(ctx context.Context) {
	if m == nil {
		return
	}

	m.mu.RLock()
	streams := make(map[string]jetstream.Stream, len(m.streams))
	consumers := make([]jetstream.Consumer, 0, len(m.consumers))
	for k, v := range m.streams {
		streams[k] = v
	}
	for _, v := range m.consumers {
		consumers = append(consumers, v)
	}
	m.mu.RUnlock()

	for name, stream := range streams {
		info, err := stream.Info(ctx)
		if err != nil {
			m.streamState.WithLabelValues(name).Set(0)
			continue
		}

		m.streamMessages.WithLabelValues(name).Set(float64(info.State.Msgs))
		m.streamBytes.WithLabelValues(name).Set(float64(info.State.Bytes))
		m.streamState.WithLabelValues(name).Set(1)
	}

	for _, consumer := range consumers {
		info, err := consumer.Info(ctx)
		if err != nil {
			continue
		}

		m.consumerPending.WithLabelValues(info.Stream, info.Name).Set(float64(info.NumPending))
		m.consumerDelivered.WithLabelValues(info.Stream, info.Name).Set(float64(info.Delivered.Stream))
		m.consumerAckFloor.WithLabelValues(info.Stream, info.Name).Set(float64(info.AckFloor.Stream))
		m.consumerRedelivered.WithLabelValues(info.Stream, info.Name).Set(float64(info.NumRedelivered))
	}
}

// startPoller polls stats until the returned cancel function is called.
func (m *JetStreamMetrics) startPoller(ctx context.Context) context.CancelFunc {
	if m == nil {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.updateStats(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	return cancel
}
