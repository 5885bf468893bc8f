package kafka

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var _ BrokerMetrics = (*PrometheusMetrics)(nil)

// PrometheusMetrics counts broker traffic per topic.
type PrometheusMetrics struct {
	published *prometheus.CounterVec
	consumed  *prometheus.CounterVec
	pubErrors *prometheus.CounterVec
	conErrors *prometheus.CounterVec
}

// NewPrometheusMetrics registers the broker counters on the default
// registry. Call it once per process.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	return &PrometheusMetrics{
		published: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_messages_published_total",
			Help:      "Messages successfully published, per topic.",
		}, []string{"topic"}),
		consumed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_messages_consumed_total",
			Help:      "Messages successfully consumed, per topic.",
		}, []string{"topic"}),
		pubErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_publish_errors_total",
			Help:      "Publish failures, per topic.",
		}, []string{"topic"}),
		conErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_consume_errors_total",
			Help:      "Consume failures, per topic.",
		}, []string{"topic"}),
	}
}

func (m *PrometheusMetrics) IncMessagePublished(ctx context.Context, topic string) {
	m.published.WithLabelValues(topic).Inc()
}

func (m *PrometheusMetrics) IncMessageConsumed(ctx context.Context, topic string) {
	m.consumed.WithLabelValues(topic).Inc()
}

func (m *PrometheusMetrics) IncPublishError(ctx context.Context, topic string) {
	m.pubErrors.WithLabelValues(topic).Inc()
}

func (m *PrometheusMetrics) IncConsumeError(ctx context.Context, topic string) {
	m.conErrors.WithLabelValues(topic).Inc()
}
