package relay

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const MetricsSubsystem = "relay"

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of inbound events delivered to subscriptions.
	EventsReceived metrics.Counter
	// Number of inbound frames dropped (malformed, unknown subscription,
	// failed validation).
	FramesDropped metrics.Counter
	// Number of events accepted by the relay.
	PublishesAccepted metrics.Counter
	// Number of events rejected by the relay or timed out.
	PublishesFailed metrics.Counter
}

// PrometheusMetrics returns Metrics built using the Prometheus client library.
func PrometheusMetrics(namespace string) *Metrics {
	return &Metrics{
		EventsReceived: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "events_received",
			Help:      "Number of inbound events delivered to subscriptions.",
		}, []string{}),
		FramesDropped: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "frames_dropped",
			Help:      "Number of inbound frames dropped.",
		}, []string{}),
		PublishesAccepted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "publishes_accepted",
			Help:      "Number of events accepted by the relay.",
		}, []string{}),
		PublishesFailed: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "publishes_failed",
			Help:      "Number of events rejected by the relay or timed out.",
		}, []string{}),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		EventsReceived:    discard.NewCounter(),
		FramesDropped:     discard.NewCounter(),
		PublishesAccepted: discard.NewCounter(),
		PublishesFailed:   discard.NewCounter(),
	}
}
