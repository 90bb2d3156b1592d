package feed

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const MetricsSubsystem = "feed"

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of posts in the feed.
	Size metrics.Gauge
	// Number of remote events discarded as duplicates.
	DuplicatesDropped metrics.Counter
	// Number of remote events dropped for a bad signature.
	InvalidSignatures metrics.Counter
	// Number of posts submitted locally and accepted by the relay.
	PostsSubmitted metrics.Counter
}

// PrometheusMetrics returns Metrics built using the Prometheus client library.
func PrometheusMetrics(namespace string) *Metrics {
	return &Metrics{
		Size: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "size",
			Help:      "Number of posts in the feed.",
		}, []string{}),
		DuplicatesDropped: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "duplicates_dropped",
			Help:      "Number of remote events discarded as duplicates.",
		}, []string{}),
		InvalidSignatures: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "invalid_signatures",
			Help:      "Number of remote events dropped for a bad signature.",
		}, []string{}),
		PostsSubmitted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "posts_submitted",
			Help:      "Number of posts submitted locally and accepted by the relay.",
		}, []string{}),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Size:              discard.NewGauge(),
		DuplicatesDropped: discard.NewCounter(),
		InvalidSignatures: discard.NewCounter(),
		PostsSubmitted:    discard.NewCounter(),
	}
}
