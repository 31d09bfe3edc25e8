// Package metrics provides a Prometheus implementation of tokenlife.Metrics.
//
// Collectors are registered on the Registerer passed to NewPrometheusRecorder,
// never on the global registry, so several managers can coexist in one process.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	tl "github.com/panyam/tokenlife"
)

// PrometheusRecorder implements tl.Metrics
type PrometheusRecorder struct {
	refreshes       *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
	shared          prometheus.Counter
	events          *prometheus.CounterVec
}

// NewPrometheusRecorder creates the collectors and registers them on reg
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tokenlife",
			Name:      "refresh_total",
			Help:      "Token renewals by outcome.",
		}, []string{"outcome"}),
		refreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tokenlife",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of token renewal round trips.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		shared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tokenlife",
			Name:      "refresh_shared_total",
			Help:      "Refresh callers that received a result shared with other callers.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tokenlife",
			Name:      "events_total",
			Help:      "Lifecycle events by kind.",
		}, []string{"kind"}),
	}

	for _, c := range []prometheus.Collector{r.refreshes, r.refreshDuration, r.shared, r.events} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *PrometheusRecorder) ObserveRefresh(outcome string, elapsed time.Duration) {
	r.refreshes.WithLabelValues(outcome).Inc()
	r.refreshDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (r *PrometheusRecorder) RefreshDeduplicated() {
	r.shared.Inc()
}

func (r *PrometheusRecorder) ObserveEvent(kind tl.EventKind) {
	r.events.WithLabelValues(string(kind)).Inc()
}
