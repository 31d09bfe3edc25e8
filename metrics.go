package tokenlife

import "time"

// Refresh outcomes reported to Metrics
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTimeout = "timeout"
	OutcomeStale   = "stale"
)

// Metrics receives counters from the Manager and Monitor.
// See the metrics package for a Prometheus implementation.
type Metrics interface {
	// ObserveRefresh is called once per network renewal
	ObserveRefresh(outcome string, elapsed time.Duration)

	// RefreshDeduplicated is called for each caller whose renewal result was
	// shared with at least one other caller
	RefreshDeduplicated()

	// ObserveEvent is called for every emitted event
	ObserveEvent(kind EventKind)
}

type noopMetrics struct{}

func (noopMetrics) ObserveRefresh(string, time.Duration) {}
func (noopMetrics) RefreshDeduplicated()                 {}
func (noopMetrics) ObserveEvent(EventKind)               {}
