package metrics

import (
	"time"
)

// MeasureDBQuery times one repository query. Deferred at the top of a
// query method:
//
//	defer metrics.MeasureDBQuery(r.metrics, "get_actor", "postgres")()
//
// A nil collector turns the call into a no-op, so repositories built
// without metrics need no guards.
func MeasureDBQuery(m *Metrics, operation, backend string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.ObserveDBQuery(operation, backend, time.Since(start))
	}
}

// RecordDBQuery records an already measured query duration.
func RecordDBQuery(m *Metrics, operation, backend string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ObserveDBQuery(operation, backend, duration)
}
