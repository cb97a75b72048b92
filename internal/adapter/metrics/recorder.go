// Package metrics exposes booking outcomes as Prometheus counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/neomorfeo/pitlane/internal/domain"
)

const namespace = "pitlane"

// Recorder counts operation outcomes. It owns its registry so tests and
// multiple servers in one process do not collide on the default one.
type Recorder struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	degraded   prometheus.Counter
}

// Compile-time check.
var _ domain.OutcomeRecorder = (*Recorder)(nil)

// NewRecorder creates a recorder with Go runtime and process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Recorder{
		registry: reg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_operations_total",
			Help:      "Booking operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		degraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancel_degraded_total",
			Help:      "Cancellations whose slot release failed and await reconciliation.",
		}),
	}
	reg.MustRegister(r.operations, r.degraded)
	return r
}

// Record implements domain.OutcomeRecorder.
func (r *Recorder) Record(operation, outcome string) {
	r.operations.WithLabelValues(operation, outcome).Inc()
	if outcome == domain.OutcomeDegraded {
		r.degraded.Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
