// Package metrics defines the Prometheus instrumentation SPEC_FULL.md §4.A
// adds as pure ambient observability around the attempt orchestrator:
// pp_attempts_total{outcome}, pp_verify_duration_seconds, and
// pp_final_patch_bytes. None of these counters feed back into control
// flow; they exist purely so a session can be scraped the way
// hashicorp-nomad-autoscaler and vjache-cie instrument their own
// long-running loops with client_golang.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles the collectors one orchestrator session updates. A zero
// Registry is not usable; call NewRegistry.
type Registry struct {
	AttemptsTotal        *prometheus.CounterVec
	VerifyDurationSeconds prometheus.Histogram
	FinalPatchBytes      prometheus.Gauge
}

// NewRegistry constructs a Registry and registers its collectors with reg.
// Passing a fresh prometheus.NewRegistry() (rather than the global
// DefaultRegisterer) keeps repeated sessions in the same process from
// colliding on duplicate registration, which matters for tests that build
// more than one orchestrator.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pp",
			Name:      "attempts_total",
			Help:      "Total attempts processed by the orchestrator, labeled by outcome.",
		}, []string{"outcome"}),
		VerifyDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pp",
			Name:      "verify_duration_seconds",
			Help:      "Duration of each verification command run.",
			Buckets:   prometheus.DefBuckets,
		}),
		FinalPatchBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pp",
			Name:      "final_patch_bytes",
			Help:      "Serialized byte size of the final patch for the most recent successful session.",
		}),
	}

	reg.MustRegister(m.AttemptsTotal, m.VerifyDurationSeconds, m.FinalPatchBytes)

	return m
}

// RecordAttempt increments the attempts counter for outcome.
func (m *Registry) RecordAttempt(outcome string) {
	if m == nil {
		return
	}

	m.AttemptsTotal.WithLabelValues(outcome).Inc()
}

// RecordVerifyDuration observes one verification run's wall-clock duration.
func (m *Registry) RecordVerifyDuration(seconds float64) {
	if m == nil {
		return
	}

	m.VerifyDurationSeconds.Observe(seconds)
}

// RecordFinalPatchBytes sets the gauge to the final patch's serialized size.
func (m *Registry) RecordFinalPatchBytes(n int) {
	if m == nil {
		return
	}

	m.FinalPatchBytes.Set(float64(n))
}
