package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the engine's Prometheus counters. Pass a nil registerer
// for unregistered counters (tests, or callers that scrape nothing).
type Metrics struct {
	// Passes counts triggered passes by result (success, failure).
	Passes *prometheus.CounterVec

	// RuleRuns counts individual rule runs by terminal status.
	RuleRuns *prometheus.CounterVec

	// Files counts per-file outcomes (actioned, failed, skipped).
	Files *prometheus.CounterVec
}

// NewMetrics builds and, when reg is non-nil, registers the engine
// counters.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Passes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "engine",
			Name:      "passes_total",
			Help:      "Triggered passes by result.",
		}, []string{"result"}),
		RuleRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "engine",
			Name:      "rule_runs_total",
			Help:      "Rule runs by terminal status.",
		}, []string{"status"}),
		Files: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "engine",
			Name:      "files_total",
			Help:      "Per-file action outcomes.",
		}, []string{"outcome"}),
	}
}
