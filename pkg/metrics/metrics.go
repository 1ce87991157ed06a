// Package metrics registers the pipeline's Prometheus collectors. They are
// served at /metrics by cmd/api.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "scene_orchestrator"

var (
	// TurnsTotal counts chat turns. Labels: operation, outcome (ok or an error code).
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "turns",
		Name:      "total",
		Help:      "Chat turns by routed operation and outcome",
	}, []string{"operation", "outcome"})

	// SynthesisSeconds measures provider round trips including repairs.
	SynthesisSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "synthesis",
		Name:      "duration_seconds",
		Help:      "Time to produce validated scene code",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90},
	}, []string{"kind"})

	// RepairsTotal counts validator findings. Labels: rule, fixed.
	RepairsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sandbox",
		Name:      "violations_total",
		Help:      "Sandbox contract violations found, by rule and whether they were repaired",
	}, []string{"rule", "fixed"})

	// LoaderOutcomes counts component loads. Labels: result (component or a fallback kind).
	LoaderOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "loader",
		Name:      "loads_total",
		Help:      "Component loads by result",
	}, []string{"result"})

	// SceneErrorFlags counts scenes flipped to the error state by the loader.
	SceneErrorFlags = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "loader",
		Name:      "error_flags_total",
		Help:      "Scenes flagged for rebuild after a failed load",
	})

	// RebuildsTotal counts rebuild attempts. Labels: outcome.
	RebuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rebuild",
		Name:      "total",
		Help:      "Scene rebuilds by outcome",
	}, []string{"outcome"})

	// Subscribers tracks open websocket connections.
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "subscribers",
		Help:      "Open websocket subscriptions",
	})
)
