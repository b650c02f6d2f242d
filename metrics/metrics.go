// Package metrics exports the diagnostics the core already maintains
// (tick overruns, frame errors, reconnects, safety-gate attribution)
// through Prometheus, so an operator can scrape the same counters the
// dashboard's /status surfaces.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every metric the control loop updates each tick.
type Registry struct {
	TickOverruns   prometheus.Counter
	TickDurationMS prometheus.Histogram

	ReflexFramesBad  prometheus.Counter
	ReflexFramesOK   prometheus.Counter
	ReflexReconnects prometheus.Counter
	FaceFramesBad    prometheus.Counter
	FaceFramesOK     prometheus.Counter
	FaceReconnects   prometheus.Counter

	SafetyGate *prometheus.CounterVec

	PlannerRetries prometheus.Counter
	WorkerRespawns *prometheus.CounterVec
}

// NewRegistry creates and registers every metric against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		TickOverruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "supervisor", Subsystem: "loop", Name: "tick_overruns_total",
			Help: "Ticks whose work exceeded the 20ms period.",
		}),
		TickDurationMS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "supervisor", Subsystem: "loop", Name: "tick_duration_ms",
			Help:    "Per-tick wall-clock duration in milliseconds.",
			Buckets: []float64{1, 2, 5, 10, 15, 20, 30, 50, 100},
		}),
		ReflexFramesBad: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "supervisor", Subsystem: "reflex", Name: "frames_bad_total",
		}),
		ReflexFramesOK: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "supervisor", Subsystem: "reflex", Name: "frames_ok_total",
		}),
		ReflexReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "supervisor", Subsystem: "reflex", Name: "reconnects_total",
		}),
		FaceFramesBad: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "supervisor", Subsystem: "face", Name: "frames_bad_total",
		}),
		FaceFramesOK: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "supervisor", Subsystem: "face", Name: "frames_ok_total",
		}),
		FaceReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "supervisor", Subsystem: "face", Name: "reconnects_total",
		}),
		SafetyGate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "supervisor", Subsystem: "safety", Name: "gate_attribution_total",
			Help: "Count of ticks attributed to each safety gate tag.",
		}, []string{"tag"}),
		PlannerRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "supervisor", Subsystem: "planner", Name: "retries_total",
		}),
		WorkerRespawns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "supervisor", Subsystem: "workers", Name: "respawns_total",
		}, []string{"worker"}),
	}
	reg.MustRegister(
		m.TickOverruns, m.TickDurationMS,
		m.ReflexFramesBad, m.ReflexFramesOK, m.ReflexReconnects,
		m.FaceFramesBad, m.FaceFramesOK, m.FaceReconnects,
		m.SafetyGate, m.PlannerRetries, m.WorkerRespawns,
	)
	return m
}
