// Package telemetry exposes Prometheus metrics for the governance pipeline.
// An outer service scrapes these; this package only registers and records.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for one run orchestrator.
type Metrics struct {
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	Trials *prometheus.CounterVec // outcome: scored|duplicate|pruned|failed

	GateChecks *prometheus.CounterVec // gate: gate1|gate2|gate3, result: pass|fail

	EvaluatorCalls  prometheus.Counter
	IntegrityFaults prometheus.Counter
}

// New creates the collectors and registers them on reg. Pass a dedicated
// registry per run; collectors are not process-global.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stratgate_cache_hits_total",
			Help: "Evaluation cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stratgate_cache_misses_total",
			Help: "Evaluation cache misses",
		}),
		Trials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stratgate_trials_total",
			Help: "Search trials by outcome",
		}, []string{"outcome"}),
		GateChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stratgate_gate_checks_total",
			Help: "Gate evaluations by gate and result",
		}, []string{"gate", "result"}),
		EvaluatorCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stratgate_evaluator_calls_total",
			Help: "Calls made to the external evaluator",
		}),
		IntegrityFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stratgate_integrity_faults_total",
			Help: "Cache fingerprint mismatches and sealing violations",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.CacheHits, m.CacheMisses, m.Trials, m.GateChecks,
			m.EvaluatorCalls, m.IntegrityFaults)
	}
	return m
}

// RecordTrial bumps the trial counter for an outcome label.
func (m *Metrics) RecordTrial(outcome string) {
	if m == nil {
		return
	}
	m.Trials.WithLabelValues(outcome).Inc()
}

// RecordGate bumps the gate counter.
func (m *Metrics) RecordGate(gate string, passed bool) {
	if m == nil {
		return
	}
	result := "fail"
	if passed {
		result = "pass"
	}
	m.GateChecks.WithLabelValues(gate, result).Inc()
}

// RecordCache bumps the hit or miss counter.
func (m *Metrics) RecordCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Inc()
	} else {
		m.CacheMisses.Inc()
	}
}

// RecordEvaluatorCall counts one external evaluator invocation.
func (m *Metrics) RecordEvaluatorCall() {
	if m == nil {
		return
	}
	m.EvaluatorCalls.Inc()
}

// RecordIntegrityFault counts one critical integrity violation.
func (m *Metrics) RecordIntegrityFault() {
	if m == nil {
		return
	}
	m.IntegrityFaults.Inc()
}
