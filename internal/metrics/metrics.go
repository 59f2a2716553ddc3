package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the payment gate.
type Metrics struct {
	// Challenge/decision metrics
	ChallengesTotal       *prometheus.CounterVec
	DecisionsGrantedTotal *prometheus.CounterVec
	DecisionsDeniedTotal  *prometheus.CounterVec
	DecisionDuration      *prometheus.HistogramVec

	// Replay guard metrics
	ReplayRejectionsTotal *prometheus.CounterVec
	NonceEvictionsTotal   prometheus.Counter

	// Facilitator metrics
	FacilitatorCallsTotal   *prometheus.CounterVec
	FacilitatorCallDuration *prometheus.HistogramVec
	FacilitatorRetriesTotal prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		ChallengesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatecharge_challenges_total",
				Help: "Total number of 402 challenges issued",
			},
			[]string{"resource"},
		),
		DecisionsGrantedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatecharge_decisions_granted_total",
				Help: "Total number of granted access decisions",
			},
			[]string{"resource", "network"},
		),
		DecisionsDeniedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatecharge_decisions_denied_total",
				Help: "Total number of denied access decisions",
			},
			[]string{"resource", "reason"},
		),
		DecisionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatecharge_decision_duration_seconds",
				Help:    "Time taken to resolve a gated request to a terminal decision",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"resource"},
		),
		ReplayRejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatecharge_replay_rejections_total",
				Help: "Total number of proofs rejected for nonce reuse",
			},
			[]string{"resource"},
		),
		NonceEvictionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gatecharge_nonce_evictions_total",
				Help: "Total number of expired nonce records evicted",
			},
		),
		FacilitatorCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatecharge_facilitator_calls_total",
				Help: "Total number of facilitator settlement calls",
			},
			[]string{"outcome"},
		),
		FacilitatorCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatecharge_facilitator_call_duration_seconds",
				Help:    "Duration of facilitator settlement calls",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"outcome"},
		),
		FacilitatorRetriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gatecharge_facilitator_retries_total",
				Help: "Total number of facilitator call retries",
			},
		),
	}
}

// ObserveDecision records the duration of a resolved gate decision.
func (m *Metrics) ObserveDecision(resource string, start time.Time) {
	if m == nil {
		return
	}
	m.DecisionDuration.WithLabelValues(resource).Observe(time.Since(start).Seconds())
}

// RecordChallenge increments the challenge counter.
func (m *Metrics) RecordChallenge(resource string) {
	if m == nil {
		return
	}
	m.ChallengesTotal.WithLabelValues(resource).Inc()
}

// RecordGrant increments the granted decision counter.
func (m *Metrics) RecordGrant(resource, network string) {
	if m == nil {
		return
	}
	m.DecisionsGrantedTotal.WithLabelValues(resource, network).Inc()
}

// RecordDenial increments the denied decision counter.
func (m *Metrics) RecordDenial(resource, reason string) {
	if m == nil {
		return
	}
	m.DecisionsDeniedTotal.WithLabelValues(resource, reason).Inc()
}

// RecordReplay increments the replay rejection counter.
func (m *Metrics) RecordReplay(resource string) {
	if m == nil {
		return
	}
	m.ReplayRejectionsTotal.WithLabelValues(resource).Inc()
}

// RecordNonceEvictions adds evicted nonce records to the eviction counter.
func (m *Metrics) RecordNonceEvictions(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.NonceEvictionsTotal.Add(float64(n))
}

// ObserveFacilitatorCall records a facilitator call outcome and duration.
func (m *Metrics) ObserveFacilitatorCall(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.FacilitatorCallsTotal.WithLabelValues(outcome).Inc()
	m.FacilitatorCallDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// RecordFacilitatorRetry increments the facilitator retry counter.
func (m *Metrics) RecordFacilitatorRetry() {
	if m == nil {
		return
	}
	m.FacilitatorRetriesTotal.Inc()
}
