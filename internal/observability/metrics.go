// Package observability provides Prometheus metrics for the decision engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// DECISION METRICS
// =============================================================================

var (
	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brain_decisions_total",
			Help: "Total number of decision cycles",
		},
		[]string{"provenance", "status"}, // status: success or an error code
	)

	decisionDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brain_decision_duration_seconds",
			Help:    "Decision cycle duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"status"},
	)

	commitConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "brain_commit_conflicts_total",
			Help: "Session commits that lost an optimistic version check",
		},
	)
)

// =============================================================================
// RULE METRICS
// =============================================================================

var ruleVerdictsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "brain_rule_verdicts_total",
		Help: "Non-accept verdicts by rule",
	},
	[]string{"rule", "kind", "reason"},
)

// =============================================================================
// POLICY METRICS
// =============================================================================

var (
	policyCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brain_policy_calls_total",
			Help: "Total number of policy module calls",
		},
		[]string{"status"}, // status: success, error, timeout
	)

	policyDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "brain_policy_duration_seconds",
			Help:    "Policy module call duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordDecision records the outcome of one Decide call.
func RecordDecision(provenance string, status string, durationMS int) {
	decisionsTotal.WithLabelValues(provenance, status).Inc()
	decisionDurationSeconds.WithLabelValues(status).Observe(float64(durationMS) / 1000.0)
}

// RecordCommitConflict counts one lost compare-and-set.
func RecordCommitConflict() {
	commitConflictsTotal.Inc()
}

// RecordRuleVerdict records a REJECT or MODIFY issued by a rule.
func RecordRuleVerdict(rule string, kind string, reason string) {
	ruleVerdictsTotal.WithLabelValues(rule, kind, reason).Inc()
}

// RecordPolicyCall records policy module call metrics.
func RecordPolicyCall(status string, durationMS int) {
	policyCallsTotal.WithLabelValues(status).Inc()
	policyDurationSeconds.Observe(float64(durationMS) / 1000.0)
}
