/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package metrics defines the Prometheus metrics the engine exposes.
//
// All metrics are registered with the default Prometheus registerer so they
// are served automatically wherever a caller mounts promhttp.Handler().
//
// Metric naming follows Prometheus conventions:
//   - complyengine_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// DecisionsTotal counts agent decisions by agent name and outcome status.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "complyengine_decisions_total",
			Help: "Total number of agent decisions by agent and outcome status.",
		},
		[]string{"agent", "status"},
	)

	// DecisionDurationSeconds is a histogram of per-agent-step duration.
	DecisionDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "complyengine_decision_duration_seconds",
			Help:    "Duration of a single agent decision in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"agent"},
	)

	// TokensUsedTotal counts tokens consumed by agent and model.
	TokensUsedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "complyengine_tokens_used_total",
			Help: "Total tokens consumed by agent decisions.",
		},
		[]string{"agent", "model"},
	)

	// CostUSDTotal accumulates ledger cost by agent.
	CostUSDTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "complyengine_cost_usd_total",
			Help: "Total USD cost charged to the ledger, by agent.",
		},
		[]string{"agent"},
	)

	// ChainOutcomesTotal counts completed AuditChains by terminal outcome.
	ChainOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "complyengine_chain_outcomes_total",
			Help: "Total AuditChains completed, by outcome.",
		},
		[]string{"outcome"},
	)

	// BreakerStateChangesTotal counts circuit-breaker state transitions.
	BreakerStateChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "complyengine_breaker_state_changes_total",
			Help: "Total circuit-breaker state transitions, by endpoint and destination state.",
		},
		[]string{"endpoint", "state"},
	)

	// RetriesTotal counts retried external calls by endpoint.
	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "complyengine_external_call_retries_total",
			Help: "Total retries issued by the resilient call wrapper, by endpoint.",
		},
		[]string{"endpoint"},
	)

	// WebhookDeliveriesTotal counts webhook delivery attempts by outcome.
	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "complyengine_webhook_deliveries_total",
			Help: "Total webhook delivery attempts, by terminal outcome.",
		},
		[]string{"outcome"},
	)

	// QueueDepth is the current number of tasks waiting in a named queue.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "complyengine_queue_depth",
			Help: "Number of tasks currently queued, by queue name.",
		},
		[]string{"queue"},
	)

	// ActiveDecisions is the number of agent decisions currently executing.
	ActiveDecisions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "complyengine_active_decisions",
			Help: "Number of agent decisions currently executing.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		DecisionsTotal,
		DecisionDurationSeconds,
		TokensUsedTotal,
		CostUSDTotal,
		ChainOutcomesTotal,
		BreakerStateChangesTotal,
		RetriesTotal,
		WebhookDeliveriesTotal,
		QueueDepth,
		ActiveDecisions,
	)
}

// RecordDecision records metrics for one completed agent decision.
func RecordDecision(agent, status, model string, duration time.Duration, tokensIn, tokensOut int64, costUSD float64) {
	DecisionsTotal.WithLabelValues(agent, status).Inc()
	DecisionDurationSeconds.WithLabelValues(agent).Observe(duration.Seconds())
	TokensUsedTotal.WithLabelValues(agent, model).Add(float64(tokensIn + tokensOut))
	CostUSDTotal.WithLabelValues(agent).Add(costUSD)
}

// RecordChainOutcome records one AuditChain's terminal outcome.
func RecordChainOutcome(outcome string) {
	ChainOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordBreakerStateChange records a circuit-breaker transition.
func RecordBreakerStateChange(endpoint, state string) {
	BreakerStateChangesTotal.WithLabelValues(endpoint, state).Inc()
}

// RecordRetry records one retried external call.
func RecordRetry(endpoint string) {
	RetriesTotal.WithLabelValues(endpoint).Inc()
}

// RecordWebhookDelivery records one terminal webhook delivery outcome.
func RecordWebhookDelivery(outcome string) {
	WebhookDeliveriesTotal.WithLabelValues(outcome).Inc()
}

// SetQueueDepth publishes a named queue's current depth.
func SetQueueDepth(queue string, depth int) {
	QueueDepth.WithLabelValues(queue).Set(float64(depth))
}
