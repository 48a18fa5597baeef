/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package health assembles a read-only snapshot of the engine's operational
// state: circuit-breaker states, queue depths, and ledger aggregates. It
// mirrors the teacher's internal/metrics package naming conventions and the
// (now-superseded) internal/api/server.go read-only handler shape: a plain
// struct snapshot, marshaled to JSON by whatever HTTP layer mounts it.
package health

import (
	"time"

	"github.com/concomplyai/engine/internal/ledger"
	"github.com/concomplyai/engine/internal/metrics"
	"github.com/concomplyai/engine/internal/queue"
	"github.com/concomplyai/engine/internal/resilience"
	"github.com/concomplyai/engine/internal/webhook"
)

// BreakerSnapshot is one endpoint's circuit-breaker state.
type BreakerSnapshot struct {
	Endpoint string `json:"endpoint"`
	State    string `json:"state"`
}

// QueueSnapshot is one named queue's depth and in-flight count.
type QueueSnapshot struct {
	Name     string `json:"name"`
	Depth    int    `json:"depth"`
	InFlight int    `json:"in_flight"`
}

// WebhookSnapshot is one subscriber's most recent delivery outcome, the
// supplemented per-subscriber delivery log of SPEC_FULL.md §C.
type WebhookSnapshot struct {
	URL        string    `json:"url"`
	Delivered  bool      `json:"delivered"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// Snapshot is the full read-only health surface returned by Collect.
type Snapshot struct {
	Timestamp time.Time              `json:"timestamp"`
	Breakers  []BreakerSnapshot      `json:"breakers"`
	Queues    []QueueSnapshot        `json:"queues"`
	Ledger    ledger.Aggregate       `json:"ledger"`
	MeetsBudget bool                 `json:"meets_budget"`
	Webhooks  []WebhookSnapshot      `json:"webhooks,omitempty"`
}

// Collector assembles Snapshots from the live engine components. Any field
// left nil is simply omitted from the snapshot (e.g. a deployment with no
// webhook subscribers configured).
type Collector struct {
	Resilience      *resilience.Registry
	Queues          *queue.Registry
	Ledger          *ledger.Ledger
	BudgetPerItem   float64
	WebhookDispatch *webhook.Dispatcher
}

// Collect builds a point-in-time Snapshot.
func (c *Collector) Collect() Snapshot {
	snap := Snapshot{Timestamp: time.Now().UTC()}

	if c.Resilience != nil {
		for _, name := range c.Resilience.Names() {
			ep := c.Resilience.Endpoint(name, resilience.DefaultPolicy())
			snap.Breakers = append(snap.Breakers, BreakerSnapshot{Endpoint: name, State: ep.State()})
		}
	}

	if c.Queues != nil {
		for _, name := range c.Queues.Names() {
			q := c.Queues.Queue(name)
			depth := q.Depth()
			metrics.SetQueueDepth(name, depth)
			snap.Queues = append(snap.Queues, QueueSnapshot{Name: name, Depth: depth, InFlight: q.InFlight()})
		}
	}

	if c.Ledger != nil {
		snap.Ledger = c.Ledger.Aggregate()
		snap.MeetsBudget = c.Ledger.MeetsTarget(c.BudgetPerItem)
	}

	if c.WebhookDispatch != nil {
		for _, d := range c.WebhookDispatch.RecentDeliveries() {
			snap.Webhooks = append(snap.Webhooks, WebhookSnapshot{
				URL:        d.URL,
				Delivered:  d.Delivered,
				Attempts:   d.Attempts,
				LastError:  d.LastError,
				FinishedAt: d.FinishedAt,
			})
		}
	}

	return snap
}
