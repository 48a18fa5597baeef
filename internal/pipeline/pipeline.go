/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package pipeline sequences Scout -> Guard -> (Fixer | Watchman) for one
// work item and assembles the resulting AuditChain. The sequential-stage
// shape (Execute/conversationLoop/finalizeRun) is grounded in the teacher's
// internal/runner/runner.go; the Guard routing table is grounded in
// original_source/packages/core/agent_protocol.py's create_guard_handshake.
package pipeline

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/concomplyai/engine/internal/agent"
	"github.com/concomplyai/engine/internal/handshake"
	"github.com/concomplyai/engine/internal/kinds"
	"github.com/concomplyai/engine/internal/ledger"
	"github.com/concomplyai/engine/internal/metrics"
	"github.com/concomplyai/engine/internal/telemetry"
)

// Opportunity is the domain work item entering the pipeline. Its shape is
// intentionally permit-domain-flavored (see SPEC_FULL.md's scout/finder.py
// grounding) but opaque to the core beyond ProjectID.
type Opportunity struct {
	ProjectID            string
	PermitNumber         string
	EstimatedProjectCost float64
}

// GuardResult is the Guard agent's domain output: a status plus, on
// PENDING_FIX, a list of deficiencies Fixer will act on.
type GuardResult struct {
	Status        string // APPROVED | PENDING_FIX | REJECTED | ILLEGIBLE
	Deficiencies  []string
}

// Agents bundles the four agent bodies the runner sequences. Each returns
// the unified agent.Output for its step. Accepting functions (not an
// interface) keeps call sites terse, per SPEC_FULL.md's adapter-over-
// inheritance design note.
type Agents struct {
	Scout    func(ctx context.Context, opp Opportunity) (*agent.Output, error)
	Guard    func(ctx context.Context, opp Opportunity, docRef string, parent *handshake.Handshake) (*agent.Output, GuardResult, error)
	Watchman func(ctx context.Context, opp Opportunity, parent *handshake.Handshake) (*agent.Output, error)
	Fixer    func(ctx context.Context, opp Opportunity, deficiencies []string, parent *handshake.Handshake) (*agent.Output, error)
}

// RunError wraps a propagated agent error with the partial chain built so
// far, per spec.md §4.7's "never swallow agent errors" rule.
type RunError struct {
	Partial *handshake.AuditChain
	Cause   error
}

func (e *RunError) Error() string { return e.Cause.Error() }
func (e *RunError) Unwrap() error { return e.Cause }

// Runner orchestrates the ordered pipeline. It is safe to call Run
// concurrently: each call owns its own chain accumulator; the only shared
// mutable state is the ledger passed to the agent bodies.
type Runner struct {
	agents           Agents
	log              logr.Logger
	budgetPerItem    float64
	strictBudget     bool
	ledger           *ledger.Ledger
	onBudgetExceeded func(projectID string, total float64)
}

// Config configures a Runner.
type Config struct {
	BudgetPerItemUSD float64
	StrictBudget     bool
	Ledger           *ledger.Ledger
	OnBudgetExceeded func(projectID string, total float64)
}

// New creates a pipeline Runner.
func New(agents Agents, cfg Config, log logr.Logger) *Runner {
	budget := cfg.BudgetPerItemUSD
	if budget <= 0 {
		budget = 0.007
	}
	return &Runner{
		agents:           agents,
		log:              log,
		budgetPerItem:    budget,
		strictBudget:     cfg.StrictBudget,
		ledger:           cfg.Ledger,
		onBudgetExceeded: cfg.OnBudgetExceeded,
	}
}

// Run sequences Scout -> Guard -> (Fixer | Watchman) for one opportunity,
// per spec.md §4.7.
func (r *Runner) Run(ctx context.Context, opp Opportunity, documentRef string) (*handshake.AuditChain, error) {
	start := time.Now()
	chain := &handshake.AuditChain{ProjectID: opp.ProjectID}

	ctx, chainSpan := telemetry.StartChainSpan(ctx, opp.ProjectID)
	defer chainSpan.End()

	_, scoutSpan := telemetry.StartStepSpan(ctx, "Scout", string(handshake.Scout))
	scoutOut, err := r.agents.Scout(ctx, opp)
	if err != nil {
		scoutSpan.End()
		return r.fail(chain, err)
	}
	telemetry.EndStepSpan(scoutSpan, "", scoutOut.ConfidenceScore, scoutOut.CostUSD)
	chain.ChainLinks = append(chain.ChainLinks, scoutOut.Handshake)
	chain.TotalCostUSD += scoutOut.CostUSD

	_, guardSpan := telemetry.StartStepSpan(ctx, "Guard", string(handshake.Guard))
	guardOut, guardResult, err := r.agents.Guard(ctx, opp, documentRef, scoutOut.Handshake)
	if err != nil {
		guardSpan.End()
		return r.fail(chain, err)
	}
	telemetry.EndStepSpan(guardSpan, guardResult.Status, guardOut.ConfidenceScore, guardOut.CostUSD)
	chain.ChainLinks = append(chain.ChainLinks, guardOut.Handshake)
	chain.TotalCostUSD += guardOut.CostUSD

	outcome, err := r.route(ctx, opp, guardResult, guardOut.Handshake, chain)
	if err != nil {
		return r.fail(chain, err)
	}
	chain.Outcome = outcome
	metrics.RecordChainOutcome(string(outcome))

	chain.ProcessingTimeSeconds = time.Since(start).Seconds()

	if chain.TotalCostUSD > r.budgetPerItem {
		if r.onBudgetExceeded != nil {
			r.onBudgetExceeded(opp.ProjectID, chain.TotalCostUSD)
		}
		r.log.Info("per-item budget exceeded", "project", opp.ProjectID, "total_cost_usd", chain.TotalCostUSD, "budget", r.budgetPerItem)
		if r.strictBudget {
			return r.fail(chain, kinds.New(kinds.BudgetExceeded, "per-item budget exceeded in strict mode"))
		}
	}

	return chain, nil
}

// route applies the Guard-status switch of spec.md §4.7 and returns the
// AuditChain outcome.
func (r *Runner) route(ctx context.Context, opp Opportunity, gr GuardResult, guardHandshake *handshake.Handshake, chain *handshake.AuditChain) (handshake.Outcome, error) {
	switch gr.Status {
	case "APPROVED":
		if r.agents.Watchman == nil {
			return handshake.OutcomeBidReady, nil
		}
		_, watchSpan := telemetry.StartStepSpan(ctx, "Watchman", string(handshake.Watchman))
		watchOut, err := r.agents.Watchman(ctx, opp, guardHandshake)
		if err != nil {
			watchSpan.End()
			return "", err
		}
		telemetry.EndStepSpan(watchSpan, "MONITORING", watchOut.ConfidenceScore, watchOut.CostUSD)
		chain.ChainLinks = append(chain.ChainLinks, watchOut.Handshake)
		chain.TotalCostUSD += watchOut.CostUSD
		return handshake.OutcomeMonitoringActive, nil

	case "PENDING_FIX":
		_, fixSpan := telemetry.StartStepSpan(ctx, "Fixer", string(handshake.Fixer))
		fixOut, err := r.agents.Fixer(ctx, opp, gr.Deficiencies, guardHandshake)
		if err != nil {
			fixSpan.End()
			return "", err
		}
		telemetry.EndStepSpan(fixSpan, "PENDING_FIX", fixOut.ConfidenceScore, fixOut.CostUSD)
		chain.ChainLinks = append(chain.ChainLinks, fixOut.Handshake)
		chain.TotalCostUSD += fixOut.CostUSD
		return handshake.OutcomePendingFix, nil

	case "REJECTED":
		_, fixSpan := telemetry.StartStepSpan(ctx, "Fixer", string(handshake.Fixer))
		fixOut, err := r.agents.Fixer(ctx, opp, gr.Deficiencies, guardHandshake)
		if err != nil {
			fixSpan.End()
			// Fixer failing to produce on a REJECTED item is still a
			// terminal REJECTED outcome, not a pipeline failure.
			r.log.Info("fixer did not produce a remediation for a rejected item", "project", opp.ProjectID, "err", err)
			return handshake.OutcomeRejected, nil
		}
		telemetry.EndStepSpan(fixSpan, "REJECTED", fixOut.ConfidenceScore, fixOut.CostUSD)
		chain.ChainLinks = append(chain.ChainLinks, fixOut.Handshake)
		chain.TotalCostUSD += fixOut.CostUSD
		return handshake.OutcomeRejected, nil

	case "ILLEGIBLE":
		return handshake.OutcomeRejected, nil

	default:
		return "", kinds.New(kinds.Internal, "unrecognized guard status: "+gr.Status)
	}
}

func (r *Runner) fail(chain *handshake.AuditChain, err error) (*handshake.AuditChain, error) {
	return nil, &RunError{Partial: chain, Cause: err}
}
