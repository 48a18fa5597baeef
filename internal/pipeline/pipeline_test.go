/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/go-logr/logr"

	"github.com/concomplyai/engine/internal/agent"
	"github.com/concomplyai/engine/internal/canon"
	"github.com/concomplyai/engine/internal/handshake"
	"github.com/concomplyai/engine/internal/ledger"
	"github.com/concomplyai/engine/internal/proof"
)

func step(agentName string, role handshake.AgentRole, target *handshake.AgentRole, l *ledger.Ledger, decision string, confidence float64) func(ctx context.Context, opp Opportunity, parent *handshake.Handshake) (*agent.Output, error) {
	return func(ctx context.Context, opp Opportunity, parent *handshake.Handshake) (*agent.Output, error) {
		return agent.Invoke(ctx, agent.InvokeParams{
			AgentName:       agentName,
			Role:            role,
			TargetRole:      target,
			ProjectID:       opp.ProjectID,
			ParentHandshake: parent,
			ProofInputs: func(r agent.BodyResult) proof.BuildParams {
				return proof.BuildParams{
					Decision:   decision,
					InputData:  canon.Map{"project_id": opp.ProjectID},
					Reasoning:  "synthetic test reasoning over ten characters",
					Confidence: confidence,
					RiskLevel:  proof.RiskLow,
					Citations: []proof.Citation{
						{Standard: "NYC_RCNY_101_08", Clause: "3.3.7", Interpretation: "ok", Confidence: confidence},
					},
				}
			},
			Body: func(ctx context.Context) (agent.BodyResult, error) {
				return agent.BodyResult{InputTokens: 50, OutputTokens: 20, ModelName: "gpt-4o-mini"}, nil
			},
			Ledger: l,
		})
	}
}

func newHarness() (*Runner, *ledger.Ledger) {
	l := ledger.New(ledger.NewRegistry(nil), logr.Discard())
	guardRole := handshake.Guard

	agents := Agents{
		Scout: func(ctx context.Context, opp Opportunity) (*agent.Output, error) {
			return step("Scout", handshake.Scout, &guardRole, l, "OPPORTUNITY_FOUND", 0.9)(ctx, opp, nil)
		},
		Watchman: step("Watchman", handshake.Watchman, nil, l, "MONITORING_STARTED", 0.9),
		Fixer:    step("Fixer", handshake.Fixer, nil, l, "REMEDIATION_SENT", 0.9),
	}

	return New(agents, Config{Ledger: l}, logr.Discard()), l
}

func guardAgent(l *ledger.Ledger, status string, deficiencies []string) func(ctx context.Context, opp Opportunity, docRef string, parent *handshake.Handshake) (*agent.Output, GuardResult, error) {
	return func(ctx context.Context, opp Opportunity, docRef string, parent *handshake.Handshake) (*agent.Output, GuardResult, error) {
		target, reason := handshake.GuardRoute(status)
		out, err := agent.Invoke(ctx, agent.InvokeParams{
			AgentName:        "Guard",
			Role:             handshake.Guard,
			TargetRole:       target,
			ProjectID:        opp.ProjectID,
			ParentHandshake:  parent,
			TransitionReason: reason,
			ProofInputs: func(r agent.BodyResult) proof.BuildParams {
				return proof.BuildParams{
					Decision:   status,
					InputData:  canon.Map{"document": docRef},
					Reasoning:  "document classified by compliance rules engine",
					Confidence: 0.95,
					RiskLevel:  proof.RiskLow,
					Citations: []proof.Citation{
						{Standard: "NYC_RCNY_101_08", Clause: "3.3.7", Interpretation: "ok", Confidence: 0.95},
					},
				}
			},
			Body: func(ctx context.Context) (agent.BodyResult, error) {
				return agent.BodyResult{InputTokens: 40, OutputTokens: 15, ModelName: "gpt-4o-mini"}, nil
			},
			Ledger: l,
		})
		if err != nil {
			return nil, GuardResult{}, err
		}
		return out, GuardResult{Status: status, Deficiencies: deficiencies}, nil
	}
}

func TestRun_S1_HappyPathScoutGuardWatchman(t *testing.T) {
	runner, l := newHarness()
	runner.agents.Guard = guardAgent(l, "APPROVED", nil)

	chain, err := runner.Run(context.Background(), Opportunity{ProjectID: "P-121234567", PermitNumber: "121234567", EstimatedProjectCost: 5_000_000}, "doc-ref")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(chain.ChainLinks) != 3 {
		t.Fatalf("chain length = %d, want 3", len(chain.ChainLinks))
	}
	if chain.Outcome != handshake.OutcomeMonitoringActive {
		t.Fatalf("Outcome = %v, want MONITORING_ACTIVE", chain.Outcome)
	}
	if !chain.VerifyIntegrity() {
		t.Fatal("VerifyIntegrity() = false, want true")
	}
	if chain.TotalCostUSD >= 0.005 {
		t.Fatalf("TotalCostUSD = %v, want < 0.005", chain.TotalCostUSD)
	}
}

func TestRun_S2_TripleHandshakeOnDeficiency(t *testing.T) {
	runner, l := newHarness()
	runner.agents.Guard = guardAgent(l, "PENDING_FIX", []string{"Missing Waiver of Subrogation"})

	chain, err := runner.Run(context.Background(), Opportunity{ProjectID: "P2"}, "doc-ref")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(chain.ChainLinks) != 3 {
		t.Fatalf("chain length = %d, want 3", len(chain.ChainLinks))
	}
	if chain.Outcome != handshake.OutcomePendingFix {
		t.Fatalf("Outcome = %v, want PENDING_FIX", chain.Outcome)
	}
	guardHash := chain.ChainLinks[1].DecisionHash
	fixerParent := chain.ChainLinks[2].ParentHandshakeID
	if fixerParent == nil || *fixerParent != guardHash {
		t.Fatal("fixer handshake should chain to guard's decision_hash")
	}
	if len(chain.ChainLinks[2].DecisionHash) != 64 {
		t.Fatal("fixer's decision hash should be a 64-char hex SHA-256")
	}
}

func TestRun_S3_TamperDetection(t *testing.T) {
	runner, l := newHarness()
	runner.agents.Guard = guardAgent(l, "APPROVED", nil)
	chain, err := runner.Run(context.Background(), Opportunity{ProjectID: "P3"}, "doc-ref")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !chain.VerifyIntegrity() {
		t.Fatal("chain should verify before tampering")
	}

	tampered := "deadbeef00000000000000000000000000000000000000000000000000000000"
	chain.ChainLinks[1].ParentHandshakeID = &tampered

	if chain.VerifyIntegrity() {
		t.Fatal("VerifyIntegrity() should be false after tampering parent_handshake_id")
	}
}

func TestRun_ScoutErrorPropagatesWithPartialChain(t *testing.T) {
	l := ledger.New(ledger.NewRegistry(nil), logr.Discard())
	wantErr := errors.New("permit registry unreachable")
	runner := New(Agents{
		Scout: func(ctx context.Context, opp Opportunity) (*agent.Output, error) {
			return nil, wantErr
		},
	}, Config{Ledger: l}, logr.Discard())

	_, err := runner.Run(context.Background(), Opportunity{ProjectID: "P4"}, "doc-ref")
	if err == nil {
		t.Fatal("Run should propagate the scout error")
	}
	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("error should be a *RunError, got %T", err)
	}
	if runErr.Partial == nil {
		t.Fatal("RunError should carry the partial chain")
	}
}

func TestRun_S5_BudgetOverrunIsWarningNotError(t *testing.T) {
	runner, l := newHarness()
	runner.agents.Guard = guardAgent(l, "APPROVED", nil)
	runner.budgetPerItem = 0.0000001 // force an overrun

	chain, err := runner.Run(context.Background(), Opportunity{ProjectID: "P5"}, "doc-ref")
	if err != nil {
		t.Fatalf("Run should not error in default (non-strict) mode: %v", err)
	}
	if chain.Outcome != handshake.OutcomeMonitoringActive {
		t.Fatalf("Outcome should still be set normally, got %v", chain.Outcome)
	}
	if l.MeetsTarget(runner.budgetPerItem) {
		t.Fatal("MeetsTarget should be false for a forced overrun")
	}
}

func TestRun_StrictBudgetSurfacesError(t *testing.T) {
	runner, l := newHarness()
	runner.agents.Guard = guardAgent(l, "APPROVED", nil)
	runner.budgetPerItem = 0.0000001
	runner.strictBudget = true

	_, err := runner.Run(context.Background(), Opportunity{ProjectID: "P6"}, "doc-ref")
	if err == nil {
		t.Fatal("Run should error in strict budget mode on overrun")
	}
}
