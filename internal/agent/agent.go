/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package agent normalizes any agent invocation into the unified output
// contract of spec.md §4.6: a DecisionProof, a Handshake, token counts, a
// USD cost, timing, and the domain payload. Grounded in the teacher's
// internal/provider/provider.go Provider/UsageInfo contract, generalized
// from "LLM provider" to "any agent body".
package agent

import (
	"context"
	"time"

	"github.com/concomplyai/engine/internal/handshake"
	"github.com/concomplyai/engine/internal/ledger"
	"github.com/concomplyai/engine/internal/metrics"
	"github.com/concomplyai/engine/internal/proof"
)

// Body is the domain-specific agent logic the adapter wraps. It returns the
// opaque domain payload plus the raw materials the adapter needs to build a
// DecisionProof and charge the ledger.
type Body func(ctx context.Context) (BodyResult, error)

// BodyResult is what an agent body returns before adaptation. Payload
// carries whatever the domain-specific body wants to hand back to the
// caller; ProofInputs (see InvokeParams) turns it into the fields C2 needs.
type BodyResult struct {
	Payload      interface{}
	InputTokens  int64
	OutputTokens int64
	ModelName    string
}

// Output is the unified per-invocation result, per spec.md §4.6.
type Output struct {
	DecisionProof     *proof.DecisionProof
	Handshake         *handshake.Handshake
	InputTokens       int64
	OutputTokens      int64
	CostUSD           float64
	ProcessingTimeMs  int64
	ConfidenceScore   float64
	Payload           interface{}
}

// InvokeParams holds everything needed to run one agent step.
type InvokeParams struct {
	AgentName  string
	Role       handshake.AgentRole
	TargetRole *handshake.AgentRole
	ProjectID  string
	ParentHandshake *handshake.Handshake
	TransitionReason string

	// ProofInputs builds the DecisionProof.BuildParams from the body's
	// result; the adapter fills AgentName itself. Now is left as returned,
	// so a zero Now makes proof.Build stamp the current time.
	ProofInputs func(BodyResult) proof.BuildParams

	Body Body

	Ledger   *ledger.Ledger
	DocumentID string
}

// Invoke times Body, builds a DecisionProof, links a Handshake, records a
// LedgerEntry, and returns the unified Output. Any error from Body
// propagates after a failed LedgerEntry is recorded with success=false, per
// spec.md §4.6 step 6.
func Invoke(ctx context.Context, p InvokeParams) (*Output, error) {
	start := time.Now()
	result, bodyErr := p.Body(ctx)
	elapsedMs := time.Since(start).Milliseconds()

	if bodyErr != nil {
		p.Ledger.Record(p.AgentName, result.ModelName, result.InputTokens, result.OutputTokens, elapsedMs, p.DocumentID, false)
		metrics.RecordDecision(p.AgentName, "ERROR", result.ModelName, time.Duration(elapsedMs)*time.Millisecond, result.InputTokens, result.OutputTokens, 0)
		return nil, bodyErr
	}

	buildParams := p.ProofInputs(result)
	buildParams.AgentName = p.AgentName
	dp, err := proof.Build(buildParams)
	if err != nil {
		p.Ledger.Record(p.AgentName, result.ModelName, result.InputTokens, result.OutputTokens, elapsedMs, p.DocumentID, false)
		metrics.RecordDecision(p.AgentName, "ERROR", result.ModelName, time.Duration(elapsedMs)*time.Millisecond, result.InputTokens, result.OutputTokens, 0)
		return nil, err
	}

	entry := p.Ledger.Record(p.AgentName, result.ModelName, result.InputTokens, result.OutputTokens, elapsedMs, p.DocumentID, true)
	dp.CostUSD = entry.CostUSD
	metrics.RecordDecision(p.AgentName, buildParams.Decision, result.ModelName, time.Duration(elapsedMs)*time.Millisecond, result.InputTokens, result.OutputTokens, entry.CostUSD)

	hs := handshake.Link(handshake.LinkParams{
		Source:       p.Role,
		Target:       p.TargetRole,
		ProjectID:    p.ProjectID,
		DecisionHash: dp.ProofHash,
		Parent:       p.ParentHandshake,
		Reason:       p.TransitionReason,
	})

	return &Output{
		DecisionProof:    dp,
		Handshake:        hs,
		InputTokens:      result.InputTokens,
		OutputTokens:     result.OutputTokens,
		CostUSD:          entry.CostUSD,
		ProcessingTimeMs: elapsedMs,
		ConfidenceScore:  buildParams.Confidence,
		Payload:          result.Payload,
	}, nil
}
