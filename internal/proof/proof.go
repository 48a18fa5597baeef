/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package proof builds, hashes, and verifies DecisionProof records — the
// immutable per-agent decision with attached regulatory citations that
// every agent step in the pipeline emits.
package proof

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/concomplyai/engine/internal/canon"
)

// RiskLevel is the agent's assessed severity of the decision.
type RiskLevel string

const (
	RiskCritical RiskLevel = "CRITICAL"
	RiskHigh     RiskLevel = "HIGH"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskLow      RiskLevel = "LOW"
)

// Citation is a single regulatory-citation entry backing a decision.
type Citation struct {
	Standard       string  `json:"standard"`
	Clause         string  `json:"clause"`
	Interpretation string  `json:"interpretation"`
	Confidence     float64 `json:"confidence"`
}

// DecisionProof is an agent's immutable decision record. It is built once
// via Build and never mutated afterward, except to fill CostUSD post-hoc
// (which is intentionally excluded from the hash input).
type DecisionProof struct {
	DecisionID                string     `json:"decision_id"`
	Timestamp                 time.Time  `json:"timestamp"`
	AgentName                 string     `json:"agent_name"`
	InputData                 canon.Value `json:"input_data"`
	Decision                  string     `json:"decision"`
	Confidence                float64    `json:"confidence"`
	LogicCitations            []Citation `json:"logic_citations"`
	Reasoning                 string     `json:"reasoning"`
	RiskLevel                 RiskLevel  `json:"risk_level"`
	EstimatedFinancialImpact  *float64   `json:"estimated_financial_impact,omitempty"`
	CostUSD                   float64    `json:"cost_usd"`
	ProofHash                 string     `json:"proof_hash"`
}

// BuildParams holds the inputs to Build.
type BuildParams struct {
	AgentName                string
	Decision                 string
	InputData                canon.Value
	Citations                []Citation
	Reasoning                string
	Confidence               float64
	RiskLevel                RiskLevel
	EstimatedFinancialImpact *float64
	Now                      time.Time // caller-supplied clock, for deterministic tests
}

// Build assembles a DecisionProof, stamps decision_id/timestamp, and
// computes proof_hash over the canonical encoding of every field except
// proof_hash and cost_usd, per spec §4.2.
//
// decision_id follows the source format exactly:
// "<agent>-<epoch-seconds>-<hash(input) mod 10000, zero-padded to 4 digits>".
func Build(p BuildParams) (*DecisionProof, error) {
	now := p.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	dp := &DecisionProof{
		Timestamp:                now,
		AgentName:                p.AgentName,
		InputData:                p.InputData,
		Decision:                 p.Decision,
		Confidence:               p.Confidence,
		LogicCitations:           p.Citations,
		Reasoning:                p.Reasoning,
		RiskLevel:                p.RiskLevel,
		EstimatedFinancialImpact: p.EstimatedFinancialImpact,
	}

	inputHash, err := hashValue(p.InputData)
	if err != nil {
		return nil, fmt.Errorf("proof: canonicalize input_data: %w", err)
	}
	dp.DecisionID = fmt.Sprintf("%s-%d-%04d", p.AgentName, now.Unix(), inputHash%10000)

	h, err := hashRecord(dp)
	if err != nil {
		return nil, fmt.Errorf("proof: canonicalize record: %w", err)
	}
	dp.ProofHash = h

	return dp, nil
}

// Verify recomputes proof_hash from p's fields (excluding proof_hash and
// cost_usd) and reports whether it matches p.ProofHash.
func Verify(p *DecisionProof) (bool, error) {
	h, err := hashRecord(p)
	if err != nil {
		return false, err
	}
	return h == p.ProofHash, nil
}

// Issue is a single validation finding surfaced by Validate.
type Issue struct {
	Severity string // CRITICAL | WARNING | ERROR
	Message  string
}

// Validate audits a DecisionProof per spec §4.2, surfacing issues rather
// than failing the caller.
func Validate(p *DecisionProof, now time.Time) ([]Issue, error) {
	var issues []Issue

	ok, err := Verify(p)
	if err != nil {
		return nil, err
	}
	if !ok {
		issues = append(issues, Issue{Severity: "CRITICAL", Message: "proof_hash does not match recomputed hash"})
	}
	if len(p.LogicCitations) == 0 {
		issues = append(issues, Issue{Severity: "WARNING", Message: "no logic citations attached"})
	}
	if p.Confidence < 0.5 {
		issues = append(issues, Issue{Severity: "WARNING", Message: "confidence below 0.5"})
	}
	if len(p.Reasoning) < 10 {
		issues = append(issues, Issue{Severity: "WARNING", Message: "reasoning is under 10 characters"})
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if p.Timestamp.After(now.Add(60 * time.Second)) {
		issues = append(issues, Issue{Severity: "ERROR", Message: "timestamp is more than 60s in the future"})
	}

	return issues, nil
}

// hashRecord canonicalizes every DecisionProof field except ProofHash and
// CostUSD and returns the hex SHA-256 digest.
func hashRecord(p *DecisionProof) (string, error) {
	fields := canon.Map{
		"decision_id":     p.DecisionID,
		"timestamp":       p.Timestamp.UTC().Format(time.RFC3339Nano),
		"agent_name":      p.AgentName,
		"input_data":      p.InputData,
		"decision":        p.Decision,
		"confidence":      p.Confidence,
		"logic_citations": citationsToValue(p.LogicCitations),
		"reasoning":       p.Reasoning,
		"risk_level":      string(p.RiskLevel),
	}
	if p.EstimatedFinancialImpact != nil {
		fields["estimated_financial_impact"] = *p.EstimatedFinancialImpact
	} else {
		fields["estimated_financial_impact"] = nil
	}

	enc, err := canon.Encode(fields)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(enc)
	return hex.EncodeToString(sum[:]), nil
}

func citationsToValue(cs []Citation) canon.List {
	out := make(canon.List, 0, len(cs))
	for _, c := range cs {
		out = append(out, canon.Map{
			"standard":       c.Standard,
			"clause":         c.Clause,
			"interpretation": c.Interpretation,
			"confidence":     c.Confidence,
		})
	}
	return out
}

// hashValue returns a stable uint32 digest of v, used only to derive the
// decision_id suffix (not part of the proof_hash computation).
func hashValue(v canon.Value) (uint32, error) {
	enc, err := canon.Encode(v)
	if err != nil {
		return 0, err
	}
	sum := sha256.Sum256(enc)
	return uint32(sum[0])<<24 | uint32(sum[1])<<16 | uint32(sum[2])<<8 | uint32(sum[3]), nil
}
