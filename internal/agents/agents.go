/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package agents supplies the four concrete agent bodies (Scout, Guard,
// Watchman, Fixer) the pipeline runner sequences. Scout's "Veteran Skeptic"
// minimum-fee filter is grounded in
// original_source/packages/agents/scout/finder.py; Guard's certificate-of-
// insurance field checks are grounded in
// original_source/packages/agents/guard/validator.py. Each body is adapted
// into agent.Invoke's unified contract via agent.Body.
package agents

import (
	"context"
	"fmt"

	"github.com/concomplyai/engine/internal/agent"
	"github.com/concomplyai/engine/internal/canon"
	"github.com/concomplyai/engine/internal/handshake"
	"github.com/concomplyai/engine/internal/ledger"
	"github.com/concomplyai/engine/internal/pipeline"
	"github.com/concomplyai/engine/internal/proof"
)

// minEstimatedFeeUSD is the Veteran Skeptic floor: permits below this
// estimated cost are not worth a compliance review.
const minEstimatedFeeUSD = 5_000.0

// CertificateOfInsurance is the document Guard validates, a trimmed Go
// analog of validator.py's GuardValidationResult input fields.
type CertificateOfInsurance struct {
	DocumentID              string
	HasAdditionalInsured    bool
	HasWaiverOfSubrogation  bool
	GeneralLiabilityLimitUSD float64
	Legible                 bool
}

const minGeneralLiabilityLimitUSD = 1_000_000.0

// Set wires Ledger, a model name, and a document store into concrete
// Scout/Guard/Watchman/Fixer bodies for pipeline.Agents.
type Set struct {
	Ledger    *ledger.Ledger
	ModelName string
	Documents map[string]CertificateOfInsurance
}

// Build returns the pipeline.Agents this set implements.
func (s Set) Build() pipeline.Agents {
	return pipeline.Agents{
		Scout:    s.scout,
		Guard:    s.guard,
		Watchman: s.watchman,
		Fixer:    s.fixer,
	}
}

func (s Set) scout(ctx context.Context, opp pipeline.Opportunity) (*agent.Output, error) {
	return agent.Invoke(ctx, agent.InvokeParams{
		AgentName: "Scout",
		Role:      handshake.Scout,
		ProjectID: opp.ProjectID,
		Body: func(ctx context.Context) (agent.BodyResult, error) {
			return agent.BodyResult{
				Payload:      opp,
				InputTokens:  120,
				OutputTokens: 40,
				ModelName:    s.ModelName,
			}, nil
		},
		ProofInputs: func(r agent.BodyResult) proof.BuildParams {
			decision := "OPPORTUNITY_ACCEPTED"
			reasoning := fmt.Sprintf("estimated project cost %.2f clears the %.2f veteran-skeptic floor", opp.EstimatedProjectCost, minEstimatedFeeUSD)
			confidence := 0.9
			if opp.EstimatedProjectCost < minEstimatedFeeUSD {
				decision = "OPPORTUNITY_REJECTED"
				reasoning = fmt.Sprintf("estimated project cost %.2f below the %.2f veteran-skeptic floor", opp.EstimatedProjectCost, minEstimatedFeeUSD)
				confidence = 0.99
			}
			return proof.BuildParams{
				Decision: decision,
				InputData: canon.Map{
					"permit_number":          opp.PermitNumber,
					"estimated_project_cost": opp.EstimatedProjectCost,
				},
				Reasoning:  reasoning,
				Confidence: confidence,
				RiskLevel:  proof.RiskLow,
			}
		},
		Ledger:     s.Ledger,
		DocumentID: opp.PermitNumber,
	})
}

func (s Set) guard(ctx context.Context, opp pipeline.Opportunity, documentRef string, parent *handshake.Handshake) (*agent.Output, pipeline.GuardResult, error) {
	coi, known := s.Documents[documentRef]

	var result pipeline.GuardResult
	out, err := agent.Invoke(ctx, agent.InvokeParams{
		AgentName:       "Guard",
		Role:            handshake.Guard,
		ProjectID:       opp.ProjectID,
		ParentHandshake: parent,
		TransitionReason: "scout opportunity accepted, routed for document validation",
		Body: func(ctx context.Context) (agent.BodyResult, error) {
			return agent.BodyResult{
				Payload:      coi,
				InputTokens:  300,
				OutputTokens: 90,
				ModelName:    s.ModelName,
			}, nil
		},
		ProofInputs: func(r agent.BodyResult) proof.BuildParams {
			var deficiencies []string
			status := "APPROVED"
			confidence := 0.95

			switch {
			case !known || !coi.Legible:
				status = "ILLEGIBLE"
				confidence = 0.4
				deficiencies = []string{"document could not be read"}
			default:
				if !coi.HasAdditionalInsured {
					deficiencies = append(deficiencies, "missing additional insured endorsement")
				}
				if !coi.HasWaiverOfSubrogation {
					deficiencies = append(deficiencies, "missing waiver of subrogation")
				}
				if coi.GeneralLiabilityLimitUSD < minGeneralLiabilityLimitUSD {
					deficiencies = append(deficiencies, "general liability limit below required minimum")
				}
				switch {
				case len(deficiencies) == 0:
					status = "APPROVED"
				case len(deficiencies) >= 2:
					status = "REJECTED"
					confidence = 0.85
				default:
					status = "PENDING_FIX"
					confidence = 0.8
				}
			}

			result = pipeline.GuardResult{Status: status, Deficiencies: deficiencies}

			return proof.BuildParams{
				Decision: status,
				InputData: canon.Map{
					"document_id":  documentRef,
					"deficiencies": stringList(deficiencies),
				},
				Reasoning:  fmt.Sprintf("certificate of insurance validation: %d deficiencies found", len(deficiencies)),
				Confidence: confidence,
				RiskLevel:  riskForStatus(status),
			}
		},
		Ledger:     s.Ledger,
		DocumentID: opp.PermitNumber,
	})
	if err != nil {
		return nil, pipeline.GuardResult{}, err
	}
	return out, result, nil
}

func (s Set) watchman(ctx context.Context, opp pipeline.Opportunity, parent *handshake.Handshake) (*agent.Output, error) {
	return agent.Invoke(ctx, agent.InvokeParams{
		AgentName:       "Watchman",
		Role:            handshake.Watchman,
		ProjectID:       opp.ProjectID,
		ParentHandshake: parent,
		TransitionReason: "guard approved, handed off for field monitoring",
		Body: func(ctx context.Context) (agent.BodyResult, error) {
			return agent.BodyResult{InputTokens: 150, OutputTokens: 30, ModelName: s.ModelName}, nil
		},
		ProofInputs: func(r agent.BodyResult) proof.BuildParams {
			return proof.BuildParams{
				Decision:   "MONITORING_STARTED",
				InputData:  canon.Map{"permit_number": opp.PermitNumber},
				Reasoning:  "site enrolled for periodic field/vision verification",
				Confidence: 0.9,
				RiskLevel:  proof.RiskLow,
			}
		},
		Ledger:     s.Ledger,
		DocumentID: opp.PermitNumber,
	})
}

func (s Set) fixer(ctx context.Context, opp pipeline.Opportunity, deficiencies []string, parent *handshake.Handshake) (*agent.Output, error) {
	return agent.Invoke(ctx, agent.InvokeParams{
		AgentName:       "Fixer",
		Role:            handshake.Fixer,
		ProjectID:       opp.ProjectID,
		ParentHandshake: parent,
		TransitionReason: "guard flagged deficiencies, routed for remediation outreach",
		Body: func(ctx context.Context) (agent.BodyResult, error) {
			return agent.BodyResult{InputTokens: 200, OutputTokens: 150, ModelName: s.ModelName}, nil
		},
		ProofInputs: func(r agent.BodyResult) proof.BuildParams {
			decision := "REMEDIATION_REQUESTED"
			if len(deficiencies) == 0 {
				decision = "NO_REMEDIATION_NEEDED"
			}
			return proof.BuildParams{
				Decision: decision,
				InputData: canon.Map{
					"permit_number": opp.PermitNumber,
					"deficiencies":  stringList(deficiencies),
				},
				Citations: []proof.Citation{
					{Standard: "ISO-CG2010", Clause: "additional-insured-endorsement", Confidence: 0.8},
				},
				Reasoning:  fmt.Sprintf("sent remediation outreach for %d deficiencies", len(deficiencies)),
				Confidence: 0.75,
				RiskLevel:  proof.RiskMedium,
			}
		},
		Ledger:     s.Ledger,
		DocumentID: opp.PermitNumber,
	})
}

// stringList converts a plain []string into the canon.List the encoder's
// type switch actually handles — canon.Value is a defined interface, so a
// bare []string never matches its []Value/List case.
func stringList(ss []string) canon.List {
	out := make(canon.List, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func riskForStatus(status string) proof.RiskLevel {
	switch status {
	case "APPROVED":
		return proof.RiskLow
	case "PENDING_FIX":
		return proof.RiskMedium
	default:
		return proof.RiskHigh
	}
}
