/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package ledger

// ModelSpec describes one priceable model: per-token USD pricing plus the
// accuracy/latency metadata the source's model_registry.py carries for
// budget-aware selection. Pricing and accuracy/latency are seed data, not
// spec invariants — operators override via Config.ModelPricing.
type ModelSpec struct {
	Name             string
	PriceInPerToken  float64
	PriceOutPerToken float64
	Accuracy         float64
	LatencyMs        int
}

// seedModels mirrors original_source/core/model_registry.py's three
// entries. The blended cost_per_1k_tokens there is split into in/out rates
// by a fixed 1:3 ratio (typical published pricing for these model
// families), divided by 1000 for the per-token rate — see SPEC_FULL.md §D.
var seedModels = []ModelSpec{
	{Name: "gpt-4o", PriceInPerToken: 0.0000025, PriceOutPerToken: 0.0000075, Accuracy: 0.92, LatencyMs: 1800},
	{Name: "claude-3-5-sonnet", PriceInPerToken: 0.0000030, PriceOutPerToken: 0.0000090, Accuracy: 0.94, LatencyMs: 1500},
	{Name: "gpt-4o-mini", PriceInPerToken: 0.00000015, PriceOutPerToken: 0.00000045, Accuracy: 0.81, LatencyMs: 700},
}

// Registry holds the model pricing table.
type Registry struct {
	models map[string]ModelSpec
}

// NewRegistry builds a Registry seeded with the source's three models,
// overridden/extended by extra.
func NewRegistry(extra map[string]ModelSpec) *Registry {
	r := &Registry{models: make(map[string]ModelSpec, len(seedModels)+len(extra))}
	for _, m := range seedModels {
		r.models[m.Name] = m
	}
	for name, m := range extra {
		m.Name = name
		r.models[name] = m
	}
	return r
}

// Lookup returns the named model's pricing, falling back to the cheapest
// known model (by blended per-token cost) for an unknown name, per
// spec.md §4.5. ok reports whether the name was recognized.
func (r *Registry) Lookup(name string) (ModelSpec, bool) {
	if m, ok := r.models[name]; ok {
		return m, true
	}
	return r.cheapest(), false
}

func (r *Registry) cheapest() ModelSpec {
	var best ModelSpec
	first := true
	for _, m := range r.models {
		blended := m.PriceInPerToken + m.PriceOutPerToken
		bestBlended := best.PriceInPerToken + best.PriceOutPerToken
		if first || blended < bestBlended {
			best = m
			first = false
		}
	}
	return best
}

// SelectModel returns the cheapest model meeting minAccuracy whose blended
// per-token price is within budget, grounded in
// original_source/core/model_registry.py's select_model fallback-to-cheapest
// logic.
func (r *Registry) SelectModel(budgetPerToken, minAccuracy float64) (ModelSpec, bool) {
	var best ModelSpec
	found := false
	for _, m := range r.models {
		if m.Accuracy < minAccuracy {
			continue
		}
		blended := m.PriceInPerToken + m.PriceOutPerToken
		if blended > budgetPerToken {
			continue
		}
		if !found || blended < (best.PriceInPerToken+best.PriceOutPerToken) {
			best = m
			found = true
		}
	}
	if found {
		return best, true
	}
	return r.cheapest(), false
}
