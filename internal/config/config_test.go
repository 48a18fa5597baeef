/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/concomplyai/engine/internal/queue"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.PerItemBudgetUSD != 0.007 {
		t.Errorf("PerItemBudgetUSD = %v, want 0.007", cfg.PerItemBudgetUSD)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("Retry.MaxAttempts = %d, want 3", cfg.Retry.MaxAttempts)
	}
	if _, ok := cfg.Queue[queue.NameViolations]; !ok {
		t.Error("Default() missing violations queue entry")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
per_item_budget_usd: 0.012
strict_budget: true
retry:
  max_attempts: 5
model_pricing:
  gpt-4o:
    price_in_per_token: 0.000005
    price_out_per_token: 0.000015
    accuracy: 0.9
    latency_ms: 800
queue:
  violations:
    workers: 8
    tasks_per_worker: 500
    result_ttl_seconds: 7200
webhook:
  timeout_seconds: 20
  subscribers:
    - url: https://example.com/hook
      headers:
        X-Token: secret
redis_url: redis://localhost:6379/0
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.PerItemBudgetUSD != 0.012 {
		t.Errorf("PerItemBudgetUSD = %v, want 0.012", cfg.PerItemBudgetUSD)
	}
	if !cfg.StrictBudget {
		t.Error("StrictBudget = false, want true")
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("Retry.MaxAttempts = %d, want 5", cfg.Retry.MaxAttempts)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("RedisURL = %q, unexpected", cfg.RedisURL)
	}
	// Untouched sections keep their defaults.
	if cfg.Breaker.FailMax != 3 {
		t.Errorf("Breaker.FailMax = %d, want default 3", cfg.Breaker.FailMax)
	}

	specs := cfg.ModelSpecs()
	spec, ok := specs["gpt-4o"]
	if !ok {
		t.Fatal("ModelSpecs() missing gpt-4o override")
	}
	if spec.Accuracy != 0.9 {
		t.Errorf("gpt-4o accuracy = %v, want 0.9", spec.Accuracy)
	}

	qcs := cfg.QueueConfigs()
	qc, ok := qcs[queue.NameViolations]
	if !ok || qc.Workers != 8 {
		t.Errorf("QueueConfigs()[violations].Workers = %+v, want Workers=8", qc)
	}

	if len(cfg.Webhook.Subscribers) != 1 || cfg.Webhook.Subscribers[0].URL != "https://example.com/hook" {
		t.Errorf("Webhook.Subscribers = %+v, unexpected", cfg.Webhook.Subscribers)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.PerItemBudgetUSD != Default().PerItemBudgetUSD {
		t.Error("Load(\"\") did not return defaults")
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() with missing file expected error, got nil")
	}
}

func TestEnvOverlay(t *testing.T) {
	t.Setenv("COMPLYENGINE_PER_ITEM_BUDGET_USD", "0.02")
	t.Setenv("COMPLYENGINE_STRICT_BUDGET", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PerItemBudgetUSD != 0.02 {
		t.Errorf("PerItemBudgetUSD = %v, want 0.02 from env", cfg.PerItemBudgetUSD)
	}
	if !cfg.StrictBudget {
		t.Error("StrictBudget = false, want true from env")
	}
}

func TestResiliencePolicy(t *testing.T) {
	cfg := Default()
	p := cfg.ResiliencePolicy()
	if p.MaxAttempts != cfg.Retry.MaxAttempts {
		t.Errorf("ResiliencePolicy().MaxAttempts = %d, want %d", p.MaxAttempts, cfg.Retry.MaxAttempts)
	}
	if p.BreakerFailMax != cfg.Breaker.FailMax {
		t.Errorf("ResiliencePolicy().BreakerFailMax = %d, want %d", p.BreakerFailMax, cfg.Breaker.FailMax)
	}
}
