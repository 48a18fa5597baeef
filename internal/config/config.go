/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package config loads the engine's Config from YAML, then overlays
// environment variables, following the teacher's
// internal/controlplane/config.Load shape (file then env, in that
// priority order) adapted from JSON to gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/concomplyai/engine/internal/ledger"
	"github.com/concomplyai/engine/internal/queue"
	"github.com/concomplyai/engine/internal/resilience"
)

// RetryConfig mirrors resilience.Policy's retry fields, per spec.md §6.
type RetryConfig struct {
	MaxAttempts        int     `yaml:"max_attempts"`
	BackoffBaseSeconds float64 `yaml:"backoff_base_seconds"`
	MaxBackoffSeconds  float64 `yaml:"max_backoff_seconds"`
	JitterMaxSeconds   float64 `yaml:"jitter_max_seconds"`
}

// BreakerConfig mirrors resilience.Policy's breaker fields.
type BreakerConfig struct {
	FailMax            uint32  `yaml:"fail_max"`
	ResetTimeoutSeconds float64 `yaml:"reset_timeout_seconds"`
}

// RateLimitConfig mirrors resilience.Policy's limiter fields.
type RateLimitConfig struct {
	Capacity      int     `yaml:"capacity"`
	WindowSeconds float64 `yaml:"window_seconds"`
}

// QueueConfig configures one named queue.
type QueueConfig struct {
	Workers        int `yaml:"workers"`
	TasksPerWorker int `yaml:"tasks_per_worker"`
	ResultTTLSeconds int `yaml:"result_ttl_seconds"`
}

// WebhookConfig configures the webhook dispatcher.
type WebhookConfig struct {
	Subscribers []WebhookSubscriber `yaml:"subscribers"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
}

// WebhookSubscriber is one statically configured delivery target.
type WebhookSubscriber struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// ModelPricingEntry overrides or extends the ledger's seed model table.
type ModelPricingEntry struct {
	PriceInPerToken  float64 `yaml:"price_in_per_token"`
	PriceOutPerToken float64 `yaml:"price_out_per_token"`
	Accuracy         float64 `yaml:"accuracy"`
	LatencyMs        int     `yaml:"latency_ms"`
}

// Config is the engine's single configuration surface, per spec.md §6.
type Config struct {
	PerItemBudgetUSD float64                      `yaml:"per_item_budget_usd"`
	StrictBudget     bool                         `yaml:"strict_budget"`
	ModelPricing     map[string]ModelPricingEntry `yaml:"model_pricing"`

	Retry     RetryConfig     `yaml:"retry"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	Queue map[string]QueueConfig `yaml:"queue"`

	Webhook WebhookConfig `yaml:"webhook"`

	// RedisURL is accepted and stored but never dialed — the async layer's
	// backend is an external collaborator, out of scope per spec.md §1.
	RedisURL string `yaml:"redis_url"`

	BatchScanCron string `yaml:"batch_scan_cron"`

	OTLPEndpoint string `yaml:"otlp_endpoint"`
	LogLevel     string `yaml:"log_level"`
}

// Default returns spec.md's named defaults.
func Default() Config {
	return Config{
		PerItemBudgetUSD: 0.007,
		StrictBudget:     false,
		Retry: RetryConfig{
			MaxAttempts:        3,
			BackoffBaseSeconds: 2.0,
			MaxBackoffSeconds:  10.0,
			JitterMaxSeconds:   1.0,
		},
		Breaker: BreakerConfig{
			FailMax:             3,
			ResetTimeoutSeconds: 30,
		},
		RateLimit: RateLimitConfig{
			Capacity:      50,
			WindowSeconds: 60,
		},
		Queue: map[string]QueueConfig{
			queue.NameDefault:    {Workers: 4, TasksPerWorker: 1000, ResultTTLSeconds: 3600},
			queue.NameViolations: {Workers: 4, TasksPerWorker: 1000, ResultTTLSeconds: 3600},
			queue.NameReports:    {Workers: 2, TasksPerWorker: 1000, ResultTTLSeconds: 3600},
			queue.NameWebhooks:   {Workers: 2, TasksPerWorker: 1000, ResultTTLSeconds: 3600},
		},
		Webhook: WebhookConfig{
			TimeoutSeconds: 10,
		},
		BatchScanCron: "@every 15m",
		LogLevel:      "info",
	}
}

// Load reads Config from a YAML file, then overlays environment variables.
// An empty path skips the file step and returns defaults overlaid with env.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("COMPLYENGINE_PER_ITEM_BUDGET_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.PerItemBudgetUSD = f
		}
	}
	if v := os.Getenv("COMPLYENGINE_STRICT_BUDGET"); v != "" {
		cfg.StrictBudget = v == "true" || v == "1"
	}
	if v := os.Getenv("COMPLYENGINE_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("COMPLYENGINE_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}
	if v := os.Getenv("COMPLYENGINE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("COMPLYENGINE_BATCH_SCAN_CRON"); v != "" {
		cfg.BatchScanCron = v
	}
}

// ResiliencePolicy translates the config's retry/breaker/rate_limit section
// into a resilience.Policy.
func (c Config) ResiliencePolicy() resilience.Policy {
	return resilience.Policy{
		MaxAttempts:                c.Retry.MaxAttempts,
		BackoffBaseSeconds:         c.Retry.BackoffBaseSeconds,
		MaxBackoffSeconds:          c.Retry.MaxBackoffSeconds,
		JitterMaxSeconds:           c.Retry.JitterMaxSeconds,
		BreakerFailMax:             c.Breaker.FailMax,
		BreakerResetTimeoutSeconds: c.Breaker.ResetTimeoutSeconds,
		RateLimitCapacity:          c.RateLimit.Capacity,
		RateLimitWindowSeconds:     c.RateLimit.WindowSeconds,
	}
}

// ModelSpecs translates the config's model_pricing overrides into the
// ledger's extra-models map.
func (c Config) ModelSpecs() map[string]ledger.ModelSpec {
	out := make(map[string]ledger.ModelSpec, len(c.ModelPricing))
	for name, m := range c.ModelPricing {
		out[name] = ledger.ModelSpec{
			Name:             name,
			PriceInPerToken:  m.PriceInPerToken,
			PriceOutPerToken: m.PriceOutPerToken,
			Accuracy:         m.Accuracy,
			LatencyMs:        m.LatencyMs,
		}
	}
	return out
}

// QueueConfigs translates the config's queue.<name> section into the
// per-name override table queue.NewRegistry expects.
func (c Config) QueueConfigs() map[string]queue.Config {
	out := make(map[string]queue.Config, len(c.Queue))
	for name, qc := range c.Queue {
		out[name] = queue.Config{
			Workers:        qc.Workers,
			TasksPerWorker: qc.TasksPerWorker,
			ResultTTL:      time.Duration(qc.ResultTTLSeconds) * time.Second,
		}
	}
	return out
}
