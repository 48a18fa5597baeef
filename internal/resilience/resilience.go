/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package resilience wraps external calls (permit registry, webhook sinks)
// with bounded retry + exponential backoff + jitter, a circuit breaker, and
// a token-bucket rate limiter. The retry loop's shape is grounded in the
// teacher's internal/provider/anthropic.go doWithRetry; the breaker uses
// github.com/sony/gobreaker (the one circuit-breaker library anywhere in
// the retrieved pack); the limiter uses golang.org/x/time/rate, as the
// teacher itself does in internal/api/user_ratelimit.go.
package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/concomplyai/engine/internal/kinds"
	"github.com/concomplyai/engine/internal/metrics"
	"github.com/concomplyai/engine/internal/telemetry"
)

// Policy configures one logical endpoint's resilience behavior. Defaults
// match spec.md §4.4.
type Policy struct {
	MaxAttempts        int
	BackoffBaseSeconds float64
	MaxBackoffSeconds  float64
	JitterMaxSeconds   float64

	BreakerFailMax            uint32
	BreakerResetTimeoutSeconds float64

	RateLimitCapacity int
	RateLimitWindowSeconds float64
}

// DefaultPolicy returns spec.md's named defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:                3,
		BackoffBaseSeconds:         2.0,
		MaxBackoffSeconds:          10.0,
		JitterMaxSeconds:           1.0,
		BreakerFailMax:             3,
		BreakerResetTimeoutSeconds: 30,
		RateLimitCapacity:          50,
		RateLimitWindowSeconds:     60,
	}
}

// Endpoint is a shared, keyed resilience guard for one logical external
// service. Breakers and limiters are keyed per endpoint and shared across
// concurrent callers, per spec.md §5.
type Endpoint struct {
	name    string
	policy  Policy
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// Registry holds one Endpoint per logical external service, created lazily.
type Registry struct {
	mu        sync.Mutex
	endpoints map[string]*Endpoint
}

// NewRegistry creates an empty endpoint registry.
func NewRegistry() *Registry {
	return &Registry{endpoints: make(map[string]*Endpoint)}
}

// Endpoint returns the named endpoint, creating it with policy on first use.
func (r *Registry) Endpoint(name string, policy Policy) *Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ep, ok := r.endpoints[name]; ok {
		return ep
	}
	ep := newEndpoint(name, policy)
	r.endpoints[name] = ep
	return ep
}

// Names lists the endpoints created so far, for the health snapshot.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	return names
}

func newEndpoint(name string, policy Policy) *Endpoint {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // one probe while half-open, per spec.md §4.4
		Timeout:     time.Duration(policy.BreakerResetTimeoutSeconds * float64(time.Second)),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= policy.BreakerFailMax
		},
		OnStateChange: func(breakerName string, from, to gobreaker.State) {
			metrics.RecordBreakerStateChange(breakerName, stateLabel(to))
		},
	}
	windowSeconds := policy.RateLimitWindowSeconds
	if windowSeconds <= 0 {
		windowSeconds = 60
	}
	ratePerSecond := float64(policy.RateLimitCapacity) / windowSeconds
	return &Endpoint{
		name:    name,
		policy:  policy,
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), policy.RateLimitCapacity),
	}
}

// State reports the breaker's current state, for C10.
func (e *Endpoint) State() string {
	return stateLabel(e.breaker.State())
}

func stateLabel(s gobreaker.State) string {
	switch s {
	case gobreaker.StateOpen:
		return "OPEN"
	case gobreaker.StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

// Call executes fn with C4's full algorithm: acquire a rate-limit token
// (may block/suspend), consult the breaker, invoke fn, and on a retryable
// error back off with jitter and retry, up to MaxAttempts.
//
// fn must classify its own errors via kinds.Wrap(kinds.TransientIOError, ...)
// for retryable failures; any other error kind is treated as non-retryable.
func (e *Endpoint) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		callCtx, span := telemetry.StartExternalCallSpan(ctx, e.name, attempt)

		if err := e.limiter.Wait(ctx); err != nil {
			telemetry.EndExternalCallSpan(span, e.State(), err)
			return kinds.Wrap(kinds.Cancelled, "rate limiter wait cancelled", err)
		}

		_, err := e.breaker.Execute(func() (interface{}, error) {
			return nil, fn(callCtx)
		})

		if err == nil {
			telemetry.EndExternalCallSpan(span, e.State(), nil)
			return nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			lastErr = kinds.New(kinds.BreakerOpen, "circuit breaker open for "+e.name)
			telemetry.EndExternalCallSpan(span, e.State(), lastErr)
			// An open breaker fails immediately, per spec.md §4.4 step 2 —
			// it must never be fed into the backoff/retry loop below.
			return lastErr
		}
		lastErr = err
		telemetry.EndExternalCallSpan(span, e.State(), lastErr)

		retryable := kinds.Is(lastErr, kinds.TransientIOError)
		if !retryable || attempt == e.policy.MaxAttempts {
			return lastErr
		}

		metrics.RecordRetry(e.name)

		backoff := math.Min(math.Pow(e.policy.BackoffBaseSeconds, float64(attempt)), e.policy.MaxBackoffSeconds)
		jitter := rand.Float64() * e.policy.JitterMaxSeconds
		wait := time.Duration((backoff + jitter) * float64(time.Second))

		select {
		case <-ctx.Done():
			return kinds.Wrap(kinds.Cancelled, "context cancelled during backoff", ctx.Err())
		case <-time.After(wait):
		}
	}

	return lastErr
}
