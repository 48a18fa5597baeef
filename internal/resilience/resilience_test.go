/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package resilience

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/concomplyai/engine/internal/kinds"
)

func fastPolicy() Policy {
	p := DefaultPolicy()
	p.BackoffBaseSeconds = 0.01
	p.MaxBackoffSeconds = 0.02
	p.JitterMaxSeconds = 0.001
	p.BreakerResetTimeoutSeconds = 0.05
	p.RateLimitCapacity = 1000
	p.RateLimitWindowSeconds = 1
	return p
}

func TestCall_SucceedsOnFirstAttempt(t *testing.T) {
	ep := newEndpoint("permit-api", fastPolicy())
	calls := int32(0)
	err := ep.Call(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestCall_RetriesTransientErrorsUpToMaxAttempts(t *testing.T) {
	policy := fastPolicy()
	policy.MaxAttempts = 3
	ep := newEndpoint("permit-api", policy)
	calls := int32(0)
	err := ep.Call(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return kinds.New(kinds.TransientIOError, "upstream unavailable")
	})
	if err == nil {
		t.Fatal("Call should return an error when all attempts are exhausted")
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3 (MaxAttempts)", calls)
	}
}

func TestCall_NonRetryableErrorStopsImmediately(t *testing.T) {
	ep := newEndpoint("permit-api", fastPolicy())
	calls := int32(0)
	err := ep.Call(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return kinds.New(kinds.ValidationError, "bad request")
	})
	if err == nil {
		t.Fatal("Call should return the non-retryable error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 for a non-retryable error", calls)
	}
}

func TestCall_BreakerOpensAfterFailMaxAndShortsCalls(t *testing.T) {
	policy := fastPolicy()
	policy.MaxAttempts = 1
	policy.BreakerFailMax = 3
	ep := newEndpoint("permit-api", policy)

	for i := 0; i < 3; i++ {
		err := ep.Call(context.Background(), func(ctx context.Context) error {
			return kinds.New(kinds.TransientIOError, "down")
		})
		if err == nil {
			t.Fatal("expected error on failing call")
		}
	}

	if ep.State() != "OPEN" {
		t.Fatalf("breaker State() = %q, want OPEN after %d consecutive failures", ep.State(), policy.BreakerFailMax)
	}

	calls := int32(0)
	err := ep.Call(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	if err == nil {
		t.Fatal("Call should fail immediately with breaker open")
	}
	if calls != 0 {
		t.Fatalf("calls = %d, want 0 while breaker is OPEN", calls)
	}
	if !kinds.Is(err, kinds.BreakerOpen) {
		t.Fatalf("error = %v, want BreakerOpen kind", err)
	}
}

func TestCall_BreakerOpenShortsImmediatelyEvenWithAttemptsRemaining(t *testing.T) {
	policy := fastPolicy()
	policy.MaxAttempts = 3
	policy.BreakerFailMax = 3
	ep := newEndpoint("permit-api", policy)

	for i := 0; i < 3; i++ {
		_ = ep.Call(context.Background(), func(ctx context.Context) error {
			return kinds.New(kinds.TransientIOError, "down")
		})
	}
	if ep.State() != "OPEN" {
		t.Fatalf("breaker State() = %q, want OPEN", ep.State())
	}

	calls := int32(0)
	start := time.Now()
	err := ep.Call(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	elapsed := time.Since(start)

	if !kinds.Is(err, kinds.BreakerOpen) {
		t.Fatalf("error = %v, want BreakerOpen kind", err)
	}
	if calls != 0 {
		t.Fatalf("calls = %d, want 0 while breaker is OPEN", calls)
	}
	// With MaxAttempts=3 a retried BreakerOpen would sleep through at least
	// one backoff window (BackoffBaseSeconds=0.01s here); shorting
	// immediately must return well under that.
	if elapsed > 5*time.Millisecond {
		t.Fatalf("Call took %v, want an immediate short-circuit with no backoff sleep", elapsed)
	}
}

func TestCall_BreakerHalfOpensAfterResetTimeout(t *testing.T) {
	policy := fastPolicy()
	policy.MaxAttempts = 1
	policy.BreakerFailMax = 1
	policy.BreakerResetTimeoutSeconds = 0.05
	ep := newEndpoint("permit-api", policy)

	_ = ep.Call(context.Background(), func(ctx context.Context) error {
		return kinds.New(kinds.TransientIOError, "down")
	})
	if ep.State() != "OPEN" {
		t.Fatalf("breaker State() = %q, want OPEN", ep.State())
	}

	time.Sleep(100 * time.Millisecond)

	calls := int32(0)
	err := ep.Call(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("probe call after reset timeout should succeed, got: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (the half-open probe)", calls)
	}
}

func TestCall_RespectsContextCancellation(t *testing.T) {
	ep := newEndpoint("permit-api", fastPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ep.Call(ctx, func(ctx context.Context) error {
		t.Fatal("fn should not be invoked after context is already cancelled")
		return nil
	})
	if err == nil {
		t.Fatal("Call should return an error for a cancelled context")
	}
}
