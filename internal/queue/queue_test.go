/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
)

func waitFor(t *testing.T, q *Queue, id string, timeout time.Duration) Task {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if task, ok := q.Result(id); ok && (task.Status == StatusSucceeded || task.Status == StatusFailed) {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach a terminal status within %s", id, timeout)
	return Task{}
}

func TestSubmit_RunsRegisteredHandlerAndRecordsResult(t *testing.T) {
	q := New("test", Config{}, logr.Discard())
	defer q.Stop()

	q.RegisterHandler("echo", func(ctx context.Context, payload interface{}) (interface{}, error) {
		return payload, nil
	})

	id := q.Submit("echo", "hello", RetryPolicy{MaxAttempts: 1})
	task := waitFor(t, q, id, time.Second)

	if task.Status != StatusSucceeded {
		t.Fatalf("Status = %v, want SUCCEEDED", task.Status)
	}
	if task.Result != "hello" {
		t.Fatalf("Result = %v, want %q", task.Result, "hello")
	}
}

func TestSubmit_RetriesTransientFailuresUpToMaxAttempts(t *testing.T) {
	q := New("test", Config{}, logr.Discard())
	defer q.Stop()

	var attempts int32
	q.RegisterHandler("flaky", func(ctx context.Context, payload interface{}) (interface{}, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	})

	id := q.Submit("flaky", nil, RetryPolicy{MaxAttempts: 3, InitialBackoffSeconds: 0.01, BackoffMultiplier: 1, MaxBackoffSeconds: 1})
	task := waitFor(t, q, id, 2*time.Second)

	if task.Status != StatusSucceeded {
		t.Fatalf("Status = %v, want SUCCEEDED after retries", task.Status)
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestSubmit_FailsAfterExhaustingRetries(t *testing.T) {
	q := New("test", Config{}, logr.Discard())
	defer q.Stop()

	wantErr := errors.New("permanent")
	q.RegisterHandler("always-fails", func(ctx context.Context, payload interface{}) (interface{}, error) {
		return nil, wantErr
	})

	id := q.Submit("always-fails", nil, RetryPolicy{MaxAttempts: 2, InitialBackoffSeconds: 0.01, BackoffMultiplier: 1, MaxBackoffSeconds: 1})
	task := waitFor(t, q, id, 2*time.Second)

	if task.Status != StatusFailed {
		t.Fatalf("Status = %v, want FAILED", task.Status)
	}
	if task.Attempt != 2 {
		t.Fatalf("Attempt = %d, want 2", task.Attempt)
	}
}

func TestSubmit_RetryOnPredicateStopsEarly(t *testing.T) {
	q := New("test", Config{}, logr.Discard())
	defer q.Stop()

	var attempts int32
	permanentErr := errors.New("do not retry me")
	q.RegisterHandler("selective", func(ctx context.Context, payload interface{}) (interface{}, error) {
		atomic.AddInt32(&attempts, 1)
		return nil, permanentErr
	})

	id := q.Submit("selective", nil, RetryPolicy{
		MaxAttempts: 5, InitialBackoffSeconds: 0.01, BackoffMultiplier: 1, MaxBackoffSeconds: 1,
		RetryOn: func(err error) bool { return false },
	})
	task := waitFor(t, q, id, time.Second)

	if task.Status != StatusFailed {
		t.Fatalf("Status = %v, want FAILED", task.Status)
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Fatalf("attempts = %d, want 1 (RetryOn should stop further retries)", attempts)
	}
}

func TestResult_UnknownTaskIsNotFound(t *testing.T) {
	q := New("test", Config{}, logr.Discard())
	defer q.Stop()

	_, ok := q.Result("does-not-exist")
	if ok {
		t.Fatal("Result should report ok=false for an unknown task id")
	}
}

func TestResult_ExpiredEntryReportsGone(t *testing.T) {
	q := New("test", Config{ResultTTL: 10 * time.Millisecond}, logr.Discard())
	defer q.Stop()

	q.RegisterHandler("quick", func(ctx context.Context, payload interface{}) (interface{}, error) {
		return "done", nil
	})

	id := q.Submit("quick", nil, RetryPolicy{MaxAttempts: 1})
	waitFor(t, q, id, time.Second)

	time.Sleep(30 * time.Millisecond)
	task, ok := q.Result(id)
	if ok {
		t.Fatal("Result should report ok=false once past the TTL")
	}
	if task.Status != StatusGone {
		t.Fatalf("Status = %v, want GONE", task.Status)
	}
}

func TestDepthAndInFlight_ReflectQueueState(t *testing.T) {
	q := New("test", Config{Workers: 1}, logr.Discard())
	defer q.Stop()

	release := make(chan struct{})
	q.RegisterHandler("slow", func(ctx context.Context, payload interface{}) (interface{}, error) {
		<-release
		return nil, nil
	})

	q.Submit("slow", nil, RetryPolicy{MaxAttempts: 1})
	q.Submit("slow", nil, RetryPolicy{MaxAttempts: 1})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && q.InFlight() == 0 {
		time.Sleep(2 * time.Millisecond)
	}
	if q.InFlight() != 1 {
		t.Fatalf("InFlight = %d, want 1 with a single worker", q.InFlight())
	}
	if q.Depth() != 1 {
		t.Fatalf("Depth = %d, want 1 (one task still queued behind the running one)", q.Depth())
	}
	close(release)
}

func TestSubscribe_ReceivesLifecycleEvents(t *testing.T) {
	q := New("test", Config{}, logr.Discard())
	defer q.Stop()

	events := q.Subscribe()
	q.RegisterHandler("noop", func(ctx context.Context, payload interface{}) (interface{}, error) {
		return nil, nil
	})

	q.Submit("noop", nil, RetryPolicy{MaxAttempts: 1})

	var sawSucceeded bool
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !sawSucceeded {
		select {
		case ev := <-events:
			if ev.Status == StatusSucceeded {
				sawSucceeded = true
			}
		case <-time.After(50 * time.Millisecond):
		}
	}
	if !sawSucceeded {
		t.Fatal("subscriber should observe a SUCCEEDED event")
	}
}

func TestRegistry_LazilyCreatesNamedQueues(t *testing.T) {
	reg := NewRegistry(nil, logr.Discard())
	defer reg.StopAll()

	q1 := reg.Queue(NameViolations)
	q2 := reg.Queue(NameViolations)
	if q1 != q2 {
		t.Fatal("Queue() should return the same instance for the same name")
	}
	if len(reg.Names()) != 1 {
		t.Fatalf("Names() = %v, want 1 entry", reg.Names())
	}
}
