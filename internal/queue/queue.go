/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package queue implements an in-process, named, at-least-once task queue
// with per-kind retry policies and a worker pool. The goroutine-plus-ticker
// shape and the TryStart/Complete in-flight tracker are grounded in the
// teacher's internal/scheduler/scheduler.go; the retry defaults are grounded
// in original_source/backend/tasks/scan_violations.py's Celery autoretry
// configuration (max_retries=3, countdown=5, backoff_max=600).
package queue

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/concomplyai/engine/internal/kinds"
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusQueued   Status = "PENDING"
	StatusRunning  Status = "RUNNING"
	StatusRetrying Status = "RETRYING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed   Status = "FAILED_TERMINAL"
	StatusGone     Status = "GONE" // result TTL expired
)

// RetryPolicy controls how a task kind is retried on failure.
type RetryPolicy struct {
	MaxAttempts          int
	InitialBackoffSeconds float64
	BackoffMultiplier    float64
	MaxBackoffSeconds    float64
	Jitter               bool
	RetryOn              func(err error) bool // nil means retry every error
}

// DefaultRetryPolicy mirrors scan_violations.py's Celery task defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:           3,
		InitialBackoffSeconds: 5,
		BackoffMultiplier:     2,
		MaxBackoffSeconds:     600,
		Jitter:                true,
	}
}

func (p RetryPolicy) shouldRetry(err error) bool {
	if p.RetryOn != nil {
		return p.RetryOn(err)
	}
	return true
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	wait := p.InitialBackoffSeconds * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	if wait > p.MaxBackoffSeconds {
		wait = p.MaxBackoffSeconds
	}
	if p.Jitter {
		wait += rand.Float64() * p.InitialBackoffSeconds
	}
	return time.Duration(wait * float64(time.Second))
}

// Handler is the task body a queue's worker pool executes for a given kind.
type Handler func(ctx context.Context, payload interface{}) (interface{}, error)

// Task is one unit of submitted work.
type Task struct {
	ID          string
	Queue       string
	Kind        string
	Payload     interface{}
	Policy      RetryPolicy
	Status      Status
	Attempt     int
	Result      interface{}
	Err         error
	SubmittedAt time.Time
	FinishedAt  time.Time
}

// Event describes a task lifecycle transition, published for observers
// (the webhook package subscribes to these).
type Event struct {
	TaskID string
	Queue  string
	Kind   string
	Status Status
	Attempt int
	Err    error
}

// resultEntry is a task's retained outcome with an expiry for GONE queries.
type resultEntry struct {
	task    Task
	expires time.Time
}

// Queue is a single named FIFO work queue with its own worker pool.
type Queue struct {
	name        string
	log         logr.Logger
	resultTTL   time.Duration
	workers     int
	tasksPerWorker int // recycle threshold

	mu       sync.Mutex
	pending  []*Task
	results  map[string]*resultEntry
	handlers map[string]Handler
	inFlight int

	subsMu sync.RWMutex
	subs   []chan Event

	wakeup chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

// Config configures a Queue.
type Config struct {
	Workers        int           // default 1 (prefetch=1 per spec)
	ResultTTL      time.Duration // default 1h
	TasksPerWorker int           // worker recycle threshold, default 1000
}

// New creates a named Queue and starts its worker pool. Stop cancels it.
func New(name string, cfg Config, log logr.Logger) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = time.Hour
	}
	if cfg.TasksPerWorker <= 0 {
		cfg.TasksPerWorker = 1000
	}

	q := &Queue{
		name:           name,
		log:            log.WithName("queue").WithValues("queue", name),
		resultTTL:      cfg.ResultTTL,
		workers:        cfg.Workers,
		tasksPerWorker: cfg.TasksPerWorker,
		results:        make(map[string]*resultEntry),
		handlers:       make(map[string]Handler),
		wakeup:         make(chan struct{}, 1),
		done:           make(chan struct{}),
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	return q
}

// RegisterHandler binds a task kind to the body the workers invoke.
func (q *Queue) RegisterHandler(kind string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

// Subscribe returns a channel of lifecycle events. The channel is buffered;
// slow subscribers drop events rather than block workers.
func (q *Queue) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	q.subsMu.Lock()
	q.subs = append(q.subs, ch)
	q.subsMu.Unlock()
	return ch
}

func (q *Queue) publish(ev Event) {
	q.subsMu.RLock()
	defer q.subsMu.RUnlock()
	for _, ch := range q.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Submit enqueues a task and returns its ID immediately (non-blocking),
// per spec.md §C8's at-least-once, FIFO-within-queue contract.
func (q *Queue) Submit(kind string, payload interface{}, policy RetryPolicy) string {
	id := uuid.NewString()
	task := &Task{
		ID:          id,
		Queue:       q.name,
		Kind:        kind,
		Payload:     payload,
		Policy:      policy,
		Status:      StatusQueued,
		SubmittedAt: time.Now().UTC(),
	}

	q.mu.Lock()
	q.pending = append(q.pending, task)
	q.mu.Unlock()

	q.publish(Event{TaskID: id, Queue: q.name, Kind: kind, Status: StatusQueued})

	select {
	case q.wakeup <- struct{}{}:
	default:
	}

	return id
}

// Result looks up a task's terminal outcome. ok is false with Status GONE
// when the entry has expired past its result TTL; for an ID with no stored
// result (never submitted, or not finished yet) ok is false and the zero
// Task is returned.
func (q *Queue) Result(taskID string) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, found := q.results[taskID]
	if !found {
		return Task{}, false
	}
	if time.Now().After(entry.expires) {
		delete(q.results, taskID)
		gone := entry.task
		gone.Status = StatusGone
		return gone, false
	}
	return entry.task, true
}

// Depth reports the number of tasks waiting to run, for health snapshots.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// InFlight reports the number of tasks currently executing.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// Stop signals all workers to finish their current task and exit.
func (q *Queue) Stop() {
	close(q.done)
	q.wg.Wait()
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	processed := 0

	for {
		select {
		case <-q.done:
			return
		default:
		}

		task := q.dequeue()
		if task == nil {
			select {
			case <-q.wakeup:
			case <-time.After(200 * time.Millisecond):
			case <-q.done:
				return
			}
			continue
		}

		q.run(task)

		processed++
		if processed >= q.tasksPerWorker {
			q.log.V(1).Info("worker recycling after task limit", "worker", id, "processed", processed)
			processed = 0
		}
	}
}

func (q *Queue) dequeue() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	task := q.pending[0]
	q.pending = q.pending[1:]
	q.inFlight++
	return task
}

func (q *Queue) run(task *Task) {
	defer func() {
		q.mu.Lock()
		q.inFlight--
		q.mu.Unlock()
	}()

	q.mu.Lock()
	handler, found := q.handlers[task.Kind]
	q.mu.Unlock()
	if !found {
		task.Status = StatusFailed
		task.Err = kinds.New(kinds.Internal, "no handler registered for task kind "+task.Kind)
		q.finish(task)
		return
	}

	policy := task.Policy
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		task.Attempt = attempt
		task.Status = StatusRunning
		q.publish(Event{TaskID: task.ID, Queue: q.name, Kind: task.Kind, Status: StatusRunning, Attempt: attempt})

		result, err := handler(context.Background(), task.Payload)
		if err == nil {
			task.Result = result
			task.Status = StatusSucceeded
			q.finish(task)
			return
		}

		task.Err = err
		if attempt == policy.MaxAttempts || !policy.shouldRetry(err) {
			task.Status = StatusFailed
			q.finish(task)
			return
		}

		task.Status = StatusRetrying
		q.publish(Event{TaskID: task.ID, Queue: q.name, Kind: task.Kind, Status: StatusRetrying, Attempt: attempt, Err: err})
		time.Sleep(policy.backoff(attempt))
	}
}

func (q *Queue) finish(task *Task) {
	task.FinishedAt = time.Now().UTC()

	q.mu.Lock()
	q.results[task.ID] = &resultEntry{task: *task, expires: task.FinishedAt.Add(q.resultTTL)}
	q.mu.Unlock()

	q.publish(Event{TaskID: task.ID, Queue: q.name, Kind: task.Kind, Status: task.Status, Attempt: task.Attempt, Err: task.Err})

	if task.Status == StatusFailed {
		q.log.Info("task failed after exhausting retries", "task", task.ID, "kind", task.Kind, "attempts", task.Attempt, "err", task.Err)
	}
}
