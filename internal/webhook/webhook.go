/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package webhook fans an event out to a set of subscriber URLs, each
// delivered in isolation so one slow or broken subscriber cannot affect the
// others. Grounded in the teacher's internal/notify/channels.go
// WebhookChannel.Send (the JSON-over-HTTP-POST shape) and Router.Notify (the
// per-channel isolation loop, generalized here to use the queue for async,
// retried delivery instead of notify's synchronous fan-out); retry numbers
// are grounded in original_source/backend/tasks/send_webhooks.py's Celery
// task (max_retries=5, countdown=30, backoff_max=3600).
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/concomplyai/engine/internal/kinds"
	"github.com/concomplyai/engine/internal/metrics"
	"github.com/concomplyai/engine/internal/queue"
	"github.com/concomplyai/engine/internal/resilience"
)

// Subscriber is one registered delivery target.
type Subscriber struct {
	URL     string
	Headers map[string]string
}

// Envelope is the JSON body POSTed to every subscriber, per spec.md §C9.
type Envelope struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	SiteID    *string     `json:"site_id,omitempty"`
	Severity  *string     `json:"severity,omitempty"`
	Data      interface{} `json:"data"`
	Attempt   int         `json:"attempt"`
}

// Params describes one fan-out delivery request.
type Params struct {
	Event       string
	Data        interface{}
	SiteID      *string
	Severity    *string
	Subscribers []Subscriber
}

// DeliveryOutcome is one subscriber's terminal result, retained for the
// health surface's per-subscriber delivery log.
type DeliveryOutcome struct {
	URL       string
	TaskID    string
	Delivered bool
	Attempts  int
	LastError string
	FinishedAt time.Time
}

// Summary is the aggregate result of one Deliver call.
type Summary struct {
	Event     string
	Delivered int
	Failed    int
	PerURL    map[string]DeliveryOutcome
}

// DefaultRetryPolicy mirrors send_webhooks.py's Celery task: 5 attempts,
// 30s initial backoff, 2x multiplier, capped at 3600s, with jitter.
func DefaultRetryPolicy() queue.RetryPolicy {
	return queue.RetryPolicy{
		MaxAttempts:           5,
		InitialBackoffSeconds: 30,
		BackoffMultiplier:     2,
		MaxBackoffSeconds:     3600,
		Jitter:                true,
	}
}

// Dispatcher delivers webhook envelopes via a dedicated queue, giving each
// subscriber its own retry/backoff lifecycle and isolating failures.
type Dispatcher struct {
	q      *queue.Queue
	client *http.Client
	rl     *resilience.Registry
	log    logr.Logger

	mu  sync.Mutex
	deliveries map[string]DeliveryOutcome // keyed by taskID, for the health snapshot
}

// Config configures a Dispatcher.
type Config struct {
	Queue      *queue.Queue
	Resilience *resilience.Registry
	HTTPClient *http.Client
}

// New creates a Dispatcher. If cfg.Queue is nil a dedicated single-worker
// queue named per queue.NameWebhooks is created.
func New(cfg Config, log logr.Logger) *Dispatcher {
	q := cfg.Queue
	if q == nil {
		q = queue.New(queue.NameWebhooks, queue.Config{}, log)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	rl := cfg.Resilience
	if rl == nil {
		rl = resilience.NewRegistry()
	}

	d := &Dispatcher{q: q, client: client, rl: rl, log: log.WithName("webhook"), deliveries: make(map[string]DeliveryOutcome)}
	d.q.RegisterHandler("webhook.deliver", d.deliverOne)

	go d.trackResults()

	return d
}

type deliverPayload struct {
	url     string
	headers map[string]string
	body    []byte
}

// Deliver submits one delivery task per subscriber and returns immediately
// with the task IDs; call Await to block for the terminal outcomes.
func (d *Dispatcher) Deliver(p Params) map[string]string { // subscriber URL -> task ID
	taskIDs := make(map[string]string, len(p.Subscribers))

	for _, sub := range p.Subscribers {
		env := Envelope{
			Event:     p.Event,
			Timestamp: time.Now().UTC(),
			SiteID:    p.SiteID,
			Severity:  p.Severity,
			Data:      p.Data,
			Attempt:   1,
		}
		body, err := json.Marshal(env)
		if err != nil {
			d.log.Error(err, "failed to marshal webhook envelope", "url", sub.URL)
			continue
		}

		id := d.q.Submit("webhook.deliver", deliverPayload{url: sub.URL, headers: sub.Headers, body: body}, DefaultRetryPolicy())
		taskIDs[sub.URL] = id

		d.mu.Lock()
		d.deliveries[id] = DeliveryOutcome{URL: sub.URL, TaskID: id}
		d.mu.Unlock()
	}

	return taskIDs
}

// Await blocks (bounded by timeout) until every task ID has reached a
// terminal status, then returns the aggregate Summary.
func (d *Dispatcher) Await(event string, taskIDs map[string]string, timeout time.Duration) Summary {
	summary := Summary{Event: event, PerURL: make(map[string]DeliveryOutcome, len(taskIDs))}
	deadline := time.Now().Add(timeout)

	for url, id := range taskIDs {
		for {
			task, ok := d.q.Result(id)
			if ok && (task.Status == queue.StatusSucceeded || task.Status == queue.StatusFailed) {
				outcome := DeliveryOutcome{URL: url, TaskID: id, Delivered: task.Status == queue.StatusSucceeded, Attempts: task.Attempt, FinishedAt: task.FinishedAt}
				if task.Err != nil {
					outcome.LastError = task.Err.Error()
				}
				summary.PerURL[url] = outcome
				if outcome.Delivered {
					summary.Delivered++
				} else {
					summary.Failed++
				}
				break
			}
			if time.Now().After(deadline) {
				summary.PerURL[url] = DeliveryOutcome{URL: url, TaskID: id}
				summary.Failed++
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	return summary
}

func (d *Dispatcher) deliverOne(ctx context.Context, payload interface{}) (interface{}, error) {
	p, ok := payload.(deliverPayload)
	if !ok {
		return nil, kinds.New(kinds.Internal, "webhook dispatcher received a malformed delivery payload")
	}

	endpoint := d.rl.Endpoint(p.url, resilience.DefaultPolicy())
	err := endpoint.Call(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(p.body))
		if err != nil {
			return kinds.Wrap(kinds.Internal, "build webhook request", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range p.headers {
			req.Header.Set(k, v)
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return kinds.Wrap(kinds.TransientIOError, "webhook delivery failed", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			respBody, _ := io.ReadAll(resp.Body)
			return kinds.New(kinds.TransientIOError, fmt.Sprintf("webhook %s returned %d: %s", p.url, resp.StatusCode, string(respBody)))
		}
		return nil
	})

	return nil, err
}

func (d *Dispatcher) trackResults() {
	for ev := range d.q.Subscribe() {
		if ev.Status != queue.StatusSucceeded && ev.Status != queue.StatusFailed {
			continue
		}
		d.mu.Lock()
		if outcome, ok := d.deliveries[ev.TaskID]; ok {
			outcome.Delivered = ev.Status == queue.StatusSucceeded
			outcome.Attempts = ev.Attempt
			outcome.FinishedAt = time.Now().UTC()
			if ev.Err != nil {
				outcome.LastError = ev.Err.Error()
			}
			d.deliveries[ev.TaskID] = outcome
		}
		d.mu.Unlock()

		if ev.Status == queue.StatusSucceeded {
			metrics.RecordWebhookDelivery("delivered")
		} else {
			metrics.RecordWebhookDelivery("failed")
		}
	}
}

// RecentDeliveries returns the retained per-subscriber delivery log, for the
// health surface's supplemented webhook-delivery-log feature.
func (d *Dispatcher) RecentDeliveries() []DeliveryOutcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DeliveryOutcome, 0, len(d.deliveries))
	for _, o := range d.deliveries {
		out = append(out, o)
	}
	return out
}
