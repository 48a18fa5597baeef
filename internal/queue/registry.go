/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package queue

import (
	"sync"

	"github.com/go-logr/logr"
)

// Default queue names, per spec.md §6's queue.<name> config keys.
const (
	NameDefault    = "default"
	NameViolations = "violations"
	NameReports    = "reports"
	NameWebhooks   = "webhooks"
)

// Registry owns the set of named queues a deployment runs, so callers (the
// pipeline, the webhook fan-out, the health snapshot) can look one up by
// name instead of threading *Queue values through every layer.
type Registry struct {
	log logr.Logger

	mu     sync.Mutex
	queues map[string]*Queue
	cfgs   map[string]Config
}

// NewRegistry creates an empty Registry. Queues are created lazily on first
// Queue() call, using cfgs as the per-name override table (falling back to
// Config{} defaults for names not present).
func NewRegistry(cfgs map[string]Config, log logr.Logger) *Registry {
	if cfgs == nil {
		cfgs = make(map[string]Config)
	}
	return &Registry{
		log:    log,
		queues: make(map[string]*Queue),
		cfgs:   cfgs,
	}
}

// Queue returns the named queue, creating it (and starting its workers) on
// first access.
func (r *Registry) Queue(name string) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()

	if q, ok := r.queues[name]; ok {
		return q
	}
	q := New(name, r.cfgs[name], r.log)
	r.queues[name] = q
	return q
}

// Names lists the queues that have been created so far.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	return names
}

// StopAll stops every queue's worker pool, for graceful shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	queues := make([]*Queue, 0, len(r.queues))
	for _, q := range r.queues {
		queues = append(queues, q)
	}
	r.mu.Unlock()

	for _, q := range queues {
		q.Stop()
	}
}
