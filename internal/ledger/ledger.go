/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package ledger implements the append-only cost/telemetry accounting
// layer: per-call LedgerEntry rows, aggregations, and a CSV durability
// sink. The buffered-flush durability pattern is grounded in
// original_source/core/services/audit_logger.py's ImmutableAuditLogger.
package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// Entry is one append-only accounting row, per spec.md §3.
type Entry struct {
	Timestamp   time.Time
	AgentName   string
	ModelName   string
	InputTokens int64
	OutputTokens int64
	CostUSD     float64
	DurationMs  int64
	DocumentID  string
	Success     bool
}

// Ledger is the append-only, concurrency-safe accounting store.
type Ledger struct {
	registry *Registry
	log      logr.Logger

	mu      sync.Mutex
	entries []Entry

	sink        *csvSink
	flushEvery  int
	sinceFlush  int
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithCSVSink durably appends every entry to w in the format of spec.md §6,
// buffering flushEvery entries (default 1, i.e. flush on every append) —
// the audit_logger.py buffer+flush pattern, generalized to a configurable
// batch size.
func WithCSVSink(w io.Writer, flushEvery int) Option {
	return func(l *Ledger) {
		l.sink = newCSVSink(w)
		if flushEvery < 1 {
			flushEvery = 1
		}
		l.flushEvery = flushEvery
	}
}

// New creates a Ledger backed by registry for pricing lookups.
func New(registry *Registry, log logr.Logger, opts ...Option) *Ledger {
	l := &Ledger{registry: registry, log: log, flushEvery: 1}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record computes cost_usd from the pricing table and appends a new Entry.
// A failure to write the durable sink is logged, not returned — the caller
// is never blocked by sink I/O failure, per spec.md §4.5.
func (l *Ledger) Record(agentName, modelName string, inputTokens, outputTokens, durationMs int64, documentID string, success bool) Entry {
	model, known := l.registry.Lookup(modelName)
	if !known {
		l.log.Info("unknown model, falling back to cheapest known model", "requested", modelName, "fallback", model.Name)
	}
	cost := float64(inputTokens)*model.PriceInPerToken + float64(outputTokens)*model.PriceOutPerToken

	entry := Entry{
		Timestamp:    time.Now().UTC(),
		AgentName:    agentName,
		ModelName:    modelName,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
		DurationMs:   durationMs,
		DocumentID:   documentID,
		Success:      success,
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	sink := l.sink
	l.sinceFlush++
	flush := sink != nil && l.sinceFlush >= l.flushEvery
	if flush {
		l.sinceFlush = 0
	}
	l.mu.Unlock()

	if sink != nil {
		if err := sink.write(entry); err != nil {
			l.log.Error(err, "failed to write ledger entry to durable sink")
		} else if flush {
			if err := sink.flush(); err != nil {
				l.log.Error(err, "failed to flush ledger sink")
			}
		}
	}

	return entry
}

// snapshot returns a copy of all entries recorded so far (prefix-consistent
// view for readers, per spec.md §5).
func (l *Ledger) snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Aggregate is the summary view returned to callers and to C10.
type Aggregate struct {
	TotalCostUSD   float64
	TotalTokens    int64
	Operations     int
	UniqueDocuments int
	PerAgent       map[string]float64
	PerDocumentAvg float64
}

// Aggregate re-reads the ledger in full and computes totals, per-agent
// breakdown, and per-document average, per spec.md §4.5.
func (l *Ledger) Aggregate() Aggregate {
	entries := l.snapshot()

	agg := Aggregate{PerAgent: make(map[string]float64)}
	docs := make(map[string]struct{})

	for _, e := range entries {
		agg.TotalCostUSD += e.CostUSD
		agg.TotalTokens += e.InputTokens + e.OutputTokens
		agg.Operations++
		agg.PerAgent[e.AgentName] += e.CostUSD
		if e.DocumentID != "" {
			docs[e.DocumentID] = struct{}{}
		}
	}
	agg.UniqueDocuments = len(docs)
	if agg.UniqueDocuments > 0 {
		agg.PerDocumentAvg = agg.TotalCostUSD / float64(agg.UniqueDocuments)
	}
	return agg
}

// MeetsTarget reports whether total_cost / max(unique_docs, 1) <=
// targetPerDoc, per spec.md §4.5.
func (l *Ledger) MeetsTarget(targetPerDoc float64) bool {
	agg := l.Aggregate()
	denom := agg.UniqueDocuments
	if denom < 1 {
		denom = 1
	}
	return agg.TotalCostUSD/float64(denom) <= targetPerDoc
}

// --- CSV durability sink ---

type csvSink struct {
	mu          sync.Mutex
	w           *csv.Writer
	wroteHeader bool
}

func newCSVSink(w io.Writer) *csvSink {
	return &csvSink{w: csv.NewWriter(w)}
}

var csvHeader = []string{
	"timestamp", "agent_name", "model_name", "input_tokens", "output_tokens",
	"total_tokens", "cost_usd", "duration_ms", "document_id", "success",
}

func (s *csvSink) write(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.wroteHeader {
		if err := s.w.Write(csvHeader); err != nil {
			return err
		}
		s.wroteHeader = true
	}

	record := []string{
		e.Timestamp.Format(time.RFC3339),
		e.AgentName,
		e.ModelName,
		fmt.Sprintf("%d", e.InputTokens),
		fmt.Sprintf("%d", e.OutputTokens),
		fmt.Sprintf("%d", e.InputTokens+e.OutputTokens),
		fmt.Sprintf("%.6f", e.CostUSD),
		fmt.Sprintf("%d", e.DurationMs),
		e.DocumentID,
		boolString(e.Success),
	}
	return s.w.Write(record)
}

func (s *csvSink) flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	return s.w.Error()
}

func boolString(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
