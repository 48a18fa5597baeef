/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package telemetry configures OpenTelemetry tracing for the compliance
// engine. One span wraps each pipeline step (an agent decision); one child
// span wraps each resilient external call C4 makes on that step's behalf.
// Custom span attributes use the `complyengine.` prefix.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "complyengine.io/pipeline"
)

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initialises the OTel trace provider with an OTLP gRPC
// exporter. If endpoint is empty, tracing is disabled (noop provider is
// used). Returns a shutdown function that must be called on application
// exit.
func InitTraceProvider(ctx context.Context, endpoint string, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(), // always plaintext; this option takes precedence over OTEL_EXPORTER_OTLP_INSECURE
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("complyengine"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// --- Span helpers ---

// StartChainSpan creates the parent span for one opportunity's full
// Scout->Guard->(Fixer|Watchman) run.
func StartChainSpan(ctx context.Context, projectID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("complyengine.project_id", projectID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartStepSpan creates a child span for one agent's invocation within the
// chain.
func StartStepSpan(ctx context.Context, agentName, role string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "pipeline.step",
		trace.WithAttributes(
			attribute.String("complyengine.agent", agentName),
			attribute.String("complyengine.role", role),
		),
	)
}

// EndStepSpan enriches the step span with the decision, its confidence, and
// the agent's cost once C2/C5 have produced them.
func EndStepSpan(span trace.Span, decision string, confidence, costUSD float64) {
	span.SetAttributes(
		attribute.String("complyengine.decision", decision),
		attribute.Float64("complyengine.confidence", confidence),
		attribute.Float64("complyengine.cost_usd", costUSD),
	)
	span.End()
}

// StartExternalCallSpan creates a child span for one attempt C4 makes
// against a named external endpoint.
func StartExternalCallSpan(ctx context.Context, endpoint string, attempt int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "external.call",
		trace.WithAttributes(
			attribute.String("complyengine.endpoint", endpoint),
			attribute.Int("complyengine.attempt", attempt),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndExternalCallSpan enriches the external-call span with its outcome.
func EndExternalCallSpan(span trace.Span, breakerState string, err error) {
	span.SetAttributes(
		attribute.String("complyengine.breaker_state", breakerState),
	)
	if err != nil {
		span.SetAttributes(attribute.String("complyengine.error", err.Error()))
	}
	span.End()
}
