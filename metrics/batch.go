/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package metrics provides OpenTelemetry instrumentation for batch inference
// jobs.
package metrics

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Batch records token usage and truncation counts for batch prediction runs.
// Counter creation degrades gracefully: a failed instrument logs a warning and
// is replaced with a no-op rather than failing the run.
type Batch struct {
	meter            metric.Meter
	promptTokens     metric.Int64Counter
	completionTokens metric.Int64Counter
	truncations      metric.Int64Counter
}

// NewBatch creates a Batch metrics instance under the given meter name. The
// model serves as a dimension on each recorded metric rather than part of the
// meter name.
func NewBatch(meterName string) *Batch {
	meter := otel.Meter(meterName, metric.WithInstrumentationVersion("1.0.0"))

	promptTokens, err := meter.Int64Counter("batch.token.prompt",
		metric.WithDescription("The number of prompt tokens consumed by batch requests"),
		metric.WithUnit("{tokens}"))
	if err != nil {
		slog.Warn("Failed to create prompt tokens counter, metrics will be disabled", "error", err, "meter", meterName)
		promptTokens = noop.Int64Counter{}
	}

	completionTokens, err := meter.Int64Counter("batch.token.completion",
		metric.WithDescription("The number of completion tokens produced by batch responses"),
		metric.WithUnit("{tokens}"))
	if err != nil {
		slog.Warn("Failed to create completion tokens counter, metrics will be disabled", "error", err, "meter", meterName)
		completionTokens = noop.Int64Counter{}
	}

	truncations, err := meter.Int64Counter("batch.response.truncations",
		metric.WithDescription("The number of responses cut off at the output token budget"),
		metric.WithUnit("{responses}"))
	if err != nil {
		slog.Warn("Failed to create truncation counter, metrics will be disabled", "error", err, "meter", meterName)
		truncations = noop.Int64Counter{}
	}

	return &Batch{
		meter:            meter,
		promptTokens:     promptTokens,
		completionTokens: completionTokens,
		truncations:      truncations,
	}
}

// RecordTokens records per-response token usage.
func (m *Batch) RecordTokens(ctx context.Context, model string, promptTokens, completionTokens int64) {
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.promptTokens.Add(ctx, promptTokens, attrs)
	m.completionTokens.Add(ctx, completionTokens, attrs)
}

// RecordTruncation records one response that hit the output token budget.
func (m *Batch) RecordTruncation(ctx context.Context, model string) {
	m.truncations.Add(ctx, 1, metric.WithAttributes(attribute.String("model", model)))
}
