// Licensed to Andrew Kroh under one or more agreements.
// Andrew Kroh licenses this file to you under the Apache 2.0 License.
// See the LICENSE file in the project root for more information.

package otelsetup

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Log attribute keys used to correlate records with spans.
const (
	traceIDKey = "trace.id"
	spanIDKey  = "span.id"
	sampledKey = "trace.sampled"
)

// TraceHandler is a slog.Handler that annotates records with the IDs of the
// span active in the record's context.
type TraceHandler struct {
	inner slog.Handler
}

// NewTraceHandler wraps inner.
func NewTraceHandler(inner slog.Handler) *TraceHandler {
	return &TraceHandler{inner: inner}
}

func (h *TraceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle adds trace.id, span.id and trace.sampled when ctx carries a valid
// span context, then passes the record on.
func (h *TraceHandler) Handle(ctx context.Context, record slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		record.AddAttrs(
			slog.String(traceIDKey, sc.TraceID().String()),
			slog.String(spanIDKey, sc.SpanID().String()),
			slog.Bool(sampledKey, sc.IsSampled()),
		)
	}
	return h.inner.Handle(ctx, record)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewTraceHandler(h.inner.WithAttrs(attrs))
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return NewTraceHandler(h.inner.WithGroup(name))
}
