package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "fortitude"

// StartTaskSpan starts a span covering a research task's lifetime, from
// dequeue to terminal state.
func StartTaskSpan(ctx context.Context, taskID, researchType string, priority int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("task.research_type", researchType),
			attribute.Int("task.priority", priority),
		),
	)
}

// StartProviderQuerySpan starts a span for a single research query issued
// to a provider.
func StartProviderQuerySpan(ctx context.Context, provider, taskID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "provider_query",
		trace.WithAttributes(
			attribute.String("provider.name", provider),
			attribute.String("task.id", taskID),
		),
	)
}

// StartCacheLookupSpan starts a span for a response cache lookup.
func StartCacheLookupSpan(ctx context.Context, fingerprint string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "cache_lookup",
		trace.WithAttributes(
			attribute.String("cache.fingerprint", fingerprint),
		),
	)
}

// StartGapAnalysisSpan starts a span for a gap detection pass over a file.
func StartGapAnalysisSpan(ctx context.Context, filePath string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "gap_analysis",
		trace.WithAttributes(
			attribute.String("file.path", filePath),
		),
	)
}
