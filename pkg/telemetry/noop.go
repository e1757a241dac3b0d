package telemetry

import (
	"context"
	"time"
)

// NoOpProvider is a telemetry provider that does nothing
type NoOpProvider struct{}

// NewNoOp creates a new no-op telemetry provider
func NewNoOp() *NoOpProvider {
	return &NoOpProvider{}
}

func (n *NoOpProvider) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	return ctx, NoOpSpan{}
}

func (n *NoOpProvider) RecordCacheHit(context.Context, string) {}

func (n *NoOpProvider) RecordCacheMiss(context.Context, string) {}

func (n *NoOpProvider) RecordEvaluation(context.Context, string, string) {}

func (n *NoOpProvider) RecordFetch(context.Context, string, bool, time.Duration, int) {}

func (n *NoOpProvider) RecordCircuitState(context.Context, string, string) {}

func (n *NoOpProvider) RecordReconnect(context.Context, string, time.Duration) {}

func (n *NoOpProvider) Shutdown(context.Context) error { return nil }

// NoOpSpan is a span that does nothing
type NoOpSpan struct{}

func (NoOpSpan) End() {}

func (NoOpSpan) SetAttributes(...Attribute) {}

func (NoOpSpan) RecordError(error) {}

func (NoOpSpan) AddEvent(string, ...Attribute) {}
