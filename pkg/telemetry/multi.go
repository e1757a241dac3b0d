package telemetry

import (
	"context"
	"errors"
	"time"
)

// Multi fans every call out to several providers, e.g. OTel traces plus a
// Prometheus scrape endpoint.
type Multi []Provider

func (m Multi) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	spans := make(multiSpan, 0, len(m))
	for _, p := range m {
		var s Span
		ctx, s = p.StartSpan(ctx, name, opts...)
		spans = append(spans, s)
	}
	return ctx, spans
}

func (m Multi) RecordCacheHit(ctx context.Context, provider string) {
	for _, p := range m {
		p.RecordCacheHit(ctx, provider)
	}
}

func (m Multi) RecordCacheMiss(ctx context.Context, provider string) {
	for _, p := range m {
		p.RecordCacheMiss(ctx, provider)
	}
}

func (m Multi) RecordEvaluation(ctx context.Context, key string, source string) {
	for _, p := range m {
		p.RecordEvaluation(ctx, key, source)
	}
}

func (m Multi) RecordFetch(ctx context.Context, provider string, success bool, duration time.Duration, flagCount int) {
	for _, p := range m {
		p.RecordFetch(ctx, provider, success, duration, flagCount)
	}
}

func (m Multi) RecordCircuitState(ctx context.Context, provider string, state string) {
	for _, p := range m {
		p.RecordCircuitState(ctx, provider, state)
	}
}

func (m Multi) RecordReconnect(ctx context.Context, provider string, delay time.Duration) {
	for _, p := range m {
		p.RecordReconnect(ctx, provider, delay)
	}
}

func (m Multi) Shutdown(ctx context.Context) error {
	var errs []error
	for _, p := range m {
		if err := p.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type multiSpan []Span

func (s multiSpan) End() {
	for _, span := range s {
		span.End()
	}
}

func (s multiSpan) SetAttributes(attrs ...Attribute) {
	for _, span := range s {
		span.SetAttributes(attrs...)
	}
}

func (s multiSpan) RecordError(err error) {
	for _, span := range s {
		span.RecordError(err)
	}
}

func (s multiSpan) AddEvent(name string, attrs ...Attribute) {
	for _, span := range s {
		span.AddEvent(name, attrs...)
	}
}
