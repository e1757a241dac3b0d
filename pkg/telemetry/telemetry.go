// Package telemetry defines the instrumentation surface of the flag
// manager and ships no-op, OpenTelemetry and Prometheus implementations.
package telemetry

import (
	"context"
	"time"
)

// Provider defines the interface for telemetry providers
type Provider interface {
	// Tracer operations
	StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span)

	// Cache lookups made while loading persisted snapshots, keyed by provider name.
	RecordCacheHit(ctx context.Context, provider string)
	RecordCacheMiss(ctx context.Context, provider string)

	// RecordEvaluation counts one flag or experiment read and the layer that answered it.
	RecordEvaluation(ctx context.Context, key string, source string)

	// RecordFetch records one bootstrap or refresh against a provider.
	RecordFetch(ctx context.Context, provider string, success bool, duration time.Duration, flagCount int)

	RecordCircuitState(ctx context.Context, provider string, state string)
	RecordReconnect(ctx context.Context, provider string, delay time.Duration)

	// Lifecycle
	Shutdown(ctx context.Context) error
}

// Span represents a trace span
type Span interface {
	End()
	SetAttributes(attrs ...Attribute)
	RecordError(err error)
	AddEvent(name string, attrs ...Attribute)
}

// SpanOption configures span creation
type SpanOption func(*SpanConfig)

// SpanConfig holds span configuration
type SpanConfig struct {
	Attributes []Attribute
}

// Attribute represents a key-value attribute
type Attribute struct {
	Key   string
	Value any
}

// WithAttributes adds attributes to a span
func WithAttributes(attrs ...Attribute) SpanOption {
	return func(c *SpanConfig) {
		c.Attributes = append(c.Attributes, attrs...)
	}
}

func String(key, value string) Attribute { return Attribute{Key: key, Value: value} }

func Int(key string, value int) Attribute { return Attribute{Key: key, Value: value} }

func Int64(key string, value int64) Attribute { return Attribute{Key: key, Value: value} }

func Bool(key string, value bool) Attribute { return Attribute{Key: key, Value: value} }

func Float64(key string, value float64) Attribute { return Attribute{Key: key, Value: value} }

// Duration records value in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// CircuitStateValue maps a breaker state name to the gauge encoding
// (0=closed, 1=open, 2=half-open).
func CircuitStateValue(state string) int64 {
	switch state {
	case "open":
		return 1
	case "half-open":
		return 2
	default:
		return 0
	}
}
