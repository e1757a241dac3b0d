package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/OrlandoBitencourt/pennant"

// OTelOption configures an OTelProvider.
type OTelOption func(*otelConfig)

type otelConfig struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *otelConfig) { c.tracerProvider = tp }
}

// WithMeterProvider overrides the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) OTelOption {
	return func(c *otelConfig) { c.meterProvider = mp }
}

// OTelProvider implements Provider using OpenTelemetry
type OTelProvider struct {
	tracer trace.Tracer
	meter  metric.Meter

	cacheHits     metric.Int64Counter
	cacheMisses   metric.Int64Counter
	evaluations   metric.Int64Counter
	fetchDuration metric.Float64Histogram
	fetchSuccess  metric.Int64Counter
	fetchFailure  metric.Int64Counter
	reconnects    metric.Int64Counter
	circuitState  metric.Int64ObservableGauge
	registration  metric.Registration

	mu            sync.RWMutex
	circuitStates map[string]int64
}

// NewOTel creates a new OpenTelemetry provider
func NewOTel(opts ...OTelOption) (*OTelProvider, error) {
	cfg := otelConfig{
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	provider := &OTelProvider{
		tracer:        cfg.tracerProvider.Tracer(instrumentationName),
		meter:         cfg.meterProvider.Meter(instrumentationName),
		circuitStates: make(map[string]int64),
	}

	if err := provider.initMetrics(); err != nil {
		return nil, err
	}

	return provider, nil
}

func (o *OTelProvider) initMetrics() error {
	var err error

	o.cacheHits, err = o.meter.Int64Counter(
		"pennant.cache.hits",
		metric.WithDescription("Number of snapshot cache hits"),
	)
	if err != nil {
		return err
	}

	o.cacheMisses, err = o.meter.Int64Counter(
		"pennant.cache.misses",
		metric.WithDescription("Number of snapshot cache misses"),
	)
	if err != nil {
		return err
	}

	o.evaluations, err = o.meter.Int64Counter(
		"pennant.evaluations",
		metric.WithDescription("Number of flag and experiment reads"),
	)
	if err != nil {
		return err
	}

	o.fetchDuration, err = o.meter.Float64Histogram(
		"pennant.fetch.duration",
		metric.WithDescription("Duration of provider fetches"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	o.fetchSuccess, err = o.meter.Int64Counter(
		"pennant.fetch.success",
		metric.WithDescription("Number of successful provider fetches"),
	)
	if err != nil {
		return err
	}

	o.fetchFailure, err = o.meter.Int64Counter(
		"pennant.fetch.failure",
		metric.WithDescription("Number of failed provider fetches"),
	)
	if err != nil {
		return err
	}

	o.reconnects, err = o.meter.Int64Counter(
		"pennant.realtime.reconnects",
		metric.WithDescription("Number of realtime reconnect attempts"),
	)
	if err != nil {
		return err
	}

	o.circuitState, err = o.meter.Int64ObservableGauge(
		"pennant.circuit.state",
		metric.WithDescription("Circuit breaker state per provider (0=closed, 1=open, 2=half-open)"),
	)
	if err != nil {
		return err
	}

	o.registration, err = o.meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		o.mu.RLock()
		defer o.mu.RUnlock()
		for name, state := range o.circuitStates {
			observer.ObserveInt64(o.circuitState, state, metric.WithAttributes(attribute.String("provider", name)))
		}
		return nil
	}, o.circuitState)
	return err
}

// StartSpan creates a new trace span
func (o *OTelProvider) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	config := &SpanConfig{}
	for _, opt := range opts {
		opt(config)
	}

	ctx, otelSpan := o.tracer.Start(ctx, name, trace.WithAttributes(convertAttributes(config.Attributes)...))
	return ctx, &OTelSpan{span: otelSpan}
}

func convertAttributes(attrs []Attribute) []attribute.KeyValue {
	out := make([]attribute.KeyValue, len(attrs))
	for i, attr := range attrs {
		out[i] = convertAttribute(attr)
	}
	return out
}

func convertAttribute(attr Attribute) attribute.KeyValue {
	switch v := attr.Value.(type) {
	case string:
		return attribute.String(attr.Key, v)
	case int:
		return attribute.Int(attr.Key, v)
	case int64:
		return attribute.Int64(attr.Key, v)
	case bool:
		return attribute.Bool(attr.Key, v)
	case float64:
		return attribute.Float64(attr.Key, v)
	default:
		return attribute.String(attr.Key, "")
	}
}

func (o *OTelProvider) RecordCacheHit(ctx context.Context, provider string) {
	o.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

func (o *OTelProvider) RecordCacheMiss(ctx context.Context, provider string) {
	o.cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

func (o *OTelProvider) RecordEvaluation(ctx context.Context, key string, source string) {
	o.evaluations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("flag.key", key),
		attribute.String("source", source),
	))
}

func (o *OTelProvider) RecordFetch(ctx context.Context, provider string, success bool, duration time.Duration, flagCount int) {
	o.fetchDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("success", success),
	))

	if success {
		o.fetchSuccess.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.Int("flag.count", flagCount),
		))
	} else {
		o.fetchFailure.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
	}
}

func (o *OTelProvider) RecordCircuitState(_ context.Context, provider string, state string) {
	o.mu.Lock()
	o.circuitStates[provider] = CircuitStateValue(state)
	o.mu.Unlock()
}

func (o *OTelProvider) RecordReconnect(ctx context.Context, provider string, delay time.Duration) {
	o.reconnects.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Int64("delay.ms", delay.Milliseconds()),
	))
}

// Shutdown unregisters the gauge callback. SDK providers are owned, and
// shut down, by the host.
func (o *OTelProvider) Shutdown(ctx context.Context) error {
	if o.registration == nil {
		return nil
	}
	return o.registration.Unregister()
}

// OTelSpan wraps an OpenTelemetry span
type OTelSpan struct {
	span trace.Span
}

func (s *OTelSpan) End() {
	s.span.End()
}

func (s *OTelSpan) SetAttributes(attrs ...Attribute) {
	s.span.SetAttributes(convertAttributes(attrs)...)
}

// RecordError records err and marks the span failed.
func (s *OTelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func (s *OTelSpan) AddEvent(name string, attrs ...Attribute) {
	s.span.AddEvent(name, trace.WithAttributes(convertAttributes(attrs)...))
}
