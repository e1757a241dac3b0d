package pennant

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/OrlandoBitencourt/pennant/internal/logging"
	"github.com/OrlandoBitencourt/pennant/pkg/realtime"
	"github.com/OrlandoBitencourt/pennant/pkg/retry"
	"github.com/OrlandoBitencourt/pennant/pkg/telemetry"
)

// Option configures a Manager's collaborators.
type Option func(*managerOptions) error

// managerOptions holds the collaborators that are not part of Config.
type managerOptions struct {
	logger      *slog.Logger
	logLevel    string
	telemetry   telemetry.Provider
	now         func() time.Time
	retry       retry.Policy
	realtimeOps []realtime.Option
	listeners   []Listener
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(o *managerOptions) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		o.logger = logger
		return nil
	}
}

// WithLogLevel makes the manager log JSON to stderr at level. An empty
// level uses Config.LogLevel. Ignored when WithLogger is also given.
//
// Example:
//
//	m, err := pennant.New(cfg, pennant.WithLogLevel("debug"))
func WithLogLevel(level string) Option {
	return func(o *managerOptions) error {
		if level == "" {
			level = "default"
		}
		o.logLevel = level
		return nil
	}
}

// WithTelemetry sets the telemetry provider. Use telemetry.Multi to fan out
// to several.
func WithTelemetry(provider telemetry.Provider) Option {
	return func(o *managerOptions) error {
		if provider == nil {
			return fmt.Errorf("telemetry provider cannot be nil")
		}
		o.telemetry = provider
		return nil
	}
}

// WithClock replaces time.Now for staleness checks, status reporting and
// snapshot stamping.
func WithClock(now func() time.Time) Option {
	return func(o *managerOptions) error {
		if now == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		o.now = now
		return nil
	}
}

// WithRetryPolicy overrides the policy built from the Retry* settings.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(o *managerOptions) error {
		if policy == nil {
			return fmt.Errorf("retry policy cannot be nil")
		}
		o.retry = policy
		return nil
	}
}

// WithRealtimeOptions passes options through to the realtime manager.
func WithRealtimeOptions(opts ...realtime.Option) Option {
	return func(o *managerOptions) error {
		o.realtimeOps = append(o.realtimeOps, opts...)
		return nil
	}
}

// WithListener registers a listener before the manager starts. Use
// AddListener afterwards to obtain a subscription id.
func WithListener(l Listener) Option {
	return func(o *managerOptions) error {
		if l == nil {
			return fmt.Errorf("listener cannot be nil")
		}
		o.listeners = append(o.listeners, l)
		return nil
	}
}

func (o *managerOptions) resolveLogger(cfg Settings) *slog.Logger {
	switch {
	case o.logger != nil:
		return o.logger
	case o.logLevel == "default":
		return logging.New(cfg.LogLevel)
	case o.logLevel != "":
		return logging.New(o.logLevel)
	default:
		return logging.Discard()
	}
}
