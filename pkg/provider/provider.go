// Package provider defines the interfaces a flag source implements to feed
// the manager, plus a small in-memory implementation.
package provider

import (
	"context"
	"time"

	"github.com/OrlandoBitencourt/pennant/pkg/domain"
)

// FlagsProvider is a named source of snapshots. Errors should be (or wrap)
// *domain.NetworkError or *domain.ParseError where that applies; the
// manager wraps whatever is returned in a *domain.ProviderError.
type FlagsProvider interface {
	Name() string
	Bootstrap(ctx context.Context) (domain.ProviderSnapshot, error)
	Refresh(ctx context.Context) (domain.ProviderSnapshot, error)
}

// NativeEvaluator is implemented by providers that can resolve keys
// themselves, e.g. SDKs that evaluate server-side rules. It is consulted
// only for keys no snapshot carries.
type NativeEvaluator interface {
	EvaluateFlag(key string, ctx domain.EvalContext) (domain.FlagValue, bool)
	EvaluateExperiment(key string, ctx domain.EvalContext) (*domain.ExperimentAssignment, bool)
}

// HealthReporter exposes a provider's own view of its health.
type HealthReporter interface {
	IsHealthy() bool
	LastSuccessfulFetch() time.Time
	ConsecutiveFailures() int
}

// StreamEvent is one item from a realtime stream: either a new snapshot or
// an error. An error does not end the stream; a closed channel does.
type StreamEvent struct {
	Snapshot *domain.ProviderSnapshot
	Err      error
}

// RealtimeProvider is a FlagsProvider that can push snapshots as they
// change. The channel returned by Connect is closed when ctx is cancelled
// or the connection drops.
type RealtimeProvider interface {
	FlagsProvider
	Connect(ctx context.Context) (<-chan StreamEvent, error)
	Disconnect() error
	IsConnected() bool
}
