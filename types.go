package pennant

import (
	"time"

	"github.com/OrlandoBitencourt/pennant/pkg/circuit"
	"github.com/OrlandoBitencourt/pennant/pkg/domain"
)

// Re-exported so hosts rarely need to import pkg/domain.
type (
	EvalContext          = domain.EvalContext
	FlagValue            = domain.FlagValue
	ProviderSnapshot     = domain.ProviderSnapshot
	ExperimentDefinition = domain.ExperimentDefinition
	ExperimentAssignment = domain.ExperimentAssignment
	Variant              = domain.Variant
	EvaluationDetail     = domain.EvaluationDetail
)

// NewContext creates an evaluation context for a user.
func NewContext(userID string) EvalContext {
	return EvalContext{UserID: userID}
}

// NewDeviceContext creates an evaluation context for an anonymous device.
func NewDeviceContext(deviceID string) EvalContext {
	return EvalContext{DeviceID: deviceID}
}

// WithAttribute returns a copy of ctx with key set. The attribute map is
// copied, never shared with ctx.
func WithAttribute(ctx EvalContext, key, value string) EvalContext {
	attrs := make(map[string]string, len(ctx.Attributes)+1)
	for k, v := range ctx.Attributes {
		attrs[k] = v
	}
	attrs[key] = value
	ctx.Attributes = attrs
	return ctx
}

// State is the lifecycle state of a Manager.
type State int32

const (
	StateUninitialized State = iota
	StateBootstrapping
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateBootstrapping:
		return "bootstrapping"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Listener receives change notifications. Callbacks run synchronously, one
// listener at a time, outside the manager's locks.
type Listener interface {
	// OnSnapshotUpdated is called with the provider name after its snapshot
	// is replaced.
	OnSnapshotUpdated(source string)
	OnOverrideChanged(key string)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	SnapshotUpdated func(source string)
	OverrideChanged func(key string)
}

func (f ListenerFuncs) OnSnapshotUpdated(source string) {
	if f.SnapshotUpdated != nil {
		f.SnapshotUpdated(source)
	}
}

func (f ListenerFuncs) OnOverrideChanged(key string) {
	if f.OverrideChanged != nil {
		f.OverrideChanged(key)
	}
}

// ProviderStatus is a point-in-time view of one provider.
type ProviderStatus struct {
	Name string

	// Fetch bookkeeping kept by the manager
	LastAttempt         time.Time
	LastSuccess         time.Time
	ConsecutiveFailures int
	LastError           error

	// Circuit is StateClosed when the breaker is disabled.
	Circuit circuit.State

	// Current snapshot
	HasSnapshot bool
	Revision    string
	SnapshotAge time.Duration
	Stale       bool

	// Reported is the provider's own health view, when it implements
	// provider.HealthReporter.
	Reported *ReportedHealth
}

// ReportedHealth mirrors provider.HealthReporter.
type ReportedHealth struct {
	Healthy             bool
	LastSuccessfulFetch time.Time
	ConsecutiveFailures int
}
