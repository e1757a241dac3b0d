// Package circuit isolates a failing dependency behind a circuit breaker.
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/OrlandoBitencourt/pennant/pkg/domain"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed - circuit is closed, requests pass through
	StateClosed State = iota
	// StateOpen - circuit is open, requests fail fast
	StateOpen
	// StateHalfOpen - circuit is probing whether the dependency recovered
	StateHalfOpen
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration
type Config struct {
	// Name identifies the breaker in errors and callbacks.
	Name string

	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive half-open successes that closes it.
	SuccessThreshold int

	// Timeout is how long the circuit stays open after the last failure.
	Timeout time.Duration

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time

	// OnStateChange is called after every transition, outside the breaker lock.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns default circuit breaker configuration
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// Breaker implements the circuit breaker pattern
type Breaker struct {
	mu sync.Mutex

	name             string
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	now              func() time.Time
	onStateChange    func(name string, from, to State)

	state           State
	failures        int
	successes       int
	lastFailureTime time.Time
	lastStateChange time.Time

	totalRequests   int64
	totalSuccesses  int64
	totalFailures   int64
	totalRejections int64
}

type transition struct {
	from, to State
}

// New creates a new circuit breaker. Non-positive settings fall back to
// DefaultConfig values.
func New(config Config) *Breaker {
	def := DefaultConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Breaker{
		name:             config.Name,
		failureThreshold: config.FailureThreshold,
		successThreshold: config.SuccessThreshold,
		timeout:          config.Timeout,
		now:              config.Now,
		onStateChange:    config.OnStateChange,
		state:            StateClosed,
		lastStateChange:  config.Now(),
	}
}

// Call runs fn with circuit breaker protection. While the circuit is open it
// returns a *domain.CircuitOpenError without calling fn; otherwise it
// returns fn's own error unchanged.
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	err := fn(ctx)
	b.afterCall(err)
	return err
}

// Execute is Call for operations that produce a value.
func Execute[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := b.Call(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	var changed []transition
	defer func() {
		b.mu.Unlock()
		b.notify(changed)
	}()

	b.totalRequests++

	if b.state == StateOpen {
		elapsed := b.now().Sub(b.lastFailureTime)
		if elapsed < b.timeout {
			b.totalRejections++
			return &domain.CircuitOpenError{
				Name:          b.name,
				Failures:      b.failures,
				RetryAfterMs:  (b.timeout - elapsed).Milliseconds(),
				LastFailureMs: b.lastFailureTime.UnixMilli(),
			}
		}
		changed = b.setState(StateHalfOpen, changed)
	}
	return nil
}

func (b *Breaker) afterCall(err error) {
	b.mu.Lock()
	var changed []transition
	if err != nil {
		changed = b.onFailure(changed)
	} else {
		changed = b.onSuccess(changed)
	}
	b.mu.Unlock()
	b.notify(changed)
}

func (b *Breaker) onSuccess(changed []transition) []transition {
	b.totalSuccesses++
	b.failures = 0

	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= b.successThreshold {
			changed = b.setState(StateClosed, changed)
		}
	}
	return changed
}

func (b *Breaker) onFailure(changed []transition) []transition {
	b.totalFailures++
	b.failures++
	b.lastFailureTime = b.now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.failureThreshold {
			changed = b.setState(StateOpen, changed)
		}
	case StateHalfOpen:
		// any half-open failure reopens immediately
		changed = b.setState(StateOpen, changed)
	}
	return changed
}

// setState must be called with b.mu held.
func (b *Breaker) setState(to State, changed []transition) []transition {
	from := b.state
	if from == to {
		return changed
	}

	b.state = to
	b.successes = 0
	b.lastStateChange = b.now()
	if to == StateClosed {
		b.failures = 0
	}
	return append(changed, transition{from: from, to: to})
}

func (b *Breaker) notify(changed []transition) {
	if b.onStateChange == nil {
		return
	}
	for _, t := range changed {
		b.onStateChange(b.name, t.from, t.to)
	}
}

// Name returns the configured name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state. An open circuit whose timeout has
// elapsed still reports open until the next call probes it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker closed and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	changed := b.setState(StateClosed, nil)
	b.failures = 0
	b.successes = 0
	b.mu.Unlock()
	b.notify(changed)
}

// Stats returns circuit breaker statistics
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		State:           b.state,
		Failures:        b.failures,
		Successes:       b.successes,
		TotalRequests:   b.totalRequests,
		TotalSuccesses:  b.totalSuccesses,
		TotalFailures:   b.totalFailures,
		TotalRejections: b.totalRejections,
		LastFailureTime: b.lastFailureTime,
		LastStateChange: b.lastStateChange,
	}
}

// Stats represents circuit breaker statistics
type Stats struct {
	State           State
	Failures        int
	Successes       int
	TotalRequests   int64
	TotalSuccesses  int64
	TotalFailures   int64
	TotalRejections int64
	LastFailureTime time.Time
	LastStateChange time.Time
}
