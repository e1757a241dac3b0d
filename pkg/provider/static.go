package provider

import (
	"context"
	"sync"
	"time"

	"github.com/OrlandoBitencourt/pennant/pkg/domain"
)

// Static serves a snapshot held in memory. Hosts use it for flags compiled
// into the binary and tests use it to script provider behavior: Set
// publishes to connected streams, Fail makes subsequent fetches error.
type Static struct {
	HealthTracker

	name string

	mu       sync.RWMutex
	snapshot domain.ProviderSnapshot
	err      error
	delay    time.Duration
	fetches  int
	subs     map[chan StreamEvent]struct{}
	native   map[string]domain.FlagValue
}

var (
	_ RealtimeProvider = (*Static)(nil)
	_ HealthReporter   = (*Static)(nil)
	_ NativeEvaluator  = (*Static)(nil)
)

// NewStatic returns a provider named name serving snapshot.
func NewStatic(name string, snapshot domain.ProviderSnapshot) *Static {
	return &Static{
		name:     name,
		snapshot: snapshot,
		subs:     make(map[chan StreamEvent]struct{}),
	}
}

func (s *Static) Name() string { return s.name }

func (s *Static) Bootstrap(ctx context.Context) (domain.ProviderSnapshot, error) {
	return s.fetch(ctx)
}

func (s *Static) Refresh(ctx context.Context) (domain.ProviderSnapshot, error) {
	return s.fetch(ctx)
}

func (s *Static) fetch(ctx context.Context) (domain.ProviderSnapshot, error) {
	s.mu.Lock()
	s.fetches++
	delay, err, snap := s.delay, s.err, s.snapshot
	s.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			err := domain.NewNetworkError("fetch cancelled", ctx.Err())
			s.Record(err)
			return domain.ProviderSnapshot{}, err
		case <-timer.C:
		}
	}

	s.Record(err)
	if err != nil {
		return domain.ProviderSnapshot{}, err
	}
	return snap, nil
}

// Set replaces the served snapshot and pushes it to connected streams.
func (s *Static) Set(snapshot domain.ProviderSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot = snapshot
	// sends happen under the lock so drop cannot close a channel mid-send
	for ch := range s.subs {
		snap := snapshot
		select {
		case ch <- StreamEvent{Snapshot: &snap}:
		default:
		}
	}
}

// Error pushes err to connected streams without closing them.
func (s *Static) Error(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ch := range s.subs {
		select {
		case ch <- StreamEvent{Err: err}:
		default:
		}
	}
}

// Fail makes fetches return err until called again with nil.
func (s *Static) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// SetDelay makes each fetch wait d, honoring context cancellation.
func (s *Static) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// SetNative installs values answered through NativeEvaluator.
func (s *Static) SetNative(values map[string]domain.FlagValue) {
	s.mu.Lock()
	s.native = values
	s.mu.Unlock()
}

// Fetches returns how many times Bootstrap or Refresh ran.
func (s *Static) Fetches() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetches
}

func (s *Static) EvaluateFlag(key string, _ domain.EvalContext) (domain.FlagValue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.native[key]
	return v, ok && v != nil
}

func (s *Static) EvaluateExperiment(string, domain.EvalContext) (*domain.ExperimentAssignment, bool) {
	return nil, false
}

// Connect streams every later Set until ctx is done or Disconnect is called.
// Events are dropped if the reader falls more than a few behind.
func (s *Static) Connect(ctx context.Context) (<-chan StreamEvent, error) {
	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return nil, err
	}
	ch := make(chan StreamEvent, 8)
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.drop(ch)
	}()
	return ch, nil
}

// Disconnect closes every open stream.
func (s *Static) Disconnect() error {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[chan StreamEvent]struct{})
	s.mu.Unlock()

	for ch := range subs {
		close(ch)
	}
	return nil
}

func (s *Static) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs) > 0
}

func (s *Static) drop(ch chan StreamEvent) {
	s.mu.Lock()
	_, ok := s.subs[ch]
	delete(s.subs, ch)
	s.mu.Unlock()
	if ok {
		close(ch)
	}
}
