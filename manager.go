// Package pennant evaluates feature flags and A/B experiments from an
// ordered list of providers, with local overrides, persistent snapshot
// caching and per-provider failure isolation.
//
// Reads never block on I/O: they resolve against the snapshots already in
// memory. Fetching happens in EnsureBootstrap, Sync/Refresh, the periodic
// refresh loop and realtime streams.
package pennant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/OrlandoBitencourt/pennant/internal/logging"
	"github.com/OrlandoBitencourt/pennant/pkg/circuit"
	"github.com/OrlandoBitencourt/pennant/pkg/domain"
	"github.com/OrlandoBitencourt/pennant/pkg/provider"
	"github.com/OrlandoBitencourt/pennant/pkg/realtime"
	"github.com/OrlandoBitencourt/pennant/pkg/retry"
	"github.com/OrlandoBitencourt/pennant/pkg/telemetry"
)

const (
	opBootstrap = "bootstrap"
	opRefresh   = "refresh"
)

// providerEntry is the manager's state for one registered provider.
type providerEntry struct {
	name     string
	provider provider.FlagsProvider
	breaker  *circuit.Breaker // nil when circuit breaking is disabled

	snapshot     atomic.Pointer[domain.ProviderSnapshot]
	revalidating atomic.Bool

	mu          sync.Mutex
	lastAttempt time.Time
	lastSuccess time.Time
	failures    int
	lastErr     error
}

func (e *providerEntry) record(now time.Time, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastAttempt = now
	if err != nil {
		e.failures++
		e.lastErr = err
		return
	}
	e.failures = 0
	e.lastErr = nil
	e.lastSuccess = now
}

// Manager is the main entry point for pennant. It owns the provider
// snapshots and overrides and answers flag and experiment reads.
type Manager struct {
	cfg       Config
	logger    *slog.Logger
	telemetry telemetry.Provider
	now       func() time.Time
	retry     retry.Policy
	realtime  *realtime.Manager

	entries     []*providerEntry
	byName      map[string]*providerEntry
	experiments map[string]domain.ExperimentDefinition

	state     atomic.Int32
	refreshes singleflight.Group

	overridesMu sync.RWMutex
	overrides   map[string]domain.FlagValue

	listenersMu sync.RWMutex
	listeners   []listenerEntry

	// lifecycle
	mu          sync.Mutex
	started     bool
	closed      bool
	bootstrapCh chan struct{}
	baseCtx     context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New creates a Manager from cfg. It validates the configuration but does
// no I/O; call Start or EnsureBootstrap to load flags.
//
// Example:
//
//	m, err := pennant.New(pennant.Config{
//	    Settings:  pennant.DefaultConfig().Settings,
//	    Providers: []provider.FlagsProvider{remote, builtin},
//	    Cache:     diskCache,
//	}, pennant.WithLogger(logger))
func New(cfg Config, opts ...Option) (*Manager, error) {
	o := &managerOptions{}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:         cfg,
		logger:      o.resolveLogger(cfg.Settings),
		telemetry:   o.telemetry,
		now:         o.now,
		retry:       o.retry,
		byName:      make(map[string]*providerEntry, len(cfg.Providers)),
		experiments: make(map[string]domain.ExperimentDefinition, len(cfg.Experiments)),
		overrides:   make(map[string]domain.FlagValue),
	}
	if m.telemetry == nil {
		m.telemetry = telemetry.NewNoOp()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.retry == nil {
		m.retry = cfg.retryPolicy()
	}
	m.baseCtx, m.cancel = context.WithCancel(context.Background())

	for _, p := range cfg.Providers {
		e := &providerEntry{name: p.Name(), provider: p}
		if cfg.CircuitEnabled {
			e.breaker = circuit.New(circuit.Config{
				Name:             e.name,
				FailureThreshold: cfg.CircuitFailureThreshold,
				SuccessThreshold: cfg.CircuitSuccessThreshold,
				Timeout:          cfg.CircuitTimeout,
				Now:              m.now,
				OnStateChange:    m.onCircuitChange,
			})
		}
		m.entries = append(m.entries, e)
		m.byName[e.name] = e
	}
	for _, exp := range cfg.Experiments {
		m.experiments[exp.Key] = exp
	}

	rtOpts := []realtime.Option{
		realtime.WithLogger(logging.Component(m.logger, "realtime")),
		realtime.WithReconnectHook(m.onReconnect),
	}
	m.realtime = realtime.NewManager(cfg.realtimeConfig(), append(rtOpts, o.realtimeOps...)...)

	for _, l := range o.listeners {
		m.AddListener(l)
	}

	return m, nil
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Start bootstraps the manager, waiting at most BootstrapTimeout, then
// starts the periodic refresh loop and, when enabled, realtime streams.
// Background work runs until Close, not until ctx is done; ctx only bounds
// the bootstrap wait.
//
// A bootstrap that has not finished in time is logged, not returned: the
// manager serves defaults until it completes.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return ErrClosed
	case m.started:
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	if !m.EnsureBootstrap(ctx, m.cfg.BootstrapTimeout) {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.logger.Warn("bootstrap still running, serving defaults", "timeout", m.cfg.BootstrapTimeout)
	}

	if m.cfg.RefreshInterval > 0 {
		m.goBackground(m.refreshLoop)
	}
	if m.cfg.RealtimeEnabled {
		m.startRealtime()
	}
	return nil
}

// Close stops background refresh, disconnects every realtime stream and
// waits for in-flight fetches to return. It is safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.realtime.DisconnectAll()
	m.wg.Wait()
	return nil
}

// EnsureBootstrap loads cached snapshots and then fetches every provider
// concurrently. Concurrent and repeated calls share a single attempt.
//
// It returns true once that attempt has completed, whether or not any
// provider succeeded: a manager with no usable provider is still ready and
// serves overrides and defaults. It returns false only when timeout elapses
// or ctx is done first; the attempt keeps running in the background and a
// later call can still observe its completion. A timeout <= 0 waits
// without limit.
func (m *Manager) EnsureBootstrap(ctx context.Context, timeout time.Duration) bool {
	if m.State() == StateReady {
		return true
	}

	done := m.startBootstrap()
	if done == nil {
		return false
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-done:
		return true
	case <-deadline:
		return false
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) startBootstrap() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bootstrapCh != nil {
		return m.bootstrapCh
	}
	if m.closed {
		return nil
	}

	ch := make(chan struct{})
	m.bootstrapCh = ch
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(ch)
		m.bootstrap(m.baseCtx)
	}()
	return ch
}

func (m *Manager) bootstrap(ctx context.Context) {
	m.state.Store(int32(StateBootstrapping))
	start := time.Now()

	ctx, span := m.telemetry.StartSpan(ctx, "pennant.bootstrap",
		telemetry.WithAttributes(telemetry.Int("providers", len(m.entries))))
	defer span.End()

	m.loadCached(ctx)

	var wg sync.WaitGroup
	for _, e := range m.entries {
		wg.Go(func() {
			_ = m.fetchShared(ctx, e, opBootstrap)
		})
	}
	wg.Wait()

	ready := 0
	for _, e := range m.entries {
		if e.snapshot.Load() != nil {
			ready++
		}
	}

	m.state.Store(int32(StateReady))
	span.SetAttributes(telemetry.Int("ready_providers", ready))
	level := slog.LevelInfo
	if ready == 0 && len(m.entries) > 0 {
		level = slog.LevelWarn
	}
	m.logger.Log(ctx, level, "bootstrap complete",
		"duration", time.Since(start),
		"ready_providers", ready,
		"providers", len(m.entries),
	)
}

// loadCached seeds providers that have no snapshot yet from the cache.
// Cache failures count as misses.
func (m *Manager) loadCached(ctx context.Context) {
	if m.cfg.Cache == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
	defer cancel()

	for _, e := range m.entries {
		snap, err := m.cfg.Cache.Load(ctx, e.name)
		if err != nil {
			m.logger.Warn("cache load failed", "provider", e.name, "error", err)
		}
		if err != nil || snap == nil {
			m.telemetry.RecordCacheMiss(ctx, e.name)
			continue
		}

		if err := snap.Validate(); err != nil {
			m.logger.Warn("cached snapshot rejected", "provider", e.name, "error", err)
			m.telemetry.RecordCacheMiss(ctx, e.name)
			continue
		}

		m.telemetry.RecordCacheHit(ctx, e.name)
		if e.snapshot.CompareAndSwap(nil, snap) {
			m.logger.Debug("loaded cached snapshot", "provider", e.name, "revision", snap.Revision)
			m.notifySnapshot(e.name)
		}
	}
}

// fetch runs one bootstrap or refresh against e through the retry policy
// and circuit breaker. On success the snapshot replaces the current one and
// is persisted; on failure the current snapshot is kept.
func (m *Manager) fetch(ctx context.Context, e *providerEntry, op string) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
	defer cancel()

	ctx, span := m.telemetry.StartSpan(ctx, "pennant.fetch", telemetry.WithAttributes(
		telemetry.String("provider", e.name),
		telemetry.String("op", op),
	))
	defer span.End()

	start := time.Now()
	attempts := 0
	snap, err := retry.DoValue(ctx, m.retry, func(ctx context.Context, attempt int) (domain.ProviderSnapshot, error) {
		attempts = attempt
		return m.call(ctx, e, op)
	})
	elapsed := time.Since(start)
	span.SetAttributes(telemetry.Int("attempts", attempts))

	if err != nil {
		err = domain.NewProviderError(e.name, op, err)
		e.record(m.now(), err)
		span.RecordError(err)
		m.telemetry.RecordFetch(ctx, e.name, false, elapsed, 0)
		m.logger.Warn("provider fetch failed",
			"provider", e.name,
			"op", op,
			"attempts", attempts,
			"error", err,
		)
		return err
	}

	e.record(m.now(), nil)
	m.telemetry.RecordFetch(ctx, e.name, true, elapsed, len(snap.Flags))
	span.SetAttributes(telemetry.Int("flags", len(snap.Flags)))
	m.store(ctx, e, snap)
	return nil
}

func (m *Manager) call(ctx context.Context, e *providerEntry, op string) (domain.ProviderSnapshot, error) {
	do := e.provider.Refresh
	if op == opBootstrap {
		do = e.provider.Bootstrap
	}

	validated := func(ctx context.Context) (domain.ProviderSnapshot, error) {
		snap, err := do(ctx)
		if err != nil {
			return domain.ProviderSnapshot{}, err
		}
		return snap, snap.Validate()
	}

	if e.breaker == nil {
		return validated(ctx)
	}
	return circuit.Execute(ctx, e.breaker, validated)
}

// store publishes snap for e, persists it and notifies listeners.
func (m *Manager) store(ctx context.Context, e *providerEntry, snap domain.ProviderSnapshot) {
	if snap.FetchedAtMs == 0 {
		snap.FetchedAtMs = m.now().UnixMilli()
	}
	e.snapshot.Store(&snap)

	if m.cfg.Cache != nil {
		if err := m.cfg.Cache.Save(ctx, e.name, snap); err != nil {
			m.logger.Warn("cache save failed", "provider", e.name, "error", err)
		}
	}

	m.notifySnapshot(e.name)
}

// Sync refreshes every provider and waits for the results. Refreshes of the
// same provider never overlap: a call that finds one in flight shares its
// outcome. The returned error joins the per-provider failures.
func (m *Manager) Sync(ctx context.Context) error {
	errs := make([]error, len(m.entries))

	var wg sync.WaitGroup
	for i, e := range m.entries {
		wg.Go(func() {
			errs[i] = m.refreshProvider(ctx, e)
		})
	}
	wg.Wait()

	return errors.Join(errs...)
}

// Refresh starts Sync in the background and returns immediately.
func (m *Manager) Refresh() {
	m.goBackground(func(ctx context.Context) {
		_ = m.Sync(ctx)
	})
}

// RefreshProvider refreshes a single provider and waits for the result.
func (m *Manager) RefreshProvider(ctx context.Context, name string) error {
	e, ok := m.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return m.refreshProvider(ctx, e)
}

func (m *Manager) refreshProvider(ctx context.Context, e *providerEntry) error {
	return m.fetchShared(ctx, e, opRefresh)
}

// fetchShared runs fetch for e unless one is already in flight, in which
// case it waits for that one. Bootstrap and refresh share the key, so a
// provider never has two fetches running. The fetch outlives ctx: a caller
// that gives up returns ctx.Err() while the others still get the result.
// Only Close cancels it.
func (m *Manager) fetchShared(ctx context.Context, e *providerEntry, op string) error {
	ch := m.refreshes.DoChan(e.name, func() (any, error) {
		if !m.track() {
			return nil, ErrClosed
		}
		defer m.wg.Done()

		fctx, cancel := m.detach(ctx)
		defer cancel()
		return nil, m.fetch(fctx, e, op)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// detach returns a context carrying ctx's values that is cancelled by Close
// rather than by ctx.
func (m *Manager) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	dctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(m.baseCtx, cancel)
	return dctx, func() {
		stop()
		cancel()
	}
}

// revalidate refreshes e in the background after a read served its expired
// snapshot. At most one revalidation per provider runs at a time.
func (m *Manager) revalidate(e *providerEntry) {
	if e == nil || m.State() != StateReady {
		return
	}
	if !e.revalidating.CompareAndSwap(false, true) {
		return
	}

	started := m.goBackground(func(ctx context.Context) {
		defer e.revalidating.Store(false)
		m.logger.Debug("revalidating stale snapshot", "provider", e.name)
		_ = m.refreshProvider(ctx, e)
	})
	if !started {
		e.revalidating.Store(false)
	}
}

// UpdateSnapshotFromRealtime replaces the named provider's snapshot,
// persists it and notifies listeners. It is the sink for realtime streams
// and may also be called by hosts that receive pushes themselves.
func (m *Manager) UpdateSnapshotFromRealtime(name string, snap ProviderSnapshot) error {
	e, ok := m.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	if m.isClosed() {
		return ErrClosed
	}
	if err := snap.Validate(); err != nil {
		return domain.NewProviderError(name, "realtime", err)
	}

	ctx, cancel := context.WithTimeout(m.baseCtx, m.cfg.FetchTimeout)
	defer cancel()

	e.record(m.now(), nil)
	m.store(ctx, e, snap)
	return nil
}

func (m *Manager) startRealtime() {
	sink := func(name string, snap domain.ProviderSnapshot) {
		if err := m.UpdateSnapshotFromRealtime(name, snap); err != nil {
			m.logger.Warn("realtime update rejected", "provider", name, "error", err)
		}
	}

	for _, e := range m.entries {
		rp, ok := e.provider.(provider.RealtimeProvider)
		if !ok {
			continue
		}
		if m.realtime.Start(m.baseCtx, rp, sink) {
			m.logger.Info("realtime stream started", "provider", e.name)
		}
	}
}

func (m *Manager) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Sync(ctx); err != nil {
				m.logger.Debug("periodic refresh incomplete", "error", err)
			}
		}
	}
}

// goBackground runs fn on a tracked goroutine unless the manager is closed.
func (m *Manager) goBackground(fn func(ctx context.Context)) bool {
	if !m.track() {
		return false
	}
	go func() {
		defer m.wg.Done()
		fn(m.baseCtx)
	}()
	return true
}

// track adds one to the background WaitGroup unless the manager is closed.
// The caller must call m.wg.Done when it returns true.
func (m *Manager) track() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	m.wg.Add(1)
	return true
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) onCircuitChange(name string, from, to circuit.State) {
	m.telemetry.RecordCircuitState(context.Background(), name, to.String())

	level := slog.LevelInfo
	if to == circuit.StateOpen {
		level = slog.LevelWarn
	}
	m.logger.Log(context.Background(), level, "circuit state changed",
		"provider", name,
		"from", from.String(),
		"to", to.String(),
	)
}

func (m *Manager) onReconnect(name string, delay time.Duration, err error) {
	m.telemetry.RecordReconnect(context.Background(), name, delay)
	m.logger.Debug("realtime reconnect scheduled", "provider", name, "delay", delay, "error", err)
}
