// Package realtime keeps a live-update stream open per provider,
// reconnecting with exponential backoff until cancelled.
package realtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/OrlandoBitencourt/pennant/pkg/domain"
	"github.com/OrlandoBitencourt/pennant/pkg/provider"
)

// Config holds reconnect backoff settings.
type Config struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultConfig returns a 1s..60s doubling backoff.
func DefaultConfig() Config {
	return Config{
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.InitialDelay <= 0 {
		c.InitialDelay = def.InitialDelay
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = max(def.MaxDelay, c.InitialDelay)
	}
	if c.Multiplier < 1 {
		c.Multiplier = def.Multiplier
	}
	return c
}

// Sink receives every snapshot a stream delivers.
type Sink func(providerName string, snapshot domain.ProviderSnapshot)

// Sleeper waits d or until ctx is done, reporting whether the full wait
// elapsed.
type Sleeper func(ctx context.Context, d time.Duration) bool

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithSleeper replaces the real timer, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(m *Manager) {
		if s != nil {
			m.sleep = s
		}
	}
}

// WithReconnectHook is called before each reconnect wait.
func WithReconnectHook(fn func(providerName string, delay time.Duration, err error)) Option {
	return func(m *Manager) {
		m.onReconnect = fn
	}
}

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager runs one independent reconnect loop per provider.
type Manager struct {
	cfg         Config
	logger      *slog.Logger
	sleep       Sleeper
	onReconnect func(string, time.Duration, error)

	mu    sync.Mutex
	loops map[string]*loop
}

// NewManager creates a Manager.
func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg.withDefaults(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		sleep:  sleepContext,
		loops:  make(map[string]*loop),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the loop for p. It reports false if a loop for that
// provider name is already running. The loop stops when ctx is done, when
// Stop is called for the provider, or on DisconnectAll.
func (m *Manager) Start(ctx context.Context, p provider.RealtimeProvider, sink Sink) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := p.Name()
	if l, ok := m.loops[name]; ok {
		select {
		case <-l.done:
		default:
			return false
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	l := &loop{cancel: cancel, done: make(chan struct{})}
	m.loops[name] = l

	go m.run(loopCtx, p, sink, l.done)
	return true
}

// Stop cancels the loop for name and waits for its cleanup, including the
// provider's Disconnect. Unknown names are ignored.
func (m *Manager) Stop(name string) {
	m.mu.Lock()
	l, ok := m.loops[name]
	delete(m.loops, name)
	m.mu.Unlock()

	if ok {
		l.cancel()
		<-l.done
	}
}

// DisconnectAll cancels every loop and waits for each to finish. Each
// provider's Disconnect runs exactly once, from its own loop.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	loops := m.loops
	m.loops = make(map[string]*loop)
	m.mu.Unlock()

	for _, l := range loops {
		l.cancel()
	}
	for _, l := range loops {
		<-l.done
	}
}

// Running lists providers with an active loop.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.loops))
	for name, l := range m.loops {
		select {
		case <-l.done:
		default:
			names = append(names, name)
		}
	}
	return names
}

func (m *Manager) run(ctx context.Context, p provider.RealtimeProvider, sink Sink, done chan struct{}) {
	name := p.Name()
	defer close(done)
	defer func() {
		if err := p.Disconnect(); err != nil {
			m.logger.Warn("realtime disconnect failed", "provider", name, "error", err)
		}
	}()

	backoff := NewBackoff(m.cfg)
	for ctx.Err() == nil {
		err := m.consume(ctx, p, sink, backoff)
		if ctx.Err() != nil {
			return
		}

		delay := backoff.Next()
		m.logger.Debug("realtime reconnecting", "provider", name, "delay", delay, "error", err)
		if m.onReconnect != nil {
			m.onReconnect(name, delay, err)
		}
		if !m.sleep(ctx, delay) {
			return
		}
	}
}

// consume runs one connection until it errors or closes.
func (m *Manager) consume(ctx context.Context, p provider.RealtimeProvider, sink Sink, backoff *Backoff) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := p.Connect(connCtx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return io.EOF
			}
			if ev.Err != nil {
				return ev.Err
			}
			if ev.Snapshot == nil {
				continue
			}
			sink(p.Name(), *ev.Snapshot)
			backoff.Reset()
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
