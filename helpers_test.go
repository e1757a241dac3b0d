package pennant

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/OrlandoBitencourt/pennant/pkg/domain"
	"github.com/OrlandoBitencourt/pennant/pkg/provider"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func boolFlags(kv map[string]bool) domain.ProviderSnapshot {
	flags := make(map[string]domain.FlagValue, len(kv))
	for k, v := range kv {
		flags[k] = domain.Bool(v)
	}
	return domain.NewSnapshot(flags, nil, time.Now())
}

func checkoutExperiment() domain.ExperimentDefinition {
	return domain.ExperimentDefinition{
		Key: "checkout",
		Variants: []domain.Variant{
			{Name: "control", Weight: 0.5},
			{Name: "treatment", Weight: 0.5, Payload: map[string]string{"color": "blue"}},
		},
	}
}

func testConfig(providers ...provider.FlagsProvider) Config {
	cfg := DefaultConfig()
	cfg.Providers = providers
	cfg.RefreshInterval = 0
	cfg.FetchTimeout = time.Second
	cfg.ListenerTimeout = time.Second
	return cfg
}

func newTestManager(t *testing.T, cfg Config, opts ...Option) *Manager {
	t.Helper()

	m, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func bootstrapped(t *testing.T, cfg Config, opts ...Option) *Manager {
	t.Helper()

	m := newTestManager(t, cfg, opts...)
	require.True(t, m.EnsureBootstrap(context.Background(), 2*time.Second))
	return m
}

type recordingListener struct {
	mu        sync.Mutex
	snapshots []string
	overrides []string
}

func (r *recordingListener) OnSnapshotUpdated(source string) {
	r.mu.Lock()
	r.snapshots = append(r.snapshots, source)
	r.mu.Unlock()
}

func (r *recordingListener) OnOverrideChanged(key string) {
	r.mu.Lock()
	r.overrides = append(r.overrides, key)
	r.mu.Unlock()
}

func (r *recordingListener) Snapshots() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.snapshots...)
}

func (r *recordingListener) Overrides() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.overrides...)
}
