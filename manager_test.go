package pennant

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrlandoBitencourt/pennant/pkg/cache"
	"github.com/OrlandoBitencourt/pennant/pkg/circuit"
	"github.com/OrlandoBitencourt/pennant/pkg/domain"
	"github.com/OrlandoBitencourt/pennant/pkg/hashing"
	"github.com/OrlandoBitencourt/pennant/pkg/provider"
	"github.com/OrlandoBitencourt/pennant/pkg/retry"
	"github.com/OrlandoBitencourt/pennant/pkg/telemetry"
)

var errBoom = errors.New("boom")

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}

func TestNew_StartsUninitialized(t *testing.T) {
	m := newTestManager(t, testConfig(provider.NewStatic("remote", boolFlags(map[string]bool{"f": true}))))

	assert.Equal(t, StateUninitialized, m.State())
	assert.False(t, m.IsEnabled(context.Background(), "f", EvalContext{}), "reads before bootstrap fall back")
}

func TestEnsureBootstrap_ReturnsTrueWithZeroUsableProviders(t *testing.T) {
	a := provider.NewStatic("a", boolFlags(map[string]bool{"f": true}))
	b := provider.NewStatic("b", boolFlags(map[string]bool{"f": true}))
	a.Fail(errBoom)
	b.Fail(domain.NewNetworkError("unreachable", nil))

	m := newTestManager(t, testConfig(a, b))

	assert.True(t, m.EnsureBootstrap(context.Background(), 2*time.Second))
	assert.Equal(t, StateReady, m.State())

	ctx := context.Background()
	assert.False(t, m.IsEnabled(ctx, "f", EvalContext{}))
	assert.True(t, m.Bool(ctx, "f", EvalContext{}, true))
	assert.Equal(t, domain.SourceDefault, m.Detail(ctx, "f", EvalContext{}).Source)

	for _, st := range m.ProviderStatuses() {
		assert.False(t, st.HasSnapshot, st.Name)
		assert.Equal(t, 1, st.ConsecutiveFailures, st.Name)
		assert.True(t, IsProviderError(st.LastError), st.Name)
	}
}

func TestEnsureBootstrap_FirstProviderWins(t *testing.T) {
	first := provider.NewStatic("first", boolFlags(map[string]bool{"f": true}))
	second := provider.NewStatic("second", boolFlags(map[string]bool{"f": false, "g": true}))

	m := bootstrapped(t, testConfig(first, second))
	ctx := context.Background()

	assert.True(t, m.IsEnabled(ctx, "f", EvalContext{}))
	assert.True(t, m.IsEnabled(ctx, "g", EvalContext{}))

	d := m.Detail(ctx, "f", EvalContext{})
	assert.Equal(t, domain.SourceSnapshot, d.Source)
	assert.Equal(t, "first", d.Provider)
	assert.Equal(t, "second", m.Detail(ctx, "g", EvalContext{}).Provider)
}

func TestEnsureBootstrap_ConcurrentCallersShareOneAttempt(t *testing.T) {
	p := provider.NewStatic("remote", boolFlags(map[string]bool{"f": true}))
	p.SetDelay(50 * time.Millisecond)
	m := newTestManager(t, testConfig(p))

	var wg sync.WaitGroup
	results := make([]bool, 10)
	for i := range results {
		wg.Go(func() {
			results[i] = m.EnsureBootstrap(context.Background(), 2*time.Second)
		})
	}
	wg.Wait()

	for _, ok := range results {
		assert.True(t, ok)
	}
	assert.Equal(t, 1, p.Fetches())

	assert.True(t, m.EnsureBootstrap(context.Background(), time.Second))
	assert.Equal(t, 1, p.Fetches(), "bootstrap is idempotent")
}

func TestEnsureBootstrap_HungProviderDoesNotHoldDeadline(t *testing.T) {
	slow := provider.NewStatic("slow", boolFlags(map[string]bool{"slow": true}))
	slow.SetDelay(10 * time.Second)
	fast := provider.NewStatic("fast", boolFlags(map[string]bool{"fast": true}))

	cfg := testConfig(slow, fast)
	cfg.FetchTimeout = 30 * time.Second
	m := newTestManager(t, cfg)

	start := time.Now()
	assert.False(t, m.EnsureBootstrap(context.Background(), 50*time.Millisecond))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StateBootstrapping, m.State())

	// the fast provider lands while the slow one is still pending
	assert.Eventually(t, func() bool {
		return m.IsEnabled(context.Background(), "fast", EvalContext{})
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEnsureBootstrap_ContextCancelled(t *testing.T) {
	p := provider.NewStatic("remote", boolFlags(map[string]bool{"f": true}))
	p.SetDelay(time.Second)
	m := newTestManager(t, testConfig(p))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, m.EnsureBootstrap(ctx, time.Minute))
}

func TestEnsureBootstrap_FallsBackToCachedSnapshot(t *testing.T) {
	ctx := context.Background()
	lru := cache.NewLRUCache(10)
	require.NoError(t, lru.Save(ctx, "remote", boolFlags(map[string]bool{"f": true})))

	p := provider.NewStatic("remote", boolFlags(map[string]bool{"f": false}))
	p.Fail(errBoom)

	cfg := testConfig(p)
	cfg.Cache = lru
	m := bootstrapped(t, cfg)

	assert.True(t, m.IsEnabled(ctx, "f", EvalContext{}))
	st, ok := m.Status("remote")
	require.True(t, ok)
	assert.True(t, st.HasSnapshot)
	assert.Equal(t, 1, st.ConsecutiveFailures)
	assert.Equal(t, int64(1), lru.Stats().Hits)
}

func TestEnsureBootstrap_FreshSnapshotReplacesCacheAndPersists(t *testing.T) {
	ctx := context.Background()
	lru := cache.NewLRUCache(10)
	require.NoError(t, lru.Save(ctx, "remote", boolFlags(map[string]bool{"f": false})))

	p := provider.NewStatic("remote", boolFlags(map[string]bool{"f": true}).WithRevision("r2"))
	cfg := testConfig(p)
	cfg.Cache = lru
	m := bootstrapped(t, cfg)

	assert.True(t, m.IsEnabled(ctx, "f", EvalContext{}))

	saved, err := lru.Load(ctx, "remote")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "r2", saved.Revision)
}

func TestEnsureBootstrap_RejectsConflictingSnapshot(t *testing.T) {
	bad := domain.NewSnapshot(
		map[string]domain.FlagValue{"checkout": domain.Bool(true)},
		map[string]domain.ExperimentDefinition{"checkout": checkoutExperiment()},
		time.Now(),
	)
	m := bootstrapped(t, testConfig(provider.NewStatic("remote", bad)))

	st, _ := m.Status("remote")
	assert.False(t, st.HasSnapshot)
	assert.True(t, IsParseError(st.LastError))
}

func TestEnsureBootstrap_RejectsConflictingCachedSnapshot(t *testing.T) {
	ctx := context.Background()
	lru := cache.NewLRUCache(10)
	bad := domain.NewSnapshot(
		map[string]domain.FlagValue{"checkout": domain.Bool(true)},
		map[string]domain.ExperimentDefinition{"checkout": checkoutExperiment()},
		time.Now(),
	)
	require.NoError(t, lru.Save(ctx, "remote", bad))

	p := provider.NewStatic("remote", boolFlags(nil))
	p.Fail(errBoom)

	cfg := testConfig(p)
	cfg.Cache = lru
	m := bootstrapped(t, cfg)

	_, ok := m.Snapshot("remote")
	assert.False(t, ok)
	assert.False(t, m.IsEnabled(ctx, "checkout", EvalContext{}))
}

func TestSync_JoinsInFlightBootstrapFetch(t *testing.T) {
	p := provider.NewStatic("remote", boolFlags(map[string]bool{"f": true}).WithRevision("old"))
	p.SetDelay(300 * time.Millisecond)
	m := newTestManager(t, testConfig(p))
	ctx := context.Background()

	require.False(t, m.EnsureBootstrap(ctx, 20*time.Millisecond))
	require.Eventually(t, func() bool { return p.Fetches() == 1 }, time.Second, 5*time.Millisecond)

	p.SetDelay(0)
	p.Set(boolFlags(map[string]bool{"f": true}).WithRevision("new"))

	require.NoError(t, m.Sync(ctx))
	assert.Equal(t, 1, p.Fetches(), "sync must share the running fetch")

	require.True(t, m.EnsureBootstrap(ctx, time.Second))
	snap, ok := m.Snapshot("remote")
	require.True(t, ok)
	assert.Equal(t, "old", snap.Revision)

	require.NoError(t, m.Sync(ctx))
	snap, _ = m.Snapshot("remote")
	assert.Equal(t, "new", snap.Revision)
	assert.Equal(t, 2, p.Fetches())
}

func TestRefreshProvider_CancelledCallerDoesNotFailOthers(t *testing.T) {
	p := provider.NewStatic("remote", boolFlags(map[string]bool{"f": false}))
	m := bootstrapped(t, testConfig(p))

	p.SetDelay(200 * time.Millisecond)
	p.Set(boolFlags(map[string]bool{"f": true}).WithRevision("r2"))

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() { firstErr <- m.RefreshProvider(first, "remote") }()
	require.Eventually(t, func() bool { return p.Fetches() == 2 }, time.Second, 5*time.Millisecond)

	secondErr := make(chan error, 1)
	go func() { secondErr <- m.RefreshProvider(context.Background(), "remote") }()
	cancel()

	assert.ErrorIs(t, <-firstErr, context.Canceled)
	require.NoError(t, <-secondErr)
	assert.Equal(t, 2, p.Fetches())

	snap, _ := m.Snapshot("remote")
	assert.Equal(t, "r2", snap.Revision)
}

func TestAssign_UsesSnapshotKeyForBucketing(t *testing.T) {
	var snap domain.ProviderSnapshot
	require.NoError(t, json.Unmarshal([]byte(`{
		"flags": {},
		"experiments": {"checkout": {"variants": [{"name": "a", "weight": 0.5}, {"name": "b", "weight": 0.5}]}},
		"fetched_at_ms": 1
	}`), &snap))
	m := bootstrapped(t, testConfig(provider.NewStatic("remote", snap)))

	a := m.Assign(context.Background(), "checkout", NewContext("u1"))
	require.NotNil(t, a)
	assert.Equal(t, "checkout", a.Key)
	assert.Equal(t, strconv.FormatUint(uint64(hashing.Hash32String("checkout:u1")), 16), a.Hash)
}

func TestEnsureBootstrap_NotifiesListeners(t *testing.T) {
	rec := &recordingListener{}
	p := provider.NewStatic("remote", boolFlags(map[string]bool{"f": true}))

	bootstrapped(t, testConfig(p), WithListener(rec))

	assert.Equal(t, []string{"remote"}, rec.Snapshots())
}

func TestSync_ReplacesSnapshot(t *testing.T) {
	p := provider.NewStatic("remote", boolFlags(map[string]bool{"f": true}))
	m := bootstrapped(t, testConfig(p))
	ctx := context.Background()

	p.Set(boolFlags(map[string]bool{"f": false}))
	require.NoError(t, m.Sync(ctx))

	assert.False(t, m.IsEnabled(ctx, "f", EvalContext{}))
	assert.Equal(t, 2, p.Fetches())
}

func TestSync_FailureKeepsLastGoodSnapshot(t *testing.T) {
	p := provider.NewStatic("remote", boolFlags(map[string]bool{"f": true}))
	m := bootstrapped(t, testConfig(p))
	ctx := context.Background()

	p.Fail(errBoom)
	err := m.Sync(ctx)

	require.Error(t, err)
	assert.True(t, IsProviderError(err))
	assert.ErrorIs(t, err, errBoom)
	assert.True(t, m.IsEnabled(ctx, "f", EvalContext{}))

	st, _ := m.Status("remote")
	assert.Equal(t, 1, st.ConsecutiveFailures)
	require.NotNil(t, st.Reported)
	assert.False(t, st.Reported.Healthy)
}

func TestRefresh_IsAsynchronous(t *testing.T) {
	p := provider.NewStatic("remote", boolFlags(map[string]bool{"f": true}))
	m := bootstrapped(t, testConfig(p))
	ctx := context.Background()

	p.Set(boolFlags(map[string]bool{"f": false}))
	m.Refresh()

	assert.Eventually(t, func() bool {
		return !m.IsEnabled(ctx, "f", EvalContext{})
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRefreshProvider_Unknown(t *testing.T) {
	m := newTestManager(t, testConfig(provider.NewStatic("remote", boolFlags(nil))))

	assert.ErrorIs(t, m.RefreshProvider(context.Background(), "nope"), ErrUnknownProvider)
}

func TestRead_StaleWhileRevalidate(t *testing.T) {
	clock := newTestClock()
	ctx := context.Background()

	initial := domain.NewSnapshot(map[string]domain.FlagValue{"f": domain.Bool(true)}, nil, clock.Now()).WithTTL(time.Second)
	p := provider.NewStatic("remote", initial)
	m := bootstrapped(t, testConfig(p), WithClock(clock.Now))

	assert.False(t, m.Detail(ctx, "f", EvalContext{}).Stale)

	clock.Advance(2 * time.Second)
	p.Set(domain.NewSnapshot(map[string]domain.FlagValue{"f": domain.Bool(false)}, nil, clock.Now()).WithTTL(time.Minute))

	d := m.Detail(ctx, "f", EvalContext{})
	assert.True(t, d.Stale)
	assert.True(t, d.BoolValue(false), "stale data is still served")

	assert.Eventually(t, func() bool {
		d := m.Detail(ctx, "f", EvalContext{})
		return !d.Stale && !d.BoolValue(true)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRead_NativeEvaluation(t *testing.T) {
	p := provider.NewStatic("remote", boolFlags(map[string]bool{"f": true}))
	p.SetNative(map[string]domain.FlagValue{"server-side": domain.String("blue")})
	m := bootstrapped(t, testConfig(p))
	ctx := context.Background()

	assert.Equal(t, "blue", m.String(ctx, "server-side", EvalContext{}, "red"))

	d := m.Detail(ctx, "server-side", EvalContext{})
	assert.Equal(t, domain.SourceNative, d.Source)
	assert.Equal(t, "remote", d.Provider)
}

func TestRead_Defaults(t *testing.T) {
	cfg := testConfig(provider.NewStatic("remote", boolFlags(nil)))
	cfg.Defaults = map[string]domain.FlagValue{
		"dark-mode": domain.Bool(true),
		"limit":     domain.Int(10),
	}
	m := bootstrapped(t, cfg)
	ctx := context.Background()

	assert.True(t, m.IsEnabled(ctx, "dark-mode", EvalContext{}))
	assert.False(t, m.Bool(ctx, "dark-mode", EvalContext{}, false), "caller default wins over configured default")
	assert.Equal(t, domain.Int(10), m.Value(ctx, "limit", EvalContext{}, nil))
	assert.Equal(t, domain.Int(3), m.Value(ctx, "limit", EvalContext{}, domain.Int(3)))

	d := m.Detail(ctx, "limit", EvalContext{})
	assert.True(t, d.Found())
	assert.Equal(t, domain.SourceDefault, d.Source)

	assert.False(t, m.Detail(ctx, "missing", EvalContext{}).Found())
	assert.Nil(t, m.Value(ctx, "missing", EvalContext{}, nil))
}

func TestRead_TypedAccessors(t *testing.T) {
	snap := domain.NewSnapshot(map[string]domain.FlagValue{
		"enabled": domain.Bool(true),
		"limit":   domain.Int(42),
		"ratio":   domain.Double(0.25),
		"color":   domain.String("green"),
		"config":  domain.JSON([]byte(`{"retries":3}`)),
	}, nil, time.Now())
	m := bootstrapped(t, testConfig(provider.NewStatic("remote", snap)))
	ctx := context.Background()
	ec := NewContext("user-1")

	assert.Equal(t, int64(42), m.Int(ctx, "limit", ec, 0))
	assert.Equal(t, 42.0, m.Float(ctx, "limit", ec, 0))
	assert.Equal(t, 0.25, m.Float(ctx, "ratio", ec, 0))
	assert.Equal(t, "green", m.String(ctx, "color", ec, ""))

	// kind mismatches fall back to the caller default
	assert.Equal(t, int64(7), m.Int(ctx, "enabled", ec, 7))
	assert.Equal(t, "none", m.String(ctx, "limit", ec, "none"))
	assert.False(t, m.Bool(ctx, "color", ec, false))

	var cfg struct {
		Retries int `json:"retries"`
	}
	assert.True(t, m.JSON(ctx, "config", ec, &cfg))
	assert.Equal(t, 3, cfg.Retries)
	assert.False(t, m.JSON(ctx, "color", ec, &cfg))
}

func TestAssign(t *testing.T) {
	snap := domain.NewSnapshot(nil, map[string]domain.ExperimentDefinition{"checkout": checkoutExperiment()}, time.Now())
	m := bootstrapped(t, testConfig(provider.NewStatic("remote", snap)))
	ctx := context.Background()

	a := m.Assign(ctx, "checkout", NewContext("user-1"))
	require.NotNil(t, a)
	assert.Equal(t, "treatment", a.Variant)
	assert.Equal(t, map[string]string{"color": "blue"}, a.Payload)

	b := m.Assign(ctx, "checkout", NewDeviceContext("device-9"))
	require.NotNil(t, b)
	assert.Equal(t, "control", b.Variant)

	assert.Nil(t, m.Assign(ctx, "checkout", EvalContext{Region: "BR"}), "no subject")
	assert.Nil(t, m.Assign(ctx, "unknown", NewContext("user-1")))
}

func TestAssign_TargetingExcludes(t *testing.T) {
	exp := checkoutExperiment()
	exp.Targeting = domain.RegionIn{Regions: []string{"BR"}}
	snap := domain.NewSnapshot(nil, map[string]domain.ExperimentDefinition{"checkout": exp}, time.Now())
	m := bootstrapped(t, testConfig(provider.NewStatic("remote", snap)))
	ctx := context.Background()

	assert.Nil(t, m.Assign(ctx, "checkout", EvalContext{UserID: "user-1", Region: "US"}))
	assert.NotNil(t, m.Assign(ctx, "checkout", EvalContext{UserID: "user-1", Region: "BR"}))
}

func TestAssign_LocalExperimentsHaveLowestPrecedence(t *testing.T) {
	remoteExp := domain.ExperimentDefinition{
		Key:      "checkout",
		Variants: []domain.Variant{{Name: "remote-only", Weight: 1}},
	}
	snap := domain.NewSnapshot(nil, map[string]domain.ExperimentDefinition{"checkout": remoteExp}, time.Now())

	onboarding := checkoutExperiment()
	onboarding.Key = "onboarding"

	cfg := testConfig(provider.NewStatic("remote", snap))
	cfg.Experiments = []domain.ExperimentDefinition{checkoutExperiment(), onboarding}
	m := bootstrapped(t, cfg)
	ctx := context.Background()

	assert.Equal(t, "remote-only", m.Assign(ctx, "checkout", NewContext("user-1")).Variant)
	assert.NotNil(t, m.Assign(ctx, "onboarding", NewContext("user-1")))
}

func TestOverrides_BeatProviders(t *testing.T) {
	m := bootstrapped(t, testConfig(provider.NewStatic("remote", boolFlags(map[string]bool{"f": false}))))
	ctx := context.Background()

	require.NoError(t, m.SetOverride("f", domain.Bool(true)))
	assert.True(t, m.IsEnabled(ctx, "f", EvalContext{}))
	assert.Equal(t, domain.SourceOverride, m.Detail(ctx, "f", EvalContext{}).Source)

	assert.True(t, m.ClearOverride("f"))
	assert.False(t, m.IsEnabled(ctx, "f", EvalContext{}))
	assert.False(t, m.ClearOverride("f"))
}

func TestOverrides_ValidFromAnyState(t *testing.T) {
	m := newTestManager(t, testConfig(provider.NewStatic("remote", boolFlags(nil))))

	require.NoError(t, m.SetOverride("f", domain.Bool(true)))
	assert.True(t, m.IsEnabled(context.Background(), "f", EvalContext{}))
	assert.Equal(t, StateUninitialized, m.State())
}

func TestOverrides_RejectInvalidArguments(t *testing.T) {
	m := newTestManager(t, testConfig(provider.NewStatic("remote", boolFlags(nil))))

	assert.True(t, IsInvalidArgument(m.SetOverride("", domain.Bool(true))))
	assert.True(t, IsInvalidArgument(m.SetOverride("f", nil)))
}

func TestOverrides_Notifications(t *testing.T) {
	rec := &recordingListener{}
	m := newTestManager(t, testConfig(provider.NewStatic("remote", boolFlags(nil))))
	m.AddListener(rec)

	require.NoError(t, m.SetOverride("b", domain.Bool(true)))
	require.NoError(t, m.SetOverride("b", domain.Bool(true)))
	require.NoError(t, m.SetOverride("a", domain.String("x")))

	assert.Equal(t, map[string]FlagValue{"a": domain.String("x"), "b": domain.Bool(true)}, m.ListOverrides())

	assert.Equal(t, 2, m.ClearAllOverrides())
	assert.Empty(t, m.ListOverrides())
	assert.Equal(t, []string{"b", "a", "a", "b"}, rec.Overrides())
}

func TestListOverrides_ReturnsCopy(t *testing.T) {
	m := newTestManager(t, testConfig(provider.NewStatic("remote", boolFlags(nil))))
	require.NoError(t, m.SetOverride("f", domain.Bool(true)))

	got := m.ListOverrides()
	got["f"] = domain.Bool(false)

	assert.Equal(t, domain.Bool(true), m.ListOverrides()["f"])
}

func TestListAllFlags(t *testing.T) {
	first := provider.NewStatic("first", boolFlags(map[string]bool{"a": true}))
	second := provider.NewStatic("second", boolFlags(map[string]bool{"a": false, "b": false}))

	cfg := testConfig(first, second)
	cfg.Defaults = map[string]domain.FlagValue{"b": domain.Bool(true), "c": domain.Int(1)}
	m := bootstrapped(t, cfg)
	require.NoError(t, m.SetOverride("d", domain.String("x")))

	assert.Equal(t, map[string]FlagValue{
		"a": domain.Bool(true),
		"b": domain.Bool(false),
		"c": domain.Int(1),
		"d": domain.String("x"),
	}, m.ListAllFlags())
}

func TestUpdateSnapshotFromRealtime(t *testing.T) {
	rec := &recordingListener{}
	m := bootstrapped(t, testConfig(provider.NewStatic("remote", boolFlags(map[string]bool{"f": true}))))
	m.AddListener(rec)
	ctx := context.Background()

	require.NoError(t, m.UpdateSnapshotFromRealtime("remote", boolFlags(map[string]bool{"f": false})))
	assert.False(t, m.IsEnabled(ctx, "f", EvalContext{}))
	assert.Equal(t, []string{"remote"}, rec.Snapshots())

	assert.ErrorIs(t, m.UpdateSnapshotFromRealtime("nope", boolFlags(nil)), ErrUnknownProvider)

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.UpdateSnapshotFromRealtime("remote", boolFlags(nil)), ErrClosed)
}

func TestCircuitOpensAfterRepeatedFailures(t *testing.T) {
	p := provider.NewStatic("remote", boolFlags(nil))
	p.Fail(errBoom)

	cfg := testConfig(p)
	cfg.CircuitFailureThreshold = 2
	m := bootstrapped(t, cfg)
	ctx := context.Background()

	require.Error(t, m.Sync(ctx))
	st, _ := m.Status("remote")
	assert.Equal(t, circuit.StateOpen, st.Circuit)

	err := m.Sync(ctx)
	require.Error(t, err)
	assert.True(t, IsCircuitOpen(err))
	assert.Equal(t, 2, p.Fetches(), "open circuit does not call the provider")
}

func TestCircuitDisabled(t *testing.T) {
	p := provider.NewStatic("remote", boolFlags(nil))
	p.Fail(errBoom)

	cfg := testConfig(p)
	cfg.CircuitEnabled = false
	cfg.CircuitFailureThreshold = 0
	m := bootstrapped(t, cfg)

	for i := 0; i < 6; i++ {
		assert.False(t, IsCircuitOpen(m.Sync(context.Background())))
	}
	assert.Equal(t, 7, p.Fetches())
}

func TestRetryPolicyIsApplied(t *testing.T) {
	p := provider.NewStatic("remote", boolFlags(nil))
	p.Fail(errBoom)

	policy := retry.Exponential{Attempts: 3, InitialDelay: time.Millisecond, Factor: 1}
	bootstrapped(t, testConfig(p), WithRetryPolicy(policy))

	assert.Equal(t, 3, p.Fetches())
}

func TestRetryFromSettings(t *testing.T) {
	p := provider.NewStatic("remote", boolFlags(nil))
	p.Fail(errBoom)

	cfg := testConfig(p)
	cfg.RetryMaxAttempts = 2
	cfg.RetryInitialDelay = time.Millisecond
	bootstrapped(t, cfg)

	assert.Equal(t, 2, p.Fetches())
}

func TestProviderStatuses(t *testing.T) {
	clock := newTestClock()
	snap := domain.NewSnapshot(map[string]domain.FlagValue{"f": domain.Bool(true)}, nil, clock.Now()).
		WithRevision("r1").
		WithTTL(time.Minute)
	p := provider.NewStatic("remote", snap)

	m := newTestManager(t, testConfig(p), WithClock(clock.Now))

	before := m.ProviderStatuses()
	require.Len(t, before, 1)
	assert.False(t, before[0].HasSnapshot)
	assert.Equal(t, circuit.StateClosed, before[0].Circuit)

	require.True(t, m.EnsureBootstrap(context.Background(), 2*time.Second))
	clock.Advance(30 * time.Second)

	st, ok := m.Status("remote")
	require.True(t, ok)
	assert.True(t, st.HasSnapshot)
	assert.Equal(t, "r1", st.Revision)
	assert.Equal(t, 30*time.Second, st.SnapshotAge)
	assert.False(t, st.Stale)
	assert.Equal(t, clock.Now().Add(-30*time.Second), st.LastSuccess)
	require.NotNil(t, st.Reported)
	assert.True(t, st.Reported.Healthy)

	_, ok = m.Status("nope")
	assert.False(t, ok)
}

func TestStart_PeriodicRefresh(t *testing.T) {
	p := provider.NewStatic("remote", boolFlags(map[string]bool{"f": true}))
	cfg := testConfig(p)
	cfg.RefreshInterval = 10 * time.Millisecond
	m := newTestManager(t, cfg)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	assert.True(t, m.IsEnabled(ctx, "f", EvalContext{}))

	p.Set(boolFlags(map[string]bool{"f": false}))
	assert.Eventually(t, func() bool {
		return !m.IsEnabled(ctx, "f", EvalContext{})
	}, 2*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, m.Start(ctx), ErrAlreadyStarted)
}

func TestStart_Realtime(t *testing.T) {
	p := provider.NewStatic("remote", boolFlags(map[string]bool{"f": true}))
	cfg := testConfig(p)
	cfg.RealtimeEnabled = true
	cfg.RealtimeInitialDelay = 5 * time.Millisecond
	m := newTestManager(t, cfg)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))

	assert.Eventually(t, func() bool {
		p.Set(boolFlags(map[string]bool{"f": false}))
		return !m.IsEnabled(ctx, "f", EvalContext{})
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, p.IsConnected())

	require.NoError(t, m.Close())
	assert.False(t, p.IsConnected())
}

func TestClose(t *testing.T) {
	m := newTestManager(t, testConfig(provider.NewStatic("remote", boolFlags(nil))))

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.ErrorIs(t, m.Start(context.Background()), ErrClosed)
	assert.False(t, m.EnsureBootstrap(context.Background(), time.Second))
	assert.NotPanics(t, m.Refresh)
}

func TestTelemetryIsRecorded(t *testing.T) {
	prom := telemetry.NewPrometheus()
	p := provider.NewStatic("remote", boolFlags(map[string]bool{"f": true}))
	m := bootstrapped(t, testConfig(p), WithTelemetry(prom))
	ctx := context.Background()

	m.IsEnabled(ctx, "f", EvalContext{})
	m.IsEnabled(ctx, "missing", EvalContext{})
	require.NoError(t, m.SetOverride("f", domain.Bool(false)))
	m.IsEnabled(ctx, "f", EvalContext{})

	assert.Equal(t, 1.0, testutil.ToFloat64(prom.FetchesTotal.WithLabelValues("remote", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.EvaluationsTotal.WithLabelValues("snapshot")))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.EvaluationsTotal.WithLabelValues("default")))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.EvaluationsTotal.WithLabelValues("override")))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.FlagCount.WithLabelValues("remote")))
}

func TestTelemetryCircuitState(t *testing.T) {
	prom := telemetry.NewPrometheus()
	p := provider.NewStatic("remote", boolFlags(nil))
	p.Fail(errBoom)

	cfg := testConfig(p)
	cfg.CircuitFailureThreshold = 1
	bootstrapped(t, cfg, WithTelemetry(prom))

	assert.Equal(t, 1.0, testutil.ToFloat64(prom.CircuitState.WithLabelValues("remote")))
}
