package pennant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrlandoBitencourt/pennant/pkg/domain"
	"github.com/OrlandoBitencourt/pennant/pkg/provider"
)

func TestListeners_CalledInRegistrationOrder(t *testing.T) {
	m := newTestManager(t, testConfig(provider.NewStatic("remote", boolFlags(nil))))

	var order []string
	m.AddListener(ListenerFuncs{OverrideChanged: func(string) { order = append(order, "first") }})
	m.AddListener(ListenerFuncs{OverrideChanged: func(string) { order = append(order, "second") }})

	require.NoError(t, m.SetOverride("f", domain.Bool(true)))

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestListeners_PanicIsIsolated(t *testing.T) {
	m := newTestManager(t, testConfig(provider.NewStatic("remote", boolFlags(nil))))
	rec := &recordingListener{}

	m.AddListener(ListenerFuncs{OverrideChanged: func(string) { panic("boom") }})
	m.AddListener(rec)

	assert.NotPanics(t, func() {
		require.NoError(t, m.SetOverride("f", domain.Bool(true)))
	})
	assert.Equal(t, []string{"f"}, rec.Overrides())
}

func TestListeners_SlowListenerTimesOut(t *testing.T) {
	cfg := testConfig(provider.NewStatic("remote", boolFlags(nil)))
	cfg.ListenerTimeout = 20 * time.Millisecond
	m := newTestManager(t, cfg)

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	rec := &recordingListener{}
	m.AddListener(ListenerFuncs{OverrideChanged: func(string) { <-release }})
	m.AddListener(rec)

	start := time.Now()
	require.NoError(t, m.SetOverride("f", domain.Bool(true)))

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []string{"f"}, rec.Overrides())
}

func TestListeners_Remove(t *testing.T) {
	m := newTestManager(t, testConfig(provider.NewStatic("remote", boolFlags(nil))))
	rec := &recordingListener{}

	id := m.AddListener(rec)
	require.NotEmpty(t, id)

	assert.True(t, m.RemoveListener(id))
	assert.False(t, m.RemoveListener(id))

	require.NoError(t, m.SetOverride("f", domain.Bool(true)))
	assert.Empty(t, rec.Overrides())
}

func TestListenerFuncs_NilFieldsAreIgnored(t *testing.T) {
	var l Listener = ListenerFuncs{}

	assert.NotPanics(t, func() {
		l.OnSnapshotUpdated("remote")
		l.OnOverrideChanged("f")
	})
}
