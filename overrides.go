package pennant

import (
	"slices"

	"github.com/OrlandoBitencourt/pennant/pkg/domain"
	"github.com/OrlandoBitencourt/pennant/pkg/evaluator"
)

// SetOverride forces key to value for every reader until cleared,
// regardless of provider data. Listeners are notified only when the
// effective override changes.
func (m *Manager) SetOverride(key string, value FlagValue) error {
	if key == "" {
		return domain.NewInvalidArgumentError("key", "cannot be empty")
	}
	if value == nil {
		return domain.NewInvalidArgumentError("value", "cannot be nil, use ClearOverride")
	}

	m.overridesMu.Lock()
	prev, had := m.overrides[key]
	m.overrides[key] = value
	m.overridesMu.Unlock()

	if !had || !domain.ValuesEqual(prev, value) {
		m.notifyOverride(key)
	}
	return nil
}

// ClearOverride removes the override for key and reports whether one was set.
func (m *Manager) ClearOverride(key string) bool {
	m.overridesMu.Lock()
	_, had := m.overrides[key]
	delete(m.overrides, key)
	m.overridesMu.Unlock()

	if had {
		m.notifyOverride(key)
	}
	return had
}

// ClearAllOverrides removes every override and returns how many there were.
func (m *Manager) ClearAllOverrides() int {
	m.overridesMu.Lock()
	keys := make([]string, 0, len(m.overrides))
	for k := range m.overrides {
		keys = append(keys, k)
	}
	clear(m.overrides)
	m.overridesMu.Unlock()

	slices.Sort(keys)
	for _, k := range keys {
		m.notifyOverride(k)
	}
	return len(keys)
}

// ListOverrides returns a copy of the current overrides.
func (m *Manager) ListOverrides() map[string]FlagValue {
	m.overridesMu.RLock()
	defer m.overridesMu.RUnlock()
	return evaluator.CloneOverrides(m.overrides)
}
