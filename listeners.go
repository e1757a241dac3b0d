package pennant

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

type listenerEntry struct {
	id       string
	listener Listener
}

// AddListener subscribes l to change notifications and returns the id to
// pass to RemoveListener.
//
// Notifications for different providers can be delivered from different
// goroutines, so l must be safe for concurrent use.
func (m *Manager) AddListener(l Listener) string {
	id := uuid.NewString()

	m.listenersMu.Lock()
	m.listeners = append(m.listeners, listenerEntry{id: id, listener: l})
	m.listenersMu.Unlock()

	return id
}

// RemoveListener unsubscribes the listener registered under id.
func (m *Manager) RemoveListener(id string) bool {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	i := slices.IndexFunc(m.listeners, func(e listenerEntry) bool { return e.id == id })
	if i < 0 {
		return false
	}
	m.listeners = slices.Delete(m.listeners, i, i+1)
	return true
}

func (m *Manager) notifySnapshot(source string) {
	m.fanout("snapshot_updated", func(l Listener) { l.OnSnapshotUpdated(source) })
}

func (m *Manager) notifyOverride(key string) {
	m.fanout("override_changed", func(l Listener) { l.OnOverrideChanged(key) })
}

// fanout calls every listener in registration order with no manager lock
// held. A listener that panics is logged and skipped; one that outlives
// ListenerTimeout is left running and the fanout moves on.
func (m *Manager) fanout(event string, call func(Listener)) {
	m.listenersMu.RLock()
	listeners := slices.Clone(m.listeners)
	m.listenersMu.RUnlock()

	for _, le := range listeners {
		m.invoke(event, le, call)
	}
}

func (m *Manager) invoke(event string, le listenerEntry, call func(Listener)) {
	timeout := m.cfg.ListenerTimeout
	if timeout <= 0 {
		m.safeCall(event, le, call)
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.safeCall(event, le, call)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		m.logger.Error("listener timed out",
			"listener", le.id,
			"event", event,
			"timeout", timeout,
		)
	}
}

func (m *Manager) safeCall(event string, le listenerEntry, call func(Listener)) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("listener panicked",
				"listener", le.id,
				"event", event,
				"panic", r,
			)
		}
	}()
	call(le.listener)
}
