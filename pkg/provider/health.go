package provider

import (
	"sync"
	"time"
)

// HealthTracker implements HealthReporter for providers that embed it and
// call Record after each fetch.
type HealthTracker struct {
	mu          sync.RWMutex
	lastSuccess time.Time
	failures    int
	now         func() time.Time
}

// Record notes the outcome of one fetch.
func (h *HealthTracker) Record(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err != nil {
		h.failures++
		return
	}
	h.failures = 0
	if h.now != nil {
		h.lastSuccess = h.now()
	} else {
		h.lastSuccess = time.Now()
	}
}

// IsHealthy is true until the first failure after a success, and false
// before any fetch has succeeded.
func (h *HealthTracker) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.lastSuccess.IsZero() && h.failures == 0
}

func (h *HealthTracker) LastSuccessfulFetch() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastSuccess
}

func (h *HealthTracker) ConsecutiveFailures() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.failures
}
