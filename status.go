package pennant

import (
	"github.com/OrlandoBitencourt/pennant/pkg/circuit"
	"github.com/OrlandoBitencourt/pennant/pkg/evaluator"
	"github.com/OrlandoBitencourt/pennant/pkg/provider"
)

// ProviderStatuses reports every provider in registration order.
func (m *Manager) ProviderStatuses() []ProviderStatus {
	now := m.now()
	out := make([]ProviderStatus, 0, len(m.entries))

	for _, e := range m.entries {
		e.mu.Lock()
		st := ProviderStatus{
			Name:                e.name,
			LastAttempt:         e.lastAttempt,
			LastSuccess:         e.lastSuccess,
			ConsecutiveFailures: e.failures,
			LastError:           e.lastErr,
			Circuit:             circuit.StateClosed,
		}
		e.mu.Unlock()

		if e.breaker != nil {
			st.Circuit = e.breaker.State()
		}

		if snap := e.snapshot.Load(); snap != nil {
			st.HasSnapshot = true
			st.Revision = snap.Revision
			st.SnapshotAge = now.Sub(snap.FetchedAt())
			st.Stale = evaluator.IsSnapshotExpired(*snap, now.UnixMilli())
		}

		if hr, ok := e.provider.(provider.HealthReporter); ok {
			st.Reported = &ReportedHealth{
				Healthy:             hr.IsHealthy(),
				LastSuccessfulFetch: hr.LastSuccessfulFetch(),
				ConsecutiveFailures: hr.ConsecutiveFailures(),
			}
		}

		out = append(out, st)
	}
	return out
}

// Status returns the status of one provider.
func (m *Manager) Status(name string) (ProviderStatus, bool) {
	for _, st := range m.ProviderStatuses() {
		if st.Name == name {
			return st, true
		}
	}
	return ProviderStatus{}, false
}
