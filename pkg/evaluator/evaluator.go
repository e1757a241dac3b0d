// Package evaluator resolves flag values and experiment assignments from
// overrides and an ordered list of provider snapshots. Everything here is
// pure: no I/O, no locking, no clocks beyond the one passed in.
package evaluator

import (
	"maps"

	"github.com/OrlandoBitencourt/pennant/pkg/bucketing"
	"github.com/OrlandoBitencourt/pennant/pkg/domain"
)

// Source is one provider's current snapshot, in registration order.
// Snapshot is nil when the provider has produced nothing yet.
type Source struct {
	Name     string
	Snapshot *domain.ProviderSnapshot
}

// EvaluateFlag returns the override for key if one is set, else the value
// from the first snapshot holding key, else def.
func EvaluateFlag(key string, overrides map[string]domain.FlagValue, snapshots []domain.ProviderSnapshot, def domain.FlagValue) domain.FlagValue {
	sources := make([]Source, len(snapshots))
	for i := range snapshots {
		sources[i] = Source{Snapshot: &snapshots[i]}
	}
	d := ResolveFlag(key, overrides, sources, 0)
	if !d.Found() {
		return def
	}
	return d.Value
}

// ResolveFlag is EvaluateFlag with provenance. It does not apply a default;
// an unresolved key yields a detail whose Found is false. nowMs marks the
// detail stale when the winning snapshot has expired; pass 0 to skip.
func ResolveFlag(key string, overrides map[string]domain.FlagValue, sources []Source, nowMs int64) domain.EvaluationDetail {
	if v, ok := overrides[key]; ok && v != nil {
		return domain.EvaluationDetail{Key: key, Value: v, Source: domain.SourceOverride}
	}

	for _, src := range sources {
		if src.Snapshot == nil {
			continue
		}
		if v, ok := src.Snapshot.Flag(key); ok {
			return domain.EvaluationDetail{
				Key:      key,
				Value:    v,
				Source:   domain.SourceSnapshot,
				Provider: src.Name,
				Stale:    nowMs > 0 && IsSnapshotExpired(*src.Snapshot, nowMs),
			}
		}
	}

	return domain.EvaluationDetail{Key: key}
}

// EvaluateExperiment assigns ctx using the definition from the first
// snapshot that carries key. Definitions are never merged across snapshots.
func EvaluateExperiment(key string, ctx domain.EvalContext, snapshots []domain.ProviderSnapshot) *domain.ExperimentAssignment {
	for _, s := range snapshots {
		if exp, ok := s.Experiment(key); ok {
			return bucketing.Assign(exp, ctx)
		}
	}
	return nil
}

// FindExperiment returns the first definition for key among sources and the
// provider that owns it.
func FindExperiment(key string, sources []Source) (domain.ExperimentDefinition, string, bool) {
	for _, src := range sources {
		if src.Snapshot == nil {
			continue
		}
		if exp, ok := src.Snapshot.Experiment(key); ok {
			return exp, src.Name, true
		}
	}
	return domain.ExperimentDefinition{}, "", false
}

// IsSnapshotExpired reports whether s is past its TTL at nowMs. A snapshot
// without a TTL never expires.
func IsSnapshotExpired(s domain.ProviderSnapshot, nowMs int64) bool {
	if s.TTLMs == nil {
		return false
	}
	return nowMs-s.FetchedAtMs > *s.TTLMs
}

// MergeFlags flattens overrides and sources into the map a reader would
// observe key by key: overrides first, then earlier sources over later ones.
func MergeFlags(overrides map[string]domain.FlagValue, sources []Source) map[string]domain.FlagValue {
	out := make(map[string]domain.FlagValue)
	for i := len(sources) - 1; i >= 0; i-- {
		if sources[i].Snapshot == nil {
			continue
		}
		for k, v := range sources[i].Snapshot.Flags {
			if v != nil {
				out[k] = v
			}
		}
	}
	for k, v := range overrides {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

// CloneOverrides copies an override map so the copy can be read without a lock.
func CloneOverrides(overrides map[string]domain.FlagValue) map[string]domain.FlagValue {
	if overrides == nil {
		return map[string]domain.FlagValue{}
	}
	return maps.Clone(overrides)
}
