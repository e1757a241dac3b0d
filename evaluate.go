package pennant

import (
	"context"

	"github.com/OrlandoBitencourt/pennant/pkg/bucketing"
	"github.com/OrlandoBitencourt/pennant/pkg/domain"
	"github.com/OrlandoBitencourt/pennant/pkg/evaluator"
	"github.com/OrlandoBitencourt/pennant/pkg/provider"
)

// Flag reads resolve in this order: override, the first provider snapshot
// carrying the key, provider-native evaluation, then a default. They never
// block and never fail.

// IsEnabled reports whether a boolean flag is on. Unknown keys fall back to
// Config.Defaults, then false.
func (m *Manager) IsEnabled(ctx context.Context, key string, evalCtx EvalContext) bool {
	return m.lookup(ctx, key, evalCtx, nil).BoolValue(false)
}

// Value returns the resolved value of key. When nothing resolves it, def is
// returned; a nil def selects the configured default for key, which may
// itself be nil.
func (m *Manager) Value(ctx context.Context, key string, evalCtx EvalContext, def FlagValue) FlagValue {
	return m.lookup(ctx, key, evalCtx, def).Value
}

// Bool returns a boolean flag, or def if the key is unresolved or not a bool.
//
// Example:
//
//	if m.Bool(ctx, "new-checkout", pennant.NewContext("user-123"), false) {
//	    // ...
//	}
func (m *Manager) Bool(ctx context.Context, key string, evalCtx EvalContext, def bool) bool {
	return m.lookup(ctx, key, evalCtx, domain.Bool(def)).BoolValue(def)
}

// Int returns an integer flag, or def if the key is unresolved or not numeric.
func (m *Manager) Int(ctx context.Context, key string, evalCtx EvalContext, def int64) int64 {
	return m.lookup(ctx, key, evalCtx, domain.Int(def)).IntValue(def)
}

// Float returns a numeric flag, or def if the key is unresolved or not numeric.
func (m *Manager) Float(ctx context.Context, key string, evalCtx EvalContext, def float64) float64 {
	return m.lookup(ctx, key, evalCtx, domain.Double(def)).FloatValue(def)
}

// String returns a string flag, or def if the key is unresolved or not a string.
func (m *Manager) String(ctx context.Context, key string, evalCtx EvalContext, def string) string {
	return m.lookup(ctx, key, evalCtx, domain.String(def)).StringValue(def)
}

// JSON decodes a JSON flag into target and reports whether it did. target
// is untouched when the key is unresolved or holds another kind.
func (m *Manager) JSON(ctx context.Context, key string, evalCtx EvalContext, target any) bool {
	return m.lookup(ctx, key, evalCtx, nil).DecodeJSON(target)
}

// Detail resolves key and reports which layer answered. Configured
// defaults apply; Found is false only when none is configured either.
func (m *Manager) Detail(ctx context.Context, key string, evalCtx EvalContext) EvaluationDetail {
	return m.lookup(ctx, key, evalCtx, nil)
}

func (m *Manager) lookup(ctx context.Context, key string, evalCtx EvalContext, def FlagValue) EvaluationDetail {
	d := m.resolve(key, evalCtx)
	if !d.Found() {
		d.Source = domain.SourceDefault
		d.Value = def
		if def == nil {
			d.Value = m.cfg.Defaults[key]
		}
	}
	m.telemetry.RecordEvaluation(ctx, key, string(d.Source))
	return d
}

func (m *Manager) resolve(key string, evalCtx EvalContext) EvaluationDetail {
	m.overridesMu.RLock()
	v, ok := m.overrides[key]
	m.overridesMu.RUnlock()
	if ok {
		return EvaluationDetail{Key: key, Value: v, Source: domain.SourceOverride}
	}

	d := evaluator.ResolveFlag(key, nil, m.sources(), m.now().UnixMilli())
	if d.Found() {
		if d.Stale {
			m.revalidate(m.byName[d.Provider])
		}
		return d
	}

	for _, e := range m.entries {
		native, ok := e.provider.(provider.NativeEvaluator)
		if !ok {
			continue
		}
		if v, ok := native.EvaluateFlag(key, evalCtx); ok && v != nil {
			return EvaluationDetail{Key: key, Value: v, Source: domain.SourceNative, Provider: e.name}
		}
	}

	return EvaluationDetail{Key: key}
}

// Assign buckets evalCtx into an experiment. The definition comes from the
// first provider snapshot carrying key, else from provider-native
// evaluation, else from Config.Experiments. It returns nil when the
// experiment is unknown, targeting excludes the subject, or the context has
// neither a user id nor a device id.
func (m *Manager) Assign(ctx context.Context, key string, evalCtx EvalContext) *ExperimentAssignment {
	sources := m.sources()

	if exp, owner, ok := evaluator.FindExperiment(key, sources); ok {
		if e := m.byName[owner]; e != nil {
			if snap := e.snapshot.Load(); snap != nil && evaluator.IsSnapshotExpired(*snap, m.now().UnixMilli()) {
				m.revalidate(e)
			}
		}
		m.telemetry.RecordEvaluation(ctx, key, string(domain.SourceSnapshot))
		return bucketing.Assign(exp, evalCtx)
	}

	for _, e := range m.entries {
		native, ok := e.provider.(provider.NativeEvaluator)
		if !ok {
			continue
		}
		if a, ok := native.EvaluateExperiment(key, evalCtx); ok {
			m.telemetry.RecordEvaluation(ctx, key, string(domain.SourceNative))
			return a
		}
	}

	if exp, ok := m.experiments[key]; ok {
		m.telemetry.RecordEvaluation(ctx, key, string(domain.SourceLocal))
		return bucketing.Assign(exp, evalCtx)
	}

	m.telemetry.RecordEvaluation(ctx, key, string(domain.SourceDefault))
	return nil
}

// ListAllFlags returns every known flag as a reader would currently see it:
// overrides over provider snapshots (earlier providers first) over
// configured defaults. Provider-native keys are not enumerable and are
// not included.
func (m *Manager) ListAllFlags() map[string]FlagValue {
	m.overridesMu.RLock()
	overrides := evaluator.CloneOverrides(m.overrides)
	m.overridesMu.RUnlock()

	merged := evaluator.MergeFlags(overrides, m.sources())
	for k, v := range m.cfg.Defaults {
		if _, ok := merged[k]; !ok && v != nil {
			merged[k] = v
		}
	}
	return merged
}

// Snapshot returns the current snapshot of the named provider.
func (m *Manager) Snapshot(name string) (ProviderSnapshot, bool) {
	e, ok := m.byName[name]
	if !ok {
		return ProviderSnapshot{}, false
	}
	snap := e.snapshot.Load()
	if snap == nil {
		return ProviderSnapshot{}, false
	}
	return *snap, true
}

func (m *Manager) sources() []evaluator.Source {
	out := make([]evaluator.Source, len(m.entries))
	for i, e := range m.entries {
		out[i] = evaluator.Source{Name: e.name, Snapshot: e.snapshot.Load()}
	}
	return out
}
