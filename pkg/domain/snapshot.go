package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// ProviderSnapshot is an immutable point-in-time set of flags and
// experiments from one provider. Updates replace the whole snapshot.
type ProviderSnapshot struct {
	Flags       map[string]FlagValue
	Experiments map[string]ExperimentDefinition
	Revision    string
	FetchedAtMs int64
	// TTLMs is nil when the snapshot never expires.
	TTLMs *int64
}

// NewSnapshot builds a snapshot stamped with the given fetch time. The maps
// are copied so later mutation by the caller cannot leak in. Experiments
// without a Key take the key they are stored under.
func NewSnapshot(flags map[string]FlagValue, experiments map[string]ExperimentDefinition, fetchedAt time.Time) ProviderSnapshot {
	return ProviderSnapshot{
		Flags:       maps.Clone(flags),
		Experiments: keyedExperiments(experiments),
		FetchedAtMs: fetchedAt.UnixMilli(),
	}
}

func keyedExperiments(in map[string]ExperimentDefinition) map[string]ExperimentDefinition {
	if in == nil {
		return nil
	}
	out := make(map[string]ExperimentDefinition, len(in))
	for key, def := range in {
		if def.Key == "" {
			def.Key = key
		}
		out[key] = def
	}
	return out
}

// WithTTL returns a copy of the snapshot that expires ttl after FetchedAtMs.
func (s ProviderSnapshot) WithTTL(ttl time.Duration) ProviderSnapshot {
	ms := ttl.Milliseconds()
	s.TTLMs = &ms
	return s
}

// WithRevision returns a copy of the snapshot carrying revision.
func (s ProviderSnapshot) WithRevision(revision string) ProviderSnapshot {
	s.Revision = revision
	return s
}

// FetchedAt returns FetchedAtMs as a time.
func (s ProviderSnapshot) FetchedAt() time.Time {
	return time.UnixMilli(s.FetchedAtMs)
}

// Flag looks up a flag value.
func (s ProviderSnapshot) Flag(key string) (FlagValue, bool) {
	v, ok := s.Flags[key]
	return v, ok && v != nil
}

// Experiment looks up an experiment definition.
func (s ProviderSnapshot) Experiment(key string) (ExperimentDefinition, bool) {
	e, ok := s.Experiments[key]
	return e, ok
}

// Validate rejects snapshots whose flag and experiment key spaces collide,
// and experiments stored under a key other than their own. Bucketing hashes
// the experiment's Key, so the two must agree.
func (s ProviderSnapshot) Validate() error {
	for key, def := range s.Experiments {
		if _, ok := s.Flags[key]; ok {
			return NewParseError(fmt.Sprintf("key %q is both a flag and an experiment", key), nil)
		}
		if def.Key != key {
			return NewParseError(fmt.Sprintf("experiment stored as %q has key %q", key, def.Key), nil)
		}
	}
	return nil
}

type wireSnapshot struct {
	Flags       map[string]json.RawMessage      `json:"flags"`
	Experiments map[string]ExperimentDefinition `json:"experiments,omitempty"`
	Revision    string                          `json:"revision,omitempty"`
	FetchedAtMs int64                           `json:"fetched_at_ms"`
	TTLMs       *int64                          `json:"ttl_ms,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (s ProviderSnapshot) MarshalJSON() ([]byte, error) {
	w := wireSnapshot{
		Flags:       make(map[string]json.RawMessage, len(s.Flags)),
		Experiments: s.Experiments,
		Revision:    s.Revision,
		FetchedAtMs: s.FetchedAtMs,
		TTLMs:       s.TTLMs,
	}
	for key, value := range s.Flags {
		raw, err := MarshalValue(value)
		if err != nil {
			return nil, fmt.Errorf("flag %s: %w", key, err)
		}
		w.Flags[key] = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *ProviderSnapshot) UnmarshalJSON(data []byte) error {
	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	flags := make(map[string]FlagValue, len(w.Flags))
	for key, raw := range w.Flags {
		value, err := UnmarshalValue(raw)
		if err != nil {
			return fmt.Errorf("flag %s: %w", key, err)
		}
		if value != nil {
			flags[key] = value
		}
	}

	*s = ProviderSnapshot{
		Flags:       flags,
		Experiments: keyedExperiments(w.Experiments),
		Revision:    w.Revision,
		FetchedAtMs: w.FetchedAtMs,
		TTLMs:       w.TTLMs,
	}
	return nil
}
