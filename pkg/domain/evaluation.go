package domain

import (
	"encoding/json"
)

// EvaluationSource names the layer that produced an evaluation result.
type EvaluationSource string

const (
	SourceOverride EvaluationSource = "override"
	SourceSnapshot EvaluationSource = "snapshot"
	SourceNative   EvaluationSource = "native"
	SourceLocal    EvaluationSource = "local"
	SourceDefault  EvaluationSource = "default"
)

// EvaluationDetail describes how a flag read was resolved.
type EvaluationDetail struct {
	Key   string
	Value FlagValue

	// Source is the layer that supplied Value.
	Source EvaluationSource

	// Provider is set when Source is SourceSnapshot or SourceNative.
	Provider string

	// Stale reports that the supplying snapshot was past its TTL.
	Stale bool
}

// Found reports whether any layer produced a value.
func (d EvaluationDetail) Found() bool {
	return d.Value != nil
}

// BoolValue returns the value as a bool, or defaultVal on a kind mismatch.
func (d EvaluationDetail) BoolValue(defaultVal bool) bool {
	if v, ok := d.Value.(BoolValue); ok {
		return bool(v)
	}
	return defaultVal
}

// StringValue returns the value as a string, or defaultVal on a kind mismatch.
func (d EvaluationDetail) StringValue(defaultVal string) string {
	if v, ok := d.Value.(StringValue); ok {
		return string(v)
	}
	return defaultVal
}

// IntValue returns the value as an int64. Doubles with no fractional part
// are accepted since JSON transports do not distinguish the two.
func (d EvaluationDetail) IntValue(defaultVal int64) int64 {
	switch v := d.Value.(type) {
	case IntValue:
		return int64(v)
	case DoubleValue:
		if f := float64(v); f == float64(int64(f)) {
			return int64(f)
		}
	}
	return defaultVal
}

// FloatValue returns the value as a float64. Ints widen.
func (d EvaluationDetail) FloatValue(defaultVal float64) float64 {
	switch v := d.Value.(type) {
	case DoubleValue:
		return float64(v)
	case IntValue:
		return float64(v)
	}
	return defaultVal
}

// DecodeJSON unmarshals a JSON value into target. It reports false when the
// value is not JSON or does not decode.
func (d EvaluationDetail) DecodeJSON(target any) bool {
	v, ok := d.Value.(JSONValue)
	if !ok {
		return false
	}
	return json.Unmarshal(v, target) == nil
}
