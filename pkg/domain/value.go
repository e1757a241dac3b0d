// Package domain holds the data model shared by every pennant component:
// flag values, evaluation contexts, targeting rules, experiments and
// provider snapshots.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind identifies the concrete type behind a FlagValue.
type ValueKind string

const (
	KindBool   ValueKind = "bool"
	KindInt    ValueKind = "int"
	KindDouble ValueKind = "double"
	KindString ValueKind = "string"
	KindJSON   ValueKind = "json"
)

// FlagValue is an immutable flag value. The set of implementations is closed:
// BoolValue, IntValue, DoubleValue, StringValue and JSONValue.
type FlagValue interface {
	Kind() ValueKind
	String() string
	flagValue()
}

// BoolValue is a boolean flag value.
type BoolValue bool

// IntValue is an integer flag value.
type IntValue int64

// DoubleValue is a floating point flag value.
type DoubleValue float64

// StringValue is a string flag value.
type StringValue string

// JSONValue is an opaque JSON document. It is never interpreted by the engine.
type JSONValue json.RawMessage

func (BoolValue) Kind() ValueKind { return KindBool }
func (IntValue) Kind() ValueKind { return KindInt }
func (DoubleValue) Kind() ValueKind { return KindDouble }
func (StringValue) Kind() ValueKind { return KindString }
func (JSONValue) Kind() ValueKind { return KindJSON }

func (v BoolValue) String() string { return strconv.FormatBool(bool(v)) }
func (v IntValue) String() string { return strconv.FormatInt(int64(v), 10) }
func (v DoubleValue) String() string { return strconv.FormatFloat(float64(v), 'g', -1, 64) }
func (v StringValue) String() string { return string(v) }
func (v JSONValue) String() string { return string(v) }

func (BoolValue) flagValue() {}
func (IntValue) flagValue() {}
func (DoubleValue) flagValue() {}
func (StringValue) flagValue() {}
func (JSONValue) flagValue() {}

// Bool, Int, Double, String and JSON are shorthand constructors.
func Bool(v bool) FlagValue { return BoolValue(v) }
func Int(v int64) FlagValue { return IntValue(v) }
func Double(v float64) FlagValue { return DoubleValue(v) }
func String(v string) FlagValue { return StringValue(v) }
func JSON(raw []byte) FlagValue { return JSONValue(bytes.Clone(raw)) }

// ValuesEqual reports whether two flag values have the same kind and content.
func ValuesEqual(a, b FlagValue) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	if a.Kind() == KindJSON {
		return bytes.Equal(a.(JSONValue), b.(JSONValue))
	}
	return a == b
}

// wireValue is the serialized form of a FlagValue.
type wireValue struct {
	Type  ValueKind       `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalValue encodes a FlagValue with its type tag.
func MarshalValue(v FlagValue) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}

	var raw []byte
	var err error
	switch val := v.(type) {
	case BoolValue:
		raw, err = json.Marshal(bool(val))
	case IntValue:
		raw, err = json.Marshal(int64(val))
	case DoubleValue:
		raw, err = json.Marshal(float64(val))
	case StringValue:
		raw, err = json.Marshal(string(val))
	case JSONValue:
		if len(val) == 0 {
			raw = []byte("null")
		} else {
			raw = []byte(val)
		}
	default:
		return nil, fmt.Errorf("unsupported flag value type %T", v)
	}
	if err != nil {
		return nil, err
	}

	return json.Marshal(wireValue{Type: v.Kind(), Value: raw})
}

// UnmarshalValue decodes a FlagValue produced by MarshalValue.
func UnmarshalValue(data []byte) (FlagValue, error) {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil, nil
	}

	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}

	switch w.Type {
	case KindBool:
		var b bool
		if err := json.Unmarshal(w.Value, &b); err != nil {
			return nil, err
		}
		return BoolValue(b), nil
	case KindInt:
		var i int64
		if err := json.Unmarshal(w.Value, &i); err != nil {
			return nil, err
		}
		return IntValue(i), nil
	case KindDouble:
		var f float64
		if err := json.Unmarshal(w.Value, &f); err != nil {
			return nil, err
		}
		return DoubleValue(f), nil
	case KindString:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return nil, err
		}
		return StringValue(s), nil
	case KindJSON:
		return JSONValue(bytes.Clone(w.Value)), nil
	default:
		return nil, fmt.Errorf("unknown flag value type %q", w.Type)
	}
}
