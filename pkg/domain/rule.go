package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// RuleType names a TargetingRule variant on the wire.
type RuleType string

const (
	RuleAttributeEquals   RuleType = "attribute_equals"
	RuleAttributeIn       RuleType = "attribute_in"
	RuleRegionIn          RuleType = "region_in"
	RuleAppVersionGte     RuleType = "app_version_gte"
	RuleAppVersionLt      RuleType = "app_version_lt"
	RuleOSVersionGte      RuleType = "os_version_gte"
	RuleUserIDIn          RuleType = "user_id_in"
	RulePercentageRollout RuleType = "percentage_rollout"
	RuleComposite         RuleType = "composite"
	RuleExpression        RuleType = "expression"
)

// TargetingRule is a node of a targeting tree. Implementations are the
// rule structs in this file; the set is closed.
type TargetingRule interface {
	Type() RuleType
	targetingRule()
}

// AttributeEquals matches when the custom attribute Key equals Value.
type AttributeEquals struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// AttributeIn matches when the custom attribute Key is one of Values.
type AttributeIn struct {
	Key    string   `json:"key"`
	Values []string `json:"values"`
}

// RegionIn matches when the context region is one of Regions.
type RegionIn struct {
	Regions []string `json:"regions"`
}

// AppVersionGte matches app versions at or above Version.
type AppVersionGte struct {
	Version string `json:"version"`
}

// AppVersionLt matches app versions strictly below Version.
type AppVersionLt struct {
	Version string `json:"version"`
}

// OSVersionGte matches OS versions at or above Version.
type OSVersionGte struct {
	Version string `json:"version"`
}

// UserIDIn matches when the user id is one of IDs.
type UserIDIn struct {
	IDs []string `json:"ids"`
}

// PercentageRollout matches subjects whose bucket falls below Percent.
type PercentageRollout struct {
	Percent int `json:"percent"`
}

// Composite matches when every rule in All matches and at least one rule
// in Any matches. An empty list is vacuously true.
type Composite struct {
	All []TargetingRule `json:"-"`
	Any []TargetingRule `json:"-"`
}

// Expression matches when the expr-lang boolean expression Source evaluates
// to true against the context (userId, deviceId, appVersion, osName,
// osVersion, locale, region, attributes).
type Expression struct {
	Source string `json:"source"`
}

func (AttributeEquals) Type() RuleType { return RuleAttributeEquals }
func (AttributeIn) Type() RuleType { return RuleAttributeIn }
func (RegionIn) Type() RuleType { return RuleRegionIn }
func (AppVersionGte) Type() RuleType { return RuleAppVersionGte }
func (AppVersionLt) Type() RuleType { return RuleAppVersionLt }
func (OSVersionGte) Type() RuleType { return RuleOSVersionGte }
func (UserIDIn) Type() RuleType { return RuleUserIDIn }
func (PercentageRollout) Type() RuleType { return RulePercentageRollout }
func (Composite) Type() RuleType { return RuleComposite }
func (Expression) Type() RuleType { return RuleExpression }

func (AttributeEquals) targetingRule() {}
func (AttributeIn) targetingRule() {}
func (RegionIn) targetingRule() {}
func (AppVersionGte) targetingRule() {}
func (AppVersionLt) targetingRule() {}
func (OSVersionGte) targetingRule() {}
func (UserIDIn) targetingRule() {}
func (PercentageRollout) targetingRule() {}
func (Composite) targetingRule() {}
func (Expression) targetingRule() {}

type wireRule struct {
	Type RuleType          `json:"type"`
	Rule json.RawMessage   `json:"rule,omitempty"`
	All  []json.RawMessage `json:"all,omitempty"`
	Any  []json.RawMessage `json:"any,omitempty"`
}

// MarshalRule encodes a rule tree with type tags.
func MarshalRule(r TargetingRule) ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}

	if c, ok := r.(Composite); ok {
		w := wireRule{Type: RuleComposite}
		for _, sub := range c.All {
			raw, err := marshalSubRule(sub)
			if err != nil {
				return nil, err
			}
			w.All = append(w.All, raw)
		}
		for _, sub := range c.Any {
			raw, err := marshalSubRule(sub)
			if err != nil {
				return nil, err
			}
			w.Any = append(w.Any, raw)
		}
		return json.Marshal(w)
	}

	body, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireRule{Type: r.Type(), Rule: body})
}

// UnmarshalRule decodes a rule tree produced by MarshalRule.
func UnmarshalRule(data []byte) (TargetingRule, error) {
	var w wireRule
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	if w.Type == "" {
		return nil, nil
	}

	switch w.Type {
	case RuleComposite:
		var c Composite
		for _, raw := range w.All {
			sub, err := unmarshalSubRule(raw)
			if err != nil {
				return nil, err
			}
			c.All = append(c.All, sub)
		}
		for _, raw := range w.Any {
			sub, err := unmarshalSubRule(raw)
			if err != nil {
				return nil, err
			}
			c.Any = append(c.Any, sub)
		}
		return c, nil
	case RuleAttributeEquals:
		return decodeRule[AttributeEquals](w.Rule)
	case RuleAttributeIn:
		return decodeRule[AttributeIn](w.Rule)
	case RuleRegionIn:
		return decodeRule[RegionIn](w.Rule)
	case RuleAppVersionGte:
		return decodeRule[AppVersionGte](w.Rule)
	case RuleAppVersionLt:
		return decodeRule[AppVersionLt](w.Rule)
	case RuleOSVersionGte:
		return decodeRule[OSVersionGte](w.Rule)
	case RuleUserIDIn:
		return decodeRule[UserIDIn](w.Rule)
	case RulePercentageRollout:
		return decodeRule[PercentageRollout](w.Rule)
	case RuleExpression:
		return decodeRule[Expression](w.Rule)
	default:
		return nil, fmt.Errorf("unknown targeting rule type %q", w.Type)
	}
}

var errNilSubRule = errors.New("composite rule contains an empty sub-rule")

// A nil rule means "no targeting" at the top level, which would match every
// subject if it were allowed inside a composite.
func unmarshalSubRule(raw json.RawMessage) (TargetingRule, error) {
	sub, err := UnmarshalRule(raw)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, errNilSubRule
	}
	return sub, nil
}

func marshalSubRule(sub TargetingRule) ([]byte, error) {
	if sub == nil {
		return nil, errNilSubRule
	}
	return MarshalRule(sub)
}

func decodeRule[T TargetingRule](raw json.RawMessage) (TargetingRule, error) {
	var r T
	if len(raw) == 0 {
		return r, nil
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return r, nil
}
