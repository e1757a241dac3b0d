package domain

import (
	"encoding/json"
	"fmt"
)

// ExposureType describes when an experiment exposure is recorded.
type ExposureType string

const (
	ExposureOnAssign ExposureType = "on_assign"
	ExposureManual   ExposureType = "manual"
)

// Variant is one arm of an experiment. Weights are relative and need not
// sum to one.
type Variant struct {
	Name    string            `json:"name"`
	Weight  float64           `json:"weight"`
	Payload map[string]string `json:"payload,omitempty"`
}

// ExperimentDefinition describes an experiment. Variant order is part of the
// assignment contract: reordering variants reassigns subjects.
type ExperimentDefinition struct {
	Key          string
	Variants     []Variant
	Targeting    TargetingRule
	ExposureType ExposureType
}

// Validate checks the structural invariants of a definition.
func (e ExperimentDefinition) Validate() error {
	if e.Key == "" {
		return NewConfigurationError("experiments", "experiment key cannot be empty")
	}
	if len(e.Variants) == 0 {
		return NewConfigurationError("experiments", fmt.Sprintf("experiment %q has no variants", e.Key))
	}
	for _, v := range e.Variants {
		if v.Weight < 0 {
			return NewConfigurationError("experiments",
				fmt.Sprintf("experiment %q variant %q has negative weight", e.Key, v.Name))
		}
	}
	return nil
}

type wireExperiment struct {
	Key          string          `json:"key"`
	Variants     []Variant       `json:"variants"`
	Targeting    json.RawMessage `json:"targeting,omitempty"`
	ExposureType ExposureType    `json:"exposure_type,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e ExperimentDefinition) MarshalJSON() ([]byte, error) {
	w := wireExperiment{
		Key:          e.Key,
		Variants:     e.Variants,
		ExposureType: e.ExposureType,
	}
	if e.Targeting != nil {
		raw, err := MarshalRule(e.Targeting)
		if err != nil {
			return nil, fmt.Errorf("experiment %s targeting: %w", e.Key, err)
		}
		w.Targeting = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *ExperimentDefinition) UnmarshalJSON(data []byte) error {
	var w wireExperiment
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	e.Key = w.Key
	e.Variants = w.Variants
	e.ExposureType = w.ExposureType
	e.Targeting = nil

	if len(w.Targeting) > 0 {
		rule, err := UnmarshalRule(w.Targeting)
		if err != nil {
			return fmt.Errorf("experiment %s targeting: %w", w.Key, err)
		}
		e.Targeting = rule
	}
	return nil
}

// ExperimentAssignment is the result of bucketing a subject into an
// experiment. Hash is the digest used for the assignment, kept for
// debugging only.
type ExperimentAssignment struct {
	Key     string            `json:"key"`
	Variant string            `json:"variant"`
	Payload map[string]string `json:"payload,omitempty"`
	Hash    string            `json:"hash,omitempty"`
}
