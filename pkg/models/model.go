package models

import "fmt"

// Speed is how quickly a model responds.
type Speed string

const (
	SpeedVeryFast Speed = "very_fast"
	SpeedFast     Speed = "fast"
	SpeedMedium   Speed = "medium"
	SpeedSlow     Speed = "slow"
)

// Valid returns true if the speed is a known value.
func (s Speed) Valid() bool {
	switch s {
	case SpeedVeryFast, SpeedFast, SpeedMedium, SpeedSlow:
		return true
	default:
		return false
	}
}

// Cost is the relative price tier of a model.
type Cost string

const (
	CostVeryLow Cost = "very_low"
	CostLow     Cost = "low"
	CostMedium  Cost = "medium"
	CostHigh    Cost = "high"
)

// Valid returns true if the cost is a known value.
func (c Cost) Valid() bool {
	switch c {
	case CostVeryLow, CostLow, CostMedium, CostHigh:
		return true
	default:
		return false
	}
}

// ContextLength is the size class of a model's context window.
type ContextLength string

const (
	ContextShort  ContextLength = "short"
	ContextMedium ContextLength = "medium"
	ContextLong   ContextLength = "long"
)

// Valid returns true if the context length is a known value.
func (c ContextLength) Valid() bool {
	switch c {
	case ContextShort, ContextMedium, ContextLong:
		return true
	default:
		return false
	}
}

// Reasoning is the reasoning tier of a model, ordered basic < medium <
// advanced < complex.
type Reasoning string

const (
	ReasoningBasic    Reasoning = "basic"
	ReasoningMedium   Reasoning = "medium"
	ReasoningAdvanced Reasoning = "advanced"
	ReasoningComplex  Reasoning = "complex"
)

// Valid returns true if the reasoning tier is a known value.
func (r Reasoning) Valid() bool {
	switch r {
	case ReasoningBasic, ReasoningMedium, ReasoningAdvanced, ReasoningComplex:
		return true
	default:
		return false
	}
}

// Capabilities is the capability profile of an execution resource.
type Capabilities struct {
	Speed         Speed         `json:"speed" yaml:"speed"`
	Cost          Cost          `json:"cost" yaml:"cost"`
	ContextLength ContextLength `json:"context_length" yaml:"context_length"`
	Reasoning     Reasoning     `json:"reasoning" yaml:"reasoning"`
	// Extra holds open-ended capability tags such as "vision" or "tools".
	Extra map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// Validate checks every enumerated field and reports the first invalid one.
func (c Capabilities) Validate() error {
	if !c.Speed.Valid() {
		return fmt.Errorf("invalid speed %q", c.Speed)
	}
	if !c.Cost.Valid() {
		return fmt.Errorf("invalid cost %q", c.Cost)
	}
	if !c.ContextLength.Valid() {
		return fmt.Errorf("invalid context_length %q", c.ContextLength)
	}
	if !c.Reasoning.Valid() {
		return fmt.Errorf("invalid reasoning %q", c.Reasoning)
	}
	return nil
}

// Has reports whether the named capability tag is present and truthy.
// The four profile fields count as present when non-empty.
func (c Capabilities) Has(tag string) bool {
	switch tag {
	case "speed":
		return c.Speed != ""
	case "cost":
		return c.Cost != ""
	case "context_length":
		return c.ContextLength != ""
	case "reasoning":
		return c.Reasoning != ""
	}
	v, ok := c.Extra[tag]
	if !ok {
		return false
	}
	return truthy(v)
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != "" && x != "false" && x != "0"
	case int:
		return x != 0
	case int64:
		return x != 0
	case float64:
		return x != 0
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}

// ModelConfig is one entry in the model registry.
type ModelConfig struct {
	// ID is the externally meaningful model identifier.
	ID           string `json:"id" yaml:"id"`
	Capabilities `yaml:",inline"`
}
