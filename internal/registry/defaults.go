package registry

import "github.com/ShayCichocki/relay/pkg/models"

// Model identifiers seeded into a fresh registry.
const (
	// ModelHaiku is the lightweight, fast model for simple tasks.
	ModelHaiku = "claude-3-5-haiku-20241022"
	// ModelSonnet is the balanced model for standard work.
	ModelSonnet = "claude-sonnet-4-20250514"
	// ModelOpus is the most capable model for complex tasks.
	ModelOpus = "claude-opus-4-5-20251101"
)

// DefaultModels returns the built-in registry, in priority order.
// Selection is first-match, so order matters: with the default medium
// difficulty and medium cost, sonnet is chosen.
func DefaultModels() []models.ModelConfig {
	return []models.ModelConfig{
		{
			ID: ModelHaiku,
			Capabilities: models.Capabilities{
				Speed:         models.SpeedVeryFast,
				Cost:          models.CostVeryLow,
				ContextLength: models.ContextMedium,
				Reasoning:     models.ReasoningBasic,
			},
		},
		{
			ID: ModelSonnet,
			Capabilities: models.Capabilities{
				Speed:         models.SpeedFast,
				Cost:          models.CostMedium,
				ContextLength: models.ContextLong,
				Reasoning:     models.ReasoningAdvanced,
				Extra:         map[string]any{"tools": true},
			},
		},
		{
			ID: ModelOpus,
			Capabilities: models.Capabilities{
				Speed:         models.SpeedSlow,
				Cost:          models.CostHigh,
				ContextLength: models.ContextLong,
				Reasoning:     models.ReasoningComplex,
				Extra:         map[string]any{"tools": true},
			},
		},
	}
}

// FlatProfile is the capability profile given to every model on ReplaceAll.
func FlatProfile() models.Capabilities {
	return models.Capabilities{
		Speed:         models.SpeedMedium,
		Cost:          models.CostMedium,
		ContextLength: models.ContextMedium,
		Reasoning:     models.ReasoningMedium,
	}
}
