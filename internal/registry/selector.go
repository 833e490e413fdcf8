package registry

import (
	"strings"

	"github.com/ShayCichocki/relay/internal/errors"
	"github.com/ShayCichocki/relay/pkg/models"
)

// Difficulty is how demanding a task is. It sets the minimum reasoning tier.
type Difficulty string

const (
	DifficultyBasic   Difficulty = "basic"
	DifficultyMedium  Difficulty = "medium"
	DifficultyComplex Difficulty = "complex"
)

// CostPreference is how much the caller is willing to spend.
type CostPreference string

const (
	CostPreferenceLow    CostPreference = "low"
	CostPreferenceMedium CostPreference = "medium"
	CostPreferenceHigh   CostPreference = "high"
)

// difficultyWindows maps a difficulty to the reasoning tiers that satisfy it.
// A nil window accepts any tier.
var difficultyWindows = map[Difficulty][]models.Reasoning{
	DifficultyBasic:   nil,
	DifficultyMedium:  {models.ReasoningMedium, models.ReasoningAdvanced, models.ReasoningComplex},
	DifficultyComplex: {models.ReasoningAdvanced, models.ReasoningComplex},
}

// costWindows maps a cost preference to the two cost tiers it accepts.
var costWindows = map[CostPreference][]models.Cost{
	CostPreferenceLow:    {models.CostVeryLow, models.CostLow},
	CostPreferenceMedium: {models.CostLow, models.CostMedium},
	CostPreferenceHigh:   {models.CostMedium, models.CostHigh},
}

// Criteria describes what a task needs from a model.
type Criteria struct {
	Difficulty Difficulty
	Cost       CostPreference
	// Tags must all be present and truthy on the model.
	Tags []string
	// AllowList, when non-empty, restricts candidates to these IDs.
	AllowList []string
}

// Validate rejects unknown difficulty or cost values. Empty values are
// allowed and mean medium.
func (c Criteria) Validate() error {
	const op = "select model"
	if _, ok := difficultyWindows[c.difficulty()]; !ok {
		return errors.Validation(op, "unknown difficulty %q (want basic, medium or complex)", c.Difficulty)
	}
	if _, ok := costWindows[c.cost()]; !ok {
		return errors.Validation(op, "unknown cost preference %q (want low, medium or high)", c.Cost)
	}
	return nil
}

func (c Criteria) difficulty() Difficulty {
	if c.Difficulty == "" {
		return DifficultyMedium
	}
	return Difficulty(strings.ToLower(string(c.Difficulty)))
}

func (c Criteria) cost() CostPreference {
	if c.Cost == "" {
		return CostPreferenceMedium
	}
	return CostPreference(strings.ToLower(string(c.Cost)))
}

// Select returns the first model in list that satisfies c. It is a first
// match, not a best match. An allow-list that excludes every model yields
// no candidate; it never falls back to the unrestricted list.
func Select(list []models.ModelConfig, c Criteria) (models.ModelConfig, error) {
	const op = "select model"

	if err := c.Validate(); err != nil {
		return models.ModelConfig{}, err
	}

	candidates := list
	if len(c.AllowList) > 0 {
		allowed := make(map[string]bool, len(c.AllowList))
		for _, id := range c.AllowList {
			allowed[strings.TrimSpace(id)] = true
		}
		candidates = nil
		for _, m := range list {
			if allowed[m.ID] {
				candidates = append(candidates, m)
			}
		}
		if len(candidates) == 0 {
			return models.ModelConfig{}, errors.NoCandidate(op, "no registered model is in the allow-list %v", c.AllowList)
		}
	}

	reasoning := difficultyWindows[c.difficulty()]
	costs := costWindows[c.cost()]

	for _, m := range candidates {
		if !hasAllTags(m.Capabilities, c.Tags) {
			continue
		}
		if !containsCost(costs, m.Cost) {
			continue
		}
		if reasoning != nil && !containsReasoning(reasoning, m.Reasoning) {
			continue
		}
		return m, nil
	}

	return models.ModelConfig{}, errors.NoCandidate(op,
		"no model satisfies difficulty %s, cost %s, tags %v", c.difficulty(), c.cost(), c.Tags)
}

func hasAllTags(caps models.Capabilities, tags []string) bool {
	for _, tag := range tags {
		if !caps.Has(tag) {
			return false
		}
	}
	return true
}

func containsCost(list []models.Cost, c models.Cost) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}

func containsReasoning(list []models.Reasoning, r models.Reasoning) bool {
	for _, x := range list {
		if x == r {
			return true
		}
	}
	return false
}
