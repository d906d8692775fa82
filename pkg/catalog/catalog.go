// Copyright 2025 Certen Protocol
//
// Package catalog holds the static table of generation models the router
// chooses between: pricing, capability tier, and the HumanEval score the
// cost oracle uses to compute each model's retry-adjusted effective cost.
package catalog

// Tier is a coarse capability/cost band, used by routing rules to narrow
// the candidate set before task-type and budget filtering.
type Tier string

const (
	TierFlagship Tier = "flagship"
	TierMid      Tier = "mid"
	TierBudget   Tier = "budget"
)

// TaskType is the kind of generation request a model is being asked to
// serve; used to filter candidates that are unsuited for a workload (e.g. a
// budget model on a formal-verification-heavy task).
type TaskType string

const (
	TaskCodeGeneration TaskType = "code_generation"
	TaskRefactor       TaskType = "refactor"
	TaskTestGeneration TaskType = "test_generation"
	TaskExplanation    TaskType = "explanation"
)

// Spec describes one routable model.
type Spec struct {
	ModelID         string
	Provider        string
	Tier            Tier
	TaskTypes       []TaskType
	CostPer1kInput  float64 // USD
	CostPer1kOutput float64 // USD
	HumanEvalScore  float64 // 0-100
	ContextWindow   int
}

// EffectiveCostMultiplier implements the retry-multiplier step function
// (spec §4.3): weaker models are charged a markup proportional to how often
// they're expected to need a retry before producing a passing candidate.
func (s Spec) EffectiveCostMultiplier() float64 {
	switch {
	case s.HumanEvalScore >= 90:
		return 1.1
	case s.HumanEvalScore >= 80:
		return 1.3
	case s.HumanEvalScore >= 70:
		return 1.6
	default:
		return 2.0
	}
}

// Supports reports whether s is suitable for task.
func (s Spec) Supports(task TaskType) bool {
	for _, t := range s.TaskTypes {
		if t == task {
			return true
		}
	}
	return false
}

// Catalog is the default, static model table. It is not mutated at runtime;
// callers that need per-deployment overrides should build their own table
// with the same Spec shape.
var Catalog = []Spec{
	{
		ModelID:         "gpt-4o",
		Provider:        "openai",
		Tier:            TierFlagship,
		TaskTypes:       []TaskType{TaskCodeGeneration, TaskRefactor, TaskTestGeneration, TaskExplanation},
		CostPer1kInput:  0.0025,
		CostPer1kOutput: 0.01,
		HumanEvalScore:  90.2,
		ContextWindow:   128000,
	},
	{
		ModelID:         "claude-3-5-sonnet",
		Provider:        "anthropic",
		Tier:            TierFlagship,
		TaskTypes:       []TaskType{TaskCodeGeneration, TaskRefactor, TaskTestGeneration, TaskExplanation},
		CostPer1kInput:  0.003,
		CostPer1kOutput: 0.015,
		HumanEvalScore:  92.0,
		ContextWindow:   200000,
	},
	{
		ModelID:         "gpt-4o-mini",
		Provider:        "openai",
		Tier:            TierMid,
		TaskTypes:       []TaskType{TaskCodeGeneration, TaskRefactor, TaskTestGeneration},
		CostPer1kInput:  0.00015,
		CostPer1kOutput: 0.0006,
		HumanEvalScore:  87.2,
		ContextWindow:   128000,
	},
	{
		ModelID:         "gemini-1.5-pro",
		Provider:        "google",
		Tier:            TierMid,
		TaskTypes:       []TaskType{TaskCodeGeneration, TaskExplanation},
		CostPer1kInput:  0.00125,
		CostPer1kOutput: 0.005,
		HumanEvalScore:  84.1,
		ContextWindow:   2000000,
	},
	{
		ModelID:         "deepseek-coder",
		Provider:        "deepseek",
		Tier:            TierBudget,
		TaskTypes:       []TaskType{TaskCodeGeneration, TaskTestGeneration},
		CostPer1kInput:  0.00014,
		CostPer1kOutput: 0.00028,
		HumanEvalScore:  78.6,
		ContextWindow:   64000,
	},
	{
		ModelID:         "mock",
		Provider:        "mock",
		Tier:            TierBudget,
		TaskTypes:       []TaskType{TaskCodeGeneration, TaskRefactor, TaskTestGeneration, TaskExplanation},
		CostPer1kInput:  0,
		CostPer1kOutput: 0,
		HumanEvalScore:  60,
		ContextWindow:   32000,
	},
}

// Lookup returns the Spec for modelID, if present in Catalog.
func Lookup(modelID string) (Spec, bool) {
	for _, s := range Catalog {
		if s.ModelID == modelID {
			return s, true
		}
	}
	return Spec{}, false
}

// ForTask returns every Spec in Catalog that supports task.
func ForTask(task TaskType) []Spec {
	var out []Spec
	for _, s := range Catalog {
		if s.Supports(task) {
			out = append(out, s)
		}
	}
	return out
}
