package catalog

import "testing"

func TestEffectiveCostMultiplierSteps(t *testing.T) {
	cases := []struct {
		score float64
		want  float64
	}{
		{95, 1.1},
		{90, 1.1},
		{85, 1.3},
		{80, 1.3},
		{75, 1.6},
		{70, 1.6},
		{50, 2.0},
	}
	for _, c := range cases {
		spec := Spec{HumanEvalScore: c.score}
		if got := spec.EffectiveCostMultiplier(); got != c.want {
			t.Errorf("score %.0f: expected multiplier %.1f, got %.1f", c.score, c.want, got)
		}
	}
}

func TestLookupAndForTask(t *testing.T) {
	if _, ok := Lookup("does-not-exist"); ok {
		t.Fatal("expected Lookup to miss on unknown model id")
	}
	spec, ok := Lookup("gpt-4o")
	if !ok || spec.Provider != "openai" {
		t.Fatalf("expected to find gpt-4o, got %+v ok=%v", spec, ok)
	}

	specs := ForTask(TaskTestGeneration)
	if len(specs) == 0 {
		t.Fatal("expected at least one model supporting test generation")
	}
	for _, s := range specs {
		if !s.Supports(TaskTestGeneration) {
			t.Errorf("ForTask returned %s which does not support TaskTestGeneration", s.ModelID)
		}
	}
}
