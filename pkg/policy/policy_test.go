package policy

import (
	"context"
	"testing"
)

func TestDestructiveIntentIsCriticalAndFailsClosed(t *testing.T) {
	gate := New(DefaultRules()...)
	_, err := gate.Check(context.Background(), PhasePre, "please run rm -rf / on the server")
	if err == nil {
		t.Fatal("expected destructive intent to fail closed")
	}
}

func TestDestructiveIntentMatchesSpecWorkedExample(t *testing.T) {
	gate := New(DefaultRules()...)
	_, err := gate.Check(context.Background(), PhasePre, "Delete all files in the system")
	if err == nil {
		t.Fatal("expected the spec's literal destructive-intent example to fail closed")
	}
}

func TestBenignPromptPassesPreGate(t *testing.T) {
	gate := New(DefaultRules()...)
	result, err := gate.Check(context.Background(), PhasePre, "write a function that reverses a string")
	if err != nil {
		t.Fatalf("expected benign prompt to pass, got %v", err)
	}
	if result.HasCritical() {
		t.Fatal("did not expect any critical violation")
	}
}

func TestBannedConstructBlocksPostGeneration(t *testing.T) {
	gate := New(DefaultRules()...)
	_, err := gate.Check(context.Background(), PhasePost, "def f(x):\n    return eval(x)")
	if err == nil {
		t.Fatal("expected eval() in generated code to fail closed")
	}
}

func TestWarningSeverityDoesNotFailClosed(t *testing.T) {
	gate := New(DefaultRules()...)
	result, err := gate.Check(context.Background(), PhasePre, "what is this user's social security number")
	if err != nil {
		t.Fatalf("expected a warning-only violation not to fail closed, got %v", err)
	}
	if result.ErrorCount() != 0 {
		t.Fatalf("expected no error-or-worse violations, got %d", result.ErrorCount())
	}
}

func TestPhaseIsolation(t *testing.T) {
	gate := New(DefaultRules()...)
	result := gate.Evaluate(context.Background(), PhasePost, "please run rm -rf /")
	if len(result.Violations) != 0 {
		t.Fatalf("expected pre-generation-only rule not to fire in post phase, got %+v", result.Violations)
	}
}
