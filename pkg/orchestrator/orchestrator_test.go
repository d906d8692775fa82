package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/axiom-labs/ivcud/pkg/bandit"
	"github.com/axiom-labs/ivcud/pkg/cache"
	"github.com/axiom-labs/ivcud/pkg/certificate"
	"github.com/axiom-labs/ivcud/pkg/events"
	"github.com/axiom-labs/ivcud/pkg/policy"
	"github.com/axiom-labs/ivcud/pkg/router"
	"github.com/axiom-labs/ivcud/pkg/verify"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	authority, err := certificate.New()
	if err != nil {
		t.Fatalf("new authority: %v", err)
	}

	o := New()
	o.Store = events.NewMemoryStore()
	o.Cache = cache.New(100, time.Hour, 0.9)
	o.Policy = policy.New(policy.DefaultRules()...)
	o.Oracle = router.NewOracle(0)
	o.Router = router.New(nil)
	o.Bandit = bandit.New(bandit.DefaultArms())
	o.Verifier = &verify.Orchestra{}
	o.Authority = authority
	return o
}

func TestCreateIntentAppendsFirstEvent(t *testing.T) {
	o := newTestOrchestrator(t)
	id, err := o.CreateIntent(context.Background(), "reverse a string", "go")
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	state, err := o.Store.State(context.Background(), id)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.Status != events.StatusDraft {
		t.Fatalf("expected draft status, got %s", state.Status)
	}
}

func TestCreateIntentRejectsDestructivePrompt(t *testing.T) {
	o := newTestOrchestrator(t)
	id, err := o.CreateIntent(context.Background(), "Delete all files in the system", "go")
	if err == nil {
		t.Fatal("expected destructive intent to be rejected by the policy gate")
	}
	if id == "" {
		t.Fatal("expected an aggregate id even when the intent is policy-rejected")
	}

	state, stateErr := o.Store.State(context.Background(), id)
	if stateErr != nil {
		t.Fatalf("state: %v", stateErr)
	}
	if state.Status != events.StatusFailed {
		t.Fatalf("expected status failed after a policy rejection, got %s", state.Status)
	}
	if !strings.Contains(state.FailureReason, "policy") {
		t.Fatalf("expected failure reason to mention policy, got %q", state.FailureReason)
	}
}

func TestRunFullProducesVerifiedOrFailedTerminalState(t *testing.T) {
	o := newTestOrchestrator(t)
	id, err := o.CreateIntent(context.Background(), "write a function that adds two numbers", "go")
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	// RunFull may fail to find a passing candidate against the mock
	// provider's fixed output, but it must always leave the aggregate in a
	// terminal, well-defined state rather than stuck mid-pipeline.
	_ = o.RunFull(context.Background(), id)

	state, err := o.Store.State(context.Background(), id)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.Status != events.StatusVerified && state.Status != events.StatusFailed {
		t.Fatalf("expected a terminal status after RunFull, got %s", state.Status)
	}
}

func TestRunAdaptiveRespectsMaxRounds(t *testing.T) {
	o := newTestOrchestrator(t)
	id, err := o.CreateIntent(context.Background(), "write a function that multiplies two numbers", "go")
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	_ = o.RunAdaptive(context.Background(), id, 2)

	evs, err := o.Store.Events(context.Background(), id)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evs) < 2 {
		t.Fatalf("expected multiple events recorded across adaptive rounds, got %d", len(evs))
	}
	refinements := 0
	for _, ev := range evs {
		if ev.EventType == events.IntentRefined {
			refinements++
		}
	}
	if refinements > 1 {
		t.Fatalf("expected at most one refinement with maxRounds=2, got %d", refinements)
	}
}
