package router

import (
	"context"
	"errors"
	"testing"

	"github.com/axiom-labs/ivcud/pkg/catalog"
	"github.com/axiom-labs/ivcud/pkg/llm"
)

type failingProvider struct{ name string }

func (f *failingProvider) Name() string { return f.name }
func (f *failingProvider) Chat(ctx context.Context, req llm.Request) (llm.Response, error) {
	return llm.Response{}, errors.New("simulated provider outage")
}
func (f *failingProvider) ChatStream(ctx context.Context, req llm.Request) (<-chan llm.StreamFragment, error) {
	return nil, errors.New("simulated provider outage")
}
func (f *failingProvider) HealthCheck(ctx context.Context) bool { return false }

func TestRouteHonorsExplicitRule(t *testing.T) {
	r := New(nil)
	r.AddRule(Rule{Name: "cheap-tests", Task: catalog.TaskTestGeneration, ModelID: "deepseek-coder"})

	spec, err := r.Route(catalog.TaskTestGeneration)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if spec.ModelID != "deepseek-coder" {
		t.Fatalf("expected rule override to win, got %s", spec.ModelID)
	}
}

func TestRouteWithoutRuleFallsBackToHighestScore(t *testing.T) {
	r := New(nil)
	spec, err := r.Route(catalog.TaskCodeGeneration)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if spec.HumanEvalScore < 90 {
		t.Fatalf("expected a high-scoring default model, got %s at %.1f", spec.ModelID, spec.HumanEvalScore)
	}
}

func TestChatFallsBackOnProviderError(t *testing.T) {
	r := New(nil)
	r.RegisterProvider(&failingProvider{name: "openai"})
	r.SetFallback("mock")

	spec, _ := catalog.Lookup("gpt-4o")
	resp, err := r.Chat(context.Background(), spec, llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "write a sort function"}}})
	if err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}
	if resp.Provider != "mock" {
		t.Fatalf("expected mock fallback provider, got %s", resp.Provider)
	}
}

func TestChatAppliesPolicyGateBeforeDispatch(t *testing.T) {
	r := New(nil)
	r.SetPolicy(func(ctx context.Context, prompt string) error {
		return errors.New("blocked by policy")
	})

	spec, _ := catalog.Lookup("mock")
	_, err := r.Chat(context.Background(), spec, llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "rm -rf /"}}})
	if err == nil {
		t.Fatal("expected policy gate to block the request")
	}
}
