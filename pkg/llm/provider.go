// Copyright 2025 Certen Protocol
//
// Package llm defines the provider-agnostic chat completion contract the
// router dispatches through, plus a deterministic mock implementation used
// in tests and as the always-available fallback provider.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// Role is a chat message's speaker.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a chat completion request.
type Message struct {
	Role    Role
	Content string
}

// Request is a single generation call against a provider.
type Request struct {
	ModelID     string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Usage reports token accounting for a completed request, used by the cost
// oracle to compute actual (as opposed to estimated) spend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Response is a provider's answer to a Request.
type Response struct {
	Content  string
	Usage    Usage
	ModelID  string
	Provider string
}

// StreamFragment is one chunk of a chat_stream response (spec §4.3). The
// channel a Provider's ChatStream returns is finite and non-restartable: it
// closes after the final fragment or the first error, and a new call is
// required to stream again.
type StreamFragment struct {
	Content string
	Err     error
}

// Provider is implemented by every backing LLM integration. Real providers
// wrap an HTTP client against the vendor's API; MockProvider below requires
// none.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req Request) (Response, error)

	// ChatStream streams the same completion as Chat as a lazy sequence of
	// content fragments (spec §4.3, §6). The returned channel is closed by
	// the provider once the stream ends or ctx is canceled.
	ChatStream(ctx context.Context, req Request) (<-chan StreamFragment, error)

	// HealthCheck reports whether the provider currently answers requests,
	// feeding the router's per-provider circuit breaker (spec §5).
	HealthCheck(ctx context.Context) bool
}

// MockProvider returns deterministic, synthesized completions without
// making any network call. It is always registered so the router never has
// zero usable providers, and is what tests exercise against.
type MockProvider struct{}

// NewMockProvider returns a ready MockProvider.
func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) Chat(ctx context.Context, req Request) (Response, error) {
	var prompt strings.Builder
	for _, m := range req.Messages {
		prompt.WriteString(m.Content)
		prompt.WriteString("\n")
	}
	content := fmt.Sprintf("def solution():\n    # generated for: %.40s\n    return None\n", strings.TrimSpace(prompt.String()))
	return Response{
		Content:  content,
		Provider: p.Name(),
		ModelID:  req.ModelID,
		Usage: Usage{
			PromptTokens:     estimateTokens(prompt.String()),
			CompletionTokens: estimateTokens(content),
		},
	}, nil
}

// ChatStream synthesizes the same deterministic completion as Chat but
// delivers it line by line, so callers exercising streaming code paths in
// tests don't need a real provider.
func (p *MockProvider) ChatStream(ctx context.Context, req Request) (<-chan StreamFragment, error) {
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamFragment)
	words := strings.SplitAfter(resp.Content, "\n")
	go func() {
		defer close(out)
		for _, w := range words {
			if w == "" {
				continue
			}
			select {
			case out <- StreamFragment{Content: w}:
			case <-ctx.Done():
				out <- StreamFragment{Err: ctx.Err()}
				return
			}
		}
	}()
	return out, nil
}

// HealthCheck always reports healthy: MockProvider makes no network call
// and has nothing that can fail.
func (p *MockProvider) HealthCheck(ctx context.Context) bool { return true }

// estimateTokens is the same char-count heuristic the cost oracle uses for
// pre-flight estimates (spec §4.3): ~0.25 tokens per character.
func estimateTokens(s string) int {
	return int(float64(len(s)) * 0.25)
}
