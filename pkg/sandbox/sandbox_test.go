package sandbox

import (
	"context"
	"testing"
	"time"
)

func TestRunPythonCapturesStdout(t *testing.T) {
	s, err := New(Limits{Timeout: 5 * time.Second}, t.TempDir())
	if err != nil {
		t.Fatalf("new sandbox: %v", err)
	}

	result, err := s.RunPython(context.Background(), "print('hello from candidate')", "")
	if err != nil {
		t.Skipf("python3 not available in this environment: %v", err)
	}
	if result.TimedOut {
		t.Fatal("did not expect timeout")
	}
	if result.Stdout != "hello from candidate\n" {
		t.Fatalf("expected candidate output on stdout, got %q", result.Stdout)
	}
}

func TestRunPythonTimesOutOnInfiniteLoop(t *testing.T) {
	s, err := New(Limits{Timeout: 200 * time.Millisecond}, t.TempDir())
	if err != nil {
		t.Fatalf("new sandbox: %v", err)
	}

	result, err := s.RunPython(context.Background(), "while True:\n    pass", "")
	if err != nil {
		t.Skipf("python3 not available in this environment: %v", err)
	}
	if !result.TimedOut {
		t.Fatal("expected an infinite loop to be killed by the timeout")
	}
}

func TestRestrictedEnvDropsUnlistedVariables(t *testing.T) {
	env := restrictedEnv()
	for _, kv := range env {
		if len(kv) >= 11 && kv[:11] == "OPENAI_API_" {
			t.Fatalf("expected provider secrets to be stripped from sandbox env, found %q", kv)
		}
	}
}
