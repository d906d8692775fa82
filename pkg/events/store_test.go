package events

import (
	"context"
	"sync"
	"testing"
)

func TestMemoryStoreAppendSequenceIsDense(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Append(ctx, "ivcu-1", 0, IntentCreated, IntentCreatedPayload{RawIntent: "sort a list"}, "user:1"); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if _, err := store.Append(ctx, "ivcu-1", 1, ContractAdded, ContractAddedPayload{Contract: Contract{Kind: "post", Expression: "sorted(result)"}}, "user:1"); err != nil {
		t.Fatalf("append 2: %v", err)
	}

	evs, err := store.Events(ctx, "ivcu-1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	for i, ev := range evs {
		if ev.SequenceNumber != i+1 {
			t.Errorf("event %d: expected sequence %d, got %d", i, i+1, ev.SequenceNumber)
		}
	}
}

func TestMemoryStoreAppendRejectsStaleVersion(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Append(ctx, "ivcu-1", 0, IntentCreated, IntentCreatedPayload{RawIntent: "x"}, "user:1"); err != nil {
		t.Fatalf("append: %v", err)
	}

	_, err := store.Append(ctx, "ivcu-1", 0, ContractAdded, ContractAddedPayload{}, "user:1")
	if err == nil {
		t.Fatal("expected concurrency conflict, got nil")
	}
}

func TestMemoryStoreConcurrentAppendsSerializeOnExpectedVersion(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const attempts = 20
	var wg sync.WaitGroup
	var successes int32
	var mu sync.Mutex

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Append(ctx, "ivcu-race", 0, IntentCreated, IntentCreatedPayload{RawIntent: "x"}, "user:1"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly 1 winning append at version 0, got %d", successes)
	}
}

func TestMemoryStoreProjectionDeterminism(t *testing.T) {
	ctx := context.Background()
	buildAndFold := func() State {
		store := NewMemoryStore()
		store.Append(ctx, "ivcu-2", 0, IntentCreated, IntentCreatedPayload{RawIntent: "reverse a string", Language: "go"}, "user:1")
		store.Append(ctx, "ivcu-2", 1, CandidateGenerated, CandidateGeneratedPayload{CandidateID: "c1", Code: "func Reverse(s string) string { return s }", Confidence: 0.7, ModelID: "m1"}, "system")
		store.Append(ctx, "ivcu-2", 2, VerificationCompleted, VerificationCompletedPayload{CandidateID: "c1", Passed: true, Score: 0.95}, "system")
		store.Append(ctx, "ivcu-2", 3, CandidateSelected, CandidateSelectedPayload{CandidateID: "c1", Code: "func Reverse(s string) string { return s }", Confidence: 0.95, VerificationPassed: true}, "system")
		state, _ := store.State(ctx, "ivcu-2")
		return state
	}

	a := buildAndFold()
	b := buildAndFold()

	if a.Status != StatusVerified {
		t.Fatalf("expected verified status, got %s", a.Status)
	}
	if a.Status != b.Status || a.SelectedCandidateID != b.SelectedCandidateID || a.Version != b.Version {
		t.Fatalf("projection is not deterministic: %+v vs %+v", a, b)
	}
}

func TestCandidateSelectedWithoutPassingVerificationFails(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.Append(ctx, "ivcu-3", 0, IntentCreated, IntentCreatedPayload{RawIntent: "x"}, "user:1")
	store.Append(ctx, "ivcu-3", 1, CandidateGenerated, CandidateGeneratedPayload{CandidateID: "c1"}, "system")
	store.Append(ctx, "ivcu-3", 2, VerificationCompleted, VerificationCompletedPayload{CandidateID: "c1", Passed: false, Score: 0.1}, "system")
	store.Append(ctx, "ivcu-3", 3, CandidateSelected, CandidateSelectedPayload{CandidateID: "c1", VerificationPassed: false}, "system")

	state, err := store.State(ctx, "ivcu-3")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.Status != StatusFailed {
		t.Fatalf("expected failed status when selection did not pass verification, got %s", state.Status)
	}
}

func TestUndoAppendsCompensatingEventWithoutRewritingHistory(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.Append(ctx, "ivcu-4", 0, IntentCreated, IntentCreatedPayload{RawIntent: "x"}, "user:1")
	store.Append(ctx, "ivcu-4", 1, CandidateGenerated, CandidateGeneratedPayload{CandidateID: "c1"}, "system")
	store.Append(ctx, "ivcu-4", 2, VerificationCompleted, VerificationCompletedPayload{CandidateID: "c1", Passed: true, Score: 0.9}, "system")
	store.Append(ctx, "ivcu-4", 3, CandidateSelected, CandidateSelectedPayload{CandidateID: "c1", VerificationPassed: true}, "system")

	if _, err := store.Undo(ctx, "ivcu-4", "operator requested rollback"); err != nil {
		t.Fatalf("undo: %v", err)
	}

	evs, err := store.Events(ctx, "ivcu-4")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evs) != 5 {
		t.Fatalf("expected undo to append a 5th event, got %d events", len(evs))
	}

	state, err := store.State(ctx, "ivcu-4")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.SelectedCandidateID != "" {
		t.Fatalf("expected selection cleared after undo, got %q", state.SelectedCandidateID)
	}
}

func TestCostLedgerAccumulatesAcrossEvents(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.Append(ctx, "ivcu-5", 0, IntentCreated, IntentCreatedPayload{RawIntent: "x"}, "user:1")
	store.Append(ctx, "ivcu-5", 1, CostIncurred, CostIncurredPayload{AmountUSD: "0.012000", ModelID: "m1", Operation: "generate"}, "system")
	store.Append(ctx, "ivcu-5", 2, CostIncurred, CostIncurredPayload{AmountUSD: "0.004500", ModelID: "m1", Operation: "verify"}, "system")

	summary, err := store.CostLedger(ctx, "ivcu-5")
	if err != nil {
		t.Fatalf("cost ledger: %v", err)
	}
	if summary.Count != 2 {
		t.Fatalf("expected 2 cost entries, got %d", summary.Count)
	}
	if got, want := summary.Total, 0.0165; got < want-1e-9 || got > want+1e-9 {
		t.Fatalf("expected total cost %.6f, got %.6f", want, got)
	}
	if summary.FirstTS.After(summary.LastTS) {
		t.Fatalf("expected first_ts <= last_ts, got %v > %v", summary.FirstTS, summary.LastTS)
	}

	state, err := store.State(ctx, "ivcu-5")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if got, want := state.TotalCost, 0.0165; got < want-1e-9 || got > want+1e-9 {
		t.Fatalf("expected total cost %.6f, got %.6f", want, got)
	}
}

func TestAuditLogReturnsNewestEventsFirstBounded(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.Append(ctx, "ivcu-6", 0, IntentCreated, IntentCreatedPayload{RawIntent: "x"}, "user:1")
	store.Append(ctx, "ivcu-6", 1, CostIncurred, CostIncurredPayload{AmountUSD: "0.01", ModelID: "m1", Operation: "generate"}, "system")
	store.Append(ctx, "ivcu-6", 2, CostIncurred, CostIncurredPayload{AmountUSD: "0.01", ModelID: "m1", Operation: "verify"}, "system")

	entries, err := store.AuditLog(ctx, "ivcu-6", 2)
	if err != nil {
		t.Fatalf("audit log: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 bounded entries, got %d", len(entries))
	}
	if entries[0].Sequence != 3 || entries[1].Sequence != 2 {
		t.Fatalf("expected newest-first sequence order [3,2], got [%d,%d]", entries[0].Sequence, entries[1].Sequence)
	}
	if entries[0].Actor != "system" {
		t.Fatalf("expected actor 'system' on the newest entry, got %q", entries[0].Actor)
	}

	all, err := store.AuditLog(ctx, "ivcu-6", 0)
	if err != nil {
		t.Fatalf("audit log unbounded: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 unbounded entries, got %d", len(all))
	}
}
