package bandit

import (
	"context"
	"testing"
)

func TestDefaultArmsMatchesConfiguredSweep(t *testing.T) {
	arms := DefaultArms()
	if len(arms) != 6 {
		t.Fatalf("expected 6 default arms, got %d", len(arms))
	}
	for _, a := range arms {
		if a.Alpha != 1 || a.Beta != 1 {
			t.Errorf("expected uniform Beta(1,1) prior, got alpha=%.1f beta=%.1f", a.Alpha, a.Beta)
		}
	}
}

func TestUpdateShiftsPosteriorMeanTowardReward(t *testing.T) {
	b := New(DefaultArms())
	before := b.Snapshot()[0].Mean()

	for i := 0; i < 20; i++ {
		if err := b.Update(0, 1.0); err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	after := b.Snapshot()[0].Mean()
	if after <= before {
		t.Fatalf("expected mean to increase after repeated reward=1.0, before=%.4f after=%.4f", before, after)
	}
}

func TestUpdateRejectsOutOfRangeIndexOrReward(t *testing.T) {
	b := New(DefaultArms())
	if err := b.Update(99, 0.5); err == nil {
		t.Fatal("expected error for out-of-range arm index")
	}
	if err := b.Update(0, 1.5); err == nil {
		t.Fatal("expected error for out-of-range reward")
	}
}

func TestSelectArmUCBPrefersUnpulledArms(t *testing.T) {
	b := New(DefaultArms())
	for i := 0; i < 10; i++ {
		b.Update(0, 0.9)
	}
	_, idx := b.SelectArmUCB()
	if idx == 0 {
		t.Fatal("expected UCB to favor an unpulled arm over the heavily-pulled arm 0")
	}
}

func TestSpeculativeExecutorStopsEarlyOnHighConfidence(t *testing.T) {
	se := NewSpeculativeExecutor(func(ctx context.Context, attempt int) (Candidate, error) {
		confidence := 0.5
		if attempt == 2 {
			confidence = 0.97
		}
		return Candidate{Confidence: confidence, Value: attempt}, nil
	})

	results, stats := se.Run(context.Background(), 5)
	if len(results) == 0 {
		t.Fatal("expected at least one candidate result")
	}
	if stats.BestConfidence < 0.9 {
		t.Fatalf("expected best confidence >= 0.9, got %.2f", stats.BestConfidence)
	}
	if !stats.StoppedEarly {
		t.Fatal("expected the round to stop early after a 0.97-confidence attempt")
	}
}
