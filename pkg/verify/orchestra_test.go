package verify

import (
	"context"
	"testing"
)

func TestSyntaxTierRejectsMalformedGo(t *testing.T) {
	c := Candidate{Language: "go", Code: "func broken( {"}
	out := SyntaxTier(context.Background(), c)
	if out.Passed {
		t.Fatal("expected malformed Go to fail the syntax tier")
	}
}

func TestSyntaxTierAcceptsValidGo(t *testing.T) {
	c := Candidate{Language: "go", Code: "package p\nfunc F() int { return 1 }"}
	out := SyntaxTier(context.Background(), c)
	if !out.Passed {
		t.Fatalf("expected valid Go to pass the syntax tier, got %+v", out)
	}
}

func TestStaticTierBlocksBannedConstructs(t *testing.T) {
	c := Candidate{Language: "python", Code: "eval(user_input)"}
	out := StaticTier(context.Background(), c)
	if out.Passed {
		t.Fatal("expected eval() to fail the static tier")
	}
}

func TestVerifyFailFastReturnsImmediatelyOnCriticalTier1Failure(t *testing.T) {
	o := &Orchestra{}
	c := Candidate{Language: "python", Code: "eval(danger)"}
	result := o.Verify(context.Background(), c, nil)

	found := false
	for _, msg := range result.Limitations {
		if msg == "Tier 2 skipped due to critical Tier 1 failures" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the critical tier 2 skip message, got %v", result.Limitations)
	}
	if len(result.Outcomes) != 2 {
		t.Fatalf("expected only tier0+tier1 outcomes on a critical fail-fast return, got %d", len(result.Outcomes))
	}
	if result.Passed {
		t.Fatal("expected overall result to fail")
	}
}

func TestVerifyNonCriticalTier1FailureSkipsTier2AndTier3(t *testing.T) {
	o := &Orchestra{}
	c := Candidate{Language: "python", Code: ""}
	result := o.Verify(context.Background(), c, nil)

	foundTier2, foundTier3 := false, false
	for _, msg := range result.Limitations {
		if msg == "Tier 2 skipped due to critical Tier 1 failures" {
			t.Fatal("did not expect a critical skip for an empty-but-not-dangerous candidate")
		}
		if msg == "Tier 2 skipped due to Tier 1 failures" {
			foundTier2 = true
		}
		if msg == "Tier 3 skipped due to prior failures" {
			foundTier3 = true
		}
	}
	if !foundTier2 || !foundTier3 {
		t.Fatalf("expected both tier 2 and tier 3 skip notes, got %v", result.Limitations)
	}
}

func TestQuickVerifyDoesNotRunDynamicOrFormalTiers(t *testing.T) {
	c := Candidate{Language: "go", Code: "package p\nfunc F() int { return 1 }"}
	result := QuickVerify(context.Background(), c)
	if len(result.Outcomes) != 2 {
		t.Fatalf("expected exactly tier0+tier1 outcomes, got %d", len(result.Outcomes))
	}
}

func TestSelectBestPicksHighestConfidencePassingCandidate(t *testing.T) {
	o := &Orchestra{}
	candidates := []Candidate{
		{Language: "go", Code: "package p\nfunc F() int { return 1 }"},
		{Language: "python", Code: "eval(danger)"},
	}
	best, results := o.SelectBest(context.Background(), candidates, nil)
	if best != 0 {
		t.Fatalf("expected candidate 0 to win, got %d (results=%+v)", best, results)
	}
}
