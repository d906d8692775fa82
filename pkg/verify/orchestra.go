package verify

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// criticalConfidenceFloor is the Tier 1 confidence below which later tiers
// are presumed to be a waste of sandbox time and budget: a candidate this
// broken at the static-analysis stage essentially never passes dynamic or
// formal checks.
const criticalConfidenceFloor = 0.2

// Orchestra runs the full tier cascade against one candidate.
type Orchestra struct {
	Dynamic *DynamicTier
}

// Verify runs Tier 0 and Tier 1 unconditionally. On a critical Tier 1
// failure (any outcome below criticalConfidenceFloor) it fails fast and
// returns immediately, skipping both Tier 2 and Tier 3 outright. On a
// non-critical Tier 1 failure it still skips Tier 2, and then skips Tier 3
// too since the cascade hasn't passed yet — a candidate only reaches Tier 3
// once everything before it has passed or been explicitly skipped clean.
func (o *Orchestra) Verify(ctx context.Context, c Candidate, contracts []string) Result {
	var result Result

	tier0 := SyntaxTier(ctx, c)
	result.AddOutcome(tier0)

	tier1 := StaticTier(ctx, c)
	result.AddOutcome(tier1)

	if !tier1.Passed {
		if tier1.Confidence < criticalConfidenceFloor {
			result.Note("Tier 2 skipped due to critical Tier 1 failures")
			result.Finalize()
			return result
		}
		result.Note("Tier 2 skipped due to Tier 1 failures")
		result.AddOutcome(Outcome{Tier: TierDynamic, Skipped: true})
		result.Note("Tier 3 skipped due to prior failures")
		result.AddOutcome(Outcome{Tier: TierFormal, Skipped: true})
		result.Finalize()
		return result
	}

	var tier2 Outcome
	if o.Dynamic != nil {
		tier2 = o.Dynamic.Run(ctx, c)
	} else {
		tier2 = Outcome{Tier: TierDynamic, Skipped: true}
	}
	result.AddOutcome(tier2)
	result.Finalize()

	if !result.Passed {
		result.Note("Tier 3 skipped due to prior failures")
		return result
	}

	tier3 := FormalTier(ctx, c, contracts)
	result.AddOutcome(tier3)
	result.Finalize()
	return result
}

// QuickVerify runs only the cheap tiers (syntax + static), for callers that
// need a fast pre-screen before committing sandbox time — e.g. pruning
// obviously-broken candidates before the bandit's speculative round.
func QuickVerify(ctx context.Context, c Candidate) Result {
	var result Result
	result.AddOutcome(SyntaxTier(ctx, c))
	result.AddOutcome(StaticTier(ctx, c))
	result.Finalize()
	return result
}

// SelectBest runs the full cascade over every candidate in parallel and
// returns the index of the highest-confidence passing candidate, or -1 if
// none passed.
func (o *Orchestra) SelectBest(ctx context.Context, candidates []Candidate, contracts []string) (int, []Result) {
	results := make([]Result, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			results[i] = o.Verify(gctx, c, contracts)
			return nil
		})
	}
	g.Wait()

	best := -1
	bestConfidence := -1.0
	for i, r := range results {
		if r.Passed && r.Confidence > bestConfidence {
			best, bestConfidence = i, r.Confidence
		}
	}
	return best, results
}
