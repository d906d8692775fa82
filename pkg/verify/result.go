// Copyright 2025 Certen Protocol
//
// Package verify runs a candidate through four escalating verification
// tiers — syntax, static, dynamic, formal — short-circuiting later tiers
// when an earlier one fails badly enough to make them pointless.
package verify

// Tier names, used both as map keys and in Outcome.Tier.
const (
	TierSyntax  = "tier0_syntax"
	TierStatic  = "tier1_static"
	TierDynamic = "tier2_dynamic"
	TierFormal  = "tier3_formal"
)

// tierWeight is how much each tier contributes to the aggregate confidence
// score; later tiers are stronger evidence than earlier ones.
var tierWeight = map[string]float64{
	TierSyntax:  0.5,
	TierStatic:  1.0,
	TierDynamic: 1.5,
	TierFormal:  2.0,
}

// Outcome is one tier's verdict on a candidate.
type Outcome struct {
	Tier       string
	Passed     bool
	Confidence float64
	Messages   []string
	Skipped    bool
}

// Result is the accumulated outcome of running some or all tiers against a
// single candidate.
type Result struct {
	Outcomes    []Outcome
	Limitations []string
	Passed      bool
	Confidence  float64
}

// AddOutcome appends o to the result. Call Finalize once every tier that's
// going to run has been added.
func (r *Result) AddOutcome(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
}

// Note records a limitation message (e.g. "tier skipped because...") that
// doesn't belong to any single tier outcome.
func (r *Result) Note(msg string) {
	r.Limitations = append(r.Limitations, msg)
}

// Finalize computes the weighted aggregate confidence and overall pass/fail
// from every non-skipped outcome recorded so far. A candidate passes only
// if every tier that ran passed.
func (r *Result) Finalize() {
	var weightedSum, totalWeight float64
	passed := true

	for _, o := range r.Outcomes {
		if o.Skipped {
			continue
		}
		w := tierWeight[o.Tier]
		if w == 0 {
			w = 1.0
		}
		weightedSum += o.Confidence * w
		totalWeight += w
		if !o.Passed {
			passed = false
		}
	}

	r.Passed = passed && totalWeight > 0
	if totalWeight > 0 {
		r.Confidence = weightedSum / totalWeight
	}
}
