// Copyright 2025 Certen Protocol
//
// Package orchestrator drives one IVCU from a raw intent through
// generation, verification, and certification, coordinating the policy
// gate, cost oracle, bandit, router, verifier orchestra, and certificate
// authority. The Cache field is carried but not consulted by RunFull or
// RunAdaptive: every run generates fresh candidates. It owns no state of
// its own beyond these collaborators: everything durable goes through the
// event store.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/axiom-labs/ivcud/pkg/bandit"
	"github.com/axiom-labs/ivcud/pkg/cache"
	"github.com/axiom-labs/ivcud/pkg/catalog"
	"github.com/axiom-labs/ivcud/pkg/certificate"
	"github.com/axiom-labs/ivcud/pkg/errtype"
	"github.com/axiom-labs/ivcud/pkg/events"
	"github.com/axiom-labs/ivcud/pkg/llm"
	"github.com/axiom-labs/ivcud/pkg/policy"
	"github.com/axiom-labs/ivcud/pkg/router"
	"github.com/axiom-labs/ivcud/pkg/verify"
)

// Orchestrator wires the full generation pipeline together around one
// event store.
type Orchestrator struct {
	Store     events.Store
	Cache     *cache.Cache
	Policy    *policy.Gate
	Oracle    *router.Oracle
	Router    *router.Router
	Bandit    *bandit.Bandit
	Verifier  *verify.Orchestra
	Authority *certificate.Authority
	Log       *log.Logger
}

// New returns an Orchestrator with only its logger set. Policy and
// Authority may be left nil: a nil Policy skips the policy gate and a nil
// Authority means certificates are never issued. Store, Oracle, Router,
// Bandit and Verifier are used without nil checks and must be set.
func New() *Orchestrator {
	return &Orchestrator{Log: log.New(log.Writer(), "[orchestrator] ", log.LstdFlags)}
}

// CreateIntent appends the INTENT_CREATED event that starts a new IVCU,
// unconditionally (spec §4.7 step 1): the aggregate must exist and be
// queryable even if the intent is then rejected by the policy gate. Policy
// enforcement (step 3) runs second and, on a critical violation, records a
// CANDIDATE_SELECTED failure transition rather than returning a bare error
// the caller has no aggregate to attach to — the aggregate id is returned
// alongside the policy error so the caller can still fetch the failed
// state.
func (o *Orchestrator) CreateIntent(ctx context.Context, rawIntent, language string) (string, error) {
	if strings.TrimSpace(rawIntent) == "" {
		return "", &errtype.ValidationError{Field: "raw_intent", Reason: "must not be empty"}
	}

	aggregateID := uuid.NewString()
	if _, err := o.Store.Append(ctx, aggregateID, 0, events.IntentCreated, events.IntentCreatedPayload{
		RawIntent: rawIntent,
		Language:  language,
	}, "user"); err != nil {
		return "", err
	}

	if o.Policy != nil {
		if _, err := o.Policy.Check(ctx, policy.PhasePre, rawIntent); err != nil {
			reason := fmt.Sprintf("policy check rejected intent: %s", err)
			if recErr := o.recordFailure(ctx, aggregateID, reason); recErr != nil {
				return aggregateID, recErr
			}
			return aggregateID, err
		}
	}

	return aggregateID, nil
}

// RunFull generates every candidate a Thompson-sampled bandit arm calls
// for, verifies all of them, and selects the best passing candidate. It trades
// cost for thoroughness: nothing is skipped speculatively.
func (o *Orchestrator) RunFull(ctx context.Context, aggregateID string) error {
	state, err := o.Store.State(ctx, aggregateID)
	if err != nil {
		return err
	}

	task := catalog.TaskCodeGeneration
	arm, armIdx := o.Bandit.SelectArm()

	candidates, err := o.generate(ctx, state, task, arm.Temperature, arm.CandidateCount)
	if err != nil {
		return err
	}

	verifyCandidates := make([]verify.Candidate, len(candidates))
	for i, c := range candidates {
		verifyCandidates[i] = verify.Candidate{Code: c.Code, Language: state.Language}
	}
	contracts := contractExpressions(state)

	bestIdx, results := o.Verifier.SelectBest(ctx, verifyCandidates, contracts)

	if err := o.recordVerifications(ctx, aggregateID, candidates, results); err != nil {
		return err
	}

	return o.selectAndCertify(ctx, aggregateID, candidates, results, bestIdx, armIdx)
}

// RunAdaptive uses the bandit's speculative executor to stop generating
// candidates as soon as one looks good enough, refining the intent and
// retrying when nothing passes.
func (o *Orchestrator) RunAdaptive(ctx context.Context, aggregateID string, maxRounds int) error {
	if maxRounds <= 0 {
		maxRounds = 3
	}

	for round := 0; round < maxRounds; round++ {
		state, err := o.Store.State(ctx, aggregateID)
		if err != nil {
			return err
		}

		task := catalog.TaskCodeGeneration
		arm, armIdx := o.Bandit.SelectArm()

		exec := bandit.NewSpeculativeExecutor(func(ctx context.Context, attempt int) (bandit.Candidate, error) {
			cands, err := o.generate(ctx, state, task, arm.Temperature, 1)
			if err != nil || len(cands) == 0 {
				return bandit.Candidate{}, err
			}
			candidate := cands[0]
			quick := verify.QuickVerify(ctx, verify.Candidate{Code: candidate.Code, Language: state.Language})
			return bandit.Candidate{Confidence: quick.Confidence, Value: candidate}, nil
		})

		specResults, _ := exec.Run(ctx, arm.CandidateCount)

		var candidates []generatedCandidate
		for _, r := range specResults {
			if r.Err != nil || r.Value == nil {
				continue
			}
			candidates = append(candidates, r.Value.(generatedCandidate))
		}
		if len(candidates) == 0 {
			continue
		}

		verifyCandidates := make([]verify.Candidate, len(candidates))
		for i, c := range candidates {
			verifyCandidates[i] = verify.Candidate{Code: c.Code, Language: state.Language}
		}
		contracts := contractExpressions(state)
		bestIdx, results := o.Verifier.SelectBest(ctx, verifyCandidates, contracts)

		if err := o.recordVerifications(ctx, aggregateID, candidates, results); err != nil {
			return err
		}

		if bestIdx >= 0 {
			return o.selectAndCertify(ctx, aggregateID, candidates, results, bestIdx, armIdx)
		}

		if round < maxRounds-1 {
			if err := o.refine(ctx, aggregateID, "no candidate passed verification, retrying with refined intent"); err != nil {
				return err
			}
		}
	}

	return o.failAggregate(ctx, aggregateID, "exhausted adaptive rounds without a passing candidate")
}

type generatedCandidate struct {
	CandidateID string
	Code        string
	ModelID     string
	Reasoning   string
}

func (o *Orchestrator) generate(ctx context.Context, state events.State, task catalog.TaskType, temperature float64, n int) ([]generatedCandidate, error) {
	spec, err := o.Oracle.RecommendModel(task, len(state.RawIntent))
	if err != nil {
		return nil, err
	}

	estimate := o.Oracle.EstimateCost(spec, len(state.RawIntent))
	if err := o.Oracle.CheckBudget(estimate.EffectiveCostUSD * float64(n)); err != nil {
		return nil, err
	}

	out := make([]generatedCandidate, 0, n)
	for i := 0; i < n; i++ {
		resp, err := o.Router.Chat(ctx, spec, llm.Request{
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: "Generate code that satisfies the user's intent."},
				{Role: llm.RoleUser, Content: state.RawIntent},
			},
			Temperature: temperature,
		})
		if err != nil {
			return nil, err
		}

		out = append(out, generatedCandidate{
			CandidateID: uuid.NewString(),
			Code:        resp.Content,
			ModelID:     spec.ModelID,
		})

		o.Oracle.RecordUsage(router.UsageRecord{ModelID: spec.ModelID, AmountUSD: estimate.EffectiveCostUSD, Operation: "generate"})
		if _, err := o.Store.Append(ctx, state.AggregateID, state.Version, events.CostIncurred, events.CostIncurredPayload{
			AmountUSD: router.FormatAmount(estimate.EffectiveCostUSD),
			ModelID:   spec.ModelID,
			Operation: "generate",
		}, "system"); err != nil {
			return nil, err
		}
		state.Version++
	}

	return out, nil
}

func contractExpressions(state events.State) []string {
	exprs := make([]string, len(state.Contracts))
	for i, c := range state.Contracts {
		exprs[i] = c.Expression
	}
	return exprs
}

func (o *Orchestrator) recordVerifications(ctx context.Context, aggregateID string, candidates []generatedCandidate, results []verify.Result) error {
	for i, c := range candidates {
		state, err := o.Store.State(ctx, aggregateID)
		if err != nil {
			return err
		}
		if _, err := o.Store.Append(ctx, aggregateID, state.Version, events.CandidateGenerated, events.CandidateGeneratedPayload{
			CandidateID: c.CandidateID,
			Code:        c.Code,
			ModelID:     c.ModelID,
		}, "system"); err != nil {
			return err
		}

		r := results[i]
		state, err = o.Store.State(ctx, aggregateID)
		if err != nil {
			return err
		}
		tierResults := make([]events.TierResult, 0, len(r.Outcomes))
		for _, outcome := range r.Outcomes {
			if outcome.Skipped {
				continue
			}
			tierResults = append(tierResults, events.TierResult{
				Tier:       outcome.Tier,
				Passed:     outcome.Passed,
				Confidence: outcome.Confidence,
				Warnings:   outcome.Messages,
			})
		}
		if _, err := o.Store.Append(ctx, aggregateID, state.Version, events.VerificationCompleted, events.VerificationCompletedPayload{
			CandidateID: c.CandidateID,
			Passed:      r.Passed,
			Score:       r.Confidence,
			TierResults: tierResults,
		}, "system"); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) selectAndCertify(ctx context.Context, aggregateID string, candidates []generatedCandidate, results []verify.Result, bestIdx, armIdx int) error {
	state, err := o.Store.State(ctx, aggregateID)
	if err != nil {
		return err
	}

	if bestIdx < 0 {
		o.Bandit.Update(armIdx, 0)
		return o.failAggregate(ctx, aggregateID, "no candidate passed verification")
	}

	best := candidates[bestIdx]
	result := results[bestIdx]
	o.Bandit.Update(armIdx, result.Confidence)

	_, err = o.Store.Append(ctx, aggregateID, state.Version, events.CandidateSelected, events.CandidateSelectedPayload{
		CandidateID:        best.CandidateID,
		Code:               best.Code,
		Confidence:         result.Confidence,
		VerificationPassed: result.Passed,
	}, "system")
	if err != nil {
		return err
	}

	if o.Authority == nil {
		return nil
	}

	state, err = o.Store.State(ctx, aggregateID)
	if err != nil {
		return err
	}

	cert, err := o.Authority.Issue(best.Code, state.Language, result.Outcomes)
	if err != nil {
		return err
	}

	_, err = o.Store.Append(ctx, aggregateID, state.Version, events.ProofGenerated, events.ProofGeneratedPayload{
		CertificateID: cert.CertificateID,
		CodeHash:      cert.CodeHash,
		Signature:     cert.SignatureHex,
		ExpiresAt:     cert.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
	}, "system")
	return err
}

func (o *Orchestrator) refine(ctx context.Context, aggregateID, reason string) error {
	state, err := o.Store.State(ctx, aggregateID)
	if err != nil {
		return err
	}
	_, err = o.Store.Append(ctx, aggregateID, state.Version, events.IntentRefined, events.IntentRefinedPayload{
		NewIntent:       state.RawIntent,
		ClearCandidates: true,
		Reason:          reason,
	}, "system")
	return err
}

// recordFailure appends a CANDIDATE_SELECTED event marking the aggregate
// failed, with reason riding in VerificationSummary so the projected state's
// FailureReason carries it (spec §8 scenario 2). It returns a non-nil error
// only when the append itself fails; a successful recording is not an error
// on its own, unlike failAggregate below.
func (o *Orchestrator) recordFailure(ctx context.Context, aggregateID, reason string) error {
	state, err := o.Store.State(ctx, aggregateID)
	if err != nil {
		return err
	}
	_, err = o.Store.Append(ctx, aggregateID, state.Version, events.CandidateSelected, events.CandidateSelectedPayload{
		VerificationPassed:  false,
		VerificationSummary: reason,
	}, "system")
	if err != nil {
		return err
	}
	if o.Log != nil {
		o.Log.Printf("aggregate %s failed: %s", aggregateID, reason)
	}
	return nil
}

func (o *Orchestrator) failAggregate(ctx context.Context, aggregateID, reason string) error {
	if err := o.recordFailure(ctx, aggregateID, reason); err != nil {
		return err
	}
	return fmt.Errorf("orchestrator: %s: %s", aggregateID, reason)
}
