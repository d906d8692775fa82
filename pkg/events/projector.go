package events

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Apply is the pure state projection fold (spec §4.2): apply(state, event)
// -> new state. It never mutates its input and is required to be
// associative-composable — replaying the same event list always yields the
// same state, byte-equal after JSON canonicalization.
func Apply(state State, ev Event) (State, error) {
	next := state.Clone()
	next.AggregateID = ev.AggregateID
	next.Version = ev.SequenceNumber
	next.UpdatedAt = ev.Timestamp

	switch ev.EventType {
	case IntentCreated:
		var p IntentCreatedPayload
		if err := decode(ev, &p); err != nil {
			return state, err
		}
		next.RawIntent = p.RawIntent
		next.ParsedIntent = p.ParsedIntent
		next.Language = p.Language
		if next.Language == "" {
			next.Language = "python"
		}
		next.Status = StatusDraft
		next.CreatedAt = ev.Timestamp

	case ContractAdded:
		var p ContractAddedPayload
		if err := decode(ev, &p); err != nil {
			return state, err
		}
		next.Contracts = append(next.Contracts, p.Contract)

	case CandidateGenerated:
		var p CandidateGeneratedPayload
		if err := decode(ev, &p); err != nil {
			return state, err
		}
		next.Candidates = append(next.Candidates, CandidateView{
			CandidateID: p.CandidateID,
			Code:        p.Code,
			Confidence:  p.Confidence,
			ModelID:     p.ModelID,
			Reasoning:   p.Reasoning,
		})
		next.Status = StatusGenerating

	case VerificationCompleted:
		var p VerificationCompletedPayload
		if err := decode(ev, &p); err != nil {
			return state, err
		}
		for i := range next.Candidates {
			if next.Candidates[i].CandidateID == p.CandidateID {
				next.Candidates[i].VerificationPassed = p.Passed
				next.Candidates[i].VerificationScore = p.Score
				next.Candidates[i].TierResults = p.TierResults
				break
			}
		}
		next.Status = StatusVerifying

	case CandidateSelected:
		var p CandidateSelectedPayload
		if err := decode(ev, &p); err != nil {
			return state, err
		}
		next.SelectedCandidateID = p.CandidateID
		next.Code = p.Code
		next.Confidence = p.Confidence
		// Open question (spec §9, resolved in DESIGN.md): a selection that
		// did not actually pass verification marks the aggregate failed,
		// not verified — status must stay a trustworthy verification
		// signal. A nil/empty candidate id is the orchestrator's
		// best-effort-failure sentinel.
		if p.CandidateID == "" || !p.VerificationPassed {
			next.Status = StatusFailed
			if p.VerificationSummary != "" {
				next.FailureReason = p.VerificationSummary
			} else if next.FailureReason == "" {
				next.FailureReason = "no candidate passed verification"
			}
		} else {
			next.Status = StatusVerified
			next.FailureReason = ""
		}

	case IntentRefined:
		var p IntentRefinedPayload
		if err := decode(ev, &p); err != nil {
			return state, err
		}
		next.RawIntent = p.NewIntent
		if p.NewParsedIntent != nil {
			next.ParsedIntent = p.NewParsedIntent
		}
		if p.ClearCandidates {
			next.Candidates = nil
			next.SelectedCandidateID = ""
			next.Code = ""
			next.Status = StatusDraft
			next.FailureReason = ""
		} else if p.UndoSelection {
			next.SelectedCandidateID = ""
			next.Code = ""
			next.Confidence = 0
			next.Status = StatusVerifying
			next.FailureReason = ""
		}

	case ProofGenerated:
		var p ProofGeneratedPayload
		if err := decode(ev, &p); err != nil {
			return state, err
		}
		next.CertificateID = p.CertificateID

	case IVCUDeployed:
		next.Status = StatusDeployed

	case IVCUDeprecated:
		var p IVCUDeprecatedPayload
		if err := decode(ev, &p); err != nil {
			return state, err
		}
		next.Status = StatusDeprecated
		next.FailureReason = p.Reason

	case CostIncurred:
		var p CostIncurredPayload
		if err := decode(ev, &p); err != nil {
			return state, err
		}
		amount, err := strconv.ParseFloat(p.AmountUSD, 64)
		if err != nil {
			return state, fmt.Errorf("events: bad cost amount %q: %w", p.AmountUSD, err)
		}
		next.TotalCost += amount

	default:
		// Forward compatibility: unknown discriminators are logged by the
		// caller and skipped here, never fatal (spec §9).
	}

	return next, nil
}

// Fold replays a dense, ordered event slice into a State, starting from the
// zero value. It is used for both `state` (full replay) and `state_at`
// (prefix replay) in the event store.
func Fold(aggregateID string, evs []Event) (State, error) {
	state := State{AggregateID: aggregateID}
	for _, ev := range evs {
		var err error
		state, err = Apply(state, ev)
		if err != nil {
			return state, err
		}
	}
	return state, nil
}

func decode(ev Event, out any) error {
	if len(ev.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(ev.Payload, out); err != nil {
		return fmt.Errorf("events: decoding %s payload: %w", ev.EventType, err)
	}
	return nil
}
