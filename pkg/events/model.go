// Copyright 2025 Certen Protocol
//
// Package events implements the IVCU event store: an append-only log with
// per-aggregate sequence numbers, optimistic concurrency, and a projected
// read model (IVCUState). It is the only component that owns canonical
// history; every other package reads it and writes derived, reconstructible
// state (spec §3, Ownership).
package events

import (
	"encoding/json"
	"time"
)

// Type is the discriminator for an event's payload variant.
type Type string

const (
	IntentCreated         Type = "INTENT_CREATED"
	ContractAdded         Type = "CONTRACT_ADDED"
	CandidateGenerated    Type = "CANDIDATE_GENERATED"
	VerificationCompleted Type = "VERIFICATION_COMPLETED"
	CandidateSelected     Type = "CANDIDATE_SELECTED"
	IntentRefined         Type = "INTENT_REFINED"
	ProofGenerated        Type = "PROOF_GENERATED"
	IVCUDeployed          Type = "IVCU_DEPLOYED"
	IVCUDeprecated        Type = "IVCU_DEPRECATED"
	CostIncurred          Type = "COST_INCURRED"
)

// Event is an immutable record of one state transition on one aggregate
// (IVCU). (aggregate_id, sequence_number) is unique; sequence numbers are
// dense 1..N within an aggregate; no event is ever updated or deleted.
type Event struct {
	EventID        string          `json:"event_id"`
	AggregateID    string          `json:"aggregate_id"`
	SequenceNumber int             `json:"sequence_number"`
	EventType      Type            `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	Timestamp      time.Time       `json:"timestamp"`
	ActorID        string          `json:"actor_id,omitempty"`
}

// Contract is a pre/post/invariant expression attached to an IVCU.
type Contract struct {
	Kind        string `json:"kind"` // pre | post | invariant
	Expression  string `json:"expression"`
	Description string `json:"description,omitempty"`
}

// TierResult summarizes one verifier tier's outcome for projection purposes;
// the full structured result lives in pkg/verify, this is the wire-stable
// subset that rides inside VERIFICATION_COMPLETED payloads.
type TierResult struct {
	Tier       string   `json:"tier"`
	Passed     bool     `json:"passed"`
	Confidence float64  `json:"confidence"`
	Warnings   []string `json:"warnings,omitempty"`
}

// CandidateView is the projected, denormalized candidate record kept inside
// IVCUState.
type CandidateView struct {
	CandidateID        string       `json:"candidate_id"`
	Code               string       `json:"code"`
	Confidence         float64      `json:"confidence"`
	ModelID            string       `json:"model_id"`
	Reasoning          string       `json:"reasoning,omitempty"`
	VerificationPassed bool         `json:"verification_passed"`
	VerificationScore  float64      `json:"verification_score"`
	TierResults        []TierResult `json:"tier_results,omitempty"`
	Pruned             bool         `json:"pruned"`
}

// Status is the IVCU lifecycle state (spec §3, §4.7).
type Status string

const (
	StatusDraft      Status = "draft"
	StatusGenerating Status = "generating"
	StatusVerifying  Status = "verifying"
	StatusVerified   Status = "verified"
	StatusFailed     Status = "failed"
	StatusDeployed   Status = "deployed"
	StatusDeprecated Status = "deprecated"
)

// State is the derived read model for one IVCU, folded from its event
// history. It is reconstructible from the event log alone.
type State struct {
	AggregateID         string            `json:"aggregate_id"`
	Version             int               `json:"version"`
	RawIntent           string            `json:"raw_intent"`
	ParsedIntent        map[string]any    `json:"parsed_intent,omitempty"`
	Contracts           []Contract        `json:"contracts"`
	Candidates          []CandidateView   `json:"candidates"`
	SelectedCandidateID string            `json:"selected_candidate_id,omitempty"`
	Code                string            `json:"code,omitempty"`
	Language            string            `json:"language"`
	Confidence          float64           `json:"confidence"`
	Status              Status            `json:"status"`
	TotalCost           float64           `json:"total_cost"`
	CertificateID       string            `json:"certificate_id,omitempty"`
	FailureReason       string            `json:"failure_reason,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// Clone returns a deep-enough copy of s so Apply can mutate the result
// without aliasing the caller's slices/maps.
func (s State) Clone() State {
	clone := s
	clone.Contracts = append([]Contract(nil), s.Contracts...)
	clone.Candidates = make([]CandidateView, len(s.Candidates))
	for i, c := range s.Candidates {
		c.TierResults = append([]TierResult(nil), c.TierResults...)
		clone.Candidates[i] = c
	}
	if s.ParsedIntent != nil {
		clone.ParsedIntent = make(map[string]any, len(s.ParsedIntent))
		for k, v := range s.ParsedIntent {
			clone.ParsedIntent[k] = v
		}
	}
	return clone
}
