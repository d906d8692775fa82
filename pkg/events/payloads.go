package events

// Payload schemas, one struct per event variant (spec §3). Events carry
// these marshaled as json.RawMessage; Apply (projector.go) unmarshals each
// one into the struct matching its event's EventType.

type IntentCreatedPayload struct {
	RawIntent    string         `json:"raw_intent"`
	ParsedIntent map[string]any `json:"parsed_intent,omitempty"`
	Language     string         `json:"language"`
}

type ContractAddedPayload struct {
	Contract Contract `json:"contract"`
}

type CandidateGeneratedPayload struct {
	CandidateID string  `json:"candidate_id"`
	Code        string  `json:"code"`
	Confidence  float64 `json:"confidence"`
	ModelID     string  `json:"model_id"`
	Reasoning   string  `json:"reasoning,omitempty"`
}

type VerificationCompletedPayload struct {
	CandidateID string       `json:"candidate_id"`
	Passed      bool         `json:"passed"`
	Score       float64      `json:"score"`
	TierResults []TierResult `json:"tier_results,omitempty"`
}

type CandidateSelectedPayload struct {
	CandidateID         string  `json:"candidate_id"`
	Code                string  `json:"code"`
	Confidence          float64 `json:"confidence"`
	VerificationSummary string  `json:"verification_summary,omitempty"`
	VerificationPassed  bool    `json:"verification_passed"`
}

type IntentRefinedPayload struct {
	NewIntent       string         `json:"new_intent"`
	NewParsedIntent map[string]any `json:"new_parsed_intent,omitempty"`
	ClearCandidates bool           `json:"clear_candidates"`
	UndoSelection   bool           `json:"undo_selection,omitempty"`
	Reason          string         `json:"reason,omitempty"`
}

type ProofGeneratedPayload struct {
	CertificateID string `json:"certificate_id"`
	CodeHash      string `json:"code_hash"`
	Signature     string `json:"signature"`
	ExpiresAt     string `json:"expires_at"`
}

type IVCUDeployedPayload struct {
	Version int `json:"version"`
}

type IVCUDeprecatedPayload struct {
	Reason string `json:"reason"`
}

type CostIncurredPayload struct {
	AmountUSD string `json:"amount_usd"` // fixed-point decimal string, spec §6
	ModelID   string `json:"model_id"`
	Operation string `json:"operation"`
}
