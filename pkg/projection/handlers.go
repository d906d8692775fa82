package projection

import (
	"context"
	"encoding/json"

	"github.com/axiom-labs/ivcud/pkg/events"
)

// LogFunc is the narrow logging contract handlers in this package depend
// on, satisfied by *log.Logger.Printf.
type LogFunc func(format string, args ...any)

// IntentCreatedHandler reacts to new intents, e.g. to warm the semantic
// cache or kick off background enrichment. Side effects are injected via
// OnCreated so this package stays free of a direct dependency on the
// orchestrator.
type IntentCreatedHandler struct {
	OnCreated func(ctx context.Context, aggregateID string, payload events.IntentCreatedPayload) error
	Log       LogFunc
}

func (h *IntentCreatedHandler) EventType() events.Type { return events.IntentCreated }

func (h *IntentCreatedHandler) Handle(ctx context.Context, ev events.Event) error {
	var payload events.IntentCreatedPayload
	if err := decodePayload(ev, &payload); err != nil {
		return err
	}
	if h.Log != nil {
		h.Log("projecting intent_created for %s", ev.AggregateID)
	}
	if h.OnCreated == nil {
		return nil
	}
	return h.OnCreated(ctx, ev.AggregateID, payload)
}

// VerificationCompletedHandler reacts to a candidate's verification
// outcome, e.g. to update external dashboards or trigger the next
// generation round.
type VerificationCompletedHandler struct {
	OnCompleted func(ctx context.Context, aggregateID string, payload events.VerificationCompletedPayload) error
	Log         LogFunc
}

func (h *VerificationCompletedHandler) EventType() events.Type { return events.VerificationCompleted }

func (h *VerificationCompletedHandler) Handle(ctx context.Context, ev events.Event) error {
	var payload events.VerificationCompletedPayload
	if err := decodePayload(ev, &payload); err != nil {
		return err
	}
	if h.Log != nil {
		h.Log("projecting verification_completed for %s candidate=%s passed=%v", ev.AggregateID, payload.CandidateID, payload.Passed)
	}
	if h.OnCompleted == nil {
		return nil
	}
	return h.OnCompleted(ctx, ev.AggregateID, payload)
}

// CostIncurredHandler reacts to cost postings, e.g. to feed an external
// billing export.
type CostIncurredHandler struct {
	OnCost func(ctx context.Context, aggregateID string, payload events.CostIncurredPayload) error
	Log    LogFunc
}

func (h *CostIncurredHandler) EventType() events.Type { return events.CostIncurred }

func (h *CostIncurredHandler) Handle(ctx context.Context, ev events.Event) error {
	var payload events.CostIncurredPayload
	if err := decodePayload(ev, &payload); err != nil {
		return err
	}
	if h.Log != nil {
		h.Log("projecting cost_incurred for %s amount=%s", ev.AggregateID, payload.AmountUSD)
	}
	if h.OnCost == nil {
		return nil
	}
	return h.OnCost(ctx, ev.AggregateID, payload)
}

func decodePayload(ev events.Event, out any) error {
	if len(ev.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(ev.Payload, out)
}
