package projection

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/axiom-labs/ivcud/pkg/events"
)

func TestEngineDeliversToRegisteredHandler(t *testing.T) {
	bus := NewChannelBus()
	kv := NewMemoryKV()
	engine := New(bus, kv, time.Minute)

	var mu sync.Mutex
	var got string

	engine.Register(&IntentCreatedHandler{
		OnCreated: func(ctx context.Context, aggregateID string, payload events.IntentCreatedPayload) error {
			mu.Lock()
			got = payload.RawIntent
			mu.Unlock()
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go engine.Run(ctx)
	defer cancel()

	ev := events.Event{AggregateID: "ivcu-1", SequenceNumber: 1, EventType: events.IntentCreated, Payload: marshalTest(t, events.IntentCreatedPayload{RawIntent: "reverse a string"})}
	if err := bus.Publish(ctx, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		done := got == "reverse a string"
		mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for handler to run")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestWaitForUnblocksAfterSyncToken(t *testing.T) {
	bus := NewChannelBus()
	kv := NewMemoryKV()
	engine := New(bus, kv, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Run(ctx)

	ev := events.Event{AggregateID: "ivcu-2", SequenceNumber: 1, EventType: events.IntentCreated}
	bus.Publish(ctx, ev)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	if err := engine.WaitFor(waitCtx, ev); err != nil {
		t.Fatalf("expected WaitFor to unblock once projected, got %v", err)
	}
}

func TestIdempotencyKeyIsStableForSameEvent(t *testing.T) {
	ev := events.Event{AggregateID: "a", SequenceNumber: 3}
	k1 := IdempotencyKey(ev)
	k2 := IdempotencyKey(ev)
	if k1 != k2 {
		t.Fatalf("expected stable idempotency key, got %s and %s", k1, k2)
	}

	other := events.Event{AggregateID: "a", SequenceNumber: 4}
	if IdempotencyKey(other) == k1 {
		t.Fatal("expected different sequence numbers to produce different keys")
	}
}

func marshalTest(t *testing.T, payload events.IntentCreatedPayload) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}
