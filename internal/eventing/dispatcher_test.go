package eventing

import (
	"context"
	"testing"
	"time"

	"tpv-fleet/internal/eventing/eventbus"
)

type orderShipped struct {
	OrderID    string    `json:"order_id"`
	VenueID    string    `json:"venue_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

type memOutboxStore struct {
	records []OutboxRecord
	sent    []string
	failed  []string
}

func (s *memOutboxStore) Insert(_ context.Context, env Envelope) (string, error) {
	id := NewEventID()
	s.records = append(s.records, OutboxRecord{ID: id, Envelope: env})
	return id, nil
}

func (s *memOutboxStore) ListPending(_ context.Context, limit int) ([]OutboxRecord, error) {
	resolved := make(map[string]struct{}, len(s.sent)+len(s.failed))
	for _, id := range s.sent {
		resolved[id] = struct{}{}
	}
	for _, id := range s.failed {
		resolved[id] = struct{}{}
	}
	var pending []OutboxRecord
	for _, record := range s.records {
		if _, done := resolved[record.ID]; done {
			continue
		}
		pending = append(pending, record)
		if len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (s *memOutboxStore) MarkSent(_ context.Context, id string) error {
	s.sent = append(s.sent, id)
	return nil
}

func (s *memOutboxStore) MarkFailed(_ context.Context, id string) error {
	s.failed = append(s.failed, id)
	return nil
}

type memDLQ struct {
	failures []Envelope
}

func (d *memDLQ) RecordFailure(_ context.Context, env Envelope, _ error) error {
	d.failures = append(d.failures, env)
	return nil
}

type memProcessed struct {
	done map[string]struct{}
}

func (p *memProcessed) HasProcessed(_ context.Context, eventID, consumerName string) (bool, error) {
	_, ok := p.done[eventID+"/"+consumerName]
	return ok, nil
}

func (p *memProcessed) MarkProcessed(_ context.Context, eventID, consumerName string) error {
	if p.done == nil {
		p.done = make(map[string]struct{})
	}
	p.done[eventID+"/"+consumerName] = struct{}{}
	return nil
}

func TestPublishDispatchDeliversDecodedEvent(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.NewInMemoryBus()
	registry := NewRegistry()
	registry.Register(orderShipped{})
	outbox := &memOutboxStore{}
	dlq := &memDLQ{}
	dispatcher := NewDispatcher(bus, outbox, registry, dlq)
	publisher := NewPublisher(outbox, dispatcher, "tenant-1", bus)

	var received []orderShipped
	bus.Subscribe(eventbus.EventTypeOf[orderShipped](), func(ctx context.Context, event any) error {
		evt, ok := event.(orderShipped)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		if env, ok := EnvelopeFromContext(ctx); !ok || env.TenantID != "tenant-1" {
			t.Errorf("envelope: got %+v present=%v", env, ok)
		}
		received = append(received, evt)
		return nil
	})

	if err := publisher.Publish(ctx, orderShipped{
		OrderID: "order-1", VenueID: "venue-1", OccurredAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(received) != 1 || received[0].OrderID != "order-1" {
		t.Fatalf("received: got %+v, want one order-1 event", received)
	}
	if len(outbox.sent) != 1 || len(outbox.failed) != 0 {
		t.Fatalf("outbox: sent=%d failed=%d, want 1/0", len(outbox.sent), len(outbox.failed))
	}
	if len(dlq.failures) != 0 {
		t.Fatalf("dlq: got %d failures", len(dlq.failures))
	}
}

func TestDispatchUnregisteredTypeGoesToDLQ(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.NewInMemoryBus()
	outbox := &memOutboxStore{}
	dlq := &memDLQ{}
	dispatcher := NewDispatcher(bus, outbox, NewRegistry(), dlq)
	publisher := NewPublisher(outbox, dispatcher, "tenant-1", bus)

	if err := publisher.Publish(ctx, orderShipped{OrderID: "order-1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(outbox.failed) != 1 {
		t.Fatalf("failed rows: got %d, want 1", len(outbox.failed))
	}
	if len(dlq.failures) != 1 {
		t.Fatalf("dlq rows: got %d, want 1", len(dlq.failures))
	}
}

func TestDispatchDrainsPendingBacklog(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.NewInMemoryBus()
	registry := NewRegistry()
	registry.Register(orderShipped{})
	outbox := &memOutboxStore{}

	// No dispatcher wired: rows stay pending until a drain pass runs.
	publisher := NewPublisher(outbox, nil, "tenant-1", bus)
	for _, id := range []string{"order-1", "order-2", "order-3"} {
		if err := publisher.Publish(ctx, orderShipped{OrderID: id}); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}
	if len(outbox.sent) != 0 {
		t.Fatalf("sent before drain: got %d, want 0", len(outbox.sent))
	}

	delivered := 0
	bus.Subscribe(eventbus.EventTypeOf[orderShipped](), func(ctx context.Context, event any) error {
		delivered++
		return nil
	})

	dispatcher := NewDispatcher(bus, outbox, registry, &memDLQ{})
	if err := dispatcher.Dispatch(ctx, 100); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if delivered != 3 || len(outbox.sent) != 3 {
		t.Fatalf("drain: delivered=%d sent=%d, want 3/3", delivered, len(outbox.sent))
	}
}

func TestSubscribeIdempotency(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.NewInMemoryBus()
	store := &memProcessed{}
	calls := 0
	Subscribe(bus, eventbus.EventTypeOf[orderShipped](), "billing", func(ctx context.Context, event any) error {
		calls++
		return nil
	}, store)

	env := Envelope{EventID: "evt-1", EventType: eventbus.EventTypeOf[orderShipped]()}
	delivery := WithEnvelope(ctx, env)
	if err := bus.Publish(delivery, orderShipped{OrderID: "order-1"}); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if err := bus.Publish(delivery, orderShipped{OrderID: "order-1"}); err != nil {
		t.Fatalf("duplicate publish: %v", err)
	}
	if calls != 1 {
		t.Fatalf("handler calls: got %d, want 1", calls)
	}
}
