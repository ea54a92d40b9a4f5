package eventing

import (
	"context"

	"tpv-fleet/internal/eventing/eventbus"
)

// OutboxWriter persists envelopes for later dispatch.
type OutboxWriter interface {
	Insert(ctx context.Context, env Envelope) (string, error)
}

// Subscriber registers bus handlers.
type Subscriber interface {
	Subscribe(eventType string, handler eventbus.EventHandler)
}

// Publisher routes domain events through the outbox before they reach the
// bus, so event persistence and the state change share a failure domain.
// A nil dispatcher leaves rows pending for the background drain loop.
type Publisher struct {
	outbox   OutboxWriter
	dispatch *Dispatcher
	tenantID string
	sub      Subscriber
}

// NewPublisher constructs a publisher. tenantID is the fallback tenant for
// events published outside a request context.
func NewPublisher(outbox OutboxWriter, dispatch *Dispatcher, tenantID string, sub Subscriber) *Publisher {
	return &Publisher{outbox: outbox, dispatch: dispatch, tenantID: tenantID, sub: sub}
}

// Publish envelopes the event, writes it to the outbox, and nudges the
// dispatcher for immediate delivery.
func (p *Publisher) Publish(ctx context.Context, event any) error {
	if p == nil || p.outbox == nil {
		return nil
	}
	env, err := BuildEnvelope(event, MetaFromContext(ctx, p.tenantID))
	if err != nil {
		return err
	}
	if _, err = p.outbox.Insert(ctx, env); err != nil {
		return err
	}
	if p.dispatch != nil {
		_ = p.dispatch.Dispatch(ctx, 1)
	}
	return nil
}

// Subscribe forwards to the underlying subscriber when one is wired.
func (p *Publisher) Subscribe(eventType string, handler eventbus.EventHandler) {
	if p == nil || p.sub == nil {
		return
	}
	p.sub.Subscribe(eventType, handler)
}
