package harness

import (
	"context"

	"github.com/choiros/choiros/internal/core"
	"github.com/choiros/choiros/internal/eventstore"
)

// Bus is the subset of EventBus behavior harness lifecycle events use.
type Bus interface {
	Publish(core.Event)
}

// EventPublisher appends lifecycle events to the EventStore and fans them
// out over the EventBus, the same two-step emit every other component uses
// (runwriter.Writer.emit is the sibling implementation).
type EventPublisher struct {
	ActorID string
	Store   eventstore.Store
	Bus     Bus
}

func (p *EventPublisher) Publish(ctx context.Context, topic string, scope core.Scope, payload map[string]any) {
	if p.Store == nil {
		return
	}
	seq, err := p.Store.Append(ctx, topic, p.ActorID, scope, payload, "")
	if err != nil || p.Bus == nil {
		return
	}
	p.Bus.Publish(core.Event{Seq: seq, Topic: topic, ActorID: p.ActorID, Scope: scope, Payload: payload})
}
