// Package bus provides a small in-process publish/subscribe event bus used to
// fan out domain events (agent lifecycle, task run progress, chat messages)
// to the command surface and any other interested internal listener.
package bus

import "context"

// Event is a single named event with an opaque payload.
type Event struct {
	Name    string
	Payload interface{}
}

// Handler receives events for a subscription.
type Handler func(ctx context.Context, evt Event)

// Subscription can be cancelled to stop receiving events.
type Subscription interface {
	Unsubscribe()
}

// EventBus publishes events to subscribers, matched by exact name or by the
// wildcard name "*".
type EventBus interface {
	Publish(ctx context.Context, evt Event)
	Subscribe(name string, h Handler) Subscription
	Close()
}
