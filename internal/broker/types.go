package broker

import (
	"context"

	"github.com/casualjim/relay/messages"
)

// Broker hands out session topics. Every Topic call takes a reference that
// must be given back with Release; the topic is forgotten when the last
// reference is released.
type Broker interface {
	Topic(context.Context, string) Topic
	Release(context.Context, string)
}

type Topic interface {
	ID() string
	Publish(context.Context, messages.Delta) error
	Subscribe(context.Context, Hook) (Subscription, error)
}

type Subscription interface {
	ID() string
	Unsubscribe()
}

// Hook receives the deltas published on a topic, in publish order.
type Hook interface {
	OnDelta(context.Context, messages.Delta)
}

// HookFunc adapts a function to a Hook.
type HookFunc func(context.Context, messages.Delta)

func (f HookFunc) OnDelta(ctx context.Context, delta messages.Delta) {
	f(ctx, delta)
}
