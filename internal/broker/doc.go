// Package broker fans the deltas of a relay session out to any number of
// observers. A session's deltas are published on the topic named by the
// session id; observers subscribe with a Hook.
//
// Design decisions:
//   - Context-first: subscriptions end when their context ends
//   - Best effort: a subscriber that can't keep up is dropped instead of
//     slowing down the relay, which only publishes after the client sink
//     accepted the delta
//   - Per-topic ordering: each subscriber sees deltas in publish order
//   - Reference counted topics: every Topic call is paired with a Release,
//     and a topic is forgotten once nobody holds it
//
// Two implementations exist. Local keeps topics in a haxmap and delivers
// through buffered channels inside the process. NATS publishes JSON encoded
// deltas on the subject relay.sessions.<id>, so observers can live in other
// processes.
//
// Example usage:
//
//	topic := broker.Topic(ctx, sessionID)
//	defer broker.Release(ctx, sessionID)
//
//	sub, err := topic.Subscribe(ctx, broker.HookFunc(func(ctx context.Context, d messages.Delta) {
//	    fmt.Print(d.Content)
//	}))
//	if err != nil {
//	    return err
//	}
//	defer sub.Unsubscribe()
package broker
