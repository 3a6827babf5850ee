package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/casualjim/relay/messages"
	"github.com/casualjim/relay/pkg/slogx"
	"github.com/casualjim/relay/pkg/uuidx"
	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

// SubjectPrefix is prepended to topic ids to form NATS subjects.
const SubjectPrefix = "relay.sessions."

type NATSBroker struct {
	client *nats.Conn
	topics *topicTable[*natsTopic]
	logger *slog.Logger
}

func NATS(client *nats.Conn) *NATSBroker {
	return &NATSBroker{
		client: client,
		topics: newTopicTable[*natsTopic](),
		logger: slogx.Named(nil, "broker"),
	}
}

func (b *NATSBroker) Topic(ctx context.Context, id string) Topic {
	return b.topics.acquire(id, func() *natsTopic {
		return &natsTopic{
			id:      id,
			subject: Subject(id),
			client:  b.client,
			logger:  b.logger,
		}
	})
}

// Release gives back a reference taken by Topic. Subscriptions are owned by
// their callers and stay untouched; only the local topic handle is forgotten.
func (b *NATSBroker) Release(_ context.Context, id string) {
	b.topics.release(id)
}

// Topics reports how many topics are currently referenced.
func (b *NATSBroker) Topics() int {
	return b.topics.len()
}

// Subject maps a topic id onto a single NATS subject token.
func Subject(id string) string {
	token := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
	if token == "" {
		token = "_"
	}
	return SubjectPrefix + token
}

type natsTopic struct {
	id      string
	client  *nats.Conn
	subject string
	logger  *slog.Logger
}

func (t *natsTopic) ID() string {
	return t.id
}

func (t *natsTopic) Publish(ctx context.Context, delta messages.Delta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(delta)
	if err != nil {
		return err
	}
	return t.client.Publish(t.subject, data)
}

func (t *natsTopic) Subscribe(ctx context.Context, hook Hook) (Subscription, error) {
	if hook == nil {
		return nil, fmt.Errorf("hook is required")
	}

	sub := &natsSubscription{
		id:      uuidx.NewString(),
		channel: make(chan messages.Delta, defaultBufferSize),
		done:    make(chan struct{}),
		logger:  t.logger,
	}
	nsub, err := t.client.Subscribe(t.subject, func(msg *nats.Msg) {
		var delta messages.Delta
		if err := json.Unmarshal(msg.Data, &delta); err != nil {
			t.logger.Error("failed to unmarshal delta", slogx.Error(err), slog.String("subject", msg.Subject))
			return
		}

		select {
		case sub.channel <- delta:
		case <-sub.done:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", t.subject, err)
	}
	sub.sub = nsub

	go sub.forwardToHook(ctx, hook)
	return sub, nil
}

type natsSubscription struct {
	id        string
	sub       *nats.Subscription
	channel   chan messages.Delta
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

func (n *natsSubscription) ID() string {
	return n.id
}

func (n *natsSubscription) Unsubscribe() {
	n.closeOnce.Do(func() {
		close(n.done)
		if err := n.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
			n.logger.Error("failed to unsubscribe", slogx.Error(err), slog.String("subscription", n.id))
		}
	})
}

func (n *natsSubscription) forwardToHook(ctx context.Context, hook Hook) {
	defer n.Unsubscribe()
	for {
		select {
		case delta := <-n.channel:
			hook.OnDelta(ctx, delta)
		case <-n.done:
			return
		case <-ctx.Done():
			return
		}
	}
}
