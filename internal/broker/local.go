package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/relay/messages"
	"github.com/casualjim/relay/pkg/slogx"
	"github.com/casualjim/relay/pkg/uuidx"
	"github.com/fogfish/opts"
)

const (
	defaultSlowSubscriberTimeout = 100 * time.Millisecond
	defaultBufferSize            = 64
)

type LocalBroker struct {
	topics                *topicTable[*topic]
	slowSubscriberTimeout time.Duration
	bufferSize            int
	logger                *slog.Logger
}

var (
	// SlowSubscriberTimeout is how long a publish waits on a full subscriber
	// before dropping that subscriber.
	SlowSubscriberTimeout = opts.ForName[LocalBroker, time.Duration]("slowSubscriberTimeout")
	// BufferSize is the number of deltas queued per subscriber.
	BufferSize = opts.ForName[LocalBroker, int]("bufferSize")
	Logger     = opts.ForName[LocalBroker, *slog.Logger]("logger")
)

func Local(options ...opts.Option[LocalBroker]) *LocalBroker {
	b := &LocalBroker{
		topics:                newTopicTable[*topic](),
		slowSubscriberTimeout: defaultSlowSubscriberTimeout,
		bufferSize:            defaultBufferSize,
	}
	if err := opts.Apply(b, options); err != nil {
		panic(err)
	}
	if b.bufferSize <= 0 {
		b.bufferSize = defaultBufferSize
	}
	b.logger = slogx.Named(b.logger, "broker")
	return b
}

func (b *LocalBroker) Topic(ctx context.Context, id string) Topic {
	return b.topics.acquire(id, func() *topic {
		return &topic{
			id:                    id,
			subscriptions:         haxmap.New[string, *subscription](),
			slowSubscriberTimeout: b.slowSubscriberTimeout,
			bufferSize:            b.bufferSize,
			logger:                b.logger,
		}
	})
}

// Release gives back a reference taken by Topic. Releasing the last one
// forgets the topic and ends the subscriptions still attached to it.
func (b *LocalBroker) Release(ctx context.Context, id string) {
	top, last := b.topics.release(id)
	if !last {
		return
	}
	top.subscriptions.ForEach(func(_ string, sub *subscription) bool {
		sub.Unsubscribe()
		return true
	})
	b.logger.DebugContext(ctx, "topic released", slog.String("topic", id))
}

// Topics reports how many topics are currently referenced.
func (b *LocalBroker) Topics() int {
	return b.topics.len()
}

type topic struct {
	id                    string
	subscriptions         *haxmap.Map[string, *subscription]
	slowSubscriberTimeout time.Duration
	bufferSize            int
	logger                *slog.Logger
}

func (t *topic) ID() string {
	return t.id
}

func (t *topic) Publish(ctx context.Context, delta messages.Delta) error {
	t.subscriptions.ForEach(func(id string, sub *subscription) bool {
		if sub == nil {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-sub.done:
			return true
		default:
		}

		timer := time.NewTimer(t.slowSubscriberTimeout)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return false
		case <-sub.done:
		case sub.channel <- delta:
		case <-timer.C:
			t.logger.WarnContext(ctx, "dropping slow subscriber", slog.String("topic", t.id), slog.String("subscription", id))
			sub.Unsubscribe()
		}
		return true
	})
	return ctx.Err()
}

func (t *topic) Subscribe(ctx context.Context, hook Hook) (Subscription, error) {
	if hook == nil {
		return nil, fmt.Errorf("hook is required")
	}
	return t.newSubscription(ctx, hook), nil
}

func (t *topic) newSubscription(ctx context.Context, hook Hook) *subscription {
	id := uuidx.NewString()
	sub := &subscription{
		id:      id,
		ctx:     ctx,
		channel: make(chan messages.Delta, t.bufferSize),
		done:    make(chan struct{}),
		onClose: func() { t.subscriptions.Del(id) },
		hook:    hook,
	}
	t.subscriptions.Set(id, sub)
	go sub.forwardToHook()
	return sub
}

type subscription struct {
	id        string
	ctx       context.Context
	channel   chan messages.Delta
	done      chan struct{}
	closeOnce sync.Once
	onClose   func()
	hook      Hook
}

func (s *subscription) ID() string {
	return s.id
}

func (s *subscription) Unsubscribe() {
	s.closeOnce.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
		close(s.done)
	})
}

func (s *subscription) forwardToHook() {
	defer s.Unsubscribe()
	for {
		select {
		case delta := <-s.channel:
			s.hook.OnDelta(s.ctx, delta)
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		}
	}
}
