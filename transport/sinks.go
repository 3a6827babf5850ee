package transport

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/casualjim/relay/internal/broker"
	"github.com/casualjim/relay/messages"
	"github.com/casualjim/relay/pkg/slogx"
	"github.com/casualjim/relay/relay"
)

// Publisher forwards deltas to a broker topic.
func Publisher(topic broker.Topic) relay.Sink {
	return &publisher{topic: topic}
}

type publisher struct {
	topic broker.Topic
}

func (p *publisher) Send(ctx context.Context, delta messages.Delta) error {
	return p.topic.Publish(ctx, delta)
}

func (p *publisher) Close() error { return nil }

// Tee sends every delta to primary first, then to others. Only primary
// errors are returned; a failing secondary is logged and skipped.
func Tee(primary relay.Sink, others ...relay.Sink) relay.Sink {
	if len(others) == 0 {
		return primary
	}
	return &tee{
		primary: primary,
		others:  others,
		logger:  slogx.Named(nil, "transport"),
	}
}

type tee struct {
	primary relay.Sink
	others  []relay.Sink
	logger  *slog.Logger
}

func (t *tee) Send(ctx context.Context, delta messages.Delta) error {
	if err := t.primary.Send(ctx, delta); err != nil {
		return err
	}
	for _, other := range t.others {
		if err := other.Send(ctx, delta); err != nil {
			t.logger.WarnContext(ctx, "secondary sink rejected delta", slogx.Error(err))
		}
	}
	return nil
}

func (t *tee) Close() error {
	err := t.primary.Close()
	for _, other := range t.others {
		if cerr := other.Close(); cerr != nil {
			t.logger.Warn("closing secondary sink", slogx.Error(cerr))
		}
	}
	return err
}

// Collector keeps every delta in memory.
type Collector struct {
	mu     sync.Mutex
	deltas []messages.Delta
	closed bool
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Send(_ context.Context, delta messages.Delta) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.deltas = append(c.deltas, delta)
	return nil
}

func (c *Collector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Collector) Deltas() []messages.Delta {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]messages.Delta(nil), c.deltas...)
}

// Content joins the content of all non-terminal deltas.
func (c *Collector) Content() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var b strings.Builder
	for _, d := range c.deltas {
		if !d.IsComplete {
			b.WriteString(d.Content)
		}
	}
	return b.String()
}

func (c *Collector) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
