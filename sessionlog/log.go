// Package sessionlog keeps the ordered record of committed chat messages for
// the lifetime of the process.
//
// The log is append-only. Message ids are unique, and a batch passed to
// Append is committed entirely or not at all, so a reader taking a Snapshot
// never observes half an exchange.
package sessionlog

import (
	"errors"
	"fmt"
	"sync"

	"github.com/casualjim/relay/messages"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	ErrDuplicateID = errors.New("message id already in session log")
	ErrMissingID   = errors.New("message has no id")
)

// Log is safe for concurrent use.
type Log struct {
	mu      sync.RWMutex
	entries *orderedmap.OrderedMap[string, messages.Message]
}

func New() *Log {
	return &Log{
		entries: orderedmap.New[string, messages.Message](),
	}
}

// Append commits msgs in order.
func (l *Log) Append(msgs ...messages.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[string]struct{}, len(msgs))
	for _, msg := range msgs {
		if msg.ID == "" {
			return ErrMissingID
		}
		if _, ok := seen[msg.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateID, msg.ID)
		}
		if _, ok := l.entries.Get(msg.ID); ok {
			return fmt.Errorf("%w: %s", ErrDuplicateID, msg.ID)
		}
		seen[msg.ID] = struct{}{}
	}

	for _, msg := range msgs {
		l.entries.Set(msg.ID, msg)
	}
	return nil
}

// Snapshot copies the committed messages in commit order.
func (l *Log) Snapshot() []messages.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]messages.Message, 0, l.entries.Len())
	for pair := l.entries.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries.Len()
}

func (l *Log) Get(id string) (messages.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries.Get(id)
}
