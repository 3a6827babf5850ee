package broker

import (
	"sync"

	"github.com/alphadose/haxmap"
)

type tableEntry[T any] struct {
	value T
	refs  int
}

// topicTable holds reference counted topics. A topic lives from the first
// acquire until the matching last release.
type topicTable[T any] struct {
	mu      sync.Mutex
	entries *haxmap.Map[string, *tableEntry[T]]
}

func newTopicTable[T any]() *topicTable[T] {
	return &topicTable[T]{entries: haxmap.New[string, *tableEntry[T]]()}
}

func (t *topicTable[T]) acquire(id string, create func() T) T {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries.Get(id)
	if !ok {
		entry = &tableEntry[T]{value: create()}
		t.entries.Set(id, entry)
	}
	entry.refs++
	return entry.value
}

// release drops one reference and reports the topic when it was the last one.
func (t *topicTable[T]) release(id string) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero T
	entry, ok := t.entries.Get(id)
	if !ok {
		return zero, false
	}
	entry.refs--
	if entry.refs > 0 {
		return zero, false
	}
	t.entries.Del(id)
	return entry.value, true
}

func (t *topicTable[T]) len() int {
	return int(t.entries.Len())
}
