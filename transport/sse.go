package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/casualjim/relay/messages"
	"github.com/fogfish/opts"
	"github.com/goccy/go-json"
)

// ErrClosed is returned when sending to a sink that was closed.
var ErrClosed = errors.New("sink is closed")

var doneFrame = []byte("data: [DONE]\n\n")

// SSEWriter streams deltas as server-sent events.
type SSEWriter struct {
	mu           sync.Mutex
	w            http.ResponseWriter
	rc           *http.ResponseController
	doneSentinel bool
	started      bool
	closed       bool
}

// WithDoneSentinel replaces the payload of a successful terminal delta by the
// literal [DONE] sentinel.
func WithDoneSentinel() opts.Option[SSEWriter] {
	return opts.Type[SSEWriter](func(s *SSEWriter) error {
		s.doneSentinel = true
		return nil
	})
}

func SSE(w http.ResponseWriter, options ...opts.Option[SSEWriter]) *SSEWriter {
	s := &SSEWriter{
		w:  w,
		rc: http.NewResponseController(w),
	}
	if err := opts.Apply(s, options); err != nil {
		panic(err)
	}
	return s
}

// Start writes the event-stream headers. Send calls it on first use.
func (s *SSEWriter) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start()
}

func (s *SSEWriter) start() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
}

func (s *SSEWriter) Send(ctx context.Context, delta messages.Delta) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.start()

	frame, err := s.frame(delta)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(frame); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("flush event: %w", err)
	}
	return nil
}

func (s *SSEWriter) frame(delta messages.Delta) ([]byte, error) {
	if s.doneSentinel && delta.IsComplete && !delta.Error {
		return doneFrame, nil
	}
	payload, err := json.Marshal(delta)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	return append(frame, '\n', '\n'), nil
}

// Close stops accepting deltas. The response itself is finished by the handler.
func (s *SSEWriter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
