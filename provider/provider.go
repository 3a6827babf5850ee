package provider

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/go-openapi/swag"
)

const (
	DefaultModel       = "gpt-4o-mini"
	DefaultMaxTokens   = 800
	DefaultTemperature = 0.7

	DefaultSystemPrompt = "You are a helpful assistant. Give detailed, accurate answers and use Markdown " +
		"(headings, lists, code blocks) to structure them. For technical questions include concrete code " +
		"examples and step-by-step instructions."
)

// Provider opens completion streams against one upstream service.
type Provider interface {
	// Name identifies the provider in logs.
	Name() string
	// Variant names the payload shape of the frames the stream carries.
	Variant() string
	// Open performs exactly one upstream call.
	Open(context.Context, Request) (*Stream, error)
}

// Request describes a single completion.
type Request struct {
	Prompt       string
	SystemPrompt string
	Model        string
	MaxTokens    int64
	// Temperature is nil when unset; 0 is a valid, deterministic setting.
	Temperature *float64

	// Prevents unkeyed literals
	_ struct{}
}

// WithDefaults fills every unset generation parameter.
func (r Request) WithDefaults() Request {
	if strings.TrimSpace(r.SystemPrompt) == "" {
		r.SystemPrompt = DefaultSystemPrompt
	}
	if r.Model == "" {
		r.Model = DefaultModel
	}
	if r.MaxTokens <= 0 {
		r.MaxTokens = DefaultMaxTokens
	}
	if r.Temperature == nil {
		r.Temperature = swag.Float64(DefaultTemperature)
	}
	return r
}

// Stream is an open upstream response body.
// Closing it releases the body, then cancels the request that produced it.
type Stream struct {
	StatusCode int

	body      io.ReadCloser
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// NewStream wraps body. cancel may be nil.
func NewStream(body io.ReadCloser, statusCode int, cancel context.CancelFunc) *Stream {
	return &Stream{
		StatusCode: statusCode,
		body:       body,
		cancel:     cancel,
	}
}

func (s *Stream) Read(p []byte) (int, error) {
	return s.body.Read(p)
}

// Close is idempotent.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
		if s.cancel != nil {
			s.cancel()
		}
	})
	return s.closeErr
}
