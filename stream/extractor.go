package stream

import (
	"errors"
	"fmt"

	"github.com/casualjim/relay/internal/registry"
	"github.com/tidwall/gjson"
)

// ErrMalformedFrame is returned by extractors for payloads they can't interpret.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is the meaning of one payload.
type Frame struct {
	Content  string
	Terminal bool
	// Error marks an upstream-reported failure; Content then holds its message.
	Error bool
}

// Extractor interprets one payload of a given upstream variant.
type Extractor func(payload []byte) (Frame, error)

const (
	VariantOpenAI    = "openai"
	VariantRelay     = "relay"
	VariantAnthropic = "anthropic"
	VariantOllama    = "ollama"
)

var extractors = registry.New[Extractor]()

func init() {
	Register(VariantOpenAI, OpenAI)
	Register(VariantRelay, Relay)
	Register(VariantAnthropic, Anthropic)
	Register(VariantOllama, Ollama)
}

// Register makes an extractor available under variant, replacing any previous one.
func Register(variant string, extract Extractor) {
	extractors.Add(variant, extract)
}

// ExtractorFor returns the extractor for variant, or the relay extractor when
// the variant is unknown.
func ExtractorFor(variant string) Extractor {
	if extract, ok := extractors.Get(variant); ok {
		return extract
	}
	return Relay
}

// Variants lists the registered variant names.
func Variants() []string {
	return extractors.Names()
}

func parseObject(payload []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(payload) {
		return gjson.Result{}, fmt.Errorf("%w: invalid json", ErrMalformedFrame)
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return gjson.Result{}, fmt.Errorf("%w: expected an object, got %s", ErrMalformedFrame, root.Type)
	}
	return root, nil
}

func errorMessage(v gjson.Result) string {
	if msg := v.Get("message"); msg.Exists() {
		return msg.String()
	}
	if v.Type == gjson.String {
		return v.String()
	}
	return "upstream reported an error"
}

// OpenAI reads Chat Completions chunks.
func OpenAI(payload []byte) (Frame, error) {
	root, err := parseObject(payload)
	if err != nil {
		return Frame{}, err
	}
	if e := root.Get("error"); e.Exists() && e.Type != gjson.Null {
		return Frame{Content: errorMessage(e), Terminal: true, Error: true}, nil
	}
	return Frame{Content: root.Get("choices.0.delta.content").String()}, nil
}

// Relay reads the relay's own delta payloads.
func Relay(payload []byte) (Frame, error) {
	root, err := parseObject(payload)
	if err != nil {
		return Frame{}, err
	}
	frame := Frame{
		Content:  root.Get("content").String(),
		Terminal: root.Get("isComplete").Bool(),
		Error:    root.Get("error").Bool(),
	}
	if frame.Error {
		frame.Terminal = true
	}
	return frame, nil
}

// Anthropic reads Messages API stream events.
func Anthropic(payload []byte) (Frame, error) {
	root, err := parseObject(payload)
	if err != nil {
		return Frame{}, err
	}
	switch root.Get("type").String() {
	case "content_block_delta":
		return Frame{Content: root.Get("delta.text").String()}, nil
	case "message_stop":
		return Frame{Terminal: true}, nil
	case "error":
		return Frame{Content: errorMessage(root.Get("error")), Terminal: true, Error: true}, nil
	default:
		return Frame{}, nil
	}
}

// Ollama reads chat stream objects.
func Ollama(payload []byte) (Frame, error) {
	root, err := parseObject(payload)
	if err != nil {
		return Frame{}, err
	}
	if e := root.Get("error"); e.Exists() {
		return Frame{Content: errorMessage(e), Terminal: true, Error: true}, nil
	}
	return Frame{
		Content:  root.Get("message.content").String(),
		Terminal: root.Get("done").Bool(),
	}, nil
}
