// Package fallback streams a fixed configuration hint when no upstream
// credential is configured. It produces the same line framing as a real
// upstream so clients cannot tell the difference.
package fallback

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/casualjim/relay/messages"
	"github.com/casualjim/relay/pkg/slogx"
	"github.com/casualjim/relay/provider"
	"github.com/fogfish/opts"
)

const (
	// VariantName is the payload shape of the frames this provider writes.
	VariantName = "relay"

	DefaultInterval = 50 * time.Millisecond
)

const answerTemplate = "## Hello! 👋\n\n" +
	"I received your message: \"%s\"\n\n" +
	"### Current status\n" +
	"- ✅ The relay service is running\n" +
	"- ✅ Streaming works\n" +
	"- ⚠️ A valid OpenAI API key still needs to be configured\n\n" +
	"### Configuration\n" +
	"Set a valid key in the `.env` file or the environment:\n" +
	"```\nOPENAI_API_KEY=sk-your-actual-openai-api-key-here\n```\n\n" +
	"*This is a development-mode reply. Configure an API key to get real answers.*"

var _ provider.Provider = (*Provider)(nil)

// Provider answers every prompt with the configuration hint, one word per frame.
type Provider struct {
	interval time.Duration
	logger   *slog.Logger
}

var (
	// Interval is the pause before each frame.
	Interval = opts.ForName[Provider, time.Duration]("interval")
	// Logger sets the logger.
	Logger = opts.ForName[Provider, *slog.Logger]("logger")
)

func New(options ...opts.Option[Provider]) *Provider {
	p := &Provider{interval: DefaultInterval}
	if err := opts.Apply(p, options); err != nil {
		panic(err)
	}
	if p.interval < 0 {
		p.interval = 0
	}
	p.logger = slogx.Named(p.logger, "fallback")
	return p
}

func (p *Provider) Name() string { return "fallback" }

func (p *Provider) Variant() string { return VariantName }

// Answer is the full text streamed for prompt.
func Answer(prompt string) string {
	return fmt.Sprintf(answerTemplate, prompt)
}

// Chunks splits the answer the way it is framed: on single spaces, each piece
// but the last followed by a space, so the chunks join back to Answer.
func Chunks(prompt string) []string {
	words := strings.Split(Answer(prompt), " ")
	last := len(words) - 1
	for i := range last {
		words[i] += " "
	}
	return words
}

// Open never fails. The frames are produced by a goroutine that stops when
// ctx ends or the stream is closed.
func (p *Provider) Open(ctx context.Context, req provider.Request) (*provider.Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()

	p.logger.DebugContext(ctx, "streaming fallback answer", slog.Duration("interval", p.interval))
	go p.write(ctx, pw, Chunks(req.Prompt))

	return provider.NewStream(pr, http.StatusOK, cancel), nil
}

func (p *Provider) write(ctx context.Context, w *io.PipeWriter, chunks []string) {
	var timer *time.Timer
	if p.interval > 0 {
		timer = time.NewTimer(p.interval)
		defer timer.Stop()
	}

	for _, chunk := range chunks {
		if timer != nil {
			select {
			case <-ctx.Done():
				w.CloseWithError(ctx.Err())
				return
			case <-timer.C:
				timer.Reset(p.interval)
			}
		} else if ctx.Err() != nil {
			w.CloseWithError(ctx.Err())
			return
		}

		payload, err := messages.Fragment("", chunk).MarshalJSON()
		if err != nil {
			w.CloseWithError(err)
			return
		}
		if err := writeFrame(w, payload); err != nil {
			return
		}
	}

	if err := writeFrame(w, []byte("[DONE]")); err != nil {
		return
	}
	w.Close()
}

func writeFrame(w io.Writer, payload []byte) error {
	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, '\n', '\n')
	_, err := w.Write(frame)
	return err
}
