package relay

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/casualjim/relay/messages"
	"github.com/casualjim/relay/pkg/slogx"
	"github.com/casualjim/relay/pkg/stdx"
	"github.com/casualjim/relay/pkg/uuidx"
	"github.com/casualjim/relay/provider"
	"github.com/casualjim/relay/provider/fallback"
	"github.com/casualjim/relay/retry"
	"github.com/casualjim/relay/sessionlog"
	"github.com/casualjim/relay/stream"
	"github.com/fogfish/opts"
)

// Sink receives the deltas of one run. Send blocks until the delta was
// accepted; an error means the client is gone.
type Sink interface {
	Send(ctx context.Context, delta messages.Delta) error
	Close() error
}

// Request is one user turn.
type Request struct {
	// SessionID groups runs of the same client. Generated when empty.
	SessionID string
	Prompt    string
	// Sender labels the user message; defaults to messages.DefaultUserSender.
	Sender string
}

// Outcome is the terminal result of a run.
type Outcome struct {
	State     State
	SessionID string
	// MessageID is stamped on every delta of the run and becomes the id of
	// the assistant message.
	MessageID string
	// User and Message are only set for Completed runs.
	User    *messages.Message
	Message *messages.Message
	Err     error
	// Attempts counts upstream calls; 0 in fallback mode.
	Attempts int
}

// Relay is safe for concurrent use; every Run owns its own upstream stream
// and answer buffer.
type Relay struct {
	log           *sessionlog.Log
	provider      provider.Provider
	fallback      provider.Provider
	credential    string
	policy        retry.Policy
	request       provider.Request
	logger        *slog.Logger
	assistantName string
	clock         func() time.Time
	ids           uuidx.Generator
}

var (
	// WithProvider sets the upstream used when a credential is configured.
	WithProvider = opts.ForName[Relay, provider.Provider]("provider")
	// WithFallback replaces the provider used in fallback mode.
	WithFallback = opts.ForName[Relay, provider.Provider]("fallback")
	// WithCredential records the configured upstream credential. An empty
	// credential selects fallback mode.
	WithCredential = opts.ForName[Relay, string]("credential")
	WithPolicy     = opts.ForName[Relay, retry.Policy]("policy")
	// WithRequestDefaults sets the generation parameters sent upstream.
	WithRequestDefaults = opts.ForName[Relay, provider.Request]("request")
	WithLogger          = opts.ForName[Relay, *slog.Logger]("logger")
	WithAssistantName   = opts.ForName[Relay, string]("assistantName")
	WithClock           = opts.ForName[Relay, func() time.Time]("clock")
	WithIDs             = opts.ForName[Relay, uuidx.Generator]("ids")
)

// New creates a relay committing to log.
func New(log *sessionlog.Log, options ...opts.Option[Relay]) *Relay {
	if log == nil {
		panic("relay: a session log is required")
	}
	r := &Relay{
		log:           log,
		policy:        retry.DefaultPolicy(),
		assistantName: messages.DefaultAssistantSender,
		clock:         time.Now,
		ids:           uuidx.NewString,
	}
	if err := opts.Apply(r, options); err != nil {
		panic(err)
	}
	if r.fallback == nil {
		r.fallback = fallback.New()
	}
	r.logger = slogx.Named(r.logger, "relay")
	if r.policy.Logger == nil {
		r.policy.Logger = r.logger
	}
	return r
}

// Log is the session log the relay commits to.
func (r *Relay) Log() *sessionlog.Log {
	return r.log
}

// FallbackMode reports whether runs bypass the upstream.
func (r *Relay) FallbackMode() bool {
	return r.provider == nil || strings.TrimSpace(r.credential) == ""
}

// StreamingAvailable reports whether a real upstream can be used: a provider
// is configured and the credential is well formed.
func (r *Relay) StreamingAvailable() bool {
	return r.provider != nil && provider.ValidCredential(r.credential)
}

// Run drives one exchange to a terminal state. The sink is closed before Run returns.
func (r *Relay) Run(ctx context.Context, req Request, sink Sink) Outcome {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := Outcome{
		State:     Idle,
		SessionID: req.SessionID,
		MessageID: r.ids(),
	}
	if out.SessionID == "" {
		out.SessionID = r.ids()
	}
	logger := r.logger.With(slogx.SessionID(out.SessionID), slog.String("message_id", out.MessageID))

	defer func() {
		if err := sink.Close(); err != nil {
			logger.DebugContext(ctx, "closing sink", slogx.Error(err))
		}
	}()

	user := messages.NewUser(r.ids(), req.Sender, req.Prompt, r.clock())

	out.State = Connecting
	if err := sink.Send(ctx, messages.Connecting(out.MessageID)); err != nil {
		return r.cancelled(ctx, logger, out, err)
	}

	strm, variant, err := r.open(ctx, req.Prompt, &out)
	if err != nil {
		if ctx.Err() != nil {
			return r.cancelled(ctx, logger, out, err)
		}
		return r.failed(ctx, logger, sink, out, err)
	}
	defer strm.Close()

	out.State = Streaming
	dec := stream.NewDecoder(strm, stream.ExtractorFor(variant), stream.Logger(logger))
	var answer strings.Builder

	for {
		delta, err := dec.Next()
		if err != nil {
			if ctx.Err() != nil {
				return r.cancelled(ctx, logger, out, err)
			}
			return r.failed(ctx, logger, sink, out, err)
		}
		delta = delta.WithMessageID(out.MessageID)

		if delta.Error {
			return r.failed(ctx, logger, sink, out, &provider.Error{Kind: provider.Unknown, Message: delta.Content})
		}

		if delta.IsComplete {
			ai := messages.NewAssistant(out.MessageID, r.assistantName, answer.String(), r.clock())
			// ids are generated here; a collision is a bug
			stdx.Mustf(r.log.Append(user, ai), "relay: committing exchange")
			out.State = Completed
			out.User, out.Message = &user, &ai

			if err := sink.Send(ctx, delta); err != nil {
				logger.DebugContext(ctx, "terminal delta not delivered", slogx.Error(err))
			}
			logger.InfoContext(ctx, "exchange completed",
				slog.Int("attempts", out.Attempts),
				slog.Int("length", answer.Len()),
				slog.Int("skipped_frames", dec.Skipped()),
			)
			return out
		}

		answer.WriteString(delta.Content)
		if err := sink.Send(ctx, delta); err != nil {
			return r.cancelled(ctx, logger, out, err)
		}
	}
}

func (r *Relay) open(ctx context.Context, prompt string, out *Outcome) (*provider.Stream, string, error) {
	req := r.request
	req.Prompt = prompt

	if r.FallbackMode() {
		strm, err := r.fallback.Open(ctx, req)
		return strm, r.fallback.Variant(), err
	}

	strm, err := retry.Do(ctx, r.policy, func(ctx context.Context, attempt int) (*provider.Stream, error) {
		out.Attempts = attempt + 1
		return r.provider.Open(ctx, req)
	})
	return strm, r.provider.Variant(), err
}

func (r *Relay) failed(ctx context.Context, logger *slog.Logger, sink Sink, out Outcome, err error) Outcome {
	out.State = Failed
	out.Err = err

	logger.WarnContext(ctx, "exchange failed",
		slogx.Error(err),
		slog.String("kind", provider.KindOf(err).String()),
		slog.Int("attempts", out.Attempts),
	)
	if sendErr := sink.Send(ctx, messages.Failure(out.MessageID, FailureCopy(err))); sendErr != nil {
		logger.DebugContext(ctx, "error delta not delivered", slogx.Error(sendErr))
	}
	return out
}

func (r *Relay) cancelled(ctx context.Context, logger *slog.Logger, out Outcome, err error) Outcome {
	during := out.State
	out.State = Cancelled
	if cause := context.Cause(ctx); cause != nil {
		out.Err = cause
	} else {
		out.Err = err
	}
	logger.InfoContext(ctx, "exchange cancelled", slogx.Error(out.Err), slog.String("during", during.String()))
	return out
}
