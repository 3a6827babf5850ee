package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/casualjim/relay/pkg/slogx"
	"github.com/casualjim/relay/provider"
	"github.com/fogfish/opts"
	"github.com/go-openapi/swag"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	// VariantName is the payload shape of Chat Completions stream frames.
	VariantName = "openai"

	DefaultTimeout       = 30 * time.Second
	DefaultStreamTimeout = 5 * time.Minute
)

var errConnectTimeout = errors.New("upstream did not respond before the attempt deadline")

var _ provider.Provider = (*Provider)(nil)

// Provider opens Chat Completions streams.
type Provider struct {
	client         *openai.Client
	apiKey         string
	defaults       provider.Request
	timeout        time.Duration
	streamTimeout  time.Duration
	requestOptions []option.RequestOption
	logger         *slog.Logger
}

var (
	// Timeout bounds the time until the upstream answers with response headers.
	Timeout = opts.ForName[Provider, time.Duration]("timeout")
	// StreamTimeout bounds the total lifetime of an open stream.
	StreamTimeout = opts.ForName[Provider, time.Duration]("streamTimeout")
	// Defaults supplies generation parameters used when a request leaves them unset.
	Defaults = opts.ForName[Provider, provider.Request]("defaults")
	// Logger sets the logger.
	Logger = opts.ForName[Provider, *slog.Logger]("logger")
)

// RequestOptions appends SDK request options (base URL, organization, HTTP client, ...).
func RequestOptions(options ...option.RequestOption) opts.Option[Provider] {
	return opts.Type[Provider](func(p *Provider) error {
		p.requestOptions = append(p.requestOptions, options...)
		return nil
	})
}

// New creates a provider for the given API key. The key is only validated
// when a stream is opened.
func New(apiKey string, options ...opts.Option[Provider]) *Provider {
	p := &Provider{
		apiKey:        apiKey,
		timeout:       DefaultTimeout,
		streamTimeout: DefaultStreamTimeout,
	}
	if err := opts.Apply(p, options); err != nil {
		panic(err)
	}
	if p.timeout <= 0 {
		p.timeout = DefaultTimeout
	}
	if p.streamTimeout <= 0 {
		p.streamTimeout = DefaultStreamTimeout
	}
	p.logger = slogx.Named(p.logger, "openai")

	clientOpts := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, p.requestOptions...)
	p.client = openai.NewClient(clientOpts...)
	return p
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) Variant() string { return VariantName }

// Open performs one streaming Chat Completions call.
func (p *Provider) Open(ctx context.Context, req provider.Request) (*provider.Stream, error) {
	if !provider.ValidCredential(p.apiKey) {
		return nil, provider.ErrAuthInvalid("api key is missing or malformed")
	}

	params := buildRequest(p.merge(req))

	streamCtx, cancelStream := context.WithTimeout(ctx, p.streamTimeout)
	attemptCtx, cancelAttempt := context.WithCancelCause(streamCtx)
	release := func() {
		cancelAttempt(context.Canceled)
		cancelStream()
	}
	deadline := time.AfterFunc(p.timeout, func() { cancelAttempt(errConnectTimeout) })

	var res *http.Response
	err := p.client.Post(attemptCtx, "chat/completions", params, &res,
		option.WithJSONSet("stream", true),
		option.WithHeader("Accept", "text/event-stream"),
	)
	inTime := deadline.Stop()
	if err != nil {
		cause := context.Cause(attemptCtx)
		release()
		return nil, classify(ctx, cause, err)
	}
	if !inTime {
		// headers arrived just as the deadline fired; the body is already cancelled
		_ = res.Body.Close()
		release()
		return nil, &provider.Error{Kind: provider.Timeout, Err: errConnectTimeout}
	}

	p.logger.DebugContext(ctx, "upstream stream opened",
		slog.Int("status", res.StatusCode),
		slog.String("model", params.Model.Value),
	)
	return provider.NewStream(res.Body, res.StatusCode, release), nil
}

func (p *Provider) merge(req provider.Request) provider.Request {
	if req.Model == "" {
		req.Model = p.defaults.Model
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = p.defaults.MaxTokens
	}
	if req.Temperature == nil {
		req.Temperature = p.defaults.Temperature
	}
	if req.SystemPrompt == "" {
		req.SystemPrompt = p.defaults.SystemPrompt
	}
	return req.WithDefaults()
}

func buildRequest(req provider.Request) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.SystemPrompt),
			openai.UserMessageParts(openai.TextPart(req.Prompt)),
		}),
		Model:       openai.F(req.Model),
		MaxTokens:   openai.Int(req.MaxTokens),
		Temperature: openai.Float(swag.Float64Value(req.Temperature)),
	}
}

func classify(parent context.Context, cause, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		header := http.Header{}
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		pErr := provider.ClassifyStatus(apiErr.StatusCode, header, nil)
		pErr.Message = apiErr.Message
		pErr.Err = apiErr
		return pErr
	}

	if errors.Is(cause, errConnectTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return &provider.Error{Kind: provider.Timeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &provider.Error{Kind: provider.Timeout, Err: err}
	}
	return &provider.Error{Kind: provider.Unknown, Err: fmt.Errorf("openai request: %w", err)}
}
