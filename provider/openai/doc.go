/*
Package openai implements provider.Provider on top of the OpenAI Chat
Completions API.

# Design Decisions

  - Raw stream: the SDK builds and sends the request, but the response body is
    handed back untouched so the relay's own reassembler does the framing
  - One attempt per call: the SDK's built-in retries are disabled, retrying is
    the retry package's job
  - Fail fast: a key that is missing or not "sk-" prefixed is rejected before
    any request is built
  - Two deadlines: Timeout bounds the time to response headers, StreamTimeout
    bounds the whole life of the stream

# Usage

	p := openai.New(os.Getenv("OPENAI_API_KEY"),
		openai.Timeout(30*time.Second),
		openai.RequestOptions(option.WithBaseURL("https://api.openai.com/v1/")),
	)

	strm, err := p.Open(ctx, provider.Request{Prompt: "hello"})
	if err != nil {
		return err // *provider.Error, or the context error on cancellation
	}
	defer strm.Close()
	dec := stream.NewDecoder(strm, stream.ExtractorFor(p.Variant()))
*/
package openai
