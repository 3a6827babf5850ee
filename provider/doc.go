// Package provider defines the contract between the relay and an upstream
// language-model completion service, and the classification of everything
// that can go wrong while talking to one.
//
// Design decisions:
//   - One call, one stream: Open performs exactly one outbound request and
//     hands back the raw response body; framing is left to the stream package
//   - Classified failures: every failure surfaces as *Error carrying a Kind,
//     so retry policy and user-facing copy are decided from data, not strings
//   - Fail fast: a credential that cannot be right is rejected before any
//     network I/O happens
//   - Variants: each provider names the payload shape it streams so the right
//     content extractor can be picked without touching framing code
//
// Key concepts:
//   - Provider: opens a completion stream for a Request
//   - Stream: a live, cancellable response body plus its HTTP status
//   - Kind: AuthInvalid, RateLimited, ServerUnavailable, Timeout, Malformed, Unknown
//
// Example usage:
//
//	strm, err := p.Open(ctx, provider.Request{Prompt: "hello"})
//	if err != nil {
//	    if provider.KindOf(err) == provider.RateLimited {
//	        // wait and try again
//	    }
//	    return err
//	}
//	defer strm.Close()
package provider
