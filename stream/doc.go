// Package stream reassembles line-framed upstream completion streams into
// ordered deltas.
//
// Upstreams send `data: <payload>` lines separated by newlines. Network reads
// split those lines at arbitrary byte positions, including the middle of a
// multi-byte character, so the Decoder buffers raw bytes and only interprets
// a line once its terminating newline arrived. The output is therefore the
// same for every chunking of the same byte sequence.
//
// What a payload means depends on the upstream variant. An Extractor turns
// one payload into a Frame: a content fragment, a terminal marker, or an
// upstream-reported error. Extractors are registered by variant name:
//
//   - openai: choices.0.delta.content, terminated by the [DONE] sentinel
//   - relay: {"content","isComplete","error"}, the relay's own framing
//   - anthropic: delta.text, terminated by a message_stop event
//   - ollama: message.content, terminated by done:true
//
// Both terminal conventions are honoured by every variant: the literal [DONE]
// payload always ends the stream, and so does a payload the extractor marks
// as terminal. Whichever arrives first wins; everything after it is ignored.
//
// Malformed payloads are skipped and counted rather than failing the stream.
// Input that ends before any terminal is reported as ErrTruncated.
package stream
