// Package relay runs one prompt-to-answer exchange end to end.
//
// A Relay opens an upstream stream through the retry coordinator, reassembles
// it into deltas, forwards every delta to a Sink in arrival order and commits
// the finished exchange to the session log.
//
// Every run moves through the same states:
//
//	Idle → Connecting → Streaming → Completed
//	           │            │
//	           └────────────┴─────→ Failed | Cancelled
//
// Connecting starts by pushing an interim delta with empty content, so the
// client has feedback before the first token. Streaming forwards fragments
// and accumulates the answer. On the terminal delta the user message and the
// assistant message are appended to the log together, then the terminal delta
// is forwarded.
//
// Failed sends exactly one error delta (isComplete and error set) with copy
// chosen by the failure classification. Cancelled is reached when the
// context ends or the sink refuses a delta; nothing more is sent. Neither
// state touches the log, so a partial answer is never stored.
//
// Without a usable upstream the relay runs in fallback mode: the fallback
// provider is opened directly, without retries, and its fixed answer goes
// through the same pipeline and commit path.
package relay
