// Package messages defines the two value types that flow through the relay:
// Message, one immutable entry in the session log, and Delta, one increment
// of an answer that is still being streamed.
//
// Design decisions:
//   - Messages are values: they are created once per user turn and once per
//     completed assistant turn and never mutated afterwards
//   - Deltas are transient: they are produced and consumed within one exchange
//     and never stored
//   - Wire shape first: Delta marshals to the exact frame payload clients
//     consume ({content, isComplete, messageId, error?})
//   - Tolerant decoding: unknown fields are ignored so other producers of the
//     same framing can be read back
//
// Example usage:
//
//	user := messages.NewUser(ids(), "User", "hello", time.Now())
//	d := messages.Fragment(answerID, "Hel")
//	payload, _ := d.MarshalJSON() // {"content":"Hel","isComplete":false,"messageId":"..."}
package messages
