// Package transport provides the sinks a relay run writes its deltas to.
//
// SSE frames every delta as `data: <json>\n\n` on an HTTP response and flushes
// it immediately. Publisher forwards deltas to a broker topic so other
// observers can follow a session. Tee combines a client sink with observers,
// and Collector buffers a run in memory for callers that want the whole
// answer at once.
package transport
