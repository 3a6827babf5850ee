package uuidx

import (
	"strconv"

	"github.com/google/uuid"
)

// New generates a time-ordered (version 7) UUID.
// Message and session identifiers sort by creation time, which keeps log
// output and snapshots easy to correlate.
// It panics if the random source fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString returns New() in its canonical string form.
func NewString() string {
	return New().String()
}

// Generator produces identifiers. The relay takes one so tests can supply
// predictable ids.
type Generator func() string

// Sequence returns a Generator that yields prefix-1, prefix-2, ...
// It is not safe for concurrent use.
func Sequence(prefix string) Generator {
	var n int
	return func() string {
		n++
		return prefix + "-" + strconv.Itoa(n)
	}
}
