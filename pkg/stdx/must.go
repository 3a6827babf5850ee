// Package stdx holds helpers for invariants that cannot fail at runtime
// unless the program itself is wrong.
package stdx

import "fmt"

// Must0 panics when err is not nil.
func Must0(err error) {
	if err != nil {
		panic(err)
	}
}

// Must1 returns v, or panics when err is not nil.
func Must1[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

// Mustf panics with err wrapped in the formatted message when err is not nil.
// The panic value is an error, so errors.Is still matches err after a recover.
func Mustf(err error, format string, args ...any) {
	if err != nil {
		panic(fmt.Errorf(format+": %w", append(args, err)...))
	}
}
