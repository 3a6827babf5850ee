package provider

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultRetryAfter is used when a rate-limited response does not say how long to wait.
const DefaultRetryAfter = time.Second

const maxErrorMessage = 512

// maxRetryAfterSeconds is the longest delta-seconds value a Duration can hold.
const maxRetryAfterSeconds = float64(math.MaxInt64) / float64(time.Second)

// Kind classifies an upstream failure.
type Kind uint8

const (
	Unknown Kind = iota
	AuthInvalid
	RateLimited
	ServerUnavailable
	Timeout
	Malformed
)

func (k Kind) String() string {
	switch k {
	case AuthInvalid:
		return "auth_invalid"
	case RateLimited:
		return "rate_limited"
	case ServerUnavailable:
		return "server_unavailable"
	case Timeout:
		return "timeout"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Retryable reports whether another attempt could succeed.
func (k Kind) Retryable() bool {
	return k != AuthInvalid && k != Malformed
}

// Error is a classified upstream failure.
type Error struct {
	Kind       Kind
	StatusCode int
	// RetryAfter is only meaningful for RateLimited.
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("upstream ")
	b.WriteString(e.Kind.String())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Kind == RateLimited {
		fmt.Fprintf(&b, " retry after %s", e.RetryAfter)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the classification carried by err, or Unknown.
func KindOf(err error) Kind {
	var pErr *Error
	if errors.As(err, &pErr) {
		return pErr.Kind
	}
	return Unknown
}

// ErrAuthInvalid reports a missing or malformed credential.
func ErrAuthInvalid(msg string) *Error {
	return &Error{Kind: AuthInvalid, Message: msg}
}

// ClassifyStatus turns a non-2xx response into an *Error.
func ClassifyStatus(status int, header http.Header, body []byte) *Error {
	e := &Error{
		StatusCode: status,
		Message:    errorMessage(body),
	}
	switch {
	case status == http.StatusUnauthorized:
		e.Kind = AuthInvalid
	case status == http.StatusTooManyRequests:
		e.Kind = RateLimited
		e.RetryAfter = ParseRetryAfter(header.Get("Retry-After"), time.Now())
	case status >= 500:
		e.Kind = ServerUnavailable
	default:
		e.Kind = Unknown
	}
	return e
}

// ParseRetryAfter reads a Retry-After value given in delta-seconds or as an
// HTTP date. Missing, invalid or non-positive values yield DefaultRetryAfter;
// values too large for a Duration saturate at math.MaxInt64.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return DefaultRetryAfter
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil || errors.Is(err, strconv.ErrRange) {
		switch {
		case math.IsNaN(secs), secs <= 0:
			return DefaultRetryAfter
		case secs >= maxRetryAfterSeconds:
			return time.Duration(math.MaxInt64)
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return DefaultRetryAfter
}

func errorMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error.message", "message", "error"} {
			if r := gjson.GetBytes(body, path); r.Exists() && r.Type == gjson.String {
				return truncate(r.String())
			}
		}
	}
	return truncate(strings.TrimSpace(string(body)))
}

func truncate(s string) string {
	if len(s) <= maxErrorMessage {
		return s
	}
	return strings.ToValidUTF8(s[:maxErrorMessage], "") + "..."
}

// ValidCredential reports whether key has the shape the upstream expects.
func ValidCredential(key string) bool {
	key = strings.TrimSpace(key)
	return len(key) > len("sk-") && strings.HasPrefix(key, "sk-")
}
