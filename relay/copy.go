package relay

import (
	"errors"

	"github.com/casualjim/relay/provider"
)

const (
	CopyAuthInvalid = "❌ The API key is invalid. Check that OPENAI_API_KEY is configured correctly."
	CopyRateLimited = "⚠️ The AI service is receiving too many requests. Please try again in a moment."
	CopyUnavailable = "🔧 The AI service is temporarily unavailable. Please try again later."
	CopyGeneric     = "Sorry, I could not generate an answer. Please try again."
)

// FailureCopy is the user-facing text for a failed exchange.
func FailureCopy(err error) string {
	var pErr *provider.Error
	if !errors.As(err, &pErr) {
		return CopyGeneric
	}
	switch pErr.Kind {
	case provider.AuthInvalid:
		return CopyAuthInvalid
	case provider.RateLimited:
		return CopyRateLimited
	case provider.ServerUnavailable:
		return CopyUnavailable
	default:
		return CopyGeneric
	}
}
