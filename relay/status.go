package relay

import (
	"strings"

	"github.com/casualjim/relay/provider"
)

const (
	StatusReady         = "✅ The API key is configured correctly; streaming is available."
	StatusInvalidFormat = "⚠️ The API key format is invalid; check the configuration."
	StatusMissing       = "❌ No API key found; set OPENAI_API_KEY."
)

// Status describes whether the relay can reach a real upstream.
type Status struct {
	HasAPIKey       bool   `json:"hasApiKey"`
	IsValid         bool   `json:"isValid"`
	CanUseStreaming bool   `json:"canUseStreaming"`
	FallbackMode    bool   `json:"fallbackMode"`
	Provider        string `json:"provider,omitempty"`
	Message         string `json:"message"`
}

func (r *Relay) Status() Status {
	st := Status{
		HasAPIKey:       strings.TrimSpace(r.credential) != "",
		IsValid:         provider.ValidCredential(r.credential),
		CanUseStreaming: r.StreamingAvailable(),
		FallbackMode:    r.FallbackMode(),
	}
	if r.provider != nil {
		st.Provider = r.provider.Name()
	}

	switch {
	case st.IsValid:
		st.Message = StatusReady
	case st.HasAPIKey:
		st.Message = StatusInvalidFormat
	default:
		st.Message = StatusMissing
	}
	return st
}
