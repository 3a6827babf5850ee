package messages

import (
	"time"

	"github.com/go-openapi/strfmt"
)

// DefaultUserSender labels user messages when the client does not name a sender.
const DefaultUserSender = "User"

// DefaultAssistantSender labels messages produced by the model.
const DefaultAssistantSender = "AI Assistant"

// Message is one entry of the session transcript.
type Message struct {
	ID        string          `json:"id"`
	Content   string          `json:"content"`
	Sender    string          `json:"sender"`
	Timestamp strfmt.DateTime `json:"timestamp"`
	IsAI      bool            `json:"isAI"`
}

// NewUser creates the message for a user turn.
func NewUser(id, sender, content string, at time.Time) Message {
	if sender == "" {
		sender = DefaultUserSender
	}
	return Message{
		ID:        id,
		Content:   content,
		Sender:    sender,
		Timestamp: strfmt.DateTime(at.UTC()),
	}
}

// NewAssistant creates the message for a completed assistant turn.
func NewAssistant(id, sender, content string, at time.Time) Message {
	if sender == "" {
		sender = DefaultAssistantSender
	}
	return Message{
		ID:        id,
		Content:   content,
		Sender:    sender,
		Timestamp: strfmt.DateTime(at.UTC()),
		IsAI:      true,
	}
}
