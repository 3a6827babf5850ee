package messages

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var deltaJSON = []byte(`{"content":""}`)

// Delta is one increment of an in-progress assistant answer.
type Delta struct {
	Content    string `json:"content"`
	IsComplete bool   `json:"isComplete"`
	MessageID  string `json:"messageId"`
	Error      bool   `json:"error,omitempty"`
}

// Connecting is the interim delta pushed before the upstream produced anything.
func Connecting(messageID string) Delta {
	return Delta{MessageID: messageID}
}

// Fragment carries one piece of answer content.
func Fragment(messageID, content string) Delta {
	return Delta{Content: content, MessageID: messageID}
}

// Done is the terminal delta of a successful answer.
func Done(messageID string) Delta {
	return Delta{IsComplete: true, MessageID: messageID}
}

// Failure is the single terminal delta of an exchange that could not complete.
func Failure(messageID, text string) Delta {
	return Delta{Content: text, IsComplete: true, MessageID: messageID, Error: true}
}

// WithMessageID returns a copy of d stamped with id.
func (d Delta) WithMessageID(id string) Delta {
	d.MessageID = id
	return d
}

// MarshalJSON renders the frame payload. The error flag is only present when set.
func (d Delta) MarshalJSON() ([]byte, error) {
	result, err := sjson.SetBytes(deltaJSON, "content", d.Content)
	if err != nil {
		return nil, err
	}

	result, err = sjson.SetBytes(result, "isComplete", d.IsComplete)
	if err != nil {
		return nil, err
	}

	result, err = sjson.SetBytes(result, "messageId", d.MessageID)
	if err != nil {
		return nil, err
	}

	if d.Error {
		result, err = sjson.SetBytes(result, "error", true)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// UnmarshalJSON reads a frame payload. Every field is optional.
func (d *Delta) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid json: %s", data)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return fmt.Errorf("delta payload must be an object, got %s", root.Type)
	}

	d.Content = root.Get("content").String()
	d.IsComplete = root.Get("isComplete").Bool()
	d.MessageID = root.Get("messageId").String()
	d.Error = root.Get("error").Bool()
	return nil
}
