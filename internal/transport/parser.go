package transport

import (
	"encoding/json"
	"fmt"

	"github.com/opencoach/chatsync/internal/model"
)

// ParseMessage decodes a receive_message payload. Sender, receiver,
// conversation and id are required; anything less is malformed.
func ParseMessage(payload json.RawMessage) (*model.Message, error) {
	var m model.Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if m.ID == "" || m.ConversationID == "" || m.Sender == "" || m.Receiver == "" {
		return nil, fmt.Errorf("%w: receive_message missing identity fields", ErrMalformedEvent)
	}
	return &m, nil
}

// ParseUserStatus decodes a user_status payload.
func ParseUserStatus(payload json.RawMessage) (*UserStatus, error) {
	var s UserStatus
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if s.Participant == "" {
		return nil, fmt.Errorf("%w: user_status missing participant", ErrMalformedEvent)
	}
	if s.Status != "online" && s.Status != "offline" {
		return nil, fmt.Errorf("%w: user_status has status %q", ErrMalformedEvent, s.Status)
	}
	return &s, nil
}

// ParseTypingSignal decodes typing / stop_typing payloads.
func ParseTypingSignal(payload json.RawMessage) (*TypingSignal, error) {
	var sig TypingSignal
	if err := json.Unmarshal(payload, &sig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if sig.Participant == "" {
		return nil, fmt.Errorf("%w: typing signal missing participant", ErrMalformedEvent)
	}
	return &sig, nil
}

// ParseMessagesRead decodes a messages_read payload into a conversation id.
func ParseMessagesRead(payload json.RawMessage) (string, error) {
	var body struct {
		ConversationID string `json:"conversationId"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if body.ConversationID == "" {
		return "", fmt.Errorf("%w: messages_read missing conversationId", ErrMalformedEvent)
	}
	return body.ConversationID, nil
}

// ParseError decodes an error payload into its message text.
func ParseError(payload json.RawMessage) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return "unreadable error event"
	}
	return body.Message
}
