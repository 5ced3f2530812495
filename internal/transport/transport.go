// Package transport is the live publish/subscribe channel to the chat
// backend. Inbound events are parsed, validated and republished on the bus;
// outbound intents are JSON commands over a websocket. The sync engine only
// sees the Client interface, so tests inject a fake.
package transport

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/opencoach/chatsync/internal/model"
)

// ErrMalformedEvent marks an inbound event missing required fields. Such
// events are dropped, never fatal.
var ErrMalformedEvent = errors.New("malformed transport event")

// Inbound event types.
const (
	EvtReceiveMessage = "receive_message"
	EvtUserStatus     = "user_status"
	EvtTyping         = "typing"
	EvtStopTyping     = "stop_typing"
	EvtMessagesRead   = "messages_read"
	EvtError          = "error"
)

// Outbound command types.
const (
	CmdJoin        = "join"
	CmdSendMessage = "send_message"
	CmdTyping      = "typing"
	CmdStopTyping  = "stop_typing"
	CmdMarkAsRead  = "mark_as_read"
)

// Envelope is the wire format for both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// UserStatus is the payload of a user_status event.
type UserStatus struct {
	Participant string `json:"participant"`
	Status      string `json:"status"` // online | offline
}

// Online reports whether the status marks the participant online.
func (s UserStatus) Online() bool {
	return s.Status == "online"
}

// TypingSignal is the payload of typing / stop_typing events. The backend
// omits conversationId on participant-scoped signals; consumers resolve the
// conversation from the participant in that case.
type TypingSignal struct {
	ConversationID string `json:"conversationId,omitempty"`
	Participant    string `json:"participant"`
}

// Client is the outbound surface the engine and emitters depend on.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Join(ctx context.Context, participantEmail string) error
	SendMessage(ctx context.Context, m model.Message) error
	Typing(ctx context.Context, conversationID, participant string) error
	StopTyping(ctx context.Context, conversationID string) error
	MarkAsRead(ctx context.Context, conversationID, participant string) error
}
