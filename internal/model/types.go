package model

import "time"

// Participant identifies one side of a conversation. Immutable once the
// conversation exists; email is the identity key.
type Participant struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef,omitempty"`
	Role        string `json:"role,omitempty"`
}

// Conversation is a two-participant thread summary.
type Conversation struct {
	ID                 string         `json:"id"`
	Participants       [2]Participant `json:"participants"`
	LastMessagePreview string         `json:"lastMessagePreview"`
	LastMessageAt      time.Time      `json:"lastMessageTimestamp"`
	UnreadCount        int            `json:"unreadCount"`
	Archived           bool           `json:"archived"`
	Synthetic          bool           `json:"synthetic"`
}

// Counterpart returns the participant that is not the local user.
func (c *Conversation) Counterpart(localUser string) Participant {
	if c.Participants[0].Email == localUser {
		return c.Participants[1]
	}
	return c.Participants[0]
}

// Has reports whether email is one of the conversation's participants.
func (c *Conversation) Has(email string) bool {
	return c.Participants[0].Email == email || c.Participants[1].Email == email
}

// Message is a single chat message. Only the Read flag ever changes after
// creation; Seq is a local tie-breaker and never leaves this process over
// the wire (it is kept in the local cache so restores preserve order).
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Sender         string    `json:"sender"`
	Receiver       string    `json:"receiver"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	Read           bool      `json:"read"`
	Seq            int64     `json:"-"`
}

// Key returns the total-order key for this message.
func (m *Message) Key() OrderKey {
	return OrderKey{Timestamp: m.Timestamp, Seq: m.Seq}
}

// Involves reports whether email is the sender or the receiver.
func (m *Message) Involves(email string) bool {
	return m.Sender == email || m.Receiver == email
}

// OrderKey orders messages by (timestamp, insertion sequence).
type OrderKey struct {
	Timestamp time.Time
	Seq       int64
}

// Less reports whether k sorts strictly before o.
func (k OrderKey) Less(o OrderKey) bool {
	if !k.Timestamp.Equal(o.Timestamp) {
		return k.Timestamp.Before(o.Timestamp)
	}
	return k.Seq < o.Seq
}
