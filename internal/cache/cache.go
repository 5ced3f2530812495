// Package cache is the persistence port for the normalized chat state.
// Three keyed entries (conversations, messages, active conversation id) are
// serialized as JSON into a durable local store. A missing or corrupt entry
// hydrates as empty; bootstrap then falls through to REST or the synthetic
// personas, so cache damage is never fatal.
package cache

import (
	"encoding/json"
	"fmt"

	"github.com/opencoach/chatsync/internal/model"
	"go.uber.org/zap"
)

// Entry keys.
const (
	keyConversations = "conversations"
	keyMessages      = "messages"
	keyActive        = "active_conversation"
)

// State is the full persisted snapshot.
type State struct {
	Conversations        []model.Conversation
	Messages             []model.Message
	ActiveConversationID string
}

// Empty reports whether the snapshot carries no conversations.
func (s *State) Empty() bool {
	return s == nil || len(s.Conversations) == 0
}

// Port loads and saves the normalized state.
type Port interface {
	Load() (*State, error)
	Save(*State) error
	Close() error
}

// Open creates a Port for the configured backend ("sqlite" or "pebble").
func Open(backend, path string, logger *zap.Logger) (Port, error) {
	switch backend {
	case "", "sqlite":
		return OpenSQLite(path, logger)
	case "pebble":
		return OpenPebble(path, logger)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}

// cachedMessage carries the local insertion sequence, which is excluded from
// the wire JSON but must survive a cache round-trip so restored timestamp
// ties keep their order.
type cachedMessage struct {
	model.Message
	Seq int64 `json:"seq"`
}

func encodeMessages(msgs []model.Message) ([]byte, error) {
	out := make([]cachedMessage, len(msgs))
	for i, m := range msgs {
		out[i] = cachedMessage{Message: m, Seq: m.Seq}
	}
	return json.Marshal(out)
}

func decodeMessages(data []byte) ([]model.Message, error) {
	var cached []cachedMessage
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	out := make([]model.Message, len(cached))
	for i, cm := range cached {
		m := cm.Message
		m.Seq = cm.Seq
		out[i] = m
	}
	return out, nil
}

// decodeState assembles a State from the three raw entries, tolerating
// missing (nil) and corrupt values.
func decodeState(convs, msgs, active []byte, logger *zap.Logger) *State {
	st := &State{}
	if len(convs) > 0 {
		if err := json.Unmarshal(convs, &st.Conversations); err != nil {
			logger.Warn("corrupt conversations entry, ignoring", zap.Error(err))
			st.Conversations = nil
		}
	}
	if len(msgs) > 0 {
		decoded, err := decodeMessages(msgs)
		if err != nil {
			logger.Warn("corrupt messages entry, ignoring", zap.Error(err))
		} else {
			st.Messages = decoded
		}
	}
	if len(active) > 0 {
		st.ActiveConversationID = string(active)
	}
	return st
}

func encodeState(st *State) (convs, msgs, active []byte, err error) {
	convs, err = json.Marshal(st.Conversations)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal conversations: %w", err)
	}
	msgs, err = encodeMessages(st.Messages)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal messages: %w", err)
	}
	return convs, msgs, []byte(st.ActiveConversationID), nil
}
