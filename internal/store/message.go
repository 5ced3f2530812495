package store

import (
	"slices"
	"sync"
	"time"

	"github.com/opencoach/chatsync/internal/model"
)

// MessageStore holds every known message, ordered per conversation by
// (timestamp, insertion sequence). Messages are never removed; the only
// mutation after insert is the read flag. The sync engine is the single
// writer, readers may be concurrent.
type MessageStore struct {
	mu       sync.RWMutex
	byID     map[string]*model.Message
	byConv   map[string][]*model.Message // ascending by OrderKey
	seq      int64
	onChange func(conversationID string)
}

// NewMessageStore creates an empty message store.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		byID:   make(map[string]*model.Message),
		byConv: make(map[string][]*model.Message),
	}
}

// SetOnChange registers a callback invoked (outside the store lock) after
// every upsert that changed the set, with the owning conversation id. The
// conversation store registers its summary recompute here.
func (s *MessageStore) SetOnChange(fn func(conversationID string)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Upsert inserts the message if its id is unknown and reports whether it was
// inserted. A message with a known id is left untouched, which makes
// re-ingesting transport retries and history refetches safe.
func (s *MessageStore) Upsert(m model.Message) bool {
	s.mu.Lock()
	if _, ok := s.byID[m.ID]; ok {
		s.mu.Unlock()
		return false
	}
	if m.Seq == 0 {
		s.seq++
		m.Seq = s.seq
	} else if m.Seq > s.seq {
		s.seq = m.Seq
	}
	stored := m
	s.byID[m.ID] = &stored

	list := s.byConv[m.ConversationID]
	idx, _ := slices.BinarySearchFunc(list, &stored, func(a, b *model.Message) int {
		if a.Key().Less(b.Key()) {
			return -1
		}
		if b.Key().Less(a.Key()) {
			return 1
		}
		return 0
	})
	s.byConv[m.ConversationID] = slices.Insert(list, idx, &stored)
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn(m.ConversationID)
	}
	return true
}

// Get returns a copy of the message with the given id.
func (s *MessageStore) Get(id string) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return model.Message{}, false
	}
	return *m, true
}

// ListByConversation returns the conversation's messages in total order.
func (s *MessageStore) ListByConversation(conversationID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.byConv[conversationID]
	out := make([]model.Message, len(list))
	for i, m := range list {
		out[i] = *m
	}
	return out
}

// MarkRead flags as read every message in the conversation addressed to
// localUser with a timestamp at or before upTo. Returns how many messages
// changed.
func (s *MessageStore) MarkRead(conversationID string, upTo time.Time, localUser string) int {
	s.mu.Lock()
	changed := 0
	for _, m := range s.byConv[conversationID] {
		if m.Timestamp.After(upTo) {
			break
		}
		if m.Receiver == localUser && !m.Read {
			m.Read = true
			changed++
		}
	}
	fn := s.onChange
	s.mu.Unlock()

	if changed > 0 && fn != nil {
		fn(conversationID)
	}
	return changed
}

// UnreadCount counts messages in the conversation addressed to localUser
// that are still unread.
func (s *MessageStore) UnreadCount(conversationID, localUser string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.byConv[conversationID] {
		if m.Receiver == localUser && !m.Read {
			n++
		}
	}
	return n
}

// Latest returns the conversation's greatest message by order key.
func (s *MessageStore) Latest(conversationID string) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.byConv[conversationID]
	if len(list) == 0 {
		return model.Message{}, false
	}
	return *list[len(list)-1], true
}

// Len returns the total number of stored messages.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Snapshot returns a copy of every message for persistence.
func (s *MessageStore) Snapshot() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Message, 0, len(s.byID))
	for _, list := range s.byConv {
		for _, m := range list {
			out = append(out, *m)
		}
	}
	return out
}

// Restore replaces the store contents with a cached snapshot. The insertion
// sequence counter resumes past the highest restored value so new messages
// keep sorting after restored ties.
func (s *MessageStore) Restore(msgs []model.Message) {
	s.mu.Lock()
	s.byID = make(map[string]*model.Message, len(msgs))
	s.byConv = make(map[string][]*model.Message)
	s.seq = 0
	s.mu.Unlock()
	for _, m := range msgs {
		s.Upsert(m)
	}
}
