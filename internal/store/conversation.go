package store

import (
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/opencoach/chatsync/internal/model"
)

const previewLen = 100

// Filter selects which conversations List returns.
type Filter int

const (
	FilterOpen Filter = iota
	FilterArchived
	FilterAll
)

// ConversationStore holds conversation summaries. Unread counts and
// last-message fields are always recomputed from the message store rather
// than trusted from callers, so the two can never drift apart.
type ConversationStore struct {
	mu        sync.RWMutex
	msgs      *MessageStore
	localUser string
	byID      map[string]*model.Conversation
}

// NewConversationStore creates an empty conversation store backed by msgs.
// It registers itself for summary recompute on every message change.
func NewConversationStore(msgs *MessageStore, localUser string) *ConversationStore {
	s := &ConversationStore{
		msgs:      msgs,
		localUser: localUser,
		byID:      make(map[string]*model.Conversation),
	}
	msgs.SetOnChange(s.Recompute)
	return s
}

// Upsert merges the conversation by id. The caller's archived/synthetic
// flags win; participants are immutable after creation; summary fields are
// recomputed from the message store.
func (s *ConversationStore) Upsert(c model.Conversation) {
	s.mu.Lock()
	if existing, ok := s.byID[c.ID]; ok {
		existing.Archived = c.Archived
		existing.Synthetic = c.Synthetic
	} else {
		stored := c
		s.byID[c.ID] = &stored
	}
	s.recomputeLocked(c.ID)
	s.mu.Unlock()
}

// Recompute refreshes unreadCount, lastMessagePreview and lastMessageAt for
// the conversation from the message store. Unknown ids are ignored, which
// covers late auto-responder replies for conversations no longer tracked.
func (s *ConversationStore) Recompute(id string) {
	s.mu.Lock()
	s.recomputeLocked(id)
	s.mu.Unlock()
}

func (s *ConversationStore) recomputeLocked(id string) {
	c, ok := s.byID[id]
	if !ok {
		return
	}
	c.UnreadCount = s.msgs.UnreadCount(id, s.localUser)
	if latest, ok := s.msgs.Latest(id); ok {
		c.LastMessagePreview = truncate(latest.Content, previewLen)
		c.LastMessageAt = latest.Timestamp
	}
}

// Get returns a copy of the conversation with the given id.
func (s *ConversationStore) Get(id string) (model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return model.Conversation{}, false
	}
	return *c, true
}

// FindByParticipant returns the conversation involving the given counterpart
// email, if one exists.
func (s *ConversationStore) FindByParticipant(email string) (model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.byID {
		if c.Has(email) {
			return *c, true
		}
	}
	return model.Conversation{}, false
}

// List returns conversations matching the filter, newest activity first.
func (s *ConversationStore) List(f Filter) []model.Conversation {
	s.mu.RLock()
	out := make([]model.Conversation, 0, len(s.byID))
	for _, c := range s.byID {
		switch f {
		case FilterOpen:
			if c.Archived {
				continue
			}
		case FilterArchived:
			if !c.Archived {
				continue
			}
		}
		out = append(out, *c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SetArchived flips the archived flag. Returns false for unknown ids.
func (s *ConversationStore) SetArchived(id string, archived bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return false
	}
	c.Archived = archived
	return true
}

// Len returns the number of tracked conversations.
func (s *ConversationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Snapshot returns a copy of every conversation for persistence.
func (s *ConversationStore) Snapshot() []model.Conversation {
	return s.List(FilterAll)
}

// Restore replaces the store contents with a cached snapshot and recomputes
// every summary against the (already restored) message store.
func (s *ConversationStore) Restore(convs []model.Conversation) {
	s.mu.Lock()
	s.byID = make(map[string]*model.Conversation, len(convs))
	for _, c := range convs {
		stored := c
		s.byID[c.ID] = &stored
		s.recomputeLocked(c.ID)
	}
	s.mu.Unlock()
}

// truncate cuts on a rune boundary so multibyte content never yields an
// invalid preview.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
