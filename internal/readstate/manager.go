// Package readstate marks conversations read and propagates the receipt.
package readstate

import (
	"context"

	"github.com/opencoach/chatsync/internal/store"
	"github.com/opencoach/chatsync/internal/transport"
	"go.uber.org/zap"
)

// Manager flips read flags and notifies the remote side. It is invoked from
// the sync engine's event loop, preserving the single-writer discipline on
// the stores.
type Manager struct {
	msgs      *store.MessageStore
	convs     *store.ConversationStore
	client    transport.Client
	localUser string
	logger    *zap.Logger
}

// NewManager creates a read state manager.
func NewManager(msgs *store.MessageStore, convs *store.ConversationStore, client transport.Client, localUser string, logger *zap.Logger) *Manager {
	return &Manager{
		msgs:      msgs,
		convs:     convs,
		client:    client,
		localUser: localUser,
		logger:    logger,
	}
}

// MarkConversationRead marks every message addressed to the local user in
// the conversation as read, recomputes the summary (to zero unread), and
// emits a read receipt for real conversations. Synthetic conversations have
// no remote party to notify. Returns how many messages changed.
func (m *Manager) MarkConversationRead(ctx context.Context, conversationID string) int {
	conv, ok := m.convs.Get(conversationID)
	if !ok {
		return 0
	}

	latest, ok := m.msgs.Latest(conversationID)
	if !ok {
		return 0
	}
	changed := m.msgs.MarkRead(conversationID, latest.Timestamp, m.localUser)
	if changed == 0 {
		return 0
	}

	if !conv.Synthetic && m.client != nil {
		if err := m.client.MarkAsRead(ctx, conversationID, m.localUser); err != nil {
			// Receipt loss is recoverable on reconnect; local state stands.
			m.logger.Warn("read receipt not delivered",
				zap.String("conversation", conversationID), zap.Error(err))
		}
	}
	return changed
}
