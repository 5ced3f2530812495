// Package sync owns every mutation of the conversation and message stores.
// A single goroutine ingests inbound bus traffic and user intents, so store
// writes never race; readers (TUI, persister) only ever see committed state.
package sync

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opencoach/chatsync/internal/bus"
	"github.com/opencoach/chatsync/internal/cache"
	"github.com/opencoach/chatsync/internal/clock"
	"github.com/opencoach/chatsync/internal/model"
	"github.com/opencoach/chatsync/internal/readstate"
	"github.com/opencoach/chatsync/internal/responder"
	"github.com/opencoach/chatsync/internal/rest"
	"github.com/opencoach/chatsync/internal/status"
	"github.com/opencoach/chatsync/internal/store"
	"github.com/opencoach/chatsync/internal/transport"
)

// Deps are the engine's collaborators.
type Deps struct {
	Messages      *store.MessageStore
	Conversations *store.ConversationStore
	Cache         cache.Port
	Rest          *rest.Client
	Transport     transport.Client
	Responder     *responder.Responder
	ReadState     *readstate.Manager
	Machine       *status.Machine
	Bus           *bus.Bus
	Clock         clock.Clock
	Logger        *zap.Logger
	LocalUser     model.Participant
}

// Engine is the single writer of the stores. It subscribes to "remote." and
// "session." bus events and serializes them with user intents in one loop.
type Engine struct {
	msgs      *store.MessageStore
	convs     *store.ConversationStore
	cache     cache.Port
	rest      *rest.Client
	client    transport.Client
	responder *responder.Responder
	readstate *readstate.Manager
	machine   *status.Machine
	bus       *bus.Bus
	clk       clock.Clock
	logger    *zap.Logger
	localUser model.Participant

	intents   chan func(ctx context.Context)
	persistCh chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}

	activeMu   sync.RWMutex
	activeConv string
}

// NewEngine creates an engine; call Bootstrap then Start.
func NewEngine(d Deps) *Engine {
	e := &Engine{
		msgs:      d.Messages,
		convs:     d.Conversations,
		cache:     d.Cache,
		rest:      d.Rest,
		client:    d.Transport,
		responder: d.Responder,
		readstate: d.ReadState,
		machine:   d.Machine,
		bus:       d.Bus,
		clk:       d.Clock,
		logger:    d.Logger,
		localUser: d.LocalUser,
		intents:   make(chan func(ctx context.Context), 64),
		persistCh: make(chan struct{}, 1),
	}
	return e
}

// Start runs the ingestion loop and the snapshot persister.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	remoteCh, unsubRemote := e.bus.SubscribeRemote()
	sessionCh, unsubSession := e.bus.SubscribeSession()

	go e.persister(ctx)
	go func() {
		defer close(e.done)
		defer unsubRemote()
		defer unsubSession()
		for {
			select {
			case evt := <-remoteCh:
				e.handleRemote(ctx, evt)
			case evt := <-sessionCh:
				e.handleSession(ctx, evt)
			case fn := <-e.intents:
				fn(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the loop and waits for it to drain.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
	if n := e.bus.Dropped(); n > 0 {
		e.logger.Warn("bus events dropped by slow subscribers", zap.Uint64("dropped", n))
	}
}

// ActiveConversation returns the currently open conversation id, if any.
func (e *Engine) ActiveConversation() string {
	e.activeMu.RLock()
	defer e.activeMu.RUnlock()
	return e.activeConv
}

func (e *Engine) setActive(id string) {
	e.activeMu.Lock()
	e.activeConv = id
	e.activeMu.Unlock()
}

// SendMessage queues an optimistic local send. The message is committed to
// the store before any network round-trip so the UI reflects it immediately.
func (e *Engine) SendMessage(conversationID, content string) {
	e.intents <- func(ctx context.Context) {
		e.doSend(ctx, conversationID, content)
	}
}

// OpenConversation marks the conversation active and flags its inbound
// messages as read.
func (e *Engine) OpenConversation(conversationID string) {
	e.intents <- func(ctx context.Context) {
		e.setActive(conversationID)
		if changed := e.readstate.MarkConversationRead(ctx, conversationID); changed > 0 {
			e.publishStoreUpdated(conversationID)
		}
		e.requestPersist()
	}
}

// CloseConversation clears the active conversation.
func (e *Engine) CloseConversation() {
	e.intents <- func(context.Context) {
		e.setActive("")
		e.requestPersist()
	}
}

// SetArchived flips a conversation's archived flag and mirrors it to the
// backend for real conversations.
func (e *Engine) SetArchived(conversationID string, archived bool) {
	e.intents <- func(ctx context.Context) {
		conv, ok := e.convs.Get(conversationID)
		if !ok {
			return
		}
		if !e.convs.SetArchived(conversationID, archived) {
			return
		}
		e.publishStoreUpdated(conversationID)
		e.requestPersist()
		if conv.Synthetic {
			return
		}
		// Mirror off the loop; the flag is already committed locally.
		go func() {
			if err := e.rest.Archive(ctx, conversationID, archived); err != nil {
				e.logger.Warn("archive not persisted to backend",
					zap.String("conversation", conversationID), zap.Error(err))
			}
		}()
	}
}

// CreateConversation opens a conversation with the given counterpart. If the
// backend is unreachable the conversation is created locally with a fresh id.
func (e *Engine) CreateConversation(participantEmail string) {
	e.intents <- func(ctx context.Context) {
		if _, ok := e.convs.FindByParticipant(participantEmail); ok {
			return
		}
		conv, err := e.rest.CreateConversation(ctx, participantEmail)
		if err != nil {
			e.logger.Warn("create conversation fell back to local",
				zap.String("participant", participantEmail), zap.Error(err))
			conv = &model.Conversation{
				ID: uuid.NewString(),
				Participants: [2]model.Participant{
					e.localUser,
					{Email: participantEmail},
				},
			}
		}
		e.convs.Upsert(*conv)
		e.publishStoreUpdated(conv.ID)
		e.requestPersist()
	}
}

func (e *Engine) doSend(ctx context.Context, conversationID, content string) {
	conv, ok := e.convs.Get(conversationID)
	if !ok {
		e.logger.Warn("send into unknown conversation", zap.String("conversation", conversationID))
		return
	}
	m := model.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         e.localUser.Email,
		Receiver:       conv.Counterpart(e.localUser.Email).Email,
		Content:        content,
		Timestamp:      e.clk.Now(),
		Read:           true,
	}
	e.msgs.Upsert(m)
	e.publishStoreUpdated(conversationID)
	e.requestPersist()

	if conv.Synthetic {
		e.responder.HandleLocalMessage(m)
		return
	}
	go e.deliver(ctx, m)
}

// deliver mirrors an already-committed message to the backend. It runs off
// the loop so a slow network cannot stall ingestion; the message stays in
// the store whatever the outcome.
func (e *Engine) deliver(ctx context.Context, m model.Message) {
	if err := e.client.SendMessage(ctx, m); err != nil {
		e.logger.Warn("transport send failed, falling back to rest",
			zap.String("message", m.ID), zap.Error(err))
		if err := e.rest.PostMessage(ctx, m); err != nil {
			e.logger.Error("message not delivered, kept locally",
				zap.String("message", m.ID), zap.Error(err))
		}
	}
}

func (e *Engine) handleRemote(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.RemoteMessage:
		m, ok := evt.Payload.(*model.Message)
		if !ok {
			return
		}
		e.ingestMessage(ctx, *m)
	case bus.RemoteMessagesRead:
		convID, ok := evt.Payload.(string)
		if !ok {
			return
		}
		if latest, ok := e.msgs.Latest(convID); ok {
			if changed := e.msgs.MarkRead(convID, latest.Timestamp, e.localUser.Email); changed > 0 {
				e.publishStoreUpdated(convID)
				e.requestPersist()
			}
		}
	case bus.RemoteError:
		if text, ok := evt.Payload.(string); ok {
			e.logger.Warn("backend reported error", zap.String("error", text))
		}
	}
}

// ingestMessage commits one inbound message. Messages not involving the
// local user are dropped; unknown conversations are created on the fly so a
// first message from a new counterpart is never lost.
func (e *Engine) ingestMessage(ctx context.Context, m model.Message) {
	if !m.Involves(e.localUser.Email) {
		e.logger.Warn("dropping message for another user",
			zap.String("message", m.ID),
			zap.String("sender", m.Sender),
			zap.String("receiver", m.Receiver))
		return
	}
	if _, ok := e.convs.Get(m.ConversationID); !ok {
		other := m.Sender
		if other == e.localUser.Email {
			other = m.Receiver
		}
		e.convs.Upsert(model.Conversation{
			ID: m.ConversationID,
			Participants: [2]model.Participant{
				e.localUser,
				{Email: other},
			},
			Synthetic: e.responder.Owns(other),
		})
	}
	if m.Sender == e.localUser.Email {
		// Echo of our own message from another session.
		m.Read = true
	}
	if !e.msgs.Upsert(m) {
		return
	}
	if m.Receiver == e.localUser.Email && m.ConversationID == e.ActiveConversation() {
		e.readstate.MarkConversationRead(ctx, m.ConversationID)
	}
	e.publishStoreUpdated(m.ConversationID)
	e.requestPersist()
}

// handleSession refetches history after the transport comes back, so
// messages sent while we were away land in the store. The fetch runs off
// the loop; the fetched snapshot is committed back through the intent
// channel to keep the single-writer discipline.
func (e *Engine) handleSession(ctx context.Context, evt bus.Event) {
	change, ok := evt.Payload.(status.Change)
	if !ok {
		return
	}
	if change.To == status.Ready && change.From == status.Reconnecting {
		e.logger.Info("transport restored, refetching history")
		go func() {
			snap, err := e.fetchBackend(ctx)
			if err != nil {
				e.logger.Warn("history refetch failed", zap.Error(err))
				return
			}
			select {
			case e.intents <- func(context.Context) { e.applyBackend(snap) }:
			case <-ctx.Done():
			}
		}()
	}
}

func (e *Engine) publishStoreUpdated(conversationID string) {
	e.bus.Publish(bus.Event{
		Kind:      bus.StoreUpdated,
		Timestamp: e.clk.Now(),
		Payload:   conversationID,
	})
}

// requestPersist schedules an async snapshot save. The channel holds one
// pending request; coalescing bursts is fine because the persister always
// snapshots current state.
func (e *Engine) requestPersist() {
	select {
	case e.persistCh <- struct{}{}:
	default:
	}
}

func (e *Engine) persister(ctx context.Context) {
	for {
		select {
		case <-e.persistCh:
			if err := e.Persist(); err != nil {
				e.logger.Warn("snapshot save failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Persist writes the current snapshot synchronously. Called by the persister
// and once more on shutdown.
func (e *Engine) Persist() error {
	st := &cache.State{
		Conversations:        e.convs.Snapshot(),
		Messages:             e.msgs.Snapshot(),
		ActiveConversationID: e.ActiveConversation(),
	}
	return e.cache.Save(st)
}
