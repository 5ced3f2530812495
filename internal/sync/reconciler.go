package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/opencoach/chatsync/internal/model"
	"github.com/opencoach/chatsync/internal/status"
	"github.com/opencoach/chatsync/internal/store"
)

// Bootstrap hydrates the stores before the ingestion loop starts. Sources in
// order: the local cache, then the REST backend, then the synthetic personas
// when both come up empty. The lifecycle machine tracks each phase.
func (e *Engine) Bootstrap(ctx context.Context) error {
	if err := e.machine.Transition(status.Hydrating); err != nil {
		return err
	}

	st, err := e.cache.Load()
	if err != nil {
		e.logger.Warn("cache load failed, starting cold", zap.Error(err))
	} else if !st.Empty() {
		e.msgs.Restore(st.Messages)
		e.convs.Restore(st.Conversations)
		active := st.ActiveConversationID
		if active == "" {
			// Nothing was open when the snapshot was taken; select the
			// conversation with the newest activity instead.
			if list := e.convs.List(store.FilterOpen); len(list) > 0 {
				active = list[0].ID
			}
		}
		e.setActive(active)
		e.logger.Info("hydrated from cache",
			zap.Int("conversations", e.convs.Len()),
			zap.Int("messages", e.msgs.Len()))
	}

	if err := e.machine.Transition(status.Syncing); err != nil {
		return err
	}

	if err := e.refresh(ctx); err != nil {
		e.logger.Warn("backend unreachable during bootstrap", zap.Error(err))
		if e.convs.Len() == 0 {
			e.seedPersonas()
		}
		if err := e.machine.Transition(status.Offline); err != nil {
			return err
		}
		e.publishStoreUpdated("")
		e.requestPersist()
		return nil
	}

	if e.convs.Len() == 0 {
		e.seedPersonas()
	}
	e.publishStoreUpdated("")
	e.requestPersist()
	return nil
}

// backendSnapshot is the result of one REST reconciliation fetch, ready to
// commit into the stores.
type backendSnapshot struct {
	convs     []model.Conversation
	histories map[string][]model.Message
}

// fetchBackend pulls the conversation list plus the full history of each
// conversation. Network only; it touches no store, so the reconnect path can
// run it off the engine loop.
func (e *Engine) fetchBackend(ctx context.Context) (*backendSnapshot, error) {
	convs, err := e.rest.Conversations(ctx)
	if err != nil {
		return nil, err
	}
	snap := &backendSnapshot{convs: convs, histories: make(map[string][]model.Message, len(convs))}
	for _, c := range convs {
		history, err := e.rest.Messages(ctx, c.ID)
		if err != nil {
			e.logger.Warn("history fetch failed",
				zap.String("conversation", c.ID), zap.Error(err))
			continue
		}
		snap.histories[c.ID] = history
	}
	return snap, nil
}

// applyBackend commits a fetched snapshot. Upserts are idempotent, so
// overlapping with live transport traffic is safe.
func (e *Engine) applyBackend(snap *backendSnapshot) {
	ingested := 0
	for _, c := range snap.convs {
		e.convs.Upsert(c)
		for _, m := range snap.histories[c.ID] {
			if e.msgs.Upsert(m) {
				ingested++
			}
		}
	}
	if len(snap.convs) > 0 {
		e.logger.Info("backend sync complete",
			zap.Int("conversations", len(snap.convs)),
			zap.Int("new_messages", ingested))
		e.publishStoreUpdated("")
		e.requestPersist()
	}
}

// refresh fetches and applies in one step. Bootstrap runs before the loop
// starts, so committing inline is safe there.
func (e *Engine) refresh(ctx context.Context) error {
	snap, err := e.fetchBackend(ctx)
	if err != nil {
		return err
	}
	e.applyBackend(snap)
	return nil
}

// seedPersonas creates the simulated coach conversations. Each persona seeds
// a greeting that is already read and an unread follow-up, so fresh installs
// open on a list with one unread message per conversation.
func (e *Engine) seedPersonas() {
	now := e.clk.Now()
	for _, p := range e.responder.Personas() {
		convID := p.ConversationID()
		greeting := model.Message{
			ID:             convID + ":greeting",
			ConversationID: convID,
			Sender:         p.Participant.Email,
			Receiver:       e.localUser.Email,
			Content:        p.Greeting,
			Timestamp:      now.Add(-2 * time.Minute),
			Read:           true,
		}
		followUp := model.Message{
			ID:             convID + ":follow-up",
			ConversationID: convID,
			Sender:         p.Participant.Email,
			Receiver:       e.localUser.Email,
			Content:        p.FollowUp,
			Timestamp:      now.Add(-time.Minute),
		}
		e.msgs.Upsert(greeting)
		e.msgs.Upsert(followUp)
		e.convs.Upsert(model.Conversation{
			ID:           convID,
			Participants: [2]model.Participant{e.localUser, p.Participant},
			Synthetic:    true,
		})
	}
	e.logger.Info("seeded persona conversations", zap.Int("count", e.convs.Len()))
}
