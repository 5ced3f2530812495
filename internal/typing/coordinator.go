// Package typing holds the ephemeral "is typing" state. Entries expire on
// their own so a lost stop_typing signal can never leave an indicator stuck.
package typing

import (
	"context"
	"sync"
	"time"

	"github.com/opencoach/chatsync/internal/bus"
	"github.com/opencoach/chatsync/internal/clock"
	"github.com/opencoach/chatsync/internal/transport"
)

type key struct {
	conversationID string
	participant    string
}

type entry struct {
	expiry time.Time
	cancel clock.CancelFunc
}

// Resolver maps a participant to their conversation for signals that arrive
// without a conversationId.
type Resolver func(participant string) (conversationID string, ok bool)

// Coordinator tracks who is typing where. IsTyping is correct purely from
// the stored expiry; the scheduled janitor only exists to publish a change
// event when an entry lapses without an explicit stop.
type Coordinator struct {
	mu      sync.Mutex
	entries map[key]*entry

	clk     clock.Clock
	window  time.Duration
	bus     *bus.Bus
	resolve Resolver
	cancel  context.CancelFunc
}

// NewCoordinator creates a coordinator with the given expiry window.
func NewCoordinator(b *bus.Bus, clk clock.Clock, window time.Duration, resolve Resolver) *Coordinator {
	return &Coordinator{
		entries: make(map[key]*entry),
		clk:     clk,
		window:  window,
		bus:     b,
		resolve: resolve,
	}
}

// Start subscribes to inbound typing signals on the bus.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	ch, unsub := c.bus.SubscribeKind(bus.RemoteTyping, 64)
	stopCh, stopUnsub := c.bus.SubscribeKind(bus.RemoteStopTyping, 64)

	go func() {
		defer unsub()
		defer stopUnsub()
		for {
			select {
			case evt := <-ch:
				if sig, ok := evt.Payload.(transport.TypingSignal); ok {
					if convID, ok := c.conversationFor(sig); ok {
						c.StartTyping(convID, sig.Participant)
					}
				}
			case evt := <-stopCh:
				if sig, ok := evt.Payload.(transport.TypingSignal); ok {
					if convID, ok := c.conversationFor(sig); ok {
						c.StopTyping(convID, sig.Participant)
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the bus subscription.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Coordinator) conversationFor(sig transport.TypingSignal) (string, bool) {
	if sig.ConversationID != "" {
		return sig.ConversationID, true
	}
	if c.resolve == nil {
		return "", false
	}
	return c.resolve(sig.Participant)
}

// StartTyping marks the participant as typing and (re-)arms the expiry.
func (c *Coordinator) StartTyping(conversationID, participant string) {
	k := key{conversationID, participant}
	c.mu.Lock()
	if e, ok := c.entries[k]; ok && e.cancel != nil {
		e.cancel()
	}
	e := &entry{expiry: c.clk.Now().Add(c.window)}
	e.cancel = c.clk.Schedule(c.window, func() { c.expire(k) })
	c.entries[k] = e
	c.mu.Unlock()

	c.publish(conversationID)
}

// StopTyping clears the entry immediately.
func (c *Coordinator) StopTyping(conversationID, participant string) {
	k := key{conversationID, participant}
	c.mu.Lock()
	e, ok := c.entries[k]
	if ok {
		if e.cancel != nil {
			e.cancel()
		}
		delete(c.entries, k)
	}
	c.mu.Unlock()

	if ok {
		c.publish(conversationID)
	}
}

// expire removes a lapsed entry. A re-armed entry is left alone.
func (c *Coordinator) expire(k key) {
	c.mu.Lock()
	e, ok := c.entries[k]
	if ok && c.clk.Now().Before(e.expiry) {
		c.mu.Unlock()
		return
	}
	delete(c.entries, k)
	c.mu.Unlock()

	if ok {
		c.publish(k.conversationID)
	}
}

// IsTyping reports whether the participant has an unexpired typing entry.
func (c *Coordinator) IsTyping(conversationID, participant string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key{conversationID, participant}]
	return ok && c.clk.Now().Before(e.expiry)
}

// TypingIn returns the participants currently typing in the conversation.
func (c *Coordinator) TypingIn(conversationID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	now := c.clk.Now()
	for k, e := range c.entries {
		if k.conversationID == conversationID && now.Before(e.expiry) {
			out = append(out, k.participant)
		}
	}
	return out
}

func (c *Coordinator) publish(conversationID string) {
	c.bus.Publish(bus.Event{
		Kind:      bus.TypingChanged,
		Timestamp: c.clk.Now(),
		Payload:   conversationID,
	})
}
