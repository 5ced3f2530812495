package typing

import (
	"context"
	"sync"
	"time"

	"github.com/opencoach/chatsync/internal/clock"
)

// Emitter is the outbound slice of the transport used for typing signals.
type Emitter interface {
	Typing(ctx context.Context, conversationID, participant string) error
	StopTyping(ctx context.Context, conversationID string) error
}

// Composer debounces local keystrokes into transport typing signals: the
// first keystroke emits typing, the following ones only re-arm the idle
// timer, and a quiet interval emits stop_typing. Conversations for which
// shouldEmit returns false (synthetic ones have no remote party) produce
// no signals at all.
type Composer struct {
	mu     sync.Mutex
	active map[string]clock.CancelFunc

	clk        clock.Clock
	idle       time.Duration
	emitter    Emitter
	localUser  string
	shouldEmit func(conversationID string) bool
}

// NewComposer creates a debouncing composer.
func NewComposer(emitter Emitter, clk clock.Clock, idle time.Duration, localUser string, shouldEmit func(string) bool) *Composer {
	return &Composer{
		active:     make(map[string]clock.CancelFunc),
		clk:        clk,
		idle:       idle,
		emitter:    emitter,
		localUser:  localUser,
		shouldEmit: shouldEmit,
	}
}

// Keystroke records compose activity in the conversation.
func (c *Composer) Keystroke(ctx context.Context, conversationID string) {
	if c.shouldEmit != nil && !c.shouldEmit(conversationID) {
		return
	}

	c.mu.Lock()
	cancel, alreadyTyping := c.active[conversationID]
	if alreadyTyping {
		cancel()
	}
	c.active[conversationID] = c.clk.Schedule(c.idle, func() { c.idleElapsed(conversationID) })
	c.mu.Unlock()

	if !alreadyTyping {
		_ = c.emitter.Typing(ctx, conversationID, c.localUser)
	}
}

// Sent ends the typing burst immediately, as when the message is sent.
func (c *Composer) Sent(ctx context.Context, conversationID string) {
	c.mu.Lock()
	cancel, ok := c.active[conversationID]
	if ok {
		cancel()
		delete(c.active, conversationID)
	}
	c.mu.Unlock()

	if ok {
		_ = c.emitter.StopTyping(ctx, conversationID)
	}
}

func (c *Composer) idleElapsed(conversationID string) {
	c.mu.Lock()
	_, ok := c.active[conversationID]
	delete(c.active, conversationID)
	c.mu.Unlock()

	if ok {
		_ = c.emitter.StopTyping(context.Background(), conversationID)
	}
}
