// Package responder simulates the remote side of synthetic conversations.
// When the local user messages a persona, the responder waits a moment,
// surfaces a typing indicator and then publishes a reply on the bus exactly
// like inbound transport traffic, so the sync engine ingests it through the
// same path as a real message.
package responder

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opencoach/chatsync/internal/bus"
	"github.com/opencoach/chatsync/internal/clock"
	"github.com/opencoach/chatsync/internal/model"
	"github.com/opencoach/chatsync/internal/transport"
)

// Timing controls the simulated reply cadence.
type Timing struct {
	TypingDelay time.Duration // outgoing message -> typing indicator
	ReplyMin    time.Duration // outgoing message -> earliest reply
	ReplyJitter time.Duration // random spread added to ReplyMin
}

// Responder drives one reply cycle per persona conversation. Each cycle is
// idle until a local message arrives, shows typing after TypingDelay, and
// publishes the reply after ReplyMin plus jitter. A newer local message
// restarts the cycle, so a burst of messages yields a single reply to the
// last one.
type Responder struct {
	bus    *bus.Bus
	clk    clock.Clock
	logger *zap.Logger
	timing Timing

	localUser string
	personas  map[string]*Persona // keyed by persona email
	ordered   []Persona

	mu      sync.Mutex
	rng     *rand.Rand
	pending map[string]*cycle // keyed by conversation id
}

type cycle struct {
	cancelTyping clock.CancelFunc
	cancelReply  clock.CancelFunc
}

// New creates a responder for the given personas. The rng seeds jitter and
// default-pool selection; tests pass a fixed seed.
func New(b *bus.Bus, clk clock.Clock, localUser string, personas []Persona, timing Timing, rng *rand.Rand, logger *zap.Logger) *Responder {
	byEmail := make(map[string]*Persona, len(personas))
	for i := range personas {
		byEmail[personas[i].Participant.Email] = &personas[i]
	}
	return &Responder{
		bus:       b,
		clk:       clk,
		logger:    logger,
		timing:    timing,
		localUser: localUser,
		personas:  byEmail,
		ordered:   personas,
		rng:       rng,
		pending:   make(map[string]*cycle),
	}
}

// Personas returns the persona set in declaration order.
func (r *Responder) Personas() []Persona {
	return r.ordered
}

// Owns reports whether the participant email belongs to one of the personas.
func (r *Responder) Owns(email string) bool {
	_, ok := r.personas[email]
	return ok
}

// HandleLocalMessage starts (or restarts) a reply cycle for a message the
// local user sent into a synthetic conversation. Messages addressed to
// unknown participants are ignored.
func (r *Responder) HandleLocalMessage(m model.Message) {
	p, ok := r.personas[m.Receiver]
	if !ok {
		return
	}
	convID := m.ConversationID

	r.mu.Lock()
	if c := r.pending[convID]; c != nil {
		c.cancelTyping()
		c.cancelReply()
	}
	reply := r.compose(p, m.Content)
	c := &cycle{}
	c.cancelTyping = r.clk.Schedule(r.timing.TypingDelay, func() {
		r.bus.Publish(bus.Event{
			Kind:      bus.RemoteTyping,
			Timestamp: r.clk.Now(),
			Payload: transport.TypingSignal{
				ConversationID: convID,
				Participant:    p.Participant.Email,
			},
		})
	})
	delay := r.timing.ReplyMin + r.jitterLocked()
	c.cancelReply = r.clk.Schedule(delay, func() {
		r.deliver(convID, p, reply)
	})
	r.pending[convID] = c
	r.mu.Unlock()
}

// Cancel drops any pending cycle for the conversation.
func (r *Responder) Cancel(convID string) {
	r.mu.Lock()
	if c := r.pending[convID]; c != nil {
		c.cancelTyping()
		c.cancelReply()
		delete(r.pending, convID)
	}
	r.mu.Unlock()
}

func (r *Responder) deliver(convID string, p *Persona, reply string) {
	r.mu.Lock()
	delete(r.pending, convID)
	r.mu.Unlock()

	now := r.clk.Now()
	r.bus.Publish(bus.Event{
		Kind:      bus.RemoteStopTyping,
		Timestamp: now,
		Payload: transport.TypingSignal{
			ConversationID: convID,
			Participant:    p.Participant.Email,
		},
	})
	msg := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		Sender:         p.Participant.Email,
		Receiver:       r.localUser,
		Content:        reply,
		Timestamp:      now,
	}
	r.bus.Publish(bus.Event{Kind: bus.RemoteMessage, Timestamp: now, Payload: msg})
	r.logger.Debug("persona replied",
		zap.String("conversation", convID),
		zap.String("persona", p.Participant.Email))
}

// compose picks the reply text for an incoming message. Keyword rules are
// checked in order and the first hit wins; otherwise a line is drawn from
// the persona's default pool.
func (r *Responder) compose(p *Persona, content string) string {
	lower := strings.ToLower(content)
	for _, rule := range p.Rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, kw) {
				return rule.Response
			}
		}
	}
	return p.Defaults[r.rng.Intn(len(p.Defaults))]
}

func (r *Responder) jitterLocked() time.Duration {
	if r.timing.ReplyJitter <= 0 {
		return 0
	}
	return time.Duration(r.rng.Int63n(int64(r.timing.ReplyJitter)))
}
