// Package presence projects user_status events into an online/offline map.
// Latest event wins; nothing is persisted.
package presence

import (
	"context"
	"sync"

	"github.com/opencoach/chatsync/internal/bus"
	"github.com/opencoach/chatsync/internal/clock"
	"github.com/opencoach/chatsync/internal/transport"
)

// Tracker answers whether a participant is currently online. Unknown
// participants are offline.
type Tracker struct {
	mu     sync.RWMutex
	online map[string]bool
	bus    *bus.Bus
	clk    clock.Clock
	cancel context.CancelFunc
}

// NewTracker creates a presence tracker.
func NewTracker(b *bus.Bus, clk clock.Clock) *Tracker {
	return &Tracker{
		online: make(map[string]bool),
		bus:    b,
		clk:    clk,
	}
}

// Start subscribes to inbound user status events on the bus.
func (t *Tracker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	ch, unsub := t.bus.SubscribeKind(bus.RemoteUserStatus, 64)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				st, ok := evt.Payload.(transport.UserStatus)
				if !ok {
					continue
				}
				t.set(st.Participant, st.Online())
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the tracker.
func (t *Tracker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
}

func (t *Tracker) set(participant string, online bool) {
	t.mu.Lock()
	changed := t.online[participant] != online
	t.online[participant] = online
	t.mu.Unlock()

	if changed {
		t.bus.Publish(bus.Event{
			Kind:      bus.PresenceChanged,
			Timestamp: t.clk.Now(),
			Payload:   participant,
		})
	}
}

// IsOnline reports the participant's last known status.
func (t *Tracker) IsOnline(participant string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online[participant]
}
