package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/opencoach/chatsync/internal/bus"
)

// State represents the engine's connection/sync lifecycle state.
type State string

const (
	Booting      State = "BOOTING"      // process starting, nothing loaded
	Hydrating    State = "HYDRATING"    // restoring from the local cache
	Syncing      State = "SYNCING"      // fetching conversations/history
	Ready        State = "READY"        // live, transport connected
	Offline      State = "OFFLINE"      // synthetic bootstrap, no live channel
	Reconnecting State = "RECONNECTING" // transport dropped, backing off
	Error        State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:      {Hydrating, Error},
	Hydrating:    {Syncing, Offline, Error},
	Syncing:      {Ready, Offline, Reconnecting, Error},
	Ready:        {Reconnecting, Offline, Error},
	Offline:      {Syncing, Ready, Error},
	Reconnecting: {Syncing, Ready, Offline, Error},
	Error:        {Booting},
}

// Machine tracks and enforces lifecycle state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Self-transitions are no-ops;
// anything not in validTransitions is an error.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.SessionStatus,
			Timestamp: time.Now(),
			Payload: Change{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// Change is the payload for status change events.
type Change struct {
	From State
	To   State
}
