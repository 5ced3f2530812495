package status

import (
	"testing"

	"github.com/opencoach/chatsync/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, Hydrating},
		{Booting, Error},
		{Hydrating, Syncing},
		{Hydrating, Offline},
		{Syncing, Ready},
		{Syncing, Offline},
		{Ready, Reconnecting},
		{Reconnecting, Syncing},
		{Offline, Syncing},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Ready); err == nil {
		t.Error("Transition(BOOTING -> READY) should fail")
	}
}

func TestSelfTransitionIsNoop(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Booting); err != nil {
		t.Fatalf("self transition should be a no-op, got %v", err)
	}
	select {
	case evt := <-ch:
		t.Errorf("unexpected event for self transition: %v", evt)
	default:
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Hydrating); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.SessionStatus {
		t.Errorf("event kind = %q, want %q", evt.Kind, bus.SessionStatus)
	}
	change, ok := evt.Payload.(Change)
	if !ok {
		t.Fatalf("payload type = %T, want Change", evt.Payload)
	}
	if change.From != Booting || change.To != Hydrating {
		t.Errorf("change = %v -> %v, want BOOTING -> HYDRATING", change.From, change.To)
	}
}

// TestOfflineBootstrapLifecycle simulates a fresh session with no cache and
// no reachable backend: BOOTING → HYDRATING → OFFLINE, then a later
// successful connect OFFLINE → SYNCING → READY.
func TestOfflineBootstrapLifecycle(t *testing.T) {
	m := NewMachine(nil)

	steps := []State{Hydrating, Offline, Syncing, Ready}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Ready {
		t.Errorf("final state = %s, want READY", m.Current())
	}
}

// TestDisconnectReconnectCycle verifies the reconnect loop:
// READY → RECONNECTING → SYNCING → READY
func TestDisconnectReconnectCycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Ready)

	steps := []State{Reconnecting, Syncing, Ready}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Ready {
		t.Errorf("final state = %s, want READY", m.Current())
	}
}

// TestReconnectFallsOffline verifies a failed reconnect can degrade to
// offline mode instead of wedging in RECONNECTING.
func TestReconnectFallsOffline(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Reconnecting)

	if err := m.Transition(Offline); err != nil {
		t.Fatalf("RECONNECTING -> OFFLINE: %v", err)
	}
	if m.Current() != Offline {
		t.Errorf("state = %s, want OFFLINE", m.Current())
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Booting:      {},
		Hydrating:    {Hydrating},
		Syncing:      {Hydrating, Syncing},
		Ready:        {Hydrating, Syncing, Ready},
		Offline:      {Hydrating, Offline},
		Reconnecting: {Hydrating, Syncing, Ready, Reconnecting},
		Error:        {Error},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
