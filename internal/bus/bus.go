// Package bus carries domain events between the transport, the sync engine,
// and the UI projections. Delivery never blocks: a subscriber that falls
// behind loses events, and the loss is counted rather than backpressured
// into the publisher.
package bus

import (
	"sync"
	"sync/atomic"
)

// Buffer sizes per namespace. Remote traffic bursts when a reconnect refetch
// overlaps live pushes; session transitions are rare; the projection
// namespaces tick at UI rates.
const (
	remoteBuf     = 256
	sessionBuf    = 16
	projectionBuf = 64
)

// Bus fans events out to namespace-filtered subscribers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]*subscription
	next    int
	dropped atomic.Uint64
}

type subscription struct {
	namespace string
	ch        chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish delivers the event to every subscription whose namespace covers
// the event's kind. Full subscriber buffers drop the event.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !evt.Kind.In(sub.namespace) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many events have been discarded because a subscriber's
// buffer was full. The sync engine reports it at shutdown.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribe returns a channel receiving events under the namespace prefix
// and a function that tears the subscription down.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// SubscribeKind narrows a subscription to a single event kind.
func (b *Bus) SubscribeKind(k Kind, bufSize int) (<-chan Event, func()) {
	return b.Subscribe(string(k), bufSize)
}

// SubscribeRemote delivers inbound transport traffic.
func (b *Bus) SubscribeRemote() (<-chan Event, func()) {
	return b.Subscribe(NamespaceRemote, remoteBuf)
}

// SubscribeSession delivers connection lifecycle transitions.
func (b *Bus) SubscribeSession() (<-chan Event, func()) {
	return b.Subscribe(NamespaceSession, sessionBuf)
}

// SubscribeStore delivers store mutation notifications.
func (b *Bus) SubscribeStore() (<-chan Event, func()) {
	return b.Subscribe(NamespaceStore, projectionBuf)
}

// SubscribeTyping delivers typing indicator changes.
func (b *Bus) SubscribeTyping() (<-chan Event, func()) {
	return b.Subscribe(NamespaceTyping, projectionBuf)
}

// SubscribePresence delivers online/offline changes.
func (b *Bus) SubscribePresence() (<-chan Event, func()) {
	return b.Subscribe(NamespacePresence, projectionBuf)
}
