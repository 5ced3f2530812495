package bus

import (
	"strings"
	"time"
)

// Kind names an event. The segment up to and including the first dot is the
// namespace subscriptions filter on.
type Kind string

// Namespace returns the kind's namespace, dot included. Kinds without a dot
// are their own namespace.
func (k Kind) Namespace() string {
	s := string(k)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i+1]
	}
	return s
}

// In reports whether the kind falls under the given namespace prefix.
func (k Kind) In(namespace string) bool {
	return strings.HasPrefix(string(k), namespace)
}

// Event is one domain event. Payload types are documented per kind below.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Payload   any
}

// Namespaces.
//
//	remote.*   inbound transport traffic (parsed by internal/transport)
//	store.*    store mutations committed by the sync engine
//	typing.*   typing indicator changes
//	presence.* participant online/offline changes
//	session.*  connection lifecycle (status machine transitions)
const (
	NamespaceRemote   = "remote."
	NamespaceStore    = "store."
	NamespaceTyping   = "typing."
	NamespacePresence = "presence."
	NamespaceSession  = "session."
)

const (
	RemoteMessage      Kind = "remote.message"       // *model.Message
	RemoteUserStatus   Kind = "remote.user_status"   // transport.UserStatus
	RemoteTyping       Kind = "remote.typing"        // transport.TypingSignal
	RemoteStopTyping   Kind = "remote.stop_typing"   // transport.TypingSignal
	RemoteMessagesRead Kind = "remote.messages_read" // conversation id string
	RemoteError        Kind = "remote.error"         // error text string

	StoreUpdated Kind = "store.updated" // conversation id string ("" = bulk change)

	TypingChanged   Kind = "typing.changed"   // conversation id string
	PresenceChanged Kind = "presence.changed" // participant email string

	SessionStatus Kind = "session.status_changed" // status.Change
)
