package transport

import (
	"time"

	"github.com/opencoach/chatsync/internal/bus"
	"github.com/opencoach/chatsync/internal/status"
	"go.uber.org/zap"
)

// Handler processes inbound envelopes, drives the state machine, and
// publishes parsed domain events on the bus. It does not touch the stores;
// the sync engine subscribes to the bus independently.
type Handler struct {
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
}

// NewHandler creates a new inbound event handler.
func NewHandler(b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Handler {
	return &Handler{
		bus:     b,
		machine: machine,
		logger:  logger,
	}
}

// Handle dispatches one inbound envelope. Malformed events are dropped with
// a warning; they never crash the stores.
func (h *Handler) Handle(env Envelope) {
	switch env.Type {
	case EvtReceiveMessage:
		msg, err := ParseMessage(env.Payload)
		if err != nil {
			h.logger.Warn("dropping inbound message", zap.Error(err))
			return
		}
		h.publish(bus.RemoteMessage, msg)
	case EvtUserStatus:
		st, err := ParseUserStatus(env.Payload)
		if err != nil {
			h.logger.Warn("dropping user status", zap.Error(err))
			return
		}
		h.publish(bus.RemoteUserStatus, *st)
	case EvtTyping:
		sig, err := ParseTypingSignal(env.Payload)
		if err != nil {
			h.logger.Warn("dropping typing signal", zap.Error(err))
			return
		}
		h.publish(bus.RemoteTyping, *sig)
	case EvtStopTyping:
		sig, err := ParseTypingSignal(env.Payload)
		if err != nil {
			h.logger.Warn("dropping stop typing signal", zap.Error(err))
			return
		}
		h.publish(bus.RemoteStopTyping, *sig)
	case EvtMessagesRead:
		convID, err := ParseMessagesRead(env.Payload)
		if err != nil {
			h.logger.Warn("dropping messages_read", zap.Error(err))
			return
		}
		h.publish(bus.RemoteMessagesRead, convID)
	case EvtError:
		text := ParseError(env.Payload)
		h.logger.Warn("server error event", zap.String("message", text))
		h.publish(bus.RemoteError, text)
	default:
		h.logger.Warn("unknown inbound event", zap.String("type", env.Type))
	}
}

// Connected is invoked by the websocket client once a connection is live.
func (h *Handler) Connected() {
	h.logger.Info("transport connected")
	_ = h.machine.Transition(status.Ready)
}

// Disconnected is invoked when the connection drops unintentionally.
func (h *Handler) Disconnected(reason string) {
	h.logger.Warn("transport disconnected", zap.String("reason", reason))
	_ = h.machine.Transition(status.Reconnecting)
}

// GaveUp is invoked when the reconnector exhausts its attempts.
func (h *Handler) GaveUp() {
	h.logger.Warn("transport reconnect attempts exhausted, going offline")
	_ = h.machine.Transition(status.Offline)
}

func (h *Handler) publish(kind bus.Kind, payload any) {
	h.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
