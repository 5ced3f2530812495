package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/opencoach/chatsync/internal/model"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// WSClient is the websocket implementation of Client, with automatic
// reconnection and backoff.
type WSClient struct {
	url     string
	handler *Handler
	logger  *zap.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	intentional bool
	cancel      context.CancelFunc

	recon *reconnector
}

// NewWSClient creates a websocket transport client for the given URL.
func NewWSClient(url string, handler *Handler, logger *zap.Logger) *WSClient {
	return &WSClient{
		url:     url,
		handler: handler,
		logger:  logger,
		recon:   newReconnector(time.Second, 30*time.Second, 10),
	}
}

// Connect dials the backend and starts the read loop. The context governs
// the connection lifetime, not just the dial.
func (c *WSClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.intentional = false
	c.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.mu.Unlock()
	c.recon.markConnected()

	c.handler.Connected()
	go c.readLoop(loopCtx, conn)
	return nil
}

// Disconnect gracefully closes the connection; no reconnect follows.
func (c *WSClient) Disconnect() error {
	c.mu.Lock()
	c.intentional = true
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

func (c *WSClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			intentional := c.intentional
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			if intentional || ctx.Err() != nil {
				return
			}
			c.handler.Disconnected(err.Error())
			c.reconnect(ctx)
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("unreadable frame", zap.Error(err))
			continue
		}
		c.handler.Handle(env)
	}
}

// reconnect redials with backoff until it succeeds, the context ends, or
// attempts run out (then the handler marks the session offline).
func (c *WSClient) reconnect(ctx context.Context) {
	for c.recon.shouldReconnect() {
		delay := c.recon.nextDelay()
		c.logger.Info("reconnecting", zap.Duration("delay", delay))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}

		conn, _, err := websocket.Dial(ctx, c.url, nil)
		if err != nil {
			c.logger.Warn("reconnect dial failed", zap.Error(err))
			continue
		}

		c.mu.Lock()
		if c.intentional {
			c.mu.Unlock()
			_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
			return
		}
		c.conn = conn
		c.mu.Unlock()
		c.recon.markConnected()

		c.handler.Connected()
		go c.readLoop(ctx, conn)
		return
	}
	c.handler.GaveUp()
}

// Join subscribes the connection to the participant's event scope.
func (c *WSClient) Join(ctx context.Context, participantEmail string) error {
	return c.send(ctx, CmdJoin, map[string]string{"participantEmail": participantEmail})
}

// SendMessage publishes a message to the channel.
func (c *WSClient) SendMessage(ctx context.Context, m model.Message) error {
	return c.send(ctx, CmdSendMessage, m)
}

// Typing announces that a participant is composing in a conversation.
func (c *WSClient) Typing(ctx context.Context, conversationID, participant string) error {
	return c.send(ctx, CmdTyping, TypingSignal{
		ConversationID: conversationID,
		Participant:    participant,
	})
}

// StopTyping retracts a typing announcement.
func (c *WSClient) StopTyping(ctx context.Context, conversationID string) error {
	return c.send(ctx, CmdStopTyping, map[string]string{"conversationId": conversationID})
}

// MarkAsRead reports that the participant has read a conversation.
func (c *WSClient) MarkAsRead(ctx context.Context, conversationID, participant string) error {
	return c.send(ctx, CmdMarkAsRead, map[string]string{
		"conversationId": conversationID,
		"participant":    participant,
	})
}

func (c *WSClient) send(ctx context.Context, cmdType string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("send %s: not connected", cmdType)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", cmdType, err)
	}
	data, err := json.Marshal(Envelope{Type: cmdType, Payload: raw})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", cmdType, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("send %s: %w", cmdType, err)
	}
	return nil
}
