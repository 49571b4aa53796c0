package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sessiondj/peer/internal/transport"
	"github.com/sessiondj/peer/pkg/msgrouter"
)

// Client is the relay-backed broadcast transport: one websocket to the
// relay, which fans every message out to all peers in the world,
// sender included.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex
	closed  bool
}

func Dial(ctx context.Context, relayURL string, logger *slog.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay: %w", err)
	}

	return &Client{conn: conn, logger: logger}, nil
}

func (c *Client) Broadcast(ctx context.Context, msg *msgrouter.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed {
		return transport.ErrClosed
	}

	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to broadcast message: %w", err)
	}

	return nil
}

// Serve reads messages from the relay and hands them to the dispatcher
// until the connection drops or ctx is cancelled. Messages the
// dispatcher rejects are dropped with a debug log; peers running newer
// protocol versions must not break us.
func (c *Client) Serve(ctx context.Context, dispatcher transport.Dispatcher) error {
	defer c.Close()

	// the watcher must not outlive Serve when the read side fails first
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read message: %w", err)
		}

		var msg msgrouter.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.DebugContext(ctx, "dropping malformed message", "error", err)
			continue
		}

		if err := dispatcher.DispatchMessage(ctx, &msg); err != nil {
			if errors.Is(err, msgrouter.ErrUnknownType) {
				c.logger.DebugContext(ctx, "ignoring unknown message type", "type", msg.Type)
				continue
			}
			c.logger.DebugContext(ctx, "dropping message", "type", msg.Type, "error", err)
		}
	}
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	return c.conn.Close()
}
