// Package channel implements the connection manager for the streaming
// inference socket: one logical channel per server session id, request
// correlation for responses and fan-out of uncorrelated notifications.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/chatlink/logging"
	"github.com/hupe1980/chatlink/protocol"
)

// ErrChannelClosed is returned when an operation touches a channel whose
// socket has been torn down.
var ErrChannelClosed = errors.New("channel closed")

// Conn is the minimal transport surface a Channel needs. Satisfied by the
// gorilla websocket wrapper and by in-memory fakes in tests.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// NotificationHandler receives uncorrelated server frames in arrival order.
type NotificationHandler func(frame protocol.Frame)

// Channel is one live streaming socket bound to a server session. It
// distinguishes responses (correlation id, resolved against the pending
// request map) from notifications (routed to the notification handler).
type Channel struct {
	sessionID string
	conn      Conn
	notify    NotificationHandler
	onClose   func(sessionID string, err error)
	logger    logging.Logger

	mu       sync.Mutex
	pending  map[string]chan protocol.Response
	closed   bool
	closeErr error
	done     chan struct{}
}

func newChannel(
	sessionID string,
	conn Conn,
	notify NotificationHandler,
	onClose func(sessionID string, err error),
	logger logging.Logger,
) *Channel {
	return &Channel{
		sessionID: sessionID,
		conn:      conn,
		notify:    notify,
		onClose:   onClose,
		logger:    logger,
		pending:   map[string]chan protocol.Response{},
		done:      make(chan struct{}),
	}
}

// SessionID returns the server session id this channel is bound to.
func (c *Channel) SessionID() string { return c.sessionID }

// Closed reports whether the channel has been torn down.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Call sends a correlated request and blocks until the matching response
// arrives, the context expires or the channel closes. A non-nil result is
// populated from the response payload. Server error objects are returned as
// *protocol.RPCError.
func (c *Channel) Call(ctx context.Context, method string, params, result any) error {
	req, err := protocol.NewRequest(method, params)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", method, err)
	}

	respCh := make(chan protocol.Response, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	c.pending[req.ID] = respCh
	c.mu.Unlock()

	if err := c.write(req); err != nil {
		c.removePending(req.ID)
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		c.removePending(req.ID)
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("%w: %v", ErrChannelClosed, c.closeErr)
	case resp := <-respCh:
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	}
}

// Notify sends a fire-and-forget frame (no correlation id, no response).
func (c *Channel) Notify(method string, params any) error {
	frame := protocol.Frame{Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal %s params: %w", method, err)
		}
		frame.Params = raw
	}
	return c.write(frame)
}

func (c *Channel) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	return c.conn.WriteMessage(data)
}

func (c *Channel) removePending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Close tears the channel down. Pending callers are released with
// ErrChannelClosed.
func (c *Channel) Close() error {
	c.teardown(nil)
	return nil
}

// readLoop pumps inbound frames until the socket errors or closes. Responses
// resolve pending requests; notifications are forwarded in arrival order.
func (c *Channel) readLoop() {
	for {
		data, err := c.conn.ReadMessage()
		if err != nil {
			c.teardown(err)
			return
		}
		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("channel.frame.malformed", "session_id", c.sessionID, "error", err.Error())
			continue
		}
		switch {
		case frame.IsResponse():
			c.resolve(frame)
		case frame.IsNotification():
			c.notify(frame)
		default:
			c.logger.Warn("channel.frame.unroutable", "session_id", c.sessionID)
		}
	}
}

func (c *Channel) resolve(frame protocol.Frame) {
	c.mu.Lock()
	ch, ok := c.pending[frame.ID]
	if ok {
		delete(c.pending, frame.ID)
	}
	c.mu.Unlock()
	if !ok {
		c.logger.Warn("channel.response.unmatched", "session_id", c.sessionID, "request_id", frame.ID)
		return
	}
	ch <- protocol.Response{ID: frame.ID, Result: frame.Result, Error: frame.Error}
}

func (c *Channel) teardown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = err
	c.pending = map[string]chan protocol.Response{}
	close(c.done)
	c.mu.Unlock()

	_ = c.conn.Close()
	if err != nil {
		c.logger.Info("channel.closed", "session_id", c.sessionID, "error", err.Error())
	} else {
		c.logger.Debug("channel.closed", "session_id", c.sessionID)
	}
	if c.onClose != nil {
		c.onClose(c.sessionID, err)
	}
}
