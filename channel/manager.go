package channel

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/chatlink/logging"
	"github.com/hupe1980/chatlink/protocol"
)

// Dialer opens a transport connection for a server session. Abstracted so
// tests can supply in-memory connections.
type Dialer interface {
	Dial(ctx context.Context, serverAddr, serverSessionID string) (Conn, error)
}

// WebSocketDialer dials ws:// or wss:// endpoints, binding the server
// session id as a query parameter.
type WebSocketDialer struct{}

// Dial implements Dialer using gorilla/websocket.
func (WebSocketDialer) Dial(ctx context.Context, serverAddr, serverSessionID string) (Conn, error) {
	u, err := url.Parse(serverAddr)
	if err != nil {
		return nil, fmt.Errorf("parse server address: %w", err)
	}
	q := u.Query()
	q.Set("session_id", serverSessionID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

// wsConn adapts *websocket.Conn to the Conn interface. Writes are already
// serialized by Channel, so no extra locking is needed here.
type wsConn struct{ conn *websocket.Conn }

func (w *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	return data, err
}

func (w *wsConn) WriteMessage(data []byte) error {
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close() error { return w.conn.Close() }

// dialAttempt tracks one in-flight connection attempt so concurrent callers
// for the same session id await the same dial.
type dialAttempt struct {
	done chan struct{}
	ch   *Channel
	err  error
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// Dialer opens transport connections. Defaults to WebSocketDialer.
	Dialer Dialer
	// OnNotification receives uncorrelated frames from the live channel.
	OnNotification NotificationHandler
	// OnDisconnect fires when the live channel is lost (not when a
	// superseded channel closes).
	OnDisconnect func(serverSessionID string, err error)
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Manager owns the transport channel to the inference server. Guarantees:
//
//   - at most one in-flight connection attempt per server session id;
//     concurrent callers await the same pending attempt
//   - an open channel for the requested session id is reused
//   - a channel bound to a different session id is torn down before dialing
//   - a failed attempt clears its pending entry and propagates the error to
//     every awaiter
//   - stale close events from superseded channels never clear the live
//     channel reference
type Manager struct {
	dialer       Dialer
	notify       NotificationHandler
	onDisconnect func(string, error)
	logger       logging.Logger

	mu            sync.Mutex
	active        *Channel
	activeSession string
	pending       map[string]*dialAttempt
}

// NewManager constructs a Manager with optional overrides.
func NewManager(optFns ...func(o *ManagerOptions)) *Manager {
	opts := ManagerOptions{
		Dialer: WebSocketDialer{},
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.OnNotification == nil {
		opts.OnNotification = func(protocol.Frame) {}
	}
	return &Manager{
		dialer:       opts.Dialer,
		notify:       opts.OnNotification,
		onDisconnect: opts.OnDisconnect,
		logger:       opts.Logger,
		pending:      map[string]*dialAttempt{},
	}
}

// Ensure returns an open channel bound to serverSessionID, dialing if
// necessary. Safe for concurrent use.
func (m *Manager) Ensure(ctx context.Context, serverAddr, serverSessionID string) (*Channel, error) {
	m.mu.Lock()

	if m.active != nil && m.activeSession == serverSessionID && !m.active.Closed() {
		ch := m.active
		m.mu.Unlock()
		return ch, nil
	}

	if att, ok := m.pending[serverSessionID]; ok {
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-att.done:
		}
		return att.ch, att.err
	}

	// Rebinding: a channel for a different session id is superseded.
	if m.active != nil {
		stale := m.active
		m.active = nil
		m.activeSession = ""
		m.logger.Info("channel.rebind", "old_session_id", stale.SessionID(), "new_session_id", serverSessionID)
		go stale.Close()
	}

	att := &dialAttempt{done: make(chan struct{})}
	m.pending[serverSessionID] = att
	m.mu.Unlock()

	m.logger.Debug("channel.dial.start", "session_id", serverSessionID, "addr", serverAddr)
	conn, err := m.dialer.Dial(ctx, serverAddr, serverSessionID)

	m.mu.Lock()
	delete(m.pending, serverSessionID)
	if err != nil {
		m.mu.Unlock()
		att.err = fmt.Errorf("connect session %s: %w", serverSessionID, err)
		close(att.done)
		m.logger.Warn("channel.dial.failed", "session_id", serverSessionID, "error", err.Error())
		return nil, att.err
	}

	ch := newChannel(serverSessionID, conn, m.notify, m.handleClose, m.logger)
	m.active = ch
	m.activeSession = serverSessionID
	m.mu.Unlock()

	att.ch = ch
	close(att.done)

	go ch.readLoop()
	m.logger.Info("channel.open", "session_id", serverSessionID)
	return ch, nil
}

// Active returns the live channel, or nil when disconnected.
func (m *Manager) Active() *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Close tears down the live channel if any.
func (m *Manager) Close() {
	m.mu.Lock()
	ch := m.active
	m.mu.Unlock()
	if ch != nil {
		ch.Close()
	}
}

// handleClose clears the channel reference only when the closure pertains to
// the currently bound session id. Closures from superseded channels must not
// corrupt the live one.
func (m *Manager) handleClose(sessionID string, err error) {
	m.mu.Lock()
	if m.activeSession != sessionID {
		m.mu.Unlock()
		m.logger.Debug("channel.close.stale", "session_id", sessionID)
		return
	}
	m.active = nil
	m.activeSession = ""
	m.mu.Unlock()

	if m.onDisconnect != nil {
		m.onDisconnect(sessionID, err)
	}
}
