package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/chatlink/channel"
	"github.com/hupe1980/chatlink/core"
	"github.com/hupe1980/chatlink/logging"
	"github.com/hupe1980/chatlink/protocol"
	"github.com/hupe1980/chatlink/task"
)

// RemoteOptions configure a RemoteBackend.
type RemoteOptions struct {
	// Dialer overrides the websocket dialer, mainly for tests.
	Dialer channel.Dialer
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// RemoteBackend implements Backend against a relay server speaking the
// streaming JSON-RPC protocol. It owns the connection manager; incoming
// notifications are routed through the task dispatcher into the shared
// machine, and a mid-task channel loss fails the live task.
type RemoteBackend struct {
	manager    *channel.Manager
	serverAddr string
	machine    *task.Machine
	logger     logging.Logger

	mu       sync.Mutex
	bindings map[string]string // local session id -> server session id
}

var _ Backend = (*RemoteBackend)(nil)

// NewRemoteBackend wires a connection manager and notification dispatcher
// around the given task machine.
func NewRemoteBackend(serverAddr string, machine *task.Machine, presenter core.Presenter, optFns ...func(o *RemoteOptions)) *RemoteBackend {
	opts := RemoteOptions{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	b := &RemoteBackend{
		serverAddr: serverAddr,
		machine:    machine,
		logger:     opts.Logger,
		bindings:   map[string]string{},
	}

	dispatcher := task.NewDispatcher(machine, presenter, opts.Logger)

	b.manager = channel.NewManager(func(o *channel.ManagerOptions) {
		if opts.Dialer != nil {
			o.Dialer = opts.Dialer
		}
		o.Logger = opts.Logger
		o.OnNotification = dispatcher.Dispatch
		o.OnDisconnect = b.handleDisconnect
	})

	return b
}

// EnsureSession implements Backend. A local session without a server
// binding bootstraps one via create_session over an unbound channel, then
// rebinds the channel to the assigned id.
func (b *RemoteBackend) EnsureSession(ctx context.Context, localSessionID string, manifest []protocol.ToolOffer) (string, error) {
	b.mu.Lock()
	serverSessionID, bound := b.bindings[localSessionID]
	b.mu.Unlock()

	if bound {
		if _, err := b.manager.Ensure(ctx, b.serverAddr, serverSessionID); err != nil {
			return "", err
		}
		return serverSessionID, nil
	}

	bootstrap, err := b.manager.Ensure(ctx, b.serverAddr, "")
	if err != nil {
		return "", err
	}

	var res protocol.CreateSessionResult
	if err := bootstrap.Call(ctx, protocol.MethodCreateSession, protocol.CreateSessionParams{Manifest: manifest}, &res); err != nil {
		return "", fmt.Errorf("create server session: %w", err)
	}
	if res.SessionID == "" {
		return "", fmt.Errorf("server returned an empty session id")
	}

	// Rebind the channel to the assigned id so reconnects resume the
	// server session.
	if _, err := b.manager.Ensure(ctx, b.serverAddr, res.SessionID); err != nil {
		return "", err
	}

	b.mu.Lock()
	b.bindings[localSessionID] = res.SessionID
	b.mu.Unlock()

	b.logger.Info("engine.session.bound", "local_session_id", localSessionID, "server_session_id", res.SessionID)

	return res.SessionID, nil
}

// StartGenerate implements Backend.
func (b *RemoteBackend) StartGenerate(ctx context.Context, serverSessionID string, history []core.ChatMessage, tools []protocol.ToolOffer) (string, error) {
	ch, err := b.manager.Ensure(ctx, b.serverAddr, serverSessionID)
	if err != nil {
		return "", err
	}

	var res protocol.GenerateResult
	if err := ch.Call(ctx, protocol.MethodGenerate, protocol.GenerateParams{
		SessionID: serverSessionID,
		History:   history,
		Tools:     tools,
	}, &res); err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}

	return res.TaskID, nil
}

// SubmitToolResults implements Backend. The server holds the task state, so
// the committed history is not resent.
func (b *RemoteBackend) SubmitToolResults(ctx context.Context, serverSessionID, taskID string, _ []core.ChatMessage, results []core.ToolResult) error {
	ch, err := b.manager.Ensure(ctx, b.serverAddr, serverSessionID)
	if err != nil {
		return err
	}

	if err := ch.Call(ctx, protocol.MethodToolResult, protocol.ToolResultParams{
		SessionID: serverSessionID,
		TaskID:    taskID,
		Results:   results,
	}, nil); err != nil {
		return fmt.Errorf("submit tool results: %w", err)
	}

	return nil
}

// Close implements Backend.
func (b *RemoteBackend) Close() error {
	b.manager.Close()
	return nil
}

// handleDisconnect fails the live task when its channel drops. Closures of
// idle or superseded channels are ignored by the machine.
func (b *RemoteBackend) handleDisconnect(serverSessionID string, err error) {
	detail := "channel closed"
	if err != nil {
		detail = err.Error()
	}

	b.logger.Warn("engine.channel.lost", "server_session_id", serverSessionID, "error", detail)
	b.machine.Fail(fmt.Sprintf("connection lost: %s", detail))
}
