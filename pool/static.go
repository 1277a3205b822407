package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/chatlink/core"
	"github.com/hupe1980/chatlink/internal/util"
)

// Handler is an in-process tool implementation.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// StaticPool is a core.ToolServerPool whose servers are in-process method
// tables. It is safe for concurrent use and intended for tests, demos and
// built-in tools that need no external process.
type StaticPool struct {
	mu          sync.RWMutex
	servers     map[string]*staticServer
	subscribers []chan core.StatusEvent
	closed      bool
}

type staticServer struct {
	tools    []core.ToolDescriptor
	handlers map[string]Handler
	status   core.ServerStatus
}

var _ core.ToolServerPool = (*StaticPool)(nil)

// NewStaticPool constructs an empty pool.
func NewStaticPool() *StaticPool {
	return &StaticPool{servers: make(map[string]*staticServer)}
}

// Register adds a tool to a server, creating the server on first use, and
// notifies subscribers of the (re)connected server.
func (p *StaticPool) Register(serverID string, tool core.ToolDescriptor, handler Handler) {
	p.mu.Lock()

	srv, ok := p.servers[serverID]
	if !ok {
		srv = &staticServer{
			handlers: make(map[string]Handler),
			status:   core.ServerConnected,
		}
		p.servers[serverID] = srv
	}
	srv.tools = append(srv.tools, tool)
	srv.handlers[tool.Name] = handler

	subs := append([]chan core.StatusEvent{}, p.subscribers...)
	p.mu.Unlock()

	broadcast(subs, core.StatusEvent{ServerID: serverID, Status: core.ServerConnected})
}

// RegisterTyped registers a tool whose input schema is derived from the
// params struct via reflection.
func (p *StaticPool) RegisterTyped(serverID, name, description string, params any, handler Handler) {
	p.Register(serverID, core.ToolDescriptor{
		Name:        name,
		Description: description,
		InputSchema: util.SchemaFor(params),
	}, handler)
}

// Disconnect marks a server unreachable; subsequent calls to it fail.
func (p *StaticPool) Disconnect(serverID string) {
	p.mu.Lock()

	srv, ok := p.servers[serverID]
	if ok {
		srv.status = core.ServerDisconnected
	}

	subs := append([]chan core.StatusEvent{}, p.subscribers...)
	p.mu.Unlock()

	if ok {
		broadcast(subs, core.StatusEvent{ServerID: serverID, Status: core.ServerDisconnected})
	}
}

// ListConnectedServers implements core.ToolServerPool.
func (p *StaticPool) ListConnectedServers() []core.ServerInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]core.ServerInfo, 0, len(p.servers))
	for id, srv := range p.servers {
		if srv.status != core.ServerConnected {
			continue
		}
		tools := make([]core.ToolDescriptor, len(srv.tools))
		copy(tools, srv.tools)
		out = append(out, core.ServerInfo{ServerID: id, Tools: tools})
	}

	return out
}

// CallMethod implements core.ToolServerPool.
func (p *StaticPool) CallMethod(ctx context.Context, serverID, method string, params map[string]any) (any, error) {
	p.mu.RLock()
	srv, ok := p.servers[serverID]
	var (
		handler Handler
		schema  map[string]any
	)
	if ok {
		handler = srv.handlers[method]
		for _, tool := range srv.tools {
			if tool.Name == method {
				schema = tool.InputSchema
				break
			}
		}
	}
	connected := ok && srv.status == core.ServerConnected
	p.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown tool server %q", serverID)
	}
	if !connected {
		return nil, fmt.Errorf("tool server %q is not connected", serverID)
	}
	if handler == nil {
		return nil, fmt.Errorf("server %q has no method %q", serverID, method)
	}

	if schema != nil {
		if err := util.ValidateParameters(params, schema); err != nil {
			return nil, err
		}
	}

	return handler(ctx, params)
}

// Status implements core.ToolServerPool.
func (p *StaticPool) Status(serverID string) core.ServerStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if srv, ok := p.servers[serverID]; ok {
		return srv.status
	}

	return core.ServerDisconnected
}

// Subscribe implements core.ToolServerPool.
func (p *StaticPool) Subscribe() <-chan core.StatusEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan core.StatusEvent, 8)
	if p.closed {
		close(ch)
		return ch
	}
	p.subscribers = append(p.subscribers, ch)

	return ch
}

// Close shuts the pool down and closes all subscription channels.
func (p *StaticPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	for _, ch := range p.subscribers {
		close(ch)
	}
	p.subscribers = nil
}

// broadcast delivers an event without blocking; slow subscribers lose
// events rather than stalling the pool.
func broadcast(subs []chan core.StatusEvent, ev core.StatusEvent) {
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
