package pool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hupe1980/chatlink/core"
	"github.com/hupe1980/chatlink/logging"
)

// ServerConfig declares one MCP server to spawn and supervise.
type ServerConfig struct {
	// ID is the pool-local server identifier used in "serverId@toolName".
	ID string `yaml:"id" json:"id"`
	// Command is the executable to spawn.
	Command string `yaml:"command" json:"command"`
	// Args are passed to the command.
	Args []string `yaml:"args,omitempty" json:"args,omitempty"`
	// Env entries ("KEY=VALUE") are added to the process environment.
	Env []string `yaml:"env,omitempty" json:"env,omitempty"`
}

// MCPOptions configure an MCPPool.
type MCPOptions struct {
	// InitTimeout bounds each server's initialize + list_tools handshake.
	InitTimeout time.Duration
	// ClientName is reported to servers during the handshake.
	ClientName string
	// ClientVersion is reported to servers during the handshake.
	ClientVersion string
	// Logger defaults to the package default slog adapter.
	Logger logging.Logger
}

// mcpServer is one supervised stdio server with its discovered manifest.
type mcpServer struct {
	cfg    ServerConfig
	client *client.StdioMCPClient
	tools  []core.ToolDescriptor
	status core.ServerStatus
}

// MCPPool supervises external MCP servers over stdio and exposes them as a
// core.ToolServerPool. Servers that fail to start are reported as errored
// and skipped; they never prevent the rest of the pool from serving.
type MCPPool struct {
	mu          sync.RWMutex
	servers     map[string]*mcpServer
	subscribers []chan core.StatusEvent
	opts        MCPOptions
	closed      bool
}

var _ core.ToolServerPool = (*MCPPool)(nil)

// NewMCPPool constructs an unconnected pool for the given server configs.
// Call Connect before use.
func NewMCPPool(configs []ServerConfig, optFns ...func(o *MCPOptions)) *MCPPool {
	opts := MCPOptions{
		InitTimeout:   30 * time.Second,
		ClientName:    "chatlink",
		ClientVersion: "0.1.0",
		Logger:        logging.NewDefaultSlogLogger(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	servers := make(map[string]*mcpServer, len(configs))
	for _, cfg := range configs {
		servers[cfg.ID] = &mcpServer{cfg: cfg, status: core.ServerDisconnected}
	}

	return &MCPPool{servers: servers, opts: opts}
}

// Connect spawns and initializes every configured server. A failing server
// is marked errored and logged; Connect only returns an error when no
// server at all could be started.
func (p *MCPPool) Connect(ctx context.Context) error {
	p.mu.RLock()
	ids := make([]string, 0, len(p.servers))
	for id := range p.servers {
		ids = append(ids, id)
	}
	p.mu.RUnlock()

	connected := 0

	for _, id := range ids {
		if err := p.connectOne(ctx, id); err != nil {
			p.opts.Logger.Error("mcp server failed to start", "server", id, "error", err)
			p.setStatus(id, core.ServerErrored)
			continue
		}
		connected++
		p.setStatus(id, core.ServerConnected)
	}

	if connected == 0 && len(ids) > 0 {
		return fmt.Errorf("no mcp server could be started (%d configured)", len(ids))
	}

	return nil
}

func (p *MCPPool) connectOne(ctx context.Context, id string) error {
	p.mu.RLock()
	srv := p.servers[id]
	p.mu.RUnlock()

	c, err := client.NewStdioMCPClient(srv.cfg.Command, srv.cfg.Env, srv.cfg.Args...)
	if err != nil {
		return fmt.Errorf("spawn %s: %w", srv.cfg.Command, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, p.opts.InitTimeout)
	defer cancel()

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    p.opts.ClientName,
		Version: p.opts.ClientVersion,
	}

	if _, err := c.Initialize(initCtx, initReq); err != nil {
		c.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	listed, err := c.ListTools(initCtx, mcp.ListToolsRequest{})
	if err != nil {
		c.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	tools := make([]core.ToolDescriptor, 0, len(listed.Tools))
	for _, t := range listed.Tools {
		tools = append(tools, core.ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaToMap(t.InputSchema),
		})
	}

	p.mu.Lock()
	srv.client = c
	srv.tools = tools
	p.mu.Unlock()

	p.opts.Logger.Info("mcp server connected", "server", id, "tools", len(tools))

	return nil
}

// ListConnectedServers implements core.ToolServerPool.
func (p *MCPPool) ListConnectedServers() []core.ServerInfo {
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

// CallMethod implements core.ToolServerPool. The MCP result's text content
// is returned as a string; multi-part content is returned as a slice.
func (p *MCPPool) CallMethod(ctx context.Context, serverID, method string, params map[string]any) (any, error) {
	p.mu.RLock()
	srv, ok := p.servers[serverID]
	var (
		c      *client.StdioMCPClient
		status core.ServerStatus
	)
	if ok {
		c = srv.client
		status = srv.status
	}
	p.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown tool server %q", serverID)
	}
	if status != core.ServerConnected || c == nil {
		return nil, fmt.Errorf("tool server %q is not connected", serverID)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = method
	req.Params.Arguments = params

	res, err := c.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call %s@%s: %w", serverID, method, err)
	}

	text := flattenContent(res.Content)
	if res.IsError {
		return nil, fmt.Errorf("tool %s@%s reported an error: %s", serverID, method, text)
	}

	return text, nil
}

// Status implements core.ToolServerPool.
func (p *MCPPool) Status(serverID string) core.ServerStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if srv, ok := p.servers[serverID]; ok {
		return srv.status
	}

	return core.ServerDisconnected
}

// Subscribe implements core.ToolServerPool.
func (p *MCPPool) Subscribe() <-chan core.StatusEvent {
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

// Close terminates all server processes and closes subscription channels.
func (p *MCPPool) Close() {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	for id, srv := range p.servers {
		if srv.client != nil {
			if err := srv.client.Close(); err != nil {
				p.opts.Logger.Warn("mcp server close failed", "server", id, "error", err)
			}
			srv.client = nil
		}
		srv.status = core.ServerDisconnected
	}

	subs := p.subscribers
	p.subscribers = nil
	p.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}

func (p *MCPPool) setStatus(serverID string, status core.ServerStatus) {
	p.mu.Lock()
	if srv, ok := p.servers[serverID]; ok {
		srv.status = status
	}
	subs := append([]chan core.StatusEvent{}, p.subscribers...)
	p.mu.Unlock()

	broadcast(subs, core.StatusEvent{ServerID: serverID, Status: status})
}

// flattenContent joins the text parts of an MCP result. Non-text parts are
// skipped.
func flattenContent(content []mcp.Content) string {
	var parts []string

	for _, c := range content {
		if tc, ok := c.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}

	return strings.Join(parts, "\n")
}

// schemaToMap renders the listed input schema in the descriptor's generic
// JSON Schema form.
func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	out := map[string]any{"type": schema.Type}

	if len(schema.Properties) > 0 {
		out["properties"] = schema.Properties
	}
	if len(schema.Required) > 0 {
		out["required"] = schema.Required
	}

	return out
}
