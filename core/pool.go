package core

import "context"

// ServerStatus describes the connection state of a tool server.
type ServerStatus string

const (
	// ServerConnected means the server is reachable and serving calls.
	ServerConnected ServerStatus = "connected"
	// ServerDisconnected means the server process is gone or unreachable.
	ServerDisconnected ServerStatus = "disconnected"
	// ServerErrored means the server failed during startup or a call.
	ServerErrored ServerStatus = "errored"
)

// ToolDescriptor describes one named, schema-described method exposed by a
// tool server.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// ServerInfo pairs a connected tool server id with its capability manifest.
type ServerInfo struct {
	ServerID string           `json:"server_id"`
	Tools    []ToolDescriptor `json:"tools"`
}

// StatusEvent reports a tool server status transition.
type StatusEvent struct {
	ServerID string
	Status   ServerStatus
}

// ToolServerPool is the collaborator that supervises worker processes and
// exposes their capabilities. chatlink only consumes this boundary; process
// spawning and health checking live behind it.
type ToolServerPool interface {
	// ListConnectedServers returns ids and capability manifests of every
	// currently connected server.
	ListConnectedServers() []ServerInfo
	// CallMethod invokes a named method on a server. Errors are returned, not
	// panicked, and pertain to that single call only.
	CallMethod(ctx context.Context, serverID, method string, params map[string]any) (any, error)
	// Status reports the current status of a server id.
	Status(serverID string) ServerStatus
	// Subscribe returns a channel of status transitions. The channel is
	// closed when the pool shuts down.
	Subscribe() <-chan StatusEvent
}
