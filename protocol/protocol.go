// Package protocol defines the JSON-RPC style wire protocol spoken between
// chatlink and the inference server. One streaming socket exists per server
// session; requests carry a correlation id, notifications do not.
package protocol

import (
	"encoding/json"

	"github.com/hupe1980/chatlink/core"
)

// Request is a client -> server call correlated by ID.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response resolves a previously sent Request.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC error object carried by failed responses.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

// Standard error codes.
const (
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternal       = -32603
)

// Frame is the union of everything a peer may send on the socket. A frame
// with an ID resolves a pending request; a frame with a Method and no ID is
// an uncorrelated notification.
type Frame struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// IsResponse reports whether the frame resolves a pending request.
func (f *Frame) IsResponse() bool { return f.ID != "" }

// IsNotification reports whether the frame is an uncorrelated server event.
func (f *Frame) IsNotification() bool { return f.ID == "" && f.Method != "" }

// Request methods (client -> server).
const (
	MethodCreateSession = "create_session"
	MethodGenerate      = "generate"
	MethodToolResult    = "tool_result"
)

// Notification methods (server -> client).
const (
	NotifyTextChunk    = "text_chunk"
	NotifyFinalText    = "final_text"
	NotifyFunctionCall = "function_call_request"
	NotifyStatus       = "status"
	NotifyError        = "error"
	NotifyEnd          = "end"
)

// ToolOffer declaratively exposes a callable tool to the inference engine.
// Name uses the "serverId@toolName" form.
type ToolOffer struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// CreateSessionParams seeds a fresh server session, optionally with the
// currently known tool manifest.
type CreateSessionParams struct {
	Manifest []ToolOffer `json:"manifest,omitempty"`
}

// CreateSessionResult returns the server-assigned session id.
type CreateSessionResult struct {
	SessionID string `json:"session_id"`
}

// GenerateParams starts one generation task over the given history.
type GenerateParams struct {
	SessionID string             `json:"session_id"`
	History   []core.ChatMessage `json:"history"`
	Tools     []ToolOffer        `json:"tools,omitempty"`
}

// GenerateResult acknowledges task admission.
type GenerateResult struct {
	TaskID string `json:"task_id"`
}

// ToolResultParams submits resolved tool calls back into a running task.
type ToolResultParams struct {
	SessionID string            `json:"session_id"`
	TaskID    string            `json:"task_id"`
	Results   []core.ToolResult `json:"results"`
}

// TextChunk streams one delta of assistant text.
type TextChunk struct {
	SessionID string `json:"session_id,omitempty"`
	TaskID    string `json:"task_id"`
	Content   string `json:"content"`
}

// FinalText carries the server's authoritative final text for a task.
type FinalText struct {
	SessionID string `json:"session_id,omitempty"`
	TaskID    string `json:"task_id"`
	FinalText string `json:"final_text"`
}

// ToolCallPayload is the wire form of a requested tool invocation.
type ToolCallPayload struct {
	ID         string          `json:"id"`
	Tool       string          `json:"tool"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// FunctionCallRequest asks the client to execute one tool call.
type FunctionCallRequest struct {
	SessionID string          `json:"session_id"`
	TaskID    string          `json:"task_id"`
	ToolCall  ToolCallPayload `json:"tool_call"`
}

// Status is a transient, human-readable server status line.
type Status struct {
	Status string `json:"status"`
}

// ErrorNotice reports a server side failure outside the request/response
// path.
type ErrorNotice struct {
	ErrorDetails string `json:"error_details"`
}

// End terminates a task. ErrorOccurred=true means the turn produced no
// committable output.
type End struct {
	SessionID     string `json:"session_id"`
	TaskID        string `json:"task_id"`
	ErrorOccurred bool   `json:"error_occurred"`
}

// NewRequest builds a correlated request, marshalling params. A nil params
// produces an empty payload.
func NewRequest(method string, params any) (Request, error) {
	req := Request{ID: core.NewID(), Method: method}
	if params == nil {
		return req, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return Request{}, err
	}
	req.Params = raw
	return req, nil
}
