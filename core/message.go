package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies the author of a ChatMessage. The set is closed: user,
// assistant and tool messages are the only roles that enter session history.
type Role string

const (
	// RoleUser marks a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant marks a message produced by the inference engine.
	RoleAssistant Role = "assistant"
	// RoleTool marks the resolved result of a single tool call.
	RoleTool Role = "tool"
)

// ToolCallRequest is a structured request, emitted by the inference engine
// mid-task, to invoke a tool. ToolName uses the "serverId@toolName" form;
// Parameters carries the raw argument payload untouched until execution.
type ToolCallRequest struct {
	ID         string          `json:"id"`
	ToolName   string          `json:"tool_name"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// ToolResult is the terminal form of a ToolCallRequest. Exactly one of
// Result / Error is meaningful.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Result     any    `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Content renders the result as the string stored in a tool ChatMessage:
// errors as an {"error": ...} JSON object, successes as the stringified
// result (JSON for structured values).
func (r ToolResult) Content() string {
	if r.Error != "" {
		b, err := json.Marshal(map[string]string{"error": r.Error})
		if err != nil {
			return fmt.Sprintf(`{"error":%q}`, r.Error)
		}
		return string(b)
	}
	switch v := r.Result.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// ChatMessage is a tagged variant over user | assistant | tool entries in a
// session history.
//
// Field usage by role:
//   - user:      Content
//   - assistant: Content, optionally ToolCalls (ordered as emitted)
//   - tool:      Content, ToolCallID, ToolName (one message per resolved call)
//
// Invariant: a tool message's ToolCallID always matches an id present in the
// immediately preceding assistant message's ToolCalls. The pair is committed
// to history together, assistant first, never independently.
type ChatMessage struct {
	Role       Role              `json:"role"`
	Content    string            `json:"content"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	ToolName   string            `json:"tool_name,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// NewUserMessage creates a user-authored text message.
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: content, Timestamp: time.Now().UTC()}
}

// NewAssistantMessage creates an assistant message with optional tool calls.
func NewAssistantMessage(content string, toolCalls ...ToolCallRequest) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: content, ToolCalls: toolCalls, Timestamp: time.Now().UTC()}
}

// NewToolMessage records the outcome of a previously emitted tool call.
func NewToolMessage(result ToolResult) ChatMessage {
	return ChatMessage{
		Role:       RoleTool,
		Content:    result.Content(),
		ToolCallID: result.ToolCallID,
		ToolName:   result.ToolName,
		Timestamp:  time.Now().UTC(),
	}
}

// HasToolCalls reports whether this is an assistant message that requested
// tool execution.
func (m ChatMessage) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}
