package model

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hupe1980/chatlink/core"
)

// ToolSpec declaratively exposes a callable tool to the model. Parameters
// is a JSON Schema object (minimal subset expected).
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Request captures the normalized model input for one generation turn.
type Request struct {
	Instructions string             `json:"instructions,omitempty"`
	History      []core.ChatMessage `json:"history"`
	Tools        []ToolSpec         `json:"tools,omitempty"`
	Stream       bool               `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) event emitted by a generation.
// Partial responses carry a text Delta; the final response carries the
// accumulated Text plus any requested tool calls.
type Response struct {
	Partial      bool                   `json:"partial"`
	Delta        string                 `json:"delta,omitempty"`
	Text         string                 `json:"text,omitempty"`
	ToolCalls    []core.ToolCallRequest `json:"tool_calls,omitempty"`
	FinishReason string                 `json:"finish_reason,omitempty"`
	Usage        *TokenUsage            `json:"usage,omitempty"`
}

// Info contains metadata about a generator implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Generator is the minimal interface the engine needs to drive a turn
// against a locally attached provider.
type Generator interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the generator implementation.
	Info() Info
}

// MockGenerator is a lightweight in-memory Generator useful for tests and
// examples. Canned completions are keyed by the last user message.
type MockGenerator struct {
	info      Info
	responses map[string]string
	toolCalls map[string][]core.ToolCallRequest
}

// NewMockGenerator constructs a MockGenerator with tool support enabled.
func NewMockGenerator(name string) *MockGenerator {
	return &MockGenerator{
		info: Info{
			Name:          name,
			Provider:      "mock",
			SupportsTools: true,
		},
		responses: make(map[string]string),
		toolCalls: make(map[string][]core.ToolCallRequest),
	}
}

// AddResponse registers a deterministic canned completion for a prompt.
func (m *MockGenerator) AddResponse(prompt, response string) { m.responses[prompt] = response }

// AddToolCalls registers canned tool calls emitted for a prompt instead of
// a text completion. A follow-up turn whose history ends in tool results
// completes with the canned response for the original prompt.
func (m *MockGenerator) AddToolCalls(prompt string, calls ...core.ToolCallRequest) {
	m.toolCalls[prompt] = calls
}

// Generate implements Generator; emits optional streaming char deltas then
// the final response.
func (m *MockGenerator) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		if len(req.History) == 0 {
			errCh <- fmt.Errorf("no history provided")
			return
		}

		prompt := lastUserText(req.History)

		if calls, ok := m.toolCalls[prompt]; ok && !endsInToolResults(req.History) {
			respCh <- Response{
				ToolCalls:    calls,
				FinishReason: "tool_calls",
			}
			return
		}

		full := m.responses[prompt]
		if full == "" {
			full = fmt.Sprintf("Mock response to: %s", prompt)
		}

		if req.Stream {
			for _, r := range full {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Delta: string(r)}:
				}
			}
		}

		respCh <- Response{Text: full, FinishReason: "stop"}
	}()

	return respCh, errCh
}

// Info implements Generator.
func (m *MockGenerator) Info() Info { return m.info }

func lastUserText(history []core.ChatMessage) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == core.RoleUser {
			return history[i].Content
		}
	}

	return ""
}

func endsInToolResults(history []core.ChatMessage) bool {
	return len(history) > 0 && history[len(history)-1].Role == core.RoleTool
}

// MarshalParameters renders a tool parameter map as the raw JSON argument
// payload providers expect.
func MarshalParameters(params map[string]any) json.RawMessage {
	if len(params) == 0 {
		return json.RawMessage(`{}`)
	}

	b, err := json.Marshal(params)
	if err != nil {
		return json.RawMessage(`{}`)
	}

	return b
}
