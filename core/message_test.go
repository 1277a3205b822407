package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolResultContent(t *testing.T) {
	tests := []struct {
		name   string
		result ToolResult
		want   string
	}{
		{
			name:   "error wrapped as json object",
			result: ToolResult{ToolCallID: "1", ToolName: "fs@list_files", Error: "no such directory"},
			want:   `{"error":"no such directory"}`,
		},
		{
			name:   "string result passes through",
			result: ToolResult{ToolCallID: "2", ToolName: "fs@read_file", Result: "hello"},
			want:   "hello",
		},
		{
			name:   "structured result serialized",
			result: ToolResult{ToolCallID: "3", ToolName: "fs@stat", Result: map[string]any{"size": 12}},
			want:   `{"size":12}`,
		},
		{
			name:   "nil result empty",
			result: ToolResult{ToolCallID: "4", ToolName: "fs@touch"},
			want:   "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.Content())
		})
	}
}

func TestNewToolMessage(t *testing.T) {
	msg := NewToolMessage(ToolResult{ToolCallID: "call-1", ToolName: "fs@list_files", Result: []string{"a.txt"}})
	assert.Equal(t, RoleTool, msg.Role)
	assert.Equal(t, "call-1", msg.ToolCallID)
	assert.Equal(t, "fs@list_files", msg.ToolName)
	assert.Equal(t, `["a.txt"]`, msg.Content)
}

func TestChatMessageRoundTrip(t *testing.T) {
	msg := NewAssistantMessage("listing files", ToolCallRequest{
		ID:         "call-1",
		ToolName:   "fs@list_files",
		Parameters: json.RawMessage(`{"path":"/tmp"}`),
	})
	require.True(t, msg.HasToolCalls())

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var back ChatMessage
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, msg.Role, back.Role)
	assert.Equal(t, msg.Content, back.Content)
	require.Len(t, back.ToolCalls, 1)
	assert.Equal(t, "call-1", back.ToolCalls[0].ID)
	assert.JSONEq(t, `{"path":"/tmp"}`, string(back.ToolCalls[0].Parameters))
}

func TestDeriveTitle(t *testing.T) {
	s := NewChatSession()
	assert.Empty(t, s.DeriveTitle())

	s.History = append(s.History, NewUserMessage("short prompt"))
	assert.Equal(t, "short prompt", s.DeriveTitle())

	long := "this prompt is considerably longer than thirty characters"
	s.History = []ChatMessage{NewUserMessage(long)}
	title := s.DeriveTitle()
	assert.Equal(t, []rune(long)[:TitleMaxLen], []rune(title))
}
