package model

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chatlink/core"
)

func collect(t *testing.T, respCh <-chan Response, errCh <-chan error) ([]Response, error) {
	t.Helper()

	var responses []Response

	timeout := time.After(2 * time.Second)
	for {
		select {
		case r, ok := <-respCh:
			if !ok {
				return responses, <-errCh
			}
			responses = append(responses, r)
		case <-timeout:
			t.Fatal("timed out waiting for generator")
		}
	}
}

func TestMockGeneratorCannedResponse(t *testing.T) {
	gen := NewMockGenerator("test-model")
	gen.AddResponse("hello", "hi there")

	respCh, errCh := gen.Generate(context.Background(), Request{
		History: []core.ChatMessage{core.NewUserMessage("hello")},
	})

	responses, err := collect(t, respCh, errCh)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.False(t, responses[0].Partial)
	assert.Equal(t, "hi there", responses[0].Text)
	assert.Equal(t, "stop", responses[0].FinishReason)
}

func TestMockGeneratorStreamingDeltas(t *testing.T) {
	gen := NewMockGenerator("test-model")
	gen.AddResponse("hi", "abc")

	respCh, errCh := gen.Generate(context.Background(), Request{
		History: []core.ChatMessage{core.NewUserMessage("hi")},
		Stream:  true,
	})

	responses, err := collect(t, respCh, errCh)
	require.NoError(t, err)
	require.Len(t, responses, 4)

	var streamed string
	for _, r := range responses[:3] {
		assert.True(t, r.Partial)
		streamed += r.Delta
	}
	assert.Equal(t, "abc", streamed)
	assert.Equal(t, "abc", responses[3].Text)
}

func TestMockGeneratorToolCallRoundTrip(t *testing.T) {
	gen := NewMockGenerator("test-model")
	gen.AddToolCalls("list my files", core.ToolCallRequest{
		ID:         "call-1",
		ToolName:   "files@list_files",
		Parameters: json.RawMessage(`{"path":"."}`),
	})
	gen.AddResponse("list my files", "you have 3 files")

	history := []core.ChatMessage{core.NewUserMessage("list my files")}

	respCh, errCh := gen.Generate(context.Background(), Request{History: history})
	responses, err := collect(t, respCh, errCh)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	require.Len(t, responses[0].ToolCalls, 1)
	assert.Equal(t, "tool_calls", responses[0].FinishReason)

	// Resubmitting with the tool result appended completes with text.
	history = append(history,
		core.NewAssistantMessage("", responses[0].ToolCalls...),
		core.NewToolMessage(core.ToolResult{ToolCallID: "call-1", ToolName: "files@list_files", Result: "a, b, c"}),
	)

	respCh, errCh = gen.Generate(context.Background(), Request{History: history})
	responses, err = collect(t, respCh, errCh)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, "you have 3 files", responses[0].Text)
}

func TestMockGeneratorEmptyHistory(t *testing.T) {
	gen := NewMockGenerator("test-model")

	respCh, errCh := gen.Generate(context.Background(), Request{})
	responses, err := collect(t, respCh, errCh)
	assert.Empty(t, responses)
	assert.Error(t, err)
}
