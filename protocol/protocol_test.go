package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameDiscrimination(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		response     bool
		notification bool
	}{
		{"response", `{"id":"r1","result":{"task_id":"t1"}}`, true, false},
		{"error response", `{"id":"r2","error":{"code":-32603,"message":"boom"}}`, true, false},
		{"notification", `{"method":"text_chunk","params":{"task_id":"t1","content":"hi"}}`, false, true},
		{"empty", `{}`, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f Frame
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &f))
			assert.Equal(t, tt.response, f.IsResponse())
			assert.Equal(t, tt.notification, f.IsNotification())
		})
	}
}

func TestNewRequest(t *testing.T) {
	req, err := NewRequest(MethodGenerate, GenerateParams{SessionID: "srv-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, MethodGenerate, req.Method)

	var params GenerateParams
	require.NoError(t, json.Unmarshal(req.Params, &params))
	assert.Equal(t, "srv-1", params.SessionID)
}

func TestFunctionCallRequestDecode(t *testing.T) {
	raw := `{"session_id":"srv-1","task_id":"t1","tool_call":{"id":"c1","tool":"fs@list_files","parameters":{"path":"."}}}`
	var fcr FunctionCallRequest
	require.NoError(t, json.Unmarshal([]byte(raw), &fcr))
	assert.Equal(t, "fs@list_files", fcr.ToolCall.Tool)
	assert.JSONEq(t, `{"path":"."}`, string(fcr.ToolCall.Parameters))
}
