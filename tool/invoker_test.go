package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chatlink/core"
)

// fakePool routes CallMethod through a per-test function and records every
// call it receives.
type fakePool struct {
	mu    sync.Mutex
	calls []poolCall
	fn    func(serverID, method string, params map[string]any) (any, error)
}

type poolCall struct {
	serverID string
	method   string
	params   map[string]any
}

func (p *fakePool) CallMethod(_ context.Context, serverID, method string, params map[string]any) (any, error) {
	p.mu.Lock()
	p.calls = append(p.calls, poolCall{serverID: serverID, method: method, params: params})
	p.mu.Unlock()

	if p.fn == nil {
		return nil, fmt.Errorf("no handler for %s@%s", serverID, method)
	}

	return p.fn(serverID, method, params)
}

func (p *fakePool) ListConnectedServers() []core.ServerInfo { return nil }

func (p *fakePool) Status(string) core.ServerStatus { return core.ServerConnected }

func (p *fakePool) Subscribe() <-chan core.StatusEvent { return nil }

func (p *fakePool) recorded() []poolCall {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]poolCall, len(p.calls))
	copy(out, p.calls)

	return out
}

func call(id, tool string, params string) core.ToolCallRequest {
	return core.ToolCallRequest{ID: id, ToolName: tool, Parameters: json.RawMessage(params)}
}

func TestSplitToolName(t *testing.T) {
	serverID, toolName, err := SplitToolName("files@list_files")
	require.NoError(t, err)
	assert.Equal(t, "files", serverID)
	assert.Equal(t, "list_files", toolName)

	_, _, err = SplitToolName("list_files")
	assert.Error(t, err)

	_, _, err = SplitToolName("@list_files")
	assert.Error(t, err)

	_, _, err = SplitToolName("files@")
	assert.Error(t, err)
}

func TestInvokerExecutePreservesOrder(t *testing.T) {
	pool := &fakePool{
		fn: func(serverID, method string, _ map[string]any) (any, error) {
			// Finish in reverse submission order to make ordering matter.
			if method == "a" {
				time.Sleep(30 * time.Millisecond)
			}

			return serverID + ":" + method, nil
		},
	}

	inv := NewInvoker(pool)

	results := inv.Execute(context.Background(), []core.ToolCallRequest{
		call("c1", "srv@a", `{}`),
		call("c2", "srv@b", `{}`),
		call("c3", "srv@c", `{}`),
	})

	require.Len(t, results, 3)
	assert.Equal(t, "c1", results[0].ToolCallID)
	assert.Equal(t, "srv:a", results[0].Result)
	assert.Equal(t, "c2", results[1].ToolCallID)
	assert.Equal(t, "srv:b", results[1].Result)
	assert.Equal(t, "c3", results[2].ToolCallID)
	assert.Equal(t, "srv:c", results[2].Result)
}

func TestInvokerIsolatesFailures(t *testing.T) {
	pool := &fakePool{
		fn: func(_, method string, _ map[string]any) (any, error) {
			if method == "boom" {
				return nil, fmt.Errorf("backend exploded")
			}

			return "ok", nil
		},
	}

	inv := NewInvoker(pool)

	results := inv.Execute(context.Background(), []core.ToolCallRequest{
		call("c1", "srv@fine", `{}`),
		call("c2", "srv@boom", `{}`),
		call("c3", "srv@fine", `{}`),
	})

	require.Len(t, results, 3)
	assert.Empty(t, results[0].Error)
	assert.Contains(t, results[1].Error, "backend exploded")
	assert.Nil(t, results[1].Result)
	assert.Empty(t, results[2].Error)
	assert.Equal(t, "ok", results[2].Result)
}

func TestInvokerMalformedIdentifier(t *testing.T) {
	pool := &fakePool{}
	inv := NewInvoker(pool)

	results := inv.Execute(context.Background(), []core.ToolCallRequest{
		call("c1", "no-separator", `{}`),
	})

	require.Len(t, results, 1)
	assert.Contains(t, results[0].Error, "malformed tool identifier")
	assert.Contains(t, results[0].Error, CodeInvalidIdentifier)
	assert.Empty(t, pool.recorded(), "pool must not be called for unresolvable identifiers")
}

func TestInvokerInvalidParameters(t *testing.T) {
	pool := &fakePool{}
	inv := NewInvoker(pool)

	results := inv.Execute(context.Background(), []core.ToolCallRequest{
		call("c1", "srv@x", `{not json`),
	})

	require.Len(t, results, 1)
	assert.Contains(t, results[0].Error, "invalid tool parameters")
	assert.Contains(t, results[0].Error, CodeValidationError)
	assert.Empty(t, pool.recorded())
}

func TestInvokerRecoversFromPanic(t *testing.T) {
	pool := &fakePool{
		fn: func(_, method string, _ map[string]any) (any, error) {
			if method == "panic" {
				panic("tool went sideways")
			}

			return "ok", nil
		},
	}

	inv := NewInvoker(pool)

	results := inv.Execute(context.Background(), []core.ToolCallRequest{
		call("c1", "srv@panic", `{}`),
		call("c2", "srv@ok", `{}`),
	})

	require.Len(t, results, 2)
	assert.Contains(t, results[0].Error, "tool panicked")
	assert.Empty(t, results[1].Error)
	assert.Equal(t, "ok", results[1].Result)
}

func TestInvokerBoundsParallelism(t *testing.T) {
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
	)

	pool := &fakePool{
		fn: func(_, _ string, _ map[string]any) (any, error) {
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(20 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()

			return "ok", nil
		},
	}

	inv := NewInvoker(pool, func(o *InvokerOptions) {
		o.MaxParallel = 2
	})

	calls := make([]core.ToolCallRequest, 6)
	for i := range calls {
		calls[i] = call(fmt.Sprintf("c%d", i), "srv@slow", `{}`)
	}

	results := inv.Execute(context.Background(), calls)

	require.Len(t, results, 6)
	assert.LessOrEqual(t, maxSeen, 2)
}

func TestInvokerPassesDecodedParameters(t *testing.T) {
	pool := &fakePool{
		fn: func(_, _ string, params map[string]any) (any, error) {
			return params["path"], nil
		},
	}

	inv := NewInvoker(pool)

	results := inv.Execute(context.Background(), []core.ToolCallRequest{
		call("c1", "files@list_files", `{"path":"/tmp"}`),
	})

	require.Len(t, results, 1)
	assert.Equal(t, "/tmp", results[0].Result)

	recorded := pool.recorded()
	require.Len(t, recorded, 1)
	assert.Equal(t, "files", recorded[0].serverID)
	assert.Equal(t, "list_files", recorded[0].method)
}

func TestInvokerEmptyBatch(t *testing.T) {
	inv := NewInvoker(&fakePool{})
	assert.Nil(t, inv.Execute(context.Background(), nil))
}
