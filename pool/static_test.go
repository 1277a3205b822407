package pool

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chatlink/core"
)

func TestStaticPoolCallMethod(t *testing.T) {
	p := NewStaticPool()
	defer p.Close()

	p.Register("files", core.ToolDescriptor{Name: "list_files", Description: "list directory"},
		func(_ context.Context, params map[string]any) (any, error) {
			return fmt.Sprintf("listing %v", params["path"]), nil
		})

	got, err := p.CallMethod(context.Background(), "files", "list_files", map[string]any{"path": "/tmp"})
	require.NoError(t, err)
	assert.Equal(t, "listing /tmp", got)
}

func TestStaticPoolUnknownTargets(t *testing.T) {
	p := NewStaticPool()
	defer p.Close()

	p.Register("files", core.ToolDescriptor{Name: "list_files"},
		func(context.Context, map[string]any) (any, error) { return nil, nil })

	_, err := p.CallMethod(context.Background(), "nope", "list_files", nil)
	assert.ErrorContains(t, err, "unknown tool server")

	_, err = p.CallMethod(context.Background(), "files", "nope", nil)
	assert.ErrorContains(t, err, "no method")
}

func TestStaticPoolManifest(t *testing.T) {
	p := NewStaticPool()
	defer p.Close()

	p.Register("files", core.ToolDescriptor{Name: "list_files"},
		func(context.Context, map[string]any) (any, error) { return nil, nil })
	p.Register("files", core.ToolDescriptor{Name: "read_file"},
		func(context.Context, map[string]any) (any, error) { return nil, nil })
	p.Register("web", core.ToolDescriptor{Name: "search"},
		func(context.Context, map[string]any) (any, error) { return nil, nil })

	infos := p.ListConnectedServers()
	require.Len(t, infos, 2)

	byID := map[string][]core.ToolDescriptor{}
	for _, info := range infos {
		byID[info.ServerID] = info.Tools
	}
	assert.Len(t, byID["files"], 2)
	assert.Len(t, byID["web"], 1)
}

func TestStaticPoolDisconnect(t *testing.T) {
	p := NewStaticPool()
	defer p.Close()

	p.Register("files", core.ToolDescriptor{Name: "list_files"},
		func(context.Context, map[string]any) (any, error) { return "ok", nil })

	assert.Equal(t, core.ServerConnected, p.Status("files"))

	p.Disconnect("files")

	assert.Equal(t, core.ServerDisconnected, p.Status("files"))
	assert.Empty(t, p.ListConnectedServers())

	_, err := p.CallMethod(context.Background(), "files", "list_files", nil)
	assert.ErrorContains(t, err, "not connected")
}

func TestStaticPoolStatusEvents(t *testing.T) {
	p := NewStaticPool()

	events := p.Subscribe()

	p.Register("files", core.ToolDescriptor{Name: "list_files"},
		func(context.Context, map[string]any) (any, error) { return nil, nil })
	p.Disconnect("files")

	ev := awaitEvent(t, events)
	assert.Equal(t, "files", ev.ServerID)
	assert.Equal(t, core.ServerConnected, ev.Status)

	ev = awaitEvent(t, events)
	assert.Equal(t, core.ServerDisconnected, ev.Status)

	p.Close()

	_, ok := <-events
	assert.False(t, ok, "subscription channel should close on pool shutdown")
}

func TestStaticPoolRegisterTypedValidatesParameters(t *testing.T) {
	type searchParams struct {
		Query string `json:"query" description:"Search query"`
		Limit int    `json:"limit,omitempty"`
	}

	p := NewStaticPool()
	defer p.Close()

	p.RegisterTyped("search", "find", "full text search", searchParams{},
		func(_ context.Context, params map[string]any) (any, error) {
			return fmt.Sprintf("results for %v", params["query"]), nil
		})

	servers := p.ListConnectedServers()
	require.Len(t, servers, 1)
	require.Len(t, servers[0].Tools, 1)
	assert.Equal(t, "object", servers[0].Tools[0].InputSchema["type"])

	res, err := p.CallMethod(context.Background(), "search", "find", map[string]any{"query": "go idioms"})
	require.NoError(t, err)
	assert.Equal(t, "results for go idioms", res)

	// Missing required parameter is rejected before the handler runs.
	_, err = p.CallMethod(context.Background(), "search", "find", map[string]any{"limit": float64(5)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required field is missing")

	// Wrong parameter type likewise.
	_, err = p.CallMethod(context.Background(), "search", "find", map[string]any{"query": 12})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected type string")
}

func awaitEvent(t *testing.T, ch <-chan core.StatusEvent) core.StatusEvent {
	t.Helper()

	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for status event")
		return core.StatusEvent{}
	}
}
