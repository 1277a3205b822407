package chatlink

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chatlink/config"
	"github.com/hupe1980/chatlink/core"
	"github.com/hupe1980/chatlink/model"
	"github.com/hupe1980/chatlink/pool"
)

func TestNewWithDefaultsRunsATurn(t *testing.T) {
	gen := model.NewMockGenerator("test")
	gen.AddResponse("hello", "hi from the mock")

	c, err := New(func(o *Options) {
		o.Generator = gen
	})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.ProcessQuery(context.Background(), "hello"))

	history, err := c.Store().History(c.Store().ActiveID())
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "hi from the mock", history[1].Content)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Backend.Kind = "remote" // no server_addr

	_, err := New(func(o *Options) {
		o.Config = cfg
	})
	require.Error(t, err)
}

func TestSessionHelpers(t *testing.T) {
	c, err := New(func(o *Options) {
		o.Generator = model.NewMockGenerator("test")
	})
	require.NoError(t, err)
	defer c.Close()

	first, err := c.NewSession()
	require.NoError(t, err)
	second, err := c.NewSession()
	require.NoError(t, err)

	assert.Equal(t, second, c.Store().ActiveID())
	require.NoError(t, c.SwitchSession(first))
	assert.Equal(t, first, c.Store().ActiveID())

	assert.ErrorIs(t, c.SwitchSession("nope"), core.ErrUnknownSession)
}

type notePresenter struct {
	core.NoOpPresenter

	mu    sync.Mutex
	notes []string
}

func (p *notePresenter) PushSystemMessage(_ string, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notes = append(p.notes, text)
}

func (p *notePresenter) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.notes...)
}

func TestPoolStatusSurfacesAsSystemMessages(t *testing.T) {
	tools := pool.NewStaticPool()
	defer tools.Close()

	presenter := &notePresenter{}
	c, err := New(func(o *Options) {
		o.Generator = model.NewMockGenerator("test")
		o.Pool = tools
		o.Presenter = presenter
	})
	require.NoError(t, err)
	defer c.Close()

	tools.Register("files", core.ToolDescriptor{Name: "list_files"},
		func(context.Context, map[string]any) (any, error) { return "ok", nil })
	tools.Disconnect("files")

	require.Eventually(t, func() bool {
		return len(presenter.snapshot()) == 2
	}, time.Second, 10*time.Millisecond)

	notes := presenter.snapshot()
	assert.Equal(t, "Tool server files is connected.", notes[0])
	assert.Equal(t, "Tool server files is disconnected.", notes[1])
}

func TestExternalPoolIsUsed(t *testing.T) {
	tools := pool.NewStaticPool()
	defer tools.Close()
	tools.Register("files", core.ToolDescriptor{Name: "list_files"},
		func(context.Context, map[string]any) (any, error) { return "ok", nil })

	c, err := New(func(o *Options) {
		o.Generator = model.NewMockGenerator("test")
		o.Pool = tools
	})
	require.NoError(t, err)
	defer c.Close()

	// Start is a no-op for externally supplied pools.
	require.NoError(t, c.Start(context.Background()))

	servers := c.Pool().ListConnectedServers()
	require.Len(t, servers, 1)
	assert.Equal(t, "files", servers[0].ServerID)
}
