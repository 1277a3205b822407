package engine

import (
	"context"
	"sync"

	"github.com/hupe1980/chatlink/core"
	"github.com/hupe1980/chatlink/logging"
	"github.com/hupe1980/chatlink/model"
	"github.com/hupe1980/chatlink/protocol"
	"github.com/hupe1980/chatlink/task"
)

// DirectOptions configure a DirectBackend.
type DirectOptions struct {
	// Instructions is the system prompt sent with every turn.
	Instructions string
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// DirectBackend implements Backend on top of a model.Generator, replaying
// committed history into provider messages each turn. It emits the same
// event stream into the task machine as the remote channel, so the
// orchestrator runs identically without a relay server.
type DirectBackend struct {
	gen     model.Generator
	machine *task.Machine
	opts    DirectOptions

	mu        sync.Mutex
	lastTools []protocol.ToolOffer
}

var _ Backend = (*DirectBackend)(nil)

// NewDirectBackend wraps a generator.
func NewDirectBackend(gen model.Generator, machine *task.Machine, optFns ...func(o *DirectOptions)) *DirectBackend {
	opts := DirectOptions{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &DirectBackend{gen: gen, machine: machine, opts: opts}
}

// EnsureSession implements Backend. There is no remote party: the binding
// is a deterministic function of the local session id.
func (b *DirectBackend) EnsureSession(_ context.Context, localSessionID string, _ []protocol.ToolOffer) (string, error) {
	return "direct-" + localSessionID, nil
}

// StartGenerate implements Backend.
func (b *DirectBackend) StartGenerate(ctx context.Context, serverSessionID string, history []core.ChatMessage, tools []protocol.ToolOffer) (string, error) {
	taskID := core.NewID()

	b.mu.Lock()
	b.lastTools = tools
	b.mu.Unlock()

	go b.run(ctx, serverSessionID, taskID, history, tools)

	return taskID, nil
}

// SubmitToolResults implements Backend. The provider holds no task state,
// so generation continues by replaying the committed history, which already
// ends in the freshly recorded tool messages.
func (b *DirectBackend) SubmitToolResults(ctx context.Context, serverSessionID, taskID string, history []core.ChatMessage, _ []core.ToolResult) error {
	b.mu.Lock()
	tools := b.lastTools
	b.mu.Unlock()

	go b.run(ctx, serverSessionID, taskID, history, tools)

	return nil
}

// Close implements Backend.
func (b *DirectBackend) Close() error { return nil }

// run performs one provider generation and translates its responses into
// task machine events.
func (b *DirectBackend) run(ctx context.Context, serverSessionID, taskID string, history []core.ChatMessage, tools []protocol.ToolOffer) {
	respCh, errCh := b.gen.Generate(ctx, model.Request{
		Instructions: b.opts.Instructions,
		History:      history,
		Tools:        offersToSpecs(tools),
		Stream:       true,
	})

	for resp := range respCh {
		switch {
		case resp.Partial:
			if resp.Delta != "" {
				b.machine.ApplyChunk(serverSessionID, taskID, resp.Delta)
			}
		default:
			if resp.Text != "" {
				b.machine.ApplyFinalText(serverSessionID, taskID, resp.Text)
			}
			for _, call := range resp.ToolCalls {
				b.machine.ApplyFunctionCall(serverSessionID, taskID, call)
			}
		}
	}

	if err := <-errCh; err != nil {
		b.opts.Logger.Error("engine.direct.generate_failed", "task_id", taskID, "error", err.Error())
		b.machine.ApplyError(err.Error())
		return
	}

	b.machine.ApplyEnd(serverSessionID, taskID, false)
}

func offersToSpecs(offers []protocol.ToolOffer) []model.ToolSpec {
	if len(offers) == 0 {
		return nil
	}

	specs := make([]model.ToolSpec, 0, len(offers))
	for _, o := range offers {
		specs = append(specs, model.ToolSpec{
			Name:        o.Name,
			Description: o.Description,
			Parameters:  o.Parameters,
		})
	}

	return specs
}
