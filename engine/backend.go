package engine

import (
	"context"

	"github.com/hupe1980/chatlink/core"
	"github.com/hupe1980/chatlink/protocol"
)

// Backend drives generation for one turn. Implementations feed streamed
// events into the shared task machine; the orchestrator only observes the
// machine's outcomes and never touches the transport directly.
//
// Two implementations exist: RemoteBackend speaks the JSON-RPC channel to a
// relay server, DirectBackend speaks provider SDKs in process. Both produce
// the same event stream, so the orchestrator runs identically against
// either.
type Backend interface {
	// EnsureSession binds the local session to a backend session, creating
	// one if necessary, and returns the backend session id. The manifest
	// seeds a newly created session with the currently known tools.
	EnsureSession(ctx context.Context, localSessionID string, manifest []protocol.ToolOffer) (string, error)

	// StartGenerate submits one generation turn over the given history and
	// returns the admitted task id. Streamed events for the task flow into
	// the task machine asynchronously.
	StartGenerate(ctx context.Context, serverSessionID string, history []core.ChatMessage, tools []protocol.ToolOffer) (string, error)

	// SubmitToolResults feeds resolved tool calls back into the running
	// task. History carries the already-committed assistant and tool
	// messages; backends that hold no server-side state use it to continue
	// generation.
	SubmitToolResults(ctx context.Context, serverSessionID, taskID string, history []core.ChatMessage, results []core.ToolResult) error

	// Close releases transport resources.
	Close() error
}
