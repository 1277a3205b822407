package engine

import "sync"

// CallbackType identifies a turn lifecycle point where hooks run.
//
// Callbacks provide a way to observe the orchestrator's turn loop without
// modifying it: logging, metrics collection and custom bookkeeping hook in
// here. They are executed synchronously in registration order and must not
// block; a slow callback stalls the turn.
type CallbackType string

const (
	// TurnStart fires before the prompt is appended to history.
	TurnStart CallbackType = "turn_start"
	// TurnEnd fires after the final assistant message is committed.
	TurnEnd CallbackType = "turn_end"
	// TurnError fires when a turn fails after admission.
	TurnError CallbackType = "turn_error"
	// ToolCall fires once per requested tool call, before execution.
	ToolCall CallbackType = "tool_call"
)

// CallbackContext carries the turn state visible to a callback.
type CallbackContext struct {
	SessionID string
	TaskID    string
	Query     string
	Tool      string
	Detail    string
}

// Callback is a turn lifecycle hook.
type Callback func(typ CallbackType, cc CallbackContext)

// CallbackRegistry holds lifecycle hooks per type. Safe for concurrent
// registration and firing.
type CallbackRegistry struct {
	mu    sync.RWMutex
	hooks map[CallbackType][]Callback
}

// NewCallbackRegistry constructs an empty registry.
func NewCallbackRegistry() *CallbackRegistry {
	return &CallbackRegistry{hooks: make(map[CallbackType][]Callback)}
}

// Register adds a hook for one lifecycle point.
func (r *CallbackRegistry) Register(typ CallbackType, cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[typ] = append(r.hooks[typ], cb)
}

func (r *CallbackRegistry) fire(typ CallbackType, cc CallbackContext) {
	r.mu.RLock()
	hooks := r.hooks[typ]
	r.mu.RUnlock()

	for _, cb := range hooks {
		cb(typ, cc)
	}
}
