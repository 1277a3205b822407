package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hupe1980/chatlink/core"
	"github.com/hupe1980/chatlink/logging"
	"github.com/hupe1980/chatlink/protocol"
	"github.com/hupe1980/chatlink/session"
	"github.com/hupe1980/chatlink/task"
	"github.com/hupe1980/chatlink/tool"
)

// ErrBusy is returned by ProcessQuery while a previous turn is still in
// flight. Exactly one generation task runs per orchestrator.
var ErrBusy = errors.New("a turn is already in progress")

// failureMessage is the user-visible text committed to history when a turn
// fails unrecoverably. The technical detail is only logged.
const failureMessage = "Sorry, something went wrong while generating this response."

// Config defines tuning parameters for the orchestrator's turn loop.
type Config struct {
	// MaxToolIterations bounds how many times one turn may loop through
	// tool execution before it is aborted.
	MaxToolIterations int

	// TurnTimeout bounds one complete turn from submission to final
	// commit. Zero disables the deadline.
	TurnTimeout time.Duration
}

// DefaultConfig provides conservative defaults: a turn may loop through
// tools at most 10 times and must complete within 5 minutes.
var DefaultConfig = Config{
	MaxToolIterations: 10,
	TurnTimeout:       5 * time.Minute,
}

// Options configures an Orchestrator instance using the functional options
// pattern. All collaborators have in-memory defaults suitable for tests and
// demos; production wiring provides its own store, pool and presenter.
type Options struct {
	// Config contains operational parameters for the turn loop.
	Config Config

	// Store owns session history. Defaults to an in-memory store.
	Store core.SessionStore

	// Pool resolves tool calls. Defaults to nil: turns then run without
	// tool offers.
	Pool core.ToolServerPool

	// Presenter receives streaming output and status updates. Defaults to
	// the no-op presenter.
	Presenter core.Presenter

	// Filter optionally narrows the tool manifest per turn.
	Filter *tool.RelevanceFilter

	// Invoker overrides the tool invoker built from Pool.
	Invoker *tool.Invoker

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Orchestrator owns the lifecycle of one conversational turn: optimistic
// history append, generation via the backend, tool execution, result
// submission and the final history commit.
//
// Concurrency model: exactly one turn at a time. ProcessQuery rejects
// overlapping calls with ErrBusy instead of queueing, keeping the single
// in-flight task invariant trivial to reason about.
type Orchestrator struct {
	backend   Backend
	machine   *task.Machine
	store     core.SessionStore
	pool      core.ToolServerPool
	presenter core.Presenter
	filter    *tool.RelevanceFilter
	invoker   *tool.Invoker
	logger    logging.Logger
	config    Config
	callbacks *CallbackRegistry

	busy atomic.Bool
}

// New creates an Orchestrator around a backend and the shared task machine.
func New(backend Backend, machine *task.Machine, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		Config:    DefaultConfig,
		Store:     session.NewInMemoryStore(),
		Presenter: core.NoOpPresenter{},
		Logger:    logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Config.MaxToolIterations <= 0 {
		opts.Config.MaxToolIterations = DefaultConfig.MaxToolIterations
	}

	invoker := opts.Invoker
	if invoker == nil && opts.Pool != nil {
		invoker = tool.NewInvoker(opts.Pool, func(o *tool.InvokerOptions) {
			o.Logger = opts.Logger
		})
	}

	return &Orchestrator{
		backend:   backend,
		machine:   machine,
		store:     opts.Store,
		pool:      opts.Pool,
		presenter: opts.Presenter,
		filter:    opts.Filter,
		invoker:   invoker,
		logger:    opts.Logger,
		config:    opts.Config,
		callbacks: NewCallbackRegistry(),
	}
}

// Store exposes the session store for presentation layers (listing,
// switching, history reads).
func (o *Orchestrator) Store() core.SessionStore { return o.store }

// Machine exposes the shared task machine, mainly for tests and debugging.
func (o *Orchestrator) Machine() *task.Machine { return o.machine }

// Callbacks exposes the lifecycle hook registry.
func (o *Orchestrator) Callbacks() *CallbackRegistry { return o.callbacks }

// ProcessQuery runs one complete turn against the active session: the
// prompt is appended optimistically, generation is started, requested tool
// calls are executed and fed back, and the finished turn is committed.
//
// Failure semantics follow three tiers:
//   - failures before the task is admitted roll the optimistic user message
//     back and surface the error; history is untouched
//   - failures after admission keep the user message and commit a synthetic
//     assistant message describing the failure; partial streamed output is
//     never committed
//   - individual tool failures never abort the turn; they are recorded as
//     error results and submitted like any other
func (o *Orchestrator) ProcessQuery(ctx context.Context, query string) error {
	if !o.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer o.busy.Store(false)

	if o.config.TurnTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, o.config.TurnTimeout)
		defer cancel()
	}

	sessionID, err := o.ensureActiveSession()
	if err != nil {
		return err
	}

	o.callbacks.fire(TurnStart, CallbackContext{SessionID: sessionID, Query: query})

	// Optimistic append: rolled back if the turn fails before admission.
	userMsg := core.NewUserMessage(query)
	if err := o.store.AppendMessage(sessionID, userMsg); err != nil {
		return fmt.Errorf("append user message: %w", err)
	}
	o.syncHistory(sessionID)

	history, err := o.store.History(sessionID)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}

	offers := o.toolOffers(ctx, query, history)

	serverSessionID, err := o.backend.EnsureSession(ctx, sessionID, offers)
	if err != nil {
		o.rollbackUserMessage(sessionID)
		return fmt.Errorf("ensure backend session: %w", err)
	}

	o.machine.Begin(sessionID, serverSessionID)
	defer o.machine.Clear()

	o.presenter.SetProcessingStatus("Thinking…")
	defer o.presenter.SetProcessingStatus("")

	taskID, err := o.backend.StartGenerate(ctx, serverSessionID, history, offers)
	if err != nil {
		o.rollbackUserMessage(sessionID)
		o.machine.Fail(err.Error())
		return fmt.Errorf("start generation: %w", err)
	}
	o.machine.SetTaskID(taskID)

	return o.runTurnLoop(ctx, sessionID, serverSessionID, taskID)
}

// runTurnLoop drains task outcomes until the turn finishes, executing and
// resubmitting tool batches along the way.
func (o *Orchestrator) runTurnLoop(ctx context.Context, sessionID, serverSessionID, taskID string) error {
	for iteration := 0; iteration < o.config.MaxToolIterations; iteration++ {
		var outcome task.Outcome

		select {
		case <-ctx.Done():
			o.commitFailure(sessionID)
			return fmt.Errorf("turn deadline exceeded: %w", ctx.Err())
		case outcome = <-o.machine.Outcomes():
		}

		if outcome.ErrorOccurred {
			detail := outcome.ErrorDetail
			if detail == "" {
				detail = "server reported an error"
			}

			o.logger.Error("engine.turn.failed",
				"session_id", sessionID,
				"task_id", taskID,
				"detail", detail,
			)
			o.commitFailure(sessionID)
			o.callbacks.fire(TurnError, CallbackContext{SessionID: sessionID, TaskID: taskID, Detail: detail})

			return fmt.Errorf("turn failed: %s", detail)
		}

		if len(outcome.Pending) == 0 {
			o.machine.MarkFinalizing()
			if err := o.commitFinal(sessionID, outcome.Text); err != nil {
				return err
			}
			o.callbacks.fire(TurnEnd, CallbackContext{SessionID: sessionID, TaskID: taskID})

			return nil
		}

		if err := o.executeToolRound(ctx, sessionID, serverSessionID, taskID, outcome); err != nil {
			o.commitFailure(sessionID)
			return err
		}
	}

	o.logger.Error("engine.turn.tool_loop_exceeded",
		"session_id", sessionID,
		"task_id", taskID,
		"limit", o.config.MaxToolIterations,
	)
	o.commitFailure(sessionID)

	return fmt.Errorf("turn exceeded %d tool iterations", o.config.MaxToolIterations)
}

// executeToolRound commits the assistant tool-call message, executes the
// batch, commits one tool message per call and resubmits the results to the
// backend.
func (o *Orchestrator) executeToolRound(ctx context.Context, sessionID, serverSessionID, taskID string, outcome task.Outcome) error {
	o.machine.MarkExecuting()
	o.presenter.SetProcessingStatus("Running tools…")

	for _, call := range outcome.Pending {
		o.callbacks.fire(ToolCall, CallbackContext{SessionID: sessionID, TaskID: taskID, Tool: call.ToolName})
	}

	// The assistant message is committed before any tool runs so that tools
	// observing the session see the call that triggered them.
	if err := o.store.AppendMessage(sessionID, core.NewAssistantMessage(outcome.Text, outcome.Pending...)); err != nil {
		return fmt.Errorf("commit assistant tool calls: %w", err)
	}
	o.syncHistory(sessionID)

	var results []core.ToolResult
	if o.invoker != nil {
		results = o.invoker.Execute(ctx, outcome.Pending)
	} else {
		results = make([]core.ToolResult, len(outcome.Pending))
		for i, call := range outcome.Pending {
			results[i] = core.ToolResult{
				ToolCallID: call.ID,
				ToolName:   call.ToolName,
				Error:      "no tool pool configured",
			}
		}
	}

	for _, res := range results {
		if err := o.store.AppendMessage(sessionID, core.NewToolMessage(res)); err != nil {
			return fmt.Errorf("commit tool result: %w", err)
		}
	}
	o.syncHistory(sessionID)

	history, err := o.store.History(sessionID)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}

	o.machine.MarkToolsSubmitted()
	o.machine.Resume()
	o.presenter.SetProcessingStatus("Thinking…")

	if err := o.backend.SubmitToolResults(ctx, serverSessionID, taskID, history, results); err != nil {
		return fmt.Errorf("submit tool results: %w", err)
	}

	return nil
}

// commitFinal appends the turn's final assistant message.
func (o *Orchestrator) commitFinal(sessionID, text string) error {
	if err := o.store.AppendMessage(sessionID, core.NewAssistantMessage(text)); err != nil {
		return fmt.Errorf("commit assistant message: %w", err)
	}
	o.syncHistory(sessionID)

	return nil
}

// commitFailure appends the synthetic assistant failure message. Errors
// here are logged, not surfaced: the turn already failed.
func (o *Orchestrator) commitFailure(sessionID string) {
	if err := o.store.AppendMessage(sessionID, core.NewAssistantMessage(failureMessage)); err != nil {
		o.logger.Error("engine.failure_commit_failed", "session_id", sessionID, "error", err.Error())
		return
	}
	o.syncHistory(sessionID)
}

// rollbackUserMessage undoes the optimistic append after a pre-admission
// failure.
func (o *Orchestrator) rollbackUserMessage(sessionID string) {
	if err := o.store.RemoveLastMessage(sessionID); err != nil {
		o.logger.Error("engine.rollback_failed", "session_id", sessionID, "error", err.Error())
		return
	}
	o.syncHistory(sessionID)
}

// ensureActiveSession returns the active session id, creating a first
// session on demand.
func (o *Orchestrator) ensureActiveSession() (string, error) {
	if id := o.store.ActiveID(); id != "" {
		return id, nil
	}

	id, err := o.store.CreateSession()
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	return id, nil
}

// toolOffers assembles the per-turn tool manifest from the pool, filtered
// by the relevance filter when configured.
func (o *Orchestrator) toolOffers(ctx context.Context, query string, history []core.ChatMessage) []protocol.ToolOffer {
	if o.pool == nil {
		return nil
	}

	var offers []protocol.ToolOffer

	for _, info := range o.pool.ListConnectedServers() {
		for _, desc := range info.Tools {
			offers = append(offers, protocol.ToolOffer{
				Name:        info.ServerID + tool.Separator + desc.Name,
				Description: desc.Description,
				Parameters:  desc.InputSchema,
			})
		}
	}

	if o.filter != nil {
		offers = o.filter.Filter(ctx, query, history, offers)
	}

	return offers
}

// syncHistory pushes the session's committed history to the presenter.
func (o *Orchestrator) syncHistory(sessionID string) {
	history, err := o.store.History(sessionID)
	if err != nil {
		o.logger.Warn("engine.sync_history_failed", "session_id", sessionID, "error", err.Error())
		return
	}
	o.presenter.SyncHistory(sessionID, history)
}
