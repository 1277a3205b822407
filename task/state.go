// Package task tracks the single in-flight generation task: an explicit
// state machine accumulating streamed text and pending tool calls, fed by
// the notification dispatcher and drained by the engine.
package task

import (
	"strings"
	"sync"

	"github.com/hupe1980/chatlink/core"
	"github.com/hupe1980/chatlink/logging"
)

// Phase enumerates the task lifecycle.
//
//	Idle -> AwaitingAck -> Streaming -> {ToolsPending -> Executing ->
//	ToolsSubmitted} -> Finalizing -> Idle
//
// Errored is an absorbing state reachable from any other.
type Phase int

const (
	// PhaseIdle means no task is in flight.
	PhaseIdle Phase = iota
	// PhaseAwaitingAck means generate was sent, nothing received yet.
	PhaseAwaitingAck
	// PhaseStreaming means at least one text chunk has arrived.
	PhaseStreaming
	// PhaseToolsPending means the task has queued tool call requests.
	PhaseToolsPending
	// PhaseExecuting means the engine is running the queued tool calls.
	PhaseExecuting
	// PhaseToolsSubmitted means results were sent back to the server.
	PhaseToolsSubmitted
	// PhaseFinalizing means the turn is being committed to history.
	PhaseFinalizing
	// PhaseErrored absorbs any failure until the state is cleared.
	PhaseErrored
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingAck:
		return "awaiting_ack"
	case PhaseStreaming:
		return "streaming"
	case PhaseToolsPending:
		return "tools_pending"
	case PhaseExecuting:
		return "executing"
	case PhaseToolsSubmitted:
		return "tools_submitted"
	case PhaseFinalizing:
		return "finalizing"
	case PhaseErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Outcome is emitted once per terminal notification (end or error) and
// consumed by the engine's turn loop.
type Outcome struct {
	// Text is the turn's assistant text: the server's final_text when
	// provided, otherwise the accumulated chunks.
	Text string
	// Pending holds the tool calls queued before end, in arrival order.
	Pending []core.ToolCallRequest
	// ErrorOccurred mirrors end.error_occurred, or true for an error
	// notification / local failure.
	ErrorOccurred bool
	// ErrorDetail carries the technical detail for logging; never committed
	// to history verbatim.
	ErrorDetail string
}

// Snapshot is a read-only view of the live task for tests and debugging.
type Snapshot struct {
	Phase           Phase
	LocalSessionID  string
	ServerSessionID string
	TaskID          string
	AccumulatedText string
	PendingCalls    int
	FinalText       *string
}

// state is the accumulator for one generation task. Never shared across
// sessions; replaced wholesale on every new generate.
type state struct {
	localSessionID  string
	serverSessionID string
	taskID          string
	phase           Phase
	accumulated     strings.Builder
	pending         []core.ToolCallRequest
	finalText       *string
}

// Machine owns the live task state. All mutation goes through its methods
// under a single mutex, preserving the arrival-order processing guarantee.
// Handlers never close over the state directly.
type Machine struct {
	mu        sync.Mutex
	st        *state
	presenter core.Presenter
	logger    logging.Logger
	outcomes  chan Outcome
}

// NewMachine constructs an idle machine. Streamed deltas are forwarded to
// the presenter as they arrive.
func NewMachine(presenter core.Presenter, logger logging.Logger) *Machine {
	if presenter == nil {
		presenter = core.NoOpPresenter{}
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Machine{presenter: presenter, logger: logger, outcomes: make(chan Outcome, 4)}
}

// Outcomes returns the channel the engine drains for terminal task events.
func (m *Machine) Outcomes() <-chan Outcome { return m.outcomes }

// Begin installs a fresh task state, replacing any prior one (same or
// different session) and moves to AwaitingAck.
func (m *Machine) Begin(localSessionID, serverSessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st != nil {
		m.logger.Debug("task.state.replaced", "session_id", m.st.localSessionID, "phase", m.st.phase.String())
	}
	m.st = &state{
		localSessionID:  localSessionID,
		serverSessionID: serverSessionID,
		phase:           PhaseAwaitingAck,
	}
	m.drainOutcomes()
}

// SetTaskID records the server-assigned task id after generate is admitted.
func (m *Machine) SetTaskID(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st == nil {
		return
	}
	m.st.taskID = taskID
}

// Resume marks the continuation after tool results were submitted: the
// accumulator is reset for the next assistant segment and the machine waits
// for fresh chunks.
func (m *Machine) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st == nil {
		return
	}
	m.st.phase = PhaseAwaitingAck
	m.st.accumulated.Reset()
	m.st.pending = nil
	m.st.finalText = nil
}

// MarkExecuting flags the tool execution phase.
func (m *Machine) MarkExecuting() { m.setPhase(PhaseExecuting) }

// MarkToolsSubmitted flags that tool results went back to the server.
func (m *Machine) MarkToolsSubmitted() { m.setPhase(PhaseToolsSubmitted) }

// MarkFinalizing flags the history commit of the finished turn.
func (m *Machine) MarkFinalizing() { m.setPhase(PhaseFinalizing) }

func (m *Machine) setPhase(p Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st != nil {
		m.st.phase = p
	}
}

// Clear drops the task state and returns to Idle.
func (m *Machine) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = nil
}

// Fail moves to Errored and emits a failure outcome. Used for local faults
// such as a dropped channel mid-task.
func (m *Machine) Fail(detail string) {
	m.mu.Lock()
	if m.st == nil {
		m.mu.Unlock()
		return
	}
	m.st.phase = PhaseErrored
	m.mu.Unlock()
	m.emit(Outcome{ErrorOccurred: true, ErrorDetail: detail})
}

// LocalSessionID returns the local session bound to the live task ("" when
// idle).
func (m *Machine) LocalSessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st == nil {
		return ""
	}
	return m.st.localSessionID
}

// Snapshot returns a copy of the live task view.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st == nil {
		return Snapshot{Phase: PhaseIdle}
	}
	return Snapshot{
		Phase:           m.st.phase,
		LocalSessionID:  m.st.localSessionID,
		ServerSessionID: m.st.serverSessionID,
		TaskID:          m.st.taskID,
		AccumulatedText: m.st.accumulated.String(),
		PendingCalls:    len(m.st.pending),
		FinalText:       m.st.finalText,
	}
}

// matches reports whether a notification keyed by (sessionID, taskID)
// belongs to the live task. Empty fields on the notification are treated as
// wildcards; a live task with no task id yet adopts the first one seen.
func (m *Machine) matchesLocked(sessionID, taskID string) bool {
	if m.st == nil {
		return false
	}
	if sessionID != "" && sessionID != m.st.serverSessionID {
		return false
	}
	if taskID != "" && m.st.taskID != "" && taskID != m.st.taskID {
		return false
	}
	return true
}

// ApplyChunk appends one streamed text delta, forwarding only the delta to
// the presenter. Chunks for a non-matching session/task are dropped.
func (m *Machine) ApplyChunk(sessionID, taskID, content string) {
	m.mu.Lock()
	if !m.matchesLocked(sessionID, taskID) {
		m.mu.Unlock()
		m.logger.Warn("task.chunk.dropped", "session_id", sessionID, "task_id", taskID)
		return
	}
	if m.st.taskID == "" && taskID != "" {
		m.st.taskID = taskID
	}
	if m.st.phase == PhaseAwaitingAck {
		m.st.phase = PhaseStreaming
	}
	m.st.accumulated.WriteString(content)
	localID := m.st.localSessionID
	m.mu.Unlock()

	m.presenter.AppendStreamingChunk(localID, content)
}

// ApplyFinalText records the server's authoritative final text.
func (m *Machine) ApplyFinalText(sessionID, taskID, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.matchesLocked(sessionID, taskID) {
		m.logger.Warn("task.final_text.dropped", "session_id", sessionID, "task_id", taskID)
		return
	}
	m.st.finalText = &text
}

// ApplyFunctionCall queues one requested tool call.
func (m *Machine) ApplyFunctionCall(sessionID, taskID string, call core.ToolCallRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.matchesLocked(sessionID, taskID) {
		m.logger.Warn("task.function_call.dropped", "session_id", sessionID, "task_id", taskID, "tool", call.ToolName)
		return
	}
	if m.st.taskID == "" && taskID != "" {
		m.st.taskID = taskID
	}
	m.st.pending = append(m.st.pending, call)
	m.st.phase = PhaseToolsPending
}

// ApplyEnd handles the terminal notification for the live task, emitting an
// Outcome for the engine. Off-task ends are dropped.
func (m *Machine) ApplyEnd(sessionID, taskID string, errorOccurred bool) {
	m.mu.Lock()
	if !m.matchesLocked(sessionID, taskID) {
		m.mu.Unlock()
		m.logger.Warn("task.end.dropped", "session_id", sessionID, "task_id", taskID)
		return
	}

	out := Outcome{ErrorOccurred: errorOccurred}
	if m.st.finalText != nil {
		out.Text = *m.st.finalText
	} else {
		out.Text = m.st.accumulated.String()
	}
	out.Pending = append([]core.ToolCallRequest(nil), m.st.pending...)

	if errorOccurred {
		m.st.phase = PhaseErrored
	}
	m.mu.Unlock()

	m.emit(out)
}

// ApplyError handles the uncorrelated error notification: the task is
// aborted regardless of phase.
func (m *Machine) ApplyError(detail string) {
	m.mu.Lock()
	if m.st == nil {
		m.mu.Unlock()
		m.logger.Warn("task.error.dropped", "detail", detail)
		return
	}
	m.st.phase = PhaseErrored
	m.mu.Unlock()
	m.emit(Outcome{ErrorOccurred: true, ErrorDetail: detail})
}

func (m *Machine) emit(out Outcome) {
	select {
	case m.outcomes <- out:
	default:
		m.logger.Warn("task.outcome.overflow")
	}
}

// drainOutcomes discards stale outcomes from a superseded task. Caller holds
// the mutex.
func (m *Machine) drainOutcomes() {
	for {
		select {
		case <-m.outcomes:
		default:
			return
		}
	}
}
