package task

import (
	"encoding/json"

	"github.com/hupe1980/chatlink/core"
	"github.com/hupe1980/chatlink/logging"
	"github.com/hupe1980/chatlink/protocol"
)

// Dispatcher routes inbound notifications to typed handlers driving the
// Machine. Handlers validate required correlation fields before touching
// state; missing fields produce a warning and an early return, never a
// crash. Handlers perform no RPCs of their own; tool execution and result
// submission belong to the engine, which reacts to the Machine's outcomes.
type Dispatcher struct {
	machine   *Machine
	presenter core.Presenter
	logger    logging.Logger
	handlers  map[string]func(params json.RawMessage)
}

// NewDispatcher builds the static method -> handler table.
func NewDispatcher(machine *Machine, presenter core.Presenter, logger logging.Logger) *Dispatcher {
	if presenter == nil {
		presenter = core.NoOpPresenter{}
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	d := &Dispatcher{machine: machine, presenter: presenter, logger: logger}
	d.handlers = map[string]func(json.RawMessage){
		protocol.NotifyTextChunk:    d.handleTextChunk,
		protocol.NotifyFinalText:    d.handleFinalText,
		protocol.NotifyFunctionCall: d.handleFunctionCall,
		protocol.NotifyStatus:       d.handleStatus,
		protocol.NotifyError:        d.handleError,
		protocol.NotifyEnd:          d.handleEnd,
	}
	return d
}

// Dispatch routes one notification frame. Unknown methods are logged and
// dropped.
func (d *Dispatcher) Dispatch(frame protocol.Frame) {
	handler, ok := d.handlers[frame.Method]
	if !ok {
		d.logger.Warn("dispatch.method.unknown", "method", frame.Method)
		return
	}
	handler(frame.Params)
}

func (d *Dispatcher) handleTextChunk(params json.RawMessage) {
	var p protocol.TextChunk
	if err := json.Unmarshal(params, &p); err != nil {
		d.logger.Warn("dispatch.text_chunk.malformed", "error", err.Error())
		return
	}
	if p.TaskID == "" {
		d.logger.Warn("dispatch.text_chunk.missing_task_id")
		return
	}
	d.machine.ApplyChunk(p.SessionID, p.TaskID, p.Content)
}

func (d *Dispatcher) handleFinalText(params json.RawMessage) {
	var p protocol.FinalText
	if err := json.Unmarshal(params, &p); err != nil {
		d.logger.Warn("dispatch.final_text.malformed", "error", err.Error())
		return
	}
	if p.TaskID == "" {
		d.logger.Warn("dispatch.final_text.missing_task_id")
		return
	}
	d.machine.ApplyFinalText(p.SessionID, p.TaskID, p.FinalText)
}

func (d *Dispatcher) handleFunctionCall(params json.RawMessage) {
	var p protocol.FunctionCallRequest
	if err := json.Unmarshal(params, &p); err != nil {
		d.logger.Warn("dispatch.function_call.malformed", "error", err.Error())
		return
	}
	if p.TaskID == "" || p.ToolCall.ID == "" || p.ToolCall.Tool == "" {
		d.logger.Warn("dispatch.function_call.incomplete", "task_id", p.TaskID, "call_id", p.ToolCall.ID)
		return
	}
	d.machine.ApplyFunctionCall(p.SessionID, p.TaskID, core.ToolCallRequest{
		ID:         p.ToolCall.ID,
		ToolName:   p.ToolCall.Tool,
		Parameters: p.ToolCall.Parameters,
	})
}

func (d *Dispatcher) handleStatus(params json.RawMessage) {
	var p protocol.Status
	if err := json.Unmarshal(params, &p); err != nil {
		d.logger.Warn("dispatch.status.malformed", "error", err.Error())
		return
	}
	d.presenter.SetProcessingStatus(p.Status)
}

func (d *Dispatcher) handleError(params json.RawMessage) {
	var p protocol.ErrorNotice
	if err := json.Unmarshal(params, &p); err != nil {
		d.logger.Warn("dispatch.error.malformed", "error", err.Error())
		return
	}
	d.logger.Error("dispatch.server_error", "detail", p.ErrorDetails)
	d.machine.ApplyError(p.ErrorDetails)
}

func (d *Dispatcher) handleEnd(params json.RawMessage) {
	var p protocol.End
	if err := json.Unmarshal(params, &p); err != nil {
		d.logger.Warn("dispatch.end.malformed", "error", err.Error())
		return
	}
	if p.TaskID == "" {
		d.logger.Warn("dispatch.end.missing_task_id")
		return
	}
	d.machine.ApplyEnd(p.SessionID, p.TaskID, p.ErrorOccurred)
}
