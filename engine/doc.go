// Package engine implements the turn orchestration layer.
//
// The Orchestrator is the central coordination point of a conversation. It
// owns the life of one prompt from submission to commit:
//
//  1. The user prompt is appended to the active session optimistically.
//  2. A generation Backend is asked to run the turn; streamed events flow
//     into the shared task state machine.
//  3. Tool calls requested by the model are executed against the tool
//     server pool, committed to history (assistant message first, then one
//     tool message per call) and resubmitted, looping until the model
//     produces a final answer.
//  4. The final assistant message is committed and the presenter synced.
//
// # Concurrency Model
//
// Exactly one turn runs at a time; overlapping ProcessQuery calls are
// rejected with ErrBusy. All streamed state lives in the task machine, the
// orchestrator only consumes its terminal outcomes.
//
// # Backends
//
// RemoteBackend speaks the streaming JSON-RPC channel to a relay server.
// DirectBackend speaks provider SDKs in process, replaying committed
// history each round. Both emit the same event stream, so every invariant
// of the turn loop holds regardless of where generation happens.
//
// # Error Handling
//
// Failures before a task is admitted roll back the optimistic user message
// and surface the error to the caller. Failures after admission keep the
// prompt, commit a synthetic assistant message describing the failure and
// log the technical detail. Individual tool failures never abort a turn.
package engine
