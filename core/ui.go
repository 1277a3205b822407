package core

// Presenter is the interface the engine exposes to the presentation
// collaborator. Implementations render chat bubbles, status lines and session
// lists; all methods must be cheap and non-blocking from the engine's point
// of view.
type Presenter interface {
	// SyncHistory replaces the rendered history of a session with the
	// committed one.
	SyncHistory(sessionID string, history []ChatMessage)
	// AppendStreamingChunk forwards one streamed text delta. The delta is
	// never the full accumulated buffer.
	AppendStreamingChunk(sessionID, delta string)
	// SetProcessingStatus updates the transient status line ("" clears it).
	SetProcessingStatus(text string)
	// PushSystemMessage surfaces an out-of-band note for a session.
	PushSystemMessage(sessionID, text string)
}

// NoOpPresenter discards all presentation callbacks. Useful default for
// tests and headless hosts.
type NoOpPresenter struct{}

// SyncHistory implements Presenter.
func (NoOpPresenter) SyncHistory(string, []ChatMessage) {}

// AppendStreamingChunk implements Presenter.
func (NoOpPresenter) AppendStreamingChunk(string, string) {}

// SetProcessingStatus implements Presenter.
func (NoOpPresenter) SetProcessingStatus(string) {}

// PushSystemMessage implements Presenter.
func (NoOpPresenter) PushSystemMessage(string, string) {}
