// Package core defines the shared data model and collaborator interfaces of
// chatlink: chat messages and sessions, tool call requests/results, the
// session store, the tool server pool and the presentation boundary. Higher
// level packages (channel, task, tool, engine) depend only on these types so
// implementations remain swappable.
package core

import "github.com/google/uuid"

// NewID generates a new unique identifier used for request correlation,
// task ids and tool call ids.
func NewID() string { return uuid.NewString() }
