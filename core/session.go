package core

import (
	"errors"
	"strconv"
	"time"
	"unicode/utf8"
)

// ErrUnknownSession is returned by SessionStore operations referencing a
// session id that does not exist.
var ErrUnknownSession = errors.New("unknown session")

// TitleMaxLen bounds the auto-derived session title length in runes.
const TitleMaxLen = 30

// DefaultTitle is the placeholder title of a session that has not yet
// accumulated enough history to derive one.
const DefaultTitle = "New chat"

// ChatSession is a persisted conversation: a stable local id (its creation
// timestamp), a display title and an ordered message history. Sessions are
// owned exclusively by the SessionStore and mutated only at well-defined
// commit points, never mid-stream.
type ChatSession struct {
	ID      string        `json:"id"`
	Title   string        `json:"title"`
	History []ChatMessage `json:"history"`
	Created time.Time     `json:"created"`
	Updated time.Time     `json:"updated"`
}

// NewChatSession creates an empty session whose id encodes the creation
// instant in milliseconds.
func NewChatSession() *ChatSession {
	now := time.Now()
	return &ChatSession{
		ID:      strconv.FormatInt(now.UnixMilli(), 10),
		Title:   DefaultTitle,
		Created: now.UTC(),
		Updated: now.UTC(),
	}
}

// DeriveTitle returns the leading TitleMaxLen runes of the first user
// message, or "" when no user message exists yet. Used by stores to title a
// session the first time it accumulates its second history entry.
func (s *ChatSession) DeriveTitle() string {
	for _, m := range s.History {
		if m.Role != RoleUser {
			continue
		}
		if utf8.RuneCountInString(m.Content) <= TitleMaxLen {
			return m.Content
		}
		runes := []rune(m.Content)
		return string(runes[:TitleMaxLen])
	}
	return ""
}

// SessionInfo is the listing projection of a session.
type SessionInfo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// SessionStore owns the list of conversation sessions and the currently
// active one. Implementations persist every mutation before it is observable
// by the next read; synchronous durability is not required but state must
// survive a process restart.
//
// Store semantics:
//   - CreateSession prepends a new empty session and evicts the oldest
//     beyond the configured cap (FIFO).
//   - SwitchActive fails with ErrUnknownSession for unknown ids.
//   - Sessions lists newest-first.
type SessionStore interface {
	CreateSession() (string, error)
	SwitchActive(id string) error
	ActiveID() string
	AppendMessage(sessionID string, msg ChatMessage) error
	// RemoveLastMessage drops the newest history entry. The orchestrator uses
	// it to roll back an optimistically added user message when a turn fails
	// before generation starts.
	RemoveLastMessage(sessionID string) error
	History(sessionID string) ([]ChatMessage, error)
	Sessions() ([]SessionInfo, error)
}
