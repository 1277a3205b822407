package session

import (
	"strconv"
	"sync"

	"github.com/hupe1980/chatlink/core"
)

// DefaultMaxSessions is the FIFO retention cap applied when none is
// configured.
const DefaultMaxSessions = 5

// Options configure a session store.
type Options struct {
	// MaxSessions caps how many sessions are retained. Creating a session
	// beyond the cap evicts the oldest one. <=0 falls back to
	// DefaultMaxSessions.
	MaxSessions int
}

// InMemoryStore is a volatile SessionStore implementation storing sessions
// in a process local map. It is safe for concurrent access and best suited
// for tests or ephemeral demo servers. Histories are copied on read to
// prevent external mutation of internal state.
type InMemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*core.ChatSession
	order       []string // session ids, newest first
	active      string
	maxSessions int
}

// Interface compliance (compile-time assertion)
var _ core.SessionStore = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{MaxSessions: DefaultMaxSessions}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}

	return &InMemoryStore{
		sessions:    make(map[string]*core.ChatSession),
		maxSessions: opts.MaxSessions,
	}
}

// CreateSession prepends a fresh empty session, makes it active and evicts
// the oldest session beyond the retention cap.
func (s *InMemoryStore) CreateSession() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := newUniqueSession(s.sessions)
	s.sessions[sess.ID] = sess
	s.order = append([]string{sess.ID}, s.order...)
	s.active = sess.ID
	s.evictLocked()

	return sess.ID, nil
}

// SwitchActive makes an existing session the active one.
func (s *InMemoryStore) SwitchActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return core.ErrUnknownSession
	}
	s.active = id

	return nil
}

// ActiveID returns the currently active session id ("" when none exists).
func (s *InMemoryStore) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.active
}

// AppendMessage appends one message to a session's history, deriving the
// title once enough history exists.
func (s *InMemoryStore) AppendMessage(sessionID string, msg core.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return core.ErrUnknownSession
	}

	appendAndTitle(sess, msg)

	return nil
}

// RemoveLastMessage drops the newest history entry. Removing from an empty
// history is a no-op.
func (s *InMemoryStore) RemoveLastMessage(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return core.ErrUnknownSession
	}
	if len(sess.History) > 0 {
		sess.History = sess.History[:len(sess.History)-1]
	}

	return nil
}

// History returns a copy of the session's message history.
func (s *InMemoryStore) History(sessionID string) ([]core.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, core.ErrUnknownSession
	}

	out := make([]core.ChatMessage, len(sess.History))
	copy(out, sess.History)

	return out, nil
}

// Sessions lists all sessions newest-first.
func (s *InMemoryStore) Sessions() ([]core.SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.SessionInfo, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, core.SessionInfo{ID: id, Title: s.sessions[id].Title})
	}

	return out, nil
}

// evictLocked drops the oldest sessions beyond the cap; caller must hold
// the write lock.
func (s *InMemoryStore) evictLocked() {
	for len(s.order) > s.maxSessions {
		oldest := s.order[len(s.order)-1]
		s.order = s.order[:len(s.order)-1]
		delete(s.sessions, oldest)
		if s.active == oldest {
			s.active = s.order[0]
		}
	}
}

// newUniqueSession allocates a session whose millisecond id does not
// collide with an existing one. Collisions happen when sessions are created
// within the same millisecond.
func newUniqueSession(existing map[string]*core.ChatSession) *core.ChatSession {
	sess := core.NewChatSession()
	for {
		if _, ok := existing[sess.ID]; !ok {
			return sess
		}
		ms, err := strconv.ParseInt(sess.ID, 10, 64)
		if err != nil {
			return sess
		}
		sess.ID = strconv.FormatInt(ms+1, 10)
	}
}

// appendAndTitle applies the shared append semantics: history grows, the
// updated stamp moves and the placeholder title is replaced once the
// session holds a user prompt plus at least one more entry.
func appendAndTitle(sess *core.ChatSession, msg core.ChatMessage) {
	sess.History = append(sess.History, msg)
	sess.Updated = msg.Timestamp

	if sess.Title == core.DefaultTitle && len(sess.History) >= 2 {
		if t := sess.DeriveTitle(); t != "" {
			sess.Title = t
		}
	}
}
