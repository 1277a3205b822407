package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/chatlink/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id      TEXT PRIMARY KEY,
	title   TEXT NOT NULL,
	created INTEGER NOT NULL,
	updated INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	session_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	payload    TEXT NOT NULL,
	PRIMARY KEY (session_id, seq)
);
CREATE TABLE IF NOT EXISTS active_session (
	k          INTEGER PRIMARY KEY CHECK (k = 1),
	session_id TEXT NOT NULL
);
`

// SQLiteStore is a durable SessionStore backed by a SQLite database file.
// All sessions are cached in memory; every mutation is written through to
// the database before it becomes observable, so state survives a process
// restart.
type SQLiteStore struct {
	mu          sync.Mutex
	db          *sql.DB
	sessions    map[string]*core.ChatSession
	order       []string // session ids, newest first
	active      string
	maxSessions int
}

var _ core.SessionStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if necessary) the database at path and
// loads all persisted sessions. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string, optFns ...func(o *Options)) (*SQLiteStore, error) {
	opts := Options{MaxSessions: DefaultMaxSessions}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply session schema: %w", err)
	}

	s := &SQLiteStore{
		db:          db,
		sessions:    make(map[string]*core.ChatSession),
		maxSessions: opts.MaxSessions,
	}

	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Close()
}

// load hydrates the in-memory cache from the database, newest-first.
func (s *SQLiteStore) load() error {
	// Session ids encode the creation instant and are bumped on same-
	// millisecond collisions, so they order strictly by recency.
	rows, err := s.db.Query(`SELECT id, title, created, updated FROM sessions ORDER BY CAST(id AS INTEGER) DESC`)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			sess             core.ChatSession
			created, updated int64
		)
		if err := rows.Scan(&sess.ID, &sess.Title, &created, &updated); err != nil {
			return fmt.Errorf("scan session row: %w", err)
		}
		sess.Created = time.UnixMilli(created).UTC()
		sess.Updated = time.UnixMilli(updated).UTC()

		s.sessions[sess.ID] = &sess
		s.order = append(s.order, sess.ID)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate session rows: %w", err)
	}

	for id, sess := range s.sessions {
		history, err := s.loadHistory(id)
		if err != nil {
			return err
		}
		sess.History = history
	}

	var active string
	err = s.db.QueryRow(`SELECT session_id FROM active_session WHERE k = 1`).Scan(&active)
	switch {
	case err == sql.ErrNoRows:
		if len(s.order) > 0 {
			s.active = s.order[0]
		}
	case err != nil:
		return fmt.Errorf("load active session: %w", err)
	default:
		if _, ok := s.sessions[active]; ok {
			s.active = active
		} else if len(s.order) > 0 {
			s.active = s.order[0]
		}
	}

	return nil
}

func (s *SQLiteStore) loadHistory(sessionID string) ([]core.ChatMessage, error) {
	rows, err := s.db.Query(`SELECT payload FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var history []core.ChatMessage

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}

		var msg core.ChatMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return nil, fmt.Errorf("decode message payload: %w", err)
		}
		history = append(history, msg)
	}

	return history, rows.Err()
}

// CreateSession prepends a fresh empty session, makes it active and evicts
// the oldest session beyond the retention cap.
func (s *SQLiteStore) CreateSession() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := newUniqueSession(s.sessions)

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin create session: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO sessions (id, title, created, updated) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.Title, sess.Created.UnixMilli(), sess.Updated.UnixMilli(),
	); err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	if err := setActiveTx(tx, sess.ID); err != nil {
		return "", err
	}

	evicted := evictCandidates(s.order, s.maxSessions-1)
	for _, id := range evicted {
		if err := deleteSessionTx(tx, id); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit create session: %w", err)
	}

	s.sessions[sess.ID] = sess
	s.order = append([]string{sess.ID}, s.order...)
	s.active = sess.ID
	for _, id := range evicted {
		delete(s.sessions, id)
	}
	s.order = s.order[:len(s.order)-len(evicted)]

	return sess.ID, nil
}

// SwitchActive makes an existing session the active one.
func (s *SQLiteStore) SwitchActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return core.ErrUnknownSession
	}

	if _, err := s.db.Exec(
		`INSERT INTO active_session (k, session_id) VALUES (1, ?)
		 ON CONFLICT(k) DO UPDATE SET session_id = excluded.session_id`, id,
	); err != nil {
		return fmt.Errorf("persist active session: %w", err)
	}

	s.active = id

	return nil
}

// ActiveID returns the currently active session id ("" when none exists).
func (s *SQLiteStore) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.active
}

// AppendMessage appends one message to a session's history, deriving the
// title once enough history exists. The message is persisted before the
// cache is updated.
func (s *SQLiteStore) AppendMessage(sessionID string, msg core.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return core.ErrUnknownSession
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO messages (session_id, seq, payload) VALUES (?, ?, ?)`,
		sessionID, len(sess.History), string(payload),
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	// Compute the post-append title without mutating the cache yet.
	title := sess.Title
	if title == core.DefaultTitle && len(sess.History)+1 >= 2 {
		probe := core.ChatSession{History: append(append([]core.ChatMessage{}, sess.History...), msg)}
		if t := probe.DeriveTitle(); t != "" {
			title = t
		}
	}

	if _, err := tx.Exec(
		`UPDATE sessions SET title = ?, updated = ? WHERE id = ?`,
		title, msg.Timestamp.UnixMilli(), sessionID,
	); err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}

	sess.History = append(sess.History, msg)
	sess.Updated = msg.Timestamp
	sess.Title = title

	return nil
}

// RemoveLastMessage drops the newest history entry. Removing from an empty
// history is a no-op.
func (s *SQLiteStore) RemoveLastMessage(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return core.ErrUnknownSession
	}
	if len(sess.History) == 0 {
		return nil
	}

	if _, err := s.db.Exec(
		`DELETE FROM messages WHERE session_id = ? AND seq = ?`,
		sessionID, len(sess.History)-1,
	); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	sess.History = sess.History[:len(sess.History)-1]

	return nil
}

// History returns a copy of the session's message history.
func (s *SQLiteStore) History(sessionID string) ([]core.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, core.ErrUnknownSession
	}

	out := make([]core.ChatMessage, len(sess.History))
	copy(out, sess.History)

	return out, nil
}

// Sessions lists all sessions newest-first.
func (s *SQLiteStore) Sessions() ([]core.SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]core.SessionInfo, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, core.SessionInfo{ID: id, Title: s.sessions[id].Title})
	}

	return out, nil
}

func setActiveTx(tx *sql.Tx, id string) error {
	if _, err := tx.Exec(
		`INSERT INTO active_session (k, session_id) VALUES (1, ?)
		 ON CONFLICT(k) DO UPDATE SET session_id = excluded.session_id`, id,
	); err != nil {
		return fmt.Errorf("persist active session: %w", err)
	}

	return nil
}

func deleteSessionTx(tx *sql.Tx, id string) error {
	if _, err := tx.Exec(`DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete evicted history: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete evicted session: %w", err)
	}

	return nil
}

// evictCandidates returns the oldest ids beyond keep, given a newest-first
// ordering.
func evictCandidates(order []string, keep int) []string {
	if keep < 0 {
		keep = 0
	}
	if len(order) <= keep {
		return nil
	}

	return order[keep:]
}
