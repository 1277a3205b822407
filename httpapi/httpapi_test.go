package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chatlink/core"
	"github.com/hupe1980/chatlink/engine"
	"github.com/hupe1980/chatlink/session"
)

// scriptedQuerier appends a canned assistant reply, or fails.
type scriptedQuerier struct {
	store core.SessionStore
	reply string
	err   error
}

func (q *scriptedQuerier) ProcessQuery(_ context.Context, query string) error {
	if q.err != nil {
		return q.err
	}

	id := q.store.ActiveID()
	if id == "" {
		var err error
		if id, err = q.store.CreateSession(); err != nil {
			return err
		}
	}

	if err := q.store.AppendMessage(id, core.NewUserMessage(query)); err != nil {
		return err
	}
	return q.store.AppendMessage(id, core.NewAssistantMessage(q.reply))
}

func newTestServer(t *testing.T, q *scriptedQuerier) (*Server, core.SessionStore) {
	t.Helper()

	store := session.NewInMemoryStore()
	if q == nil {
		q = &scriptedQuerier{reply: "ok"}
	}
	q.store = store

	return New(q, store), store
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	return rec
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	srv, store := newTestServer(t, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/sessions", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/sessions", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var listed []core.SessionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed, 2)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/sessions/"+created.ID+"/activate", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, created.ID, store.ActiveID())

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/sessions/nope/activate", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueryReturnsUpdatedHistory(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedQuerier{reply: "the answer"})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/query", `{"query":"a question"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		SessionID string             `json:"session_id"`
		History   []core.ChatMessage `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.History, 2)
	assert.Equal(t, "a question", res.History[0].Content)
	assert.Equal(t, "the answer", res.History[1].Content)
}

func TestQueryValidation(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/query", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/query", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryBusyMapsToConflict(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedQuerier{err: engine.ErrBusy})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/query", `{"query":"hi"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestQueryFailureMapsToBadGateway(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedQuerier{err: errors.New("turn failed: model overloaded")})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/query", `{"query":"hi"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var res struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Contains(t, res.Error, "model overloaded")
}

func TestHistoryForUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/sessions/nope/messages", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
