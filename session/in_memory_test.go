package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chatlink/core"
)

func TestInMemoryStoreCreateAndSwitch(t *testing.T) {
	store := NewInMemoryStore()

	first, err := store.CreateSession()
	require.NoError(t, err)
	assert.Equal(t, first, store.ActiveID())

	second, err := store.CreateSession()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, second, store.ActiveID())

	require.NoError(t, store.SwitchActive(first))
	assert.Equal(t, first, store.ActiveID())

	assert.ErrorIs(t, store.SwitchActive("nope"), core.ErrUnknownSession)
}

func TestInMemoryStoreSessionsNewestFirst(t *testing.T) {
	store := NewInMemoryStore()

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := store.CreateSession()
		require.NoError(t, err)
		ids = append(ids, id)
	}

	infos, err := store.Sessions()
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, ids[2], infos[0].ID)
	assert.Equal(t, ids[1], infos[1].ID)
	assert.Equal(t, ids[0], infos[2].ID)
}

func TestInMemoryStoreFIFOEviction(t *testing.T) {
	store := NewInMemoryStore(func(o *Options) {
		o.MaxSessions = 2
	})

	first, _ := store.CreateSession()
	second, _ := store.CreateSession()
	third, _ := store.CreateSession()

	infos, err := store.Sessions()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, third, infos[0].ID)
	assert.Equal(t, second, infos[1].ID)

	_, err = store.History(first)
	assert.ErrorIs(t, err, core.ErrUnknownSession)
}

func TestInMemoryStoreAppendAndHistory(t *testing.T) {
	store := NewInMemoryStore()
	id, _ := store.CreateSession()

	require.NoError(t, store.AppendMessage(id, core.NewUserMessage("hello")))
	require.NoError(t, store.AppendMessage(id, core.NewAssistantMessage("hi")))

	history, err := store.History(id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, core.RoleUser, history[0].Role)
	assert.Equal(t, core.RoleAssistant, history[1].Role)

	// Mutating the returned slice must not affect the store.
	history[0].Content = "tampered"
	fresh, _ := store.History(id)
	assert.Equal(t, "hello", fresh[0].Content)

	assert.ErrorIs(t, store.AppendMessage("nope", core.NewUserMessage("x")), core.ErrUnknownSession)
}

func TestInMemoryStoreTitleDerivation(t *testing.T) {
	store := NewInMemoryStore()
	id, _ := store.CreateSession()

	infos, _ := store.Sessions()
	assert.Equal(t, core.DefaultTitle, infos[0].Title)

	// One entry is not enough to title the session.
	require.NoError(t, store.AppendMessage(id, core.NewUserMessage("what is the weather in Berlin today, really?")))
	infos, _ = store.Sessions()
	assert.Equal(t, core.DefaultTitle, infos[0].Title)

	require.NoError(t, store.AppendMessage(id, core.NewAssistantMessage("sunny")))
	infos, _ = store.Sessions()
	assert.NotEqual(t, core.DefaultTitle, infos[0].Title)
	assert.True(t, strings.HasPrefix("what is the weather in Berlin today, really?", infos[0].Title))
	assert.LessOrEqual(t, len([]rune(infos[0].Title)), core.TitleMaxLen)
}

func TestInMemoryStoreRemoveLastMessage(t *testing.T) {
	store := NewInMemoryStore()
	id, _ := store.CreateSession()

	require.NoError(t, store.AppendMessage(id, core.NewUserMessage("doomed")))
	require.NoError(t, store.RemoveLastMessage(id))

	history, err := store.History(id)
	require.NoError(t, err)
	assert.Empty(t, history)

	// Rolling back an empty history is a no-op.
	require.NoError(t, store.RemoveLastMessage(id))

	assert.ErrorIs(t, store.RemoveLastMessage("nope"), core.ErrUnknownSession)
}
