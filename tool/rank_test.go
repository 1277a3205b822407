package tool

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chatlink/core"
	"github.com/hupe1980/chatlink/protocol"
)

func offers(names ...string) []protocol.ToolOffer {
	out := make([]protocol.ToolOffer, 0, len(names))
	for _, n := range names {
		out = append(out, protocol.ToolOffer{Name: n, Description: "desc " + n})
	}

	return out
}

func offerNames(offers []protocol.ToolOffer) []string {
	out := make([]string, 0, len(offers))
	for _, o := range offers {
		out = append(out, o.Name)
	}

	return out
}

func TestRelevanceFilterKeepsRankedAndForced(t *testing.T) {
	pool := &fakePool{
		fn: func(_, method string, params map[string]any) (any, error) {
			require.Equal(t, "rank_tools", method)
			assert.Equal(t, "list my files", params["query"])

			return `["files@list_files","web@search"]`, nil
		},
	}

	f := NewRelevanceFilter(pool, func(o *FilterOptions) {
		o.RankerServerID = "ranker"
		o.ForcedTools = []string{"core@help"}
	})

	got := f.Filter(context.Background(), "list my files", nil,
		offers("files@list_files", "web@search", "db@query", "core@help"))

	assert.Equal(t, []string{"files@list_files", "web@search", "core@help"}, offerNames(got))
}

func TestRelevanceFilterUnreachableRankerFallsBack(t *testing.T) {
	pool := &fakePool{
		fn: func(_, _ string, _ map[string]any) (any, error) {
			return nil, fmt.Errorf("ranker unreachable")
		},
	}

	f := NewRelevanceFilter(pool, func(o *FilterOptions) {
		o.RankerServerID = "ranker"
		o.ForcedTools = []string{"core@help", "files@list_files"}
	})

	assert.NotPanics(t, func() {
		got := f.Filter(context.Background(), "anything", nil,
			offers("files@list_files", "web@search", "core@help"))

		assert.ElementsMatch(t, []string{"files@list_files", "core@help"}, offerNames(got))
	})
}

func TestRelevanceFilterMalformedReplyFallsBack(t *testing.T) {
	for _, reply := range []any{
		`not json at all`,
		`{"unexpected":"shape"}`,
		`[]`,
		nil,
	} {
		pool := &fakePool{
			fn: func(_, _ string, _ map[string]any) (any, error) {
				return reply, nil
			},
		}

		f := NewRelevanceFilter(pool, func(o *FilterOptions) {
			o.RankerServerID = "ranker"
			o.ForcedTools = []string{"core@help"}
		})

		got := f.Filter(context.Background(), "q", nil, offers("core@help", "web@search"))
		assert.Equal(t, []string{"core@help"}, offerNames(got), "reply %v", reply)
	}
}

func TestRelevanceFilterAcceptsWrappedReplies(t *testing.T) {
	replies := []any{
		`{"tools":["web@search"]}`,
		[]any{"web@search"},
		`"[\"web@search\"]"`,
	}

	for _, reply := range replies {
		pool := &fakePool{
			fn: func(_, _ string, _ map[string]any) (any, error) {
				return reply, nil
			},
		}

		f := NewRelevanceFilter(pool, func(o *FilterOptions) {
			o.RankerServerID = "ranker"
		})

		got := f.Filter(context.Background(), "q", nil, offers("web@search", "db@query"))
		assert.Equal(t, []string{"web@search"}, offerNames(got), "reply %v", reply)
	}
}

func TestRelevanceFilterNoRankerConfigured(t *testing.T) {
	f := NewRelevanceFilter(nil, func(o *FilterOptions) {
		o.ForcedTools = []string{"core@help"}
	})

	got := f.Filter(context.Background(), "q", nil, offers("core@help", "web@search"))
	assert.Equal(t, []string{"core@help"}, offerNames(got))
}

func TestRelevanceFilterMaxToolsCap(t *testing.T) {
	pool := &fakePool{
		fn: func(_, _ string, _ map[string]any) (any, error) {
			return `["a@1","a@2","a@3","a@4"]`, nil
		},
	}

	f := NewRelevanceFilter(pool, func(o *FilterOptions) {
		o.RankerServerID = "ranker"
		o.MaxTools = 2
	})

	got := f.Filter(context.Background(), "q", nil, offers("a@1", "a@2", "a@3", "a@4"))
	assert.Len(t, got, 2)
}

func TestRelevanceFilterSendsHistoryTail(t *testing.T) {
	var sent []map[string]string

	pool := &fakePool{
		fn: func(_, _ string, params map[string]any) (any, error) {
			sent = params["history"].([]map[string]string)
			return `["web@search"]`, nil
		},
	}

	f := NewRelevanceFilter(pool, func(o *FilterOptions) {
		o.RankerServerID = "ranker"
		o.HistoryTail = 2
	})

	history := []core.ChatMessage{
		core.NewUserMessage("one"),
		core.NewAssistantMessage("two"),
		core.NewUserMessage("three"),
	}

	f.Filter(context.Background(), "q", history, offers("web@search"))

	require.Len(t, sent, 2)
	assert.Equal(t, "two", sent[0]["content"])
	assert.Equal(t, "three", sent[1]["content"])
}

func TestRelevanceFilterEmptyCandidates(t *testing.T) {
	f := NewRelevanceFilter(&fakePool{})
	assert.Nil(t, f.Filter(context.Background(), "q", nil, nil))
}
