package tool

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hupe1980/chatlink/core"
	"github.com/hupe1980/chatlink/logging"
	"github.com/hupe1980/chatlink/protocol"
)

// ErrMalformedRanking signals that the ranker's reply did not contain a
// usable array of tool names.
var ErrMalformedRanking = errors.New("tool: malformed ranking reply")

// FilterOptions configures a RelevanceFilter.
type FilterOptions struct {
	// RankerServerID is the pool server providing the ranking method.
	RankerServerID string

	// RankerMethod is the method invoked on the ranker server.
	RankerMethod string

	// ForcedTools are tool identifiers that are always offered, regardless
	// of the ranker's verdict. They also form the fallback set when the
	// ranker is unreachable or replies with garbage.
	ForcedTools []string

	// MaxTools caps the number of offers returned. Zero means no cap.
	MaxTools int

	// HistoryTail is how many trailing messages of the conversation are
	// sent to the ranker for context.
	HistoryTail int

	// CallTimeout bounds the ranking call.
	CallTimeout time.Duration

	// Logger receives degradation warnings.
	Logger logging.Logger
}

// RelevanceFilter narrows the tool manifest offered per turn by consulting
// a ranking collaborator on the tool pool. Filtering is strictly best
// effort: any failure, from an unreachable ranker to a malformed reply,
// degrades to the forced-include subset of the candidates. Filter never
// returns an error.
type RelevanceFilter struct {
	opts FilterOptions
	pool core.ToolServerPool
}

// NewRelevanceFilter creates a filter backed by the given pool.
func NewRelevanceFilter(pool core.ToolServerPool, optFns ...func(o *FilterOptions)) *RelevanceFilter {
	opts := FilterOptions{
		RankerMethod: "rank_tools",
		MaxTools:     0,
		HistoryTail:  6,
		CallTimeout:  10 * time.Second,
		Logger:       logging.NewDefaultSlogLogger(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &RelevanceFilter{opts: opts, pool: pool}
}

// Filter returns the subset of candidates to offer for the given query.
// The returned slice preserves candidate order. When the ranker cannot be
// consulted the forced-include subset is returned instead.
func (f *RelevanceFilter) Filter(ctx context.Context, query string, history []core.ChatMessage, candidates []protocol.ToolOffer) []protocol.ToolOffer {
	if len(candidates) == 0 {
		return nil
	}

	if f.pool == nil || f.opts.RankerServerID == "" {
		return f.fallback(candidates)
	}

	names, err := f.rank(ctx, query, history, candidates)
	if err != nil {
		f.opts.Logger.Warn("tool ranking degraded to forced set", "error", err)
		return f.fallback(candidates)
	}

	keep := make(map[string]bool, len(names)+len(f.opts.ForcedTools))
	for _, n := range names {
		keep[n] = true
	}
	for _, n := range f.opts.ForcedTools {
		keep[n] = true
	}

	selected := make([]protocol.ToolOffer, 0, len(candidates))
	for _, c := range candidates {
		if keep[c.Name] {
			selected = append(selected, c)
		}
	}

	if len(selected) == 0 {
		// A ranker that rejects everything is treated as malfunctioning.
		return f.fallback(candidates)
	}

	return f.cap(selected)
}

func (f *RelevanceFilter) rank(ctx context.Context, query string, history []core.ChatMessage, candidates []protocol.ToolOffer) ([]string, error) {
	if f.opts.CallTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, f.opts.CallTimeout)
		defer cancel()
	}

	tools := make([]map[string]string, 0, len(candidates))
	for _, c := range candidates {
		tools = append(tools, map[string]string{
			"name":        c.Name,
			"description": c.Description,
		})
	}

	params := map[string]any{
		"query":   query,
		"history": tailSummaries(history, f.opts.HistoryTail),
		"tools":   tools,
	}

	raw, err := f.pool.CallMethod(ctx, f.opts.RankerServerID, f.opts.RankerMethod, params)
	if err != nil {
		return nil, err
	}

	return parseRankedNames(raw)
}

// parseRankedNames extracts a JSON array of tool names from the ranker's
// reply. The reply may be the array itself, a JSON string containing one,
// or an object with a "tools" field holding either form.
func parseRankedNames(raw any) ([]string, error) {
	var doc string

	switch v := raw.(type) {
	case string:
		doc = v
	case json.RawMessage:
		doc = string(v)
	case []byte:
		doc = string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}

		doc = string(b)
	}

	doc = strings.TrimSpace(doc)

	parsed := gjson.Parse(doc)
	if parsed.Type == gjson.String {
		parsed = gjson.Parse(parsed.String())
	}

	if tools := parsed.Get("tools"); tools.Exists() {
		parsed = tools
	}

	if !parsed.IsArray() {
		return nil, ErrMalformedRanking
	}

	var names []string

	for _, el := range parsed.Array() {
		if n := strings.TrimSpace(el.String()); n != "" {
			names = append(names, n)
		}
	}

	if len(names) == 0 {
		return nil, ErrMalformedRanking
	}

	return names, nil
}

func (f *RelevanceFilter) fallback(candidates []protocol.ToolOffer) []protocol.ToolOffer {
	if len(f.opts.ForcedTools) == 0 {
		return f.cap(candidates)
	}

	forced := make(map[string]bool, len(f.opts.ForcedTools))
	for _, n := range f.opts.ForcedTools {
		forced[n] = true
	}

	selected := make([]protocol.ToolOffer, 0, len(f.opts.ForcedTools))
	for _, c := range candidates {
		if forced[c.Name] {
			selected = append(selected, c)
		}
	}

	if len(selected) == 0 {
		return f.cap(candidates)
	}

	return f.cap(selected)
}

func (f *RelevanceFilter) cap(offers []protocol.ToolOffer) []protocol.ToolOffer {
	if f.opts.MaxTools > 0 && len(offers) > f.opts.MaxTools {
		return offers[:f.opts.MaxTools]
	}

	return offers
}

// tailSummaries renders the trailing n messages as compact role/content
// pairs for the ranking prompt.
func tailSummaries(history []core.ChatMessage, n int) []map[string]string {
	if n > 0 && len(history) > n {
		history = history[len(history)-n:]
	}

	out := make([]map[string]string, 0, len(history))

	for _, m := range history {
		out = append(out, map[string]string{
			"role":    string(m.Role),
			"content": m.Content,
		})
	}

	return out
}
