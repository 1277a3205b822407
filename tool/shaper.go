package tool

import (
	"encoding/json"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Default shaping bounds keeping tool_result payloads small enough to feed
// back into generation.
const (
	// DefaultMaxArrayItems is the bounded prefix kept from oversized arrays.
	DefaultMaxArrayItems = 20
	// DefaultMaxTextBytes is the size threshold beyond which scalar / text
	// results are truncated.
	DefaultMaxTextBytes = 4096
	// TruncationMarker trails truncated text results.
	TruncationMarker = "… [truncated]"
)

// Shaper post-processes one successful tool result before it is recorded
// and submitted back to the inference engine. Implementations must be pure:
// no RPCs, no state.
type Shaper interface {
	Shape(result any) any
}

// ShapeFunc adapts a function to the Shaper interface.
type ShapeFunc func(result any) any

// Shape implements Shaper.
func (f ShapeFunc) Shape(result any) any { return f(result) }

// ShaperRegistry maps tool identifiers ("serverId@toolName") to bespoke
// shapers, falling back to the standard truncation policy. Registering
// per-tool extraction logic here keeps the invoker free of inline special
// cases.
type ShaperRegistry struct {
	mu       sync.RWMutex
	byTool   map[string]Shaper
	fallback Shaper
}

// NewShaperRegistry creates a registry with the default truncation policy
// as fallback.
func NewShaperRegistry() *ShaperRegistry {
	return &ShaperRegistry{
		byTool:   map[string]Shaper{},
		fallback: TruncatingShaper{MaxArrayItems: DefaultMaxArrayItems, MaxTextBytes: DefaultMaxTextBytes},
	}
}

// Register installs a bespoke shaper for a tool identifier, replacing any
// prior one. The registered shaper composes with the fallback: its output
// is passed through the standard truncation policy afterwards.
func (r *ShaperRegistry) Register(toolID string, s Shaper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTool[toolID] = s
}

// Shape applies the tool's bespoke shaper (if any) followed by the
// fallback policy.
func (r *ShaperRegistry) Shape(toolID string, result any) any {
	r.mu.RLock()
	bespoke, ok := r.byTool[toolID]
	fallback := r.fallback
	r.mu.RUnlock()

	if ok {
		result = bespoke.Shape(result)
	}
	return fallback.Shape(result)
}

// TruncatingShaper is the standard result-shaping policy: arrays beyond
// MaxArrayItems are cut to a bounded prefix with a count annotation; text
// and other oversized payloads are truncated with a trailing marker.
type TruncatingShaper struct {
	MaxArrayItems int
	MaxTextBytes  int
}

// Shape implements Shaper.
func (t TruncatingShaper) Shape(result any) any {
	if result == nil {
		return nil
	}

	if s, ok := result.(string); ok {
		return t.truncateText(s)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return t.truncateText(fmt.Sprintf("%v", result))
	}

	doc := gjson.ParseBytes(raw)
	if doc.IsArray() {
		items := doc.Array()
		if len(items) > t.MaxArrayItems {
			return t.summarizeArray(items)
		}
	}
	if len(raw) > t.MaxTextBytes {
		return t.truncateText(string(raw))
	}
	return result
}

func (t TruncatingShaper) truncateText(s string) string {
	if len(s) <= t.MaxTextBytes {
		return s
	}

	// Back off to a rune boundary so the cut never splits a multi-byte
	// character.
	cut := t.MaxTextBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + TruncationMarker
}

func (t TruncatingShaper) summarizeArray(items []gjson.Result) any {
	prefix := "["
	for i := 0; i < t.MaxArrayItems; i++ {
		if i > 0 {
			prefix += ","
		}
		prefix += items[i].Raw
	}
	prefix += "]"

	out := "{}"
	out, _ = sjson.SetRaw(out, "items", prefix)
	out, _ = sjson.Set(out, "total_count", len(items))
	out, _ = sjson.Set(out, "truncated", true)
	return json.RawMessage(out)
}

// NestedTextShaper unwraps a JSON-encoded text field before the standard
// policy applies, e.g. MCP-style results of the form
// {"content":[{"type":"text","text":"..."}]}. Register it for tools known
// to wrap their payload this way.
type NestedTextShaper struct {
	// Path is a gjson path to the text field, e.g. "content.0.text".
	Path string
}

// Shape implements Shaper.
func (n NestedTextShaper) Shape(result any) any {
	raw, err := json.Marshal(result)
	if err != nil {
		return result
	}
	field := gjson.GetBytes(raw, n.Path)
	if !field.Exists() || field.Type != gjson.String {
		return result
	}
	text := field.String()
	// The wrapped text is often itself JSON; surface the parsed form so the
	// array policy can still apply.
	if inner := gjson.Parse(text); inner.IsArray() || inner.IsObject() {
		return json.RawMessage(text)
	}
	return text
}
