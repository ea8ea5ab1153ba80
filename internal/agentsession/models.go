package agentsession

import "strings"

// contextWindows gives the usable context window, in tokens, for model ids
// the gateway ships agent presets for. Unknown models fall back to a
// conservative default rather than failing — compaction then simply
// triggers earlier than strictly necessary.
var contextWindows = map[string]int64{
	"claude-opus-4":   200000,
	"claude-sonnet-4": 200000,
	"claude-haiku":    200000,
	"gpt-4o":          128000,
	"gpt-4.1":         1000000,
	"gemini":          1000000,
	"qwen":            32000,
}

const defaultContextWindow = 128000

// ContextWindowFor resolves a model id (possibly provider-prefixed, e.g.
// "anthropic/claude-sonnet-4") to its usable context window.
func ContextWindowFor(modelID string) int64 {
	name := modelID
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	for prefix, window := range contextWindows {
		if strings.HasPrefix(name, prefix) {
			return window
		}
	}
	return defaultContextWindow
}
