package sessions

import "github.com/nextlevelbuilder/aobot-gateway/internal/providers"

// toolSchemas declares the function schema advertised to the LLM for each
// tool name an agent's configured tool policy lists. Execution of the
// resulting tool_calls is out of scope here; the schemas exist so an agent
// can be configured the way the original is (a named tool policy) without
// requiring a full tool-execution engine to exercise the rest of the
// Session Manager.
var toolSchemas = map[string]providers.ToolDefinition{
	"bash": {
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        "bash",
			Description: "Run a shell command.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"command": map[string]interface{}{"type": "string"}},
				"required":   []string{"command"},
			},
		},
	},
	"read": {
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        "read",
			Description: "Read a file's contents.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"path": map[string]interface{}{"type": "string"}},
				"required":   []string{"path"},
			},
		},
	},
	"write": {
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        "write",
			Description: "Write content to a file.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path":    map[string]interface{}{"type": "string"},
					"content": map[string]interface{}{"type": "string"},
				},
				"required": []string{"path", "content"},
			},
		},
	},
	"edit": {
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        "edit",
			Description: "Replace a substring within a file.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path":    map[string]interface{}{"type": "string"},
					"old":     map[string]interface{}{"type": "string"},
					"new":     map[string]interface{}{"type": "string"},
				},
				"required": []string{"path", "old", "new"},
			},
		},
	},
}

// resolveTools maps configured tool names to their schemas, silently
// dropping names with no known schema.
func resolveTools(names []string) []providers.ToolDefinition {
	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		if def, ok := toolSchemas[name]; ok {
			defs = append(defs, def)
		}
	}
	return defs
}
