package translate

import (
	"strings"

	"github.com/chebizarro/crosstalk/internal/anthropic"
)

// Keys some upstream providers refuse in tool parameter schemas.
var strippedSchemaKeys = []string{"additionalProperties", "default", "$schema"}

// Formats safe to keep on type=string schemas.
var allowedStringFormats = map[string]bool{
	"enum":      true,
	"date-time": true,
}

// SanitizeSchema defensively prunes a JSON Schema fragment for upstream
// compatibility. It strips unsupported keys, drops risky string formats, and
// recurses through object properties and array items. The input is never
// modified; the returned schema is a deep copy.
func SanitizeSchema(schema map[string]any) map[string]any {
	copied, _ := deepCopy(schema).(map[string]any)
	if copied == nil {
		return map[string]any{}
	}
	sanitizeInPlace(copied)
	return copied
}

func sanitizeInPlace(schema map[string]any) {
	for _, key := range strippedSchemaKeys {
		delete(schema, key)
	}
	if t, _ := schema["type"].(string); t == "string" {
		if format, ok := schema["format"].(string); ok && !allowedStringFormats[format] {
			delete(schema, "format")
		}
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		for _, sub := range props {
			if m, ok := sub.(map[string]any); ok {
				sanitizeInPlace(m)
			}
		}
	}
	switch items := schema["items"].(type) {
	case map[string]any:
		sanitizeInPlace(items)
	case []any:
		for _, item := range items {
			if m, ok := item.(map[string]any); ok {
				sanitizeInPlace(m)
			}
		}
	}
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}

// DefaultToolCap bounds tools per request for schema-fragile backends.
const DefaultToolCap = 5

// maxDescriptionLen is where descriptions are truncated on a word boundary.
const maxDescriptionLen = 200

// minimalSchemas holds pre-baked parameter schemas for well-known agentic
// tools, keyed by tool name. Used by the aggressive simplifier for backends
// that mishandle complex schemas.
var minimalSchemas = map[string]map[string]any{
	"read_file": {
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "File path to read."},
		},
		"required": []any{"path"},
	},
	"write_file": {
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "File path to write."},
			"content": map[string]any{"type": "string", "description": "Content to write."},
		},
		"required": []any{"path", "content"},
	},
	"edit_file": {
		"type": "object",
		"properties": map[string]any{
			"path":       map[string]any{"type": "string", "description": "File path to edit."},
			"old_string": map[string]any{"type": "string", "description": "Text to replace."},
			"new_string": map[string]any{"type": "string", "description": "Replacement text."},
		},
		"required": []any{"path", "old_string", "new_string"},
	},
	"run_command": {
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{"type": "string", "description": "Shell command to execute."},
		},
		"required": []any{"command"},
	},
	"http_fetch": {
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{"type": "string", "description": "URL to fetch."},
		},
		"required": []any{"url"},
	},
	"list_directory": {
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Directory path to list."},
		},
		"required": []any{"path"},
	},
}

// SimplifyTools is the aggressive variant for schema-fragile backends: it
// caps the tool count, substitutes pre-baked minimal schemas for well-known
// tools, and normalizes descriptions. The input slice is not modified.
func SimplifyTools(tools []anthropic.Tool, cap int) []anthropic.Tool {
	if cap <= 0 {
		cap = DefaultToolCap
	}
	if len(tools) > cap {
		tools = tools[:cap]
	}
	out := make([]anthropic.Tool, 0, len(tools))
	for _, t := range tools {
		simplified := anthropic.Tool{
			Name:        t.Name,
			Description: NormalizeDescription(t.Description),
		}
		if minimal, ok := minimalSchemas[t.Name]; ok {
			simplified.InputSchema, _ = deepCopy(minimal).(map[string]any)
		} else {
			simplified.InputSchema = SanitizeSchema(t.InputSchema)
		}
		out = append(out, simplified)
	}
	return out
}

// NormalizeDescription trims, terminates with a period, and truncates at
// maxDescriptionLen on a word boundary.
func NormalizeDescription(desc string) string {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return ""
	}
	if len(desc) > maxDescriptionLen {
		cut := desc[:maxDescriptionLen]
		if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
			cut = cut[:idx]
		}
		desc = strings.TrimRight(cut, " .,;:") + "..."
		return desc
	}
	if !strings.HasSuffix(desc, ".") && !strings.HasSuffix(desc, "!") && !strings.HasSuffix(desc, "?") {
		desc += "."
	}
	return desc
}
