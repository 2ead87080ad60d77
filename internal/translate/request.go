package translate

import (
	"encoding/json"
	"fmt"

	"github.com/chebizarro/crosstalk/internal/anthropic"
	"github.com/chebizarro/crosstalk/internal/config"
	"github.com/chebizarro/crosstalk/internal/openai"
)

// Options steers request conversion per backend.
type Options struct {
	// MaxTokensLimit clamps the caller's max_tokens. Zero disables clamping.
	MaxTokensLimit int
	// SimplifyToolSchemas enables the aggressive sanitizer for backends
	// known to mishandle complex schemas.
	SimplifyToolSchemas bool
	// ToolCap bounds tools per request when simplifying. Zero uses the
	// default cap.
	ToolCap int
	// Extra carries optional upstream fields to attach after validation.
	Extra config.ExtraConfig
}

// Trace records conversion steps and non-fatal warnings for debug export.
type Trace struct {
	Steps    []string
	Warnings []string
}

func (t *Trace) step(format string, args ...any) {
	t.Steps = append(t.Steps, fmt.Sprintf(format, args...))
}

func (t *Trace) warn(format string, args ...any) {
	t.Warnings = append(t.Warnings, fmt.Sprintf(format, args...))
}

// BuildRequest assembles the upstream request from an Anthropic source.
// model is the already-mapped backend identifier. Conversion is total: any
// content it cannot express degrades in place and is noted on the trace.
func BuildRequest(req *anthropic.MessagesRequest, model string, opts Options) (*openai.Request, *Trace) {
	trace := &Trace{}
	out := &openai.Request{
		Model:  model,
		Stream: req.Stream,
	}

	if !req.System.IsZero() {
		out.Messages = append(out.Messages, openai.Message{
			Role:    "system",
			Content: req.System.Text(),
		})
		trace.step("system prompt attached (%d chars)", len(req.System.Text()))
	}

	for i, msg := range req.Messages {
		converted := convertMessage(msg)
		out.Messages = append(out.Messages, converted...)
		if len(converted) > 1 {
			trace.step("message %d split into %d upstream messages", i, len(converted))
		}
	}
	trace.step("converted %d messages", len(req.Messages))

	if len(req.Tools) > 0 {
		out.Tools = convertTools(req.Tools, opts)
		trace.step("converted %d tools (simplify=%v)", len(out.Tools), opts.SimplifyToolSchemas)
	}

	if req.ToolChoice != nil {
		out.ToolChoice = convertToolChoice(req.ToolChoice)
		trace.step("tool_choice=%v", out.ToolChoice)
	}

	maxTokens := req.MaxTokens
	if opts.MaxTokensLimit > 0 && maxTokens > opts.MaxTokensLimit {
		trace.warn("max_tokens %d clamped to limit %d", maxTokens, opts.MaxTokensLimit)
		maxTokens = opts.MaxTokensLimit
	}
	if maxTokens > 0 {
		out.MaxTokens = &maxTokens
	}
	out.Temperature = req.Temperature
	out.TopP = req.TopP
	out.TopK = req.TopK
	out.Stop = req.StopSequences

	attachExtras(out, opts.Extra, trace)

	return out, trace
}

// convertMessage converts one Anthropic message into one or more upstream
// messages. Messages containing tool_result blocks split: each result becomes
// its own role=tool message and any textual preamble a user message, in
// original order. tool_use blocks promote to tool_calls on an assistant
// message.
func convertMessage(msg anthropic.Message) []openai.Message {
	var toolResults []openai.Message
	var toolCalls []openai.ToolCall
	var rest []anthropic.ContentBlock

	for _, b := range msg.Content {
		switch b.Type {
		case anthropic.BlockToolResult:
			toolResults = append(toolResults, openai.Message{
				Role:       "tool",
				ToolCallID: b.ToolUseID,
				Content:    b.Content.Flatten(),
			})
		case anthropic.BlockToolUse:
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:       b.ID,
				Type:     "function",
				Function: openai.FunctionCall{Name: b.Name, Arguments: encodeArgs(b.Input)},
			})
		default:
			rest = append(rest, b)
		}
	}

	if len(toolResults) > 0 {
		// Textual preamble first, then the results in original order.
		var out []openai.Message
		if text := textOf(rest); text != "" {
			out = append(out, openai.Message{Role: "user", Content: text})
		}
		return append(out, toolResults...)
	}

	if len(toolCalls) > 0 {
		return []openai.Message{{
			Role:      "assistant",
			Content:   textOf(rest),
			ToolCalls: toolCalls,
		}}
	}

	return []openai.Message{{Role: msg.Role, Content: ContentToUpstream(rest)}}
}

// encodeArgs JSON-encodes tool input; unencodable input degrades to an empty
// object, never an error.
func encodeArgs(input map[string]any) string {
	if input == nil {
		return "{}"
	}
	data, err := json.Marshal(input)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func convertTools(tools []anthropic.Tool, opts Options) []openai.Tool {
	if opts.SimplifyToolSchemas {
		tools = SimplifyTools(tools, opts.ToolCap)
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		params := t.InputSchema
		if !opts.SimplifyToolSchemas {
			params = SanitizeSchema(t.InputSchema)
		}
		out = append(out, openai.Tool{
			Type: "function",
			Function: openai.FunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func convertToolChoice(tc *anthropic.ToolChoice) any {
	switch tc.Type {
	case "auto":
		return "auto"
	case "any":
		return "required"
	case "tool":
		return map[string]any{
			"type":     "function",
			"function": map[string]any{"name": tc.Name},
		}
	default:
		return "auto"
	}
}

// attachExtras validates and attaches optional upstream fields. Invalid
// values are dropped with a warning, never fatally.
func attachExtras(out *openai.Request, extra config.ExtraConfig, trace *Trace) {
	if len(extra.FallbackModels) > 0 {
		out.Models = extra.FallbackModels
	}
	if extra.Route != "" {
		if extra.Route == "fallback" {
			out.Route = extra.Route
		} else {
			trace.warn("route %q is not a known routing strategy, dropped", extra.Route)
		}
	}
	if len(extra.ProviderOrder) > 0 || extra.AllowFallbacks != nil {
		out.Provider = &openai.ProviderPrefs{
			Order:          extra.ProviderOrder,
			AllowFallbacks: extra.AllowFallbacks,
		}
	}
	out.FrequencyPenalty = boundedFloat(extra.FrequencyPenalty, -2, 2, "frequency_penalty", trace)
	out.PresencePenalty = boundedFloat(extra.PresencePenalty, -2, 2, "presence_penalty", trace)
	out.RepetitionPenalty = boundedFloat(extra.RepetitionPenalty, 0, 2, "repetition_penalty", trace)
	out.MinP = boundedFloat(extra.MinP, 0, 1, "min_p", trace)
	out.Seed = extra.Seed
	out.User = extra.User
	if len(extra.LogitBias) > 0 {
		out.LogitBias = extra.LogitBias
	}
}

func boundedFloat(v *float64, lo, hi float64, name string, trace *Trace) *float64 {
	if v == nil {
		return nil
	}
	if *v < lo || *v > hi {
		trace.warn("%s %v out of range [%v, %v], dropped", name, *v, lo, hi)
		return nil
	}
	return v
}
