package translate

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/chebizarro/crosstalk/internal/anthropic"
	"github.com/chebizarro/crosstalk/internal/apperr"
	"github.com/chebizarro/crosstalk/internal/openai"
)

// NewMessageID produces a synthetic Anthropic-style message id:
// "msg_" followed by 24 hex characters.
func NewMessageID() string {
	buf := make([]byte, 12)
	_, _ = rand.Read(buf)
	return "msg_" + hex.EncodeToString(buf)
}

// FromUpstream builds the Anthropic response from a complete upstream
// result. originalModel is the caller's model string, echoed back verbatim.
func FromUpstream(resp *openai.Response, originalModel string) (*anthropic.MessagesResponse, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, apperr.New(apperr.Conversion, "invalid_upstream: no choices in response")
	}

	choice := resp.Choices[0]
	out := &anthropic.MessagesResponse{
		ID:         NewMessageID(),
		Type:       "message",
		Role:       "assistant",
		Model:      originalModel,
		StopReason: MapFinishReason(choice.FinishReason),
		Usage:      convertUsage(resp.Usage),
	}

	out.Content = append(out.Content, PartsToBlocks(choice.Message.Content)...)
	for _, tc := range choice.Message.ToolCalls {
		out.Content = append(out.Content, toolCallToBlock(tc))
	}

	if len(out.Content) == 0 {
		out.Content = []anthropic.ContentBlock{{
			Type: anthropic.BlockText,
			Text: "[Upstream returned an empty response]",
		}}
	}
	return out, nil
}

// FromChunks reconstructs a complete Anthropic response from accumulated
// stream chunks, for callers that buffered a stream but need the
// non-streaming shape. When the chunks carry nothing usable the result is a
// single diagnostic text block so the caller still sees a valid envelope.
func FromChunks(chunks []openai.StreamChunk, originalModel string) *anthropic.MessagesResponse {
	var text strings.Builder
	var finish string
	var usage *openai.Usage
	calls := map[int]*openai.ToolCall{}
	var callOrder []int

	for _, c := range chunks {
		if c.Usage != nil {
			usage = c.Usage
		}
		if len(c.Choices) == 0 {
			continue
		}
		choice := c.Choices[0]
		text.WriteString(choice.Delta.Content)
		for _, tc := range choice.Delta.ToolCalls {
			call, ok := calls[tc.Index]
			if !ok {
				call = &openai.ToolCall{Type: "function"}
				calls[tc.Index] = call
				callOrder = append(callOrder, tc.Index)
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Function.Name = tc.Function.Name
			}
			call.Function.Arguments += tc.Function.Arguments
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			finish = *choice.FinishReason
		}
	}

	out := &anthropic.MessagesResponse{
		ID:         NewMessageID(),
		Type:       "message",
		Role:       "assistant",
		Model:      originalModel,
		StopReason: MapFinishReason(finish),
		Usage:      convertUsage(usage),
	}
	if text.Len() > 0 {
		out.Content = append(out.Content, anthropic.ContentBlock{Type: anthropic.BlockText, Text: text.String()})
	}
	for _, idx := range callOrder {
		out.Content = append(out.Content, toolCallToBlock(*calls[idx]))
	}
	if len(out.Content) == 0 {
		out.Content = []anthropic.ContentBlock{{
			Type: anthropic.BlockText,
			Text: "[Stream produced no reconstructable content]",
		}}
	}
	return out
}

// toolCallToBlock converts an upstream tool call to a tool_use block. An
// unparsable arguments string yields an empty input object, never an error.
func toolCallToBlock(tc openai.ToolCall) anthropic.ContentBlock {
	input := map[string]any{}
	if tc.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
			input = map[string]any{}
		}
	}
	return anthropic.ContentBlock{
		Type:  anthropic.BlockToolUse,
		ID:    tc.ID,
		Name:  tc.Function.Name,
		Input: input,
	}
}

// MapFinishReason maps upstream finish reasons onto Anthropic stop reasons.
func MapFinishReason(reason string) string {
	switch reason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls", "function_call":
		return "tool_use"
	case "content_filter":
		return "error"
	default:
		return "end_turn"
	}
}

func convertUsage(u *openai.Usage) *anthropic.Usage {
	if u == nil {
		return &anthropic.Usage{}
	}
	return &anthropic.Usage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
	}
}
