package translate

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chebizarro/crosstalk/internal/anthropic"
	"github.com/chebizarro/crosstalk/internal/apperr"
	"github.com/chebizarro/crosstalk/internal/openai"
)

func strPtr(s string) *string { return &s }

func TestNewMessageIDFormat(t *testing.T) {
	re := regexp.MustCompile(`^msg_[0-9a-f]{24}$`)
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		id := NewMessageID()
		assert.Regexp(t, re, id)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestFromUpstreamTextResponse(t *testing.T) {
	resp := &openai.Response{
		Model: "anthropic/claude-sonnet-4",
		Choices: []openai.Choice{{
			Message:      openai.Message{Role: "assistant", Content: "hello there"},
			FinishReason: "stop",
		}},
		Usage: &openai.Usage{PromptTokens: 12, CompletionTokens: 3},
	}

	out, err := FromUpstream(resp, "sonnet")
	require.NoError(t, err)

	assert.Equal(t, "message", out.Type)
	assert.Equal(t, "assistant", out.Role)
	assert.Equal(t, "sonnet", out.Model)
	assert.Equal(t, "end_turn", out.StopReason)
	require.Len(t, out.Content, 1)
	assert.Equal(t, "hello there", out.Content[0].Text)
	require.NotNil(t, out.Usage)
	assert.Equal(t, 12, out.Usage.InputTokens)
	assert.Equal(t, 3, out.Usage.OutputTokens)
}

func TestFromUpstreamToolCalls(t *testing.T) {
	resp := &openai.Response{
		Choices: []openai.Choice{{
			Message: openai.Message{
				Role:    "assistant",
				Content: "let me check",
				ToolCalls: []openai.ToolCall{{
					ID:   "call_9",
					Type: "function",
					Function: openai.FunctionCall{
						Name:      "read_file",
						Arguments: `{"path":"main.go"}`,
					},
				}},
			},
			FinishReason: "tool_calls",
		}},
	}

	out, err := FromUpstream(resp, "sonnet")
	require.NoError(t, err)

	assert.Equal(t, "tool_use", out.StopReason)
	require.Len(t, out.Content, 2)
	assert.Equal(t, anthropic.BlockText, out.Content[0].Type)
	tool := out.Content[1]
	assert.Equal(t, anthropic.BlockToolUse, tool.Type)
	assert.Equal(t, "call_9", tool.ID)
	assert.Equal(t, "read_file", tool.Name)
	assert.Equal(t, map[string]any{"path": "main.go"}, tool.Input)
}

func TestFromUpstreamBadToolArgsDegrade(t *testing.T) {
	resp := &openai.Response{
		Choices: []openai.Choice{{
			Message: openai.Message{
				Role: "assistant",
				ToolCalls: []openai.ToolCall{{
					ID:       "call_1",
					Function: openai.FunctionCall{Name: "t", Arguments: "{broken"},
				}},
			},
		}},
	}

	out, err := FromUpstream(resp, "m")
	require.NoError(t, err)
	require.Len(t, out.Content, 1)
	assert.Equal(t, map[string]any{}, out.Content[0].Input)
}

func TestFromUpstreamNoChoices(t *testing.T) {
	_, err := FromUpstream(&openai.Response{}, "m")
	require.Error(t, err)
	assert.Equal(t, apperr.Conversion, apperr.KindOf(err))

	_, err = FromUpstream(nil, "m")
	require.Error(t, err)
}

func TestFromUpstreamEmptyContentGetsPlaceholder(t *testing.T) {
	resp := &openai.Response{
		Choices: []openai.Choice{{Message: openai.Message{Role: "assistant"}}},
	}
	out, err := FromUpstream(resp, "m")
	require.NoError(t, err)
	require.Len(t, out.Content, 1)
	assert.Equal(t, anthropic.BlockText, out.Content[0].Type)
	assert.Equal(t, "[Upstream returned an empty response]", out.Content[0].Text,
		"an empty result must say so, not hand back an empty block")
}

func TestMapFinishReason(t *testing.T) {
	assert.Equal(t, "end_turn", MapFinishReason("stop"))
	assert.Equal(t, "max_tokens", MapFinishReason("length"))
	assert.Equal(t, "tool_use", MapFinishReason("tool_calls"))
	assert.Equal(t, "tool_use", MapFinishReason("function_call"))
	assert.Equal(t, "error", MapFinishReason("content_filter"))
	assert.Equal(t, "end_turn", MapFinishReason("something_new"))
	assert.Equal(t, "end_turn", MapFinishReason(""))
}

func TestFromChunksReconstructsText(t *testing.T) {
	chunks := []openai.StreamChunk{
		{Choices: []openai.StreamChoice{{Delta: openai.StreamDelta{Content: "Hel"}}}},
		{Choices: []openai.StreamChoice{{Delta: openai.StreamDelta{Content: "lo"}}}},
		{Choices: []openai.StreamChoice{{FinishReason: strPtr("stop")}},
			Usage: &openai.Usage{PromptTokens: 5, CompletionTokens: 2}},
	}

	out := FromChunks(chunks, "sonnet")

	require.Len(t, out.Content, 1)
	assert.Equal(t, "Hello", out.Content[0].Text)
	assert.Equal(t, "end_turn", out.StopReason)
	assert.Equal(t, 5, out.Usage.InputTokens)
}

func TestFromChunksAccumulatesToolArguments(t *testing.T) {
	chunks := []openai.StreamChunk{
		{Choices: []openai.StreamChoice{{Delta: openai.StreamDelta{ToolCalls: []openai.ToolCallDelta{
			{Index: 0, ID: "call_7", Function: openai.FunctionDelta{Name: "read_file", Arguments: `{"pa`}},
		}}}}},
		{Choices: []openai.StreamChoice{{Delta: openai.StreamDelta{ToolCalls: []openai.ToolCallDelta{
			{Index: 0, Function: openai.FunctionDelta{Arguments: `th":"x"}`}},
		}}}}},
		{Choices: []openai.StreamChoice{{FinishReason: strPtr("tool_calls")}}},
	}

	out := FromChunks(chunks, "m")

	require.Len(t, out.Content, 1)
	tool := out.Content[0]
	assert.Equal(t, anthropic.BlockToolUse, tool.Type)
	assert.Equal(t, "call_7", tool.ID)
	assert.Equal(t, map[string]any{"path": "x"}, tool.Input)
	assert.Equal(t, "tool_use", out.StopReason)
}

func TestFromChunksEmptyFallback(t *testing.T) {
	out := FromChunks(nil, "m")
	require.Len(t, out.Content, 1)
	assert.Contains(t, out.Content[0].Text, "no reconstructable content")
}
