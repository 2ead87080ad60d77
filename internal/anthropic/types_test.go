package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemPromptString(t *testing.T) {
	var s SystemPrompt
	require.NoError(t, json.Unmarshal([]byte(`"be brief"`), &s))
	assert.Equal(t, "be brief", s.Text())
	assert.False(t, s.IsZero())
}

func TestSystemPromptBlocks(t *testing.T) {
	var s SystemPrompt
	require.NoError(t, json.Unmarshal([]byte(
		`[{"type":"text","text":"be brief"},{"type":"text","text":"be kind"}]`), &s))
	assert.Equal(t, "be brief be kind", s.Text())
}

func TestSystemPromptEmpty(t *testing.T) {
	var s SystemPrompt
	require.NoError(t, json.Unmarshal([]byte(`""`), &s))
	assert.True(t, s.IsZero())
	assert.Equal(t, "", s.Text())
}

func TestMessageStringContentNormalizes(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":"hello"}`), &m))

	assert.Equal(t, "user", m.Role)
	require.Len(t, m.Content, 1)
	assert.Equal(t, BlockText, m.Content[0].Type)
	assert.Equal(t, "hello", m.Content[0].Text)
}

func TestMessageBlockContent(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(
		`{"role":"user","content":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}`), &m))
	assert.Len(t, m.Content, 2)
}

func TestContentBlockUnknownTypePreserved(t *testing.T) {
	raw := `{"type":"thinking","thinking":"hmm","signature":"sig"}`
	var b ContentBlock
	require.NoError(t, json.Unmarshal([]byte(raw), &b))

	assert.Equal(t, "thinking", b.Type)
	require.NotEmpty(t, b.Raw)

	out, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out), "opaque blocks re-emit verbatim")
}

func TestContentBlockKnownTypeNoRaw(t *testing.T) {
	var b ContentBlock
	require.NoError(t, json.Unmarshal([]byte(`{"type":"text","text":"x"}`), &b))
	assert.Empty(t, b.Raw)
}

func TestToolResultContentString(t *testing.T) {
	var c ToolResultContent
	require.NoError(t, json.Unmarshal([]byte(`"plain output"`), &c))
	assert.Equal(t, "plain output", c.Flatten())

	out, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Equal(t, `"plain output"`, string(out))
}

func TestToolResultContentBlocks(t *testing.T) {
	var c ToolResultContent
	require.NoError(t, json.Unmarshal([]byte(
		`[{"type":"text","text":"line one"},{"type":"text","text":" line two"}]`), &c))
	assert.Equal(t, "line one line two", c.Flatten())

	out, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Contains(t, string(out), "line one")
}

func TestMessagesRequestFullDecode(t *testing.T) {
	body := `{
		"model": "sonnet",
		"max_tokens": 1024,
		"system": "be helpful",
		"temperature": 0.5,
		"stream": true,
		"tools": [{"name": "read_file", "input_schema": {"type": "object"}}],
		"tool_choice": {"type": "tool", "name": "read_file"},
		"messages": [
			{"role": "user", "content": "hi"},
			{"role": "assistant", "content": [
				{"type": "tool_use", "id": "t1", "name": "read_file", "input": {"path": "x"}}
			]},
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "t1", "content": "data"}
			]}
		]
	}`
	var req MessagesRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))

	assert.Equal(t, "sonnet", req.Model)
	assert.Equal(t, 1024, req.MaxTokens)
	assert.True(t, req.Stream)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.5, *req.Temperature)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, BlockToolUse, req.Messages[1].Content[0].Type)
	assert.Equal(t, "t1", req.Messages[2].Content[0].ToolUseID)
	require.NotNil(t, req.ToolChoice)
	assert.Equal(t, "read_file", req.ToolChoice.Name)
}
