package flow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chebizarro/crosstalk/internal/anthropic"
)

func text(role, body string) anthropic.Message {
	return anthropic.Message{
		Role:    role,
		Content: []anthropic.ContentBlock{{Type: anthropic.BlockText, Text: body}},
	}
}

func toolUse(id, name string) anthropic.ContentBlock {
	return anthropic.ContentBlock{Type: anthropic.BlockToolUse, ID: id, Name: name, Input: map[string]any{}}
}

func toolResult(id, body string) anthropic.ContentBlock {
	return anthropic.ContentBlock{
		Type:      anthropic.BlockToolResult,
		ToolUseID: id,
		Content:   anthropic.NewToolResultText(body),
	}
}

func TestValidateHappyPath(t *testing.T) {
	msgs := []anthropic.Message{
		text("user", "hello"),
		text("assistant", "hi"),
		text("user", "bye"),
	}
	r := Validate(msgs, nil)
	assert.True(t, r.OK())
	assert.Empty(t, r.Warnings)
}

func TestValidateEmpty(t *testing.T) {
	r := Validate(nil, nil)
	assert.False(t, r.OK())
}

func TestValidateFirstMessageMustBeUser(t *testing.T) {
	r := Validate([]anthropic.Message{text("assistant", "hi")}, nil)
	assert.False(t, r.OK())
	assert.Contains(t, r.Summary(), "first message")
}

func TestValidateConsecutiveUsersNeedToolResult(t *testing.T) {
	r := Validate([]anthropic.Message{
		text("user", "one"),
		text("user", "two"),
	}, nil)
	assert.False(t, r.OK())
	assert.NotEmpty(t, r.Suggestions)
}

func TestValidateConsecutiveUsersWithToolResultOK(t *testing.T) {
	msgs := []anthropic.Message{
		text("user", "go"),
		{Role: "assistant", Content: []anthropic.ContentBlock{toolUse("a", "read_file")}},
		{Role: "user", Content: []anthropic.ContentBlock{toolResult("a", "data")}},
		{Role: "user", Content: []anthropic.ContentBlock{
			{Type: anthropic.BlockText, Text: "thanks"},
			toolResult("a", "dup"),
		}},
	}
	// The adjacency rule itself passes; the duplicate result is a separate
	// pairing error.
	r := Validate(msgs, nil)
	assert.False(t, r.OK())
	found := false
	for _, e := range r.Errors {
		if strings.Contains(e, "tool_results") {
			found = true
		}
	}
	assert.True(t, found)
	for _, e := range r.Errors {
		assert.NotContains(t, e, "consecutive user")
	}
}

func TestValidateConsecutiveAssistantsWarns(t *testing.T) {
	r := Validate([]anthropic.Message{
		text("user", "q"),
		text("assistant", "a"),
		text("assistant", "b"),
	}, nil)
	assert.True(t, r.OK())
	assert.NotEmpty(t, r.Warnings)
}

func TestValidateInvalidRole(t *testing.T) {
	r := Validate([]anthropic.Message{
		text("user", "q"),
		text("system", "nope"),
	}, nil)
	assert.False(t, r.OK())
}

func TestValidateOrphanAllowedOnFinalAssistant(t *testing.T) {
	msgs := []anthropic.Message{
		text("user", "go"),
		{Role: "assistant", Content: []anthropic.ContentBlock{toolUse("pending", "read_file")}},
	}
	r := Validate(msgs, nil)
	assert.True(t, r.OK())
	assert.Empty(t, r.OrphanedToolIDs)
}

func TestValidateOrphanRejectedMidConversation(t *testing.T) {
	msgs := []anthropic.Message{
		text("user", "go"),
		{Role: "assistant", Content: []anthropic.ContentBlock{toolUse("orphan", "read_file")}},
		text("user", "never mind"),
	}
	r := Validate(msgs, nil)
	assert.False(t, r.OK())
	assert.Equal(t, []string{"orphan"}, r.OrphanedToolIDs)
	assert.NotEmpty(t, r.Suggestions)
}

func TestValidateResultWithoutUse(t *testing.T) {
	msgs := []anthropic.Message{
		{Role: "user", Content: []anthropic.ContentBlock{toolResult("ghost", "data")}},
	}
	r := Validate(msgs, nil)
	assert.False(t, r.OK())
	assert.Equal(t, []string{"ghost"}, r.MissingToolUseIDs)
}

func TestValidateDuplicateToolUseID(t *testing.T) {
	msgs := []anthropic.Message{
		text("user", "go"),
		{Role: "assistant", Content: []anthropic.ContentBlock{
			toolUse("same", "read_file"),
			toolUse("same", "write_file"),
		}},
		{Role: "user", Content: []anthropic.ContentBlock{toolResult("same", "r")}},
	}
	r := Validate(msgs, nil)
	assert.False(t, r.OK())
}

func TestValidateUndeclaredToolWarns(t *testing.T) {
	tools := []anthropic.Tool{{Name: "read_file"}}
	msgs := []anthropic.Message{
		text("user", "go"),
		{Role: "assistant", Content: []anthropic.ContentBlock{toolUse("x", "mystery_tool")}},
	}
	r := Validate(msgs, tools)
	assert.True(t, r.OK())
	require.NotEmpty(t, r.Warnings)
	assert.Contains(t, r.Warnings[0], "mystery_tool")
}

func TestSummaryAggregates(t *testing.T) {
	r := &Result{Errors: []string{"first", "second", "third"}}
	assert.Equal(t, "first (and 2 more)", r.Summary())

	r = &Result{}
	assert.Equal(t, "", r.Summary())
}
