// Package flow enforces conversation-flow invariants on the full message
// sequence before conversion: role ordering, same-role adjacency rules, and
// tool_use / tool_result pairing.
package flow

import (
	"fmt"

	"github.com/chebizarro/crosstalk/internal/anthropic"
)

// Result enumerates everything the validator found. Errors reject the
// request; warnings are logged and tolerated.
type Result struct {
	Errors            []string `json:"errors,omitempty"`
	Warnings          []string `json:"warnings,omitempty"`
	OrphanedToolIDs   []string `json:"orphaned_tool_ids,omitempty"`
	MissingToolUseIDs []string `json:"missing_tool_use_ids,omitempty"`
	Suggestions       []string `json:"suggestions,omitempty"`
}

// OK reports whether the sequence passed.
func (r *Result) OK() bool { return len(r.Errors) == 0 }

// Summary renders the errors as one message for the error envelope.
func (r *Result) Summary() string {
	if len(r.Errors) == 0 {
		return ""
	}
	msg := r.Errors[0]
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, len(r.Errors)-1)
	}
	return msg
}

// Validate checks msgs against the declared tools. It never mutates its
// inputs and never suspends.
func Validate(msgs []anthropic.Message, tools []anthropic.Tool) *Result {
	r := &Result{}

	if len(msgs) == 0 {
		r.Errors = append(r.Errors, "messages must not be empty")
		return r
	}
	if msgs[0].Role != "user" {
		r.Errors = append(r.Errors, fmt.Sprintf("first message role must be user, got %q", msgs[0].Role))
	}

	declared := map[string]bool{}
	for _, t := range tools {
		declared[t.Name] = true
	}

	checkRoleSequence(msgs, r)
	checkToolPairing(msgs, declared, r)
	return r
}

func checkRoleSequence(msgs []anthropic.Message, r *Result) {
	for i := 1; i < len(msgs); i++ {
		prev, cur := msgs[i-1], msgs[i]
		if cur.Role != "user" && cur.Role != "assistant" {
			r.Errors = append(r.Errors, fmt.Sprintf("message %d has invalid role %q", i, cur.Role))
			continue
		}
		if prev.Role != cur.Role {
			continue
		}
		switch cur.Role {
		case "user":
			// Consecutive user turns are only justified by tool results.
			if !hasBlock(cur, anthropic.BlockToolResult) {
				r.Errors = append(r.Errors, fmt.Sprintf(
					"consecutive user messages at %d and %d without tool_result", i-1, i))
				r.Suggestions = append(r.Suggestions,
					"merge consecutive user messages or include the tool_result block")
			}
		case "assistant":
			r.Warnings = append(r.Warnings, fmt.Sprintf(
				"consecutive assistant messages at %d and %d", i-1, i))
		}
	}
}

// checkToolPairing enforces: every tool_use.id is referenced by exactly one
// later tool_result, unless it belongs to the last assistant message
// (pending result); and no tool_result references an unknown id.
func checkToolPairing(msgs []anthropic.Message, declared map[string]bool, r *Result) {
	lastAssistant := -1
	for i, m := range msgs {
		if m.Role == "assistant" {
			lastAssistant = i
		}
	}

	type use struct {
		msgIndex int
		results  int
	}
	uses := map[string]*use{}
	var useOrder []string

	for i, m := range msgs {
		for _, b := range m.Content {
			switch b.Type {
			case anthropic.BlockToolUse:
				if b.ID == "" {
					r.Errors = append(r.Errors, fmt.Sprintf("tool_use in message %d has no id", i))
					continue
				}
				if _, dup := uses[b.ID]; dup {
					r.Errors = append(r.Errors, fmt.Sprintf("duplicate tool_use id %q", b.ID))
					continue
				}
				if len(declared) > 0 && !declared[b.Name] {
					r.Warnings = append(r.Warnings, fmt.Sprintf(
						"tool_use %q names undeclared tool %q", b.ID, b.Name))
				}
				uses[b.ID] = &use{msgIndex: i}
				useOrder = append(useOrder, b.ID)
			case anthropic.BlockToolResult:
				u, ok := uses[b.ToolUseID]
				if !ok || u.msgIndex >= i {
					r.Errors = append(r.Errors, fmt.Sprintf(
						"tool_result references unknown tool_use id %q", b.ToolUseID))
					r.MissingToolUseIDs = append(r.MissingToolUseIDs, b.ToolUseID)
					continue
				}
				u.results++
				if u.results > 1 {
					r.Errors = append(r.Errors, fmt.Sprintf(
						"tool_use id %q has %d tool_results, expected one", b.ToolUseID, u.results))
				}
			}
		}
	}

	for _, id := range useOrder {
		u := uses[id]
		if u.results > 0 {
			continue
		}
		// A pending result is fine only on the final assistant turn.
		if u.msgIndex == lastAssistant && lastAssistant == len(msgs)-1 {
			continue
		}
		r.Errors = append(r.Errors, fmt.Sprintf("tool_use id %q has no tool_result", id))
		r.OrphanedToolIDs = append(r.OrphanedToolIDs, id)
		r.Suggestions = append(r.Suggestions, fmt.Sprintf(
			"add a tool_result block with tool_use_id %q to a later user message", id))
	}
}

func hasBlock(m anthropic.Message, blockType string) bool {
	for _, b := range m.Content {
		if b.Type == blockType {
			return true
		}
	}
	return false
}
