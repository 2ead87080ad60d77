// Package anthropic defines the Messages API wire types the proxy accepts
// and emits. The shapes mirror Anthropic's public schema; anything the proxy
// does not understand is preserved as an opaque block rather than rejected.
package anthropic

import (
	"encoding/json"
	"strings"
)

// Block type discriminators.
const (
	BlockText       = "text"
	BlockImage      = "image"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// MessagesRequest is the inbound unit of work for POST /v1/messages.
type MessagesRequest struct {
	Model         string        `json:"model"`
	Messages      []Message     `json:"messages"`
	System        SystemPrompt  `json:"system,omitempty"`
	MaxTokens     int           `json:"max_tokens"`
	Temperature   *float64      `json:"temperature,omitempty"`
	TopP          *float64      `json:"top_p,omitempty"`
	TopK          *int          `json:"top_k,omitempty"`
	StopSequences []string      `json:"stop_sequences,omitempty"`
	Stream        bool          `json:"stream,omitempty"`
	Tools         []Tool        `json:"tools,omitempty"`
	ToolChoice    *ToolChoice   `json:"tool_choice,omitempty"`
	Metadata      *RequestMeta  `json:"metadata,omitempty"`
}

// RequestMeta carries caller-supplied metadata; passed through untouched.
type RequestMeta struct {
	UserID string `json:"user_id,omitempty"`
}

// SystemPrompt accepts either a bare string or an array of text blocks.
type SystemPrompt struct {
	parts []string
}

// UnmarshalJSON accepts `"..."` or `[{"type":"text","text":"..."}, ...]`.
func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if str != "" {
			s.parts = []string{str}
		}
		return nil
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	for _, b := range blocks {
		if b.Text != "" {
			s.parts = append(s.parts, b.Text)
		}
	}
	return nil
}

// MarshalJSON always emits the string form.
func (s SystemPrompt) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Text())
}

// Text joins array-form system prompts with single spaces.
func (s SystemPrompt) Text() string { return strings.Join(s.parts, " ") }

// IsZero reports whether no system prompt was supplied.
func (s SystemPrompt) IsZero() bool { return len(s.parts) == 0 }

// NewSystemPrompt builds a SystemPrompt from a plain string. Test helper
// and Databricks passthrough constructor.
func NewSystemPrompt(text string) SystemPrompt {
	if text == "" {
		return SystemPrompt{}
	}
	return SystemPrompt{parts: []string{text}}
}

// Message is one conversational turn. Content always normalizes to a block
// slice; a bare-string body becomes a single text block.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// UnmarshalJSON accepts string or block-array content.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	if len(raw.Content) == 0 {
		return nil
	}
	var str string
	if err := json.Unmarshal(raw.Content, &str); err == nil {
		m.Content = []ContentBlock{{Type: BlockText, Text: str}}
		return nil
	}
	return json.Unmarshal(raw.Content, &m.Content)
}

// ContentBlock is the tagged union over message content. Unknown types keep
// their raw bytes so they can be passed through or degraded at emission time.
type ContentBlock struct {
	Type string `json:"type"`

	// type == "text"
	Text string `json:"text,omitempty"`

	// type == "image"
	Source *ImageSource `json:"source,omitempty"`

	// type == "tool_use"
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// type == "tool_result"
	ToolUseID string            `json:"tool_use_id,omitempty"`
	Content   ToolResultContent `json:"content,omitempty"`

	// Unrecognized block payload, kept verbatim.
	Raw json.RawMessage `json:"-"`
}

var knownBlockTypes = map[string]bool{
	BlockText:       true,
	BlockImage:      true,
	BlockToolUse:    true,
	BlockToolResult: true,
}

// UnmarshalJSON decodes known variants and stashes unknown ones in Raw.
func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	type alias ContentBlock
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*b = ContentBlock(a)
	if !knownBlockTypes[b.Type] {
		b.Raw = append(json.RawMessage(nil), data...)
	}
	return nil
}

// MarshalJSON re-emits opaque blocks verbatim.
func (b ContentBlock) MarshalJSON() ([]byte, error) {
	if len(b.Raw) > 0 {
		return b.Raw, nil
	}
	type alias ContentBlock
	return json.Marshal(alias(b))
}

// ImageSource carries base64 image data. Data is passed by reference through
// conversion and never persisted.
type ImageSource struct {
	Type      string `json:"type"` // "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// ToolResultContent accepts a bare string or an array of text blocks.
type ToolResultContent struct {
	text   string
	blocks []ContentBlock
	isText bool
}

// UnmarshalJSON accepts both shapes Anthropic allows for tool_result content.
func (c *ToolResultContent) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		c.text = str
		c.isText = true
		return nil
	}
	c.isText = false
	return json.Unmarshal(data, &c.blocks)
}

// MarshalJSON preserves the original shape.
func (c ToolResultContent) MarshalJSON() ([]byte, error) {
	if c.isText {
		return json.Marshal(c.text)
	}
	if c.blocks == nil {
		return []byte(`""`), nil
	}
	return json.Marshal(c.blocks)
}

// Flatten concatenates all textual content in order.
func (c ToolResultContent) Flatten() string {
	if c.isText {
		return c.text
	}
	var sb strings.Builder
	for _, b := range c.blocks {
		if b.Type == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// NewToolResultText builds string-form tool_result content.
func NewToolResultText(text string) ToolResultContent {
	return ToolResultContent{text: text, isText: true}
}

// Tool declares a callable function with a JSON Schema input.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolChoice selects the tool-calling mode: auto, any, or a named tool.
type ToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// Usage reports token consumption in Anthropic's field names.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// MessagesResponse is the non-streaming response envelope.
type MessagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   string         `json:"stop_reason,omitempty"`
	StopSequence string         `json:"stop_sequence,omitempty"`
	Usage        *Usage         `json:"usage,omitempty"`
}

// CountTokensResponse is the body of POST /v1/messages/count_tokens.
type CountTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}
