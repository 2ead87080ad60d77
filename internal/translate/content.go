// Package translate converts between the Anthropic Messages dialect and the
// OpenAI-compatible Chat Completions dialect: content blocks, tool schemas,
// whole requests, and whole responses. Conversion never fails for content it
// can degrade; malformed pieces become descriptive text blocks instead.
package translate

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/chebizarro/crosstalk/internal/anthropic"
	"github.com/chebizarro/crosstalk/internal/openai"
)

// ContentToUpstream converts the textual and image blocks of a message to
// upstream content. tool_use and tool_result blocks are handled at the
// message layer and skipped here. The result is a plain string when the
// content is a single text block; any image forces the array form.
func ContentToUpstream(blocks []anthropic.ContentBlock) any {
	var parts []openai.ContentPart
	hasImage := false

	for _, b := range blocks {
		switch b.Type {
		case anthropic.BlockText:
			parts = append(parts, openai.ContentPart{Type: "text", Text: b.Text})
		case anthropic.BlockImage:
			hasImage = true
			parts = append(parts, imageToPart(b.Source))
		case anthropic.BlockToolUse, anthropic.BlockToolResult:
			// Promoted to tool_calls / role=tool messages by the request
			// converter.
		default:
			// Opaque block: degrade to its text if it has any, else drop.
			if b.Text != "" {
				parts = append(parts, openai.ContentPart{Type: "text", Text: b.Text})
			}
		}
	}

	if len(parts) == 0 {
		return ""
	}
	if !hasImage && len(parts) == 1 {
		return parts[0].Text
	}
	return parts
}

// imageToPart renders an image block as a data-URL part. Empty image data
// degrades to a marker text part rather than failing the request.
func imageToPart(src *anthropic.ImageSource) openai.ContentPart {
	if src == nil || src.Data == "" {
		return openai.ContentPart{Type: "text", Text: "[Empty image content]"}
	}
	url := fmt.Sprintf("data:%s;base64,%s", src.MediaType, src.Data)
	return openai.ContentPart{Type: "image_url", ImageURL: &openai.ImageURL{URL: url}}
}

// PartsToBlocks is the inverse conversion for upstream message content. It
// accepts the string form, the typed part slice, and the generic []any shape
// a JSON decode of an upstream body produces.
func PartsToBlocks(content any) []anthropic.ContentBlock {
	switch v := content.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return []anthropic.ContentBlock{{Type: anthropic.BlockText, Text: v}}
	case []openai.ContentPart:
		blocks := make([]anthropic.ContentBlock, 0, len(v))
		for _, p := range v {
			blocks = append(blocks, partToBlock(p))
		}
		return blocks
	case []any:
		blocks := make([]anthropic.ContentBlock, 0, len(v))
		for _, raw := range v {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			blocks = append(blocks, partToBlock(partFromMap(m)))
		}
		return blocks
	default:
		return []anthropic.ContentBlock{{
			Type: anthropic.BlockText,
			Text: fmt.Sprintf("[Unsupported content shape %T]", content),
		}}
	}
}

func partFromMap(m map[string]any) openai.ContentPart {
	p := openai.ContentPart{}
	p.Type, _ = m["type"].(string)
	p.Text, _ = m["text"].(string)
	if iu, ok := m["image_url"].(map[string]any); ok {
		url, _ := iu["url"].(string)
		p.ImageURL = &openai.ImageURL{URL: url}
	}
	return p
}

func partToBlock(p openai.ContentPart) anthropic.ContentBlock {
	switch p.Type {
	case "image_url":
		if p.ImageURL == nil {
			return diagnosticBlock("image part without image_url")
		}
		mediaType, data, err := ParseDataURL(p.ImageURL.URL)
		if err != nil {
			return diagnosticBlock(err.Error())
		}
		return anthropic.ContentBlock{
			Type: anthropic.BlockImage,
			Source: &anthropic.ImageSource{
				Type:      "base64",
				MediaType: mediaType,
				Data:      data,
			},
		}
	default:
		return anthropic.ContentBlock{Type: anthropic.BlockText, Text: p.Text}
	}
}

// ParseDataURL splits a data URL on the first comma. The MIME type is taken
// literally from the header; the remainder must be valid base64.
func ParseDataURL(url string) (mediaType, data string, err error) {
	header, rest, found := strings.Cut(url, ",")
	if !found {
		return "", "", fmt.Errorf("[Malformed image URL: no data separator]")
	}
	if !strings.HasPrefix(header, "data:") {
		return "", "", fmt.Errorf("[Malformed image URL: missing data: scheme]")
	}
	mediaType = strings.TrimPrefix(header, "data:")
	mediaType = strings.TrimSuffix(mediaType, ";base64")
	if _, decErr := base64.StdEncoding.DecodeString(rest); decErr != nil {
		return "", "", fmt.Errorf("[Malformed image URL: invalid base64 payload]")
	}
	return mediaType, rest, nil
}

func diagnosticBlock(msg string) anthropic.ContentBlock {
	return anthropic.ContentBlock{Type: anthropic.BlockText, Text: msg}
}

// textOf concatenates the text blocks of a message in order.
func textOf(blocks []anthropic.ContentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == anthropic.BlockText {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}
