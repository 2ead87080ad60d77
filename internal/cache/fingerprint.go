package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/chebizarro/crosstalk/internal/anthropic"
)

// Per-field bounds keeping fingerprints stable for very large requests.
const (
	maxFingerprintContent  = 1024
	maxFingerprintToolDesc = 128
)

// fingerprintKey is the canonical serialization the digest covers. Field
// order is fixed by the struct; encoding/json emits struct fields in
// declaration order, so the serialization is deterministic across runs.
type fingerprintKey struct {
	Model       string               `json:"model"`
	Messages    []fingerprintMessage `json:"messages"`
	Tools       []fingerprintTool    `json:"tools,omitempty"`
	MaxTokens   int                  `json:"max_tokens"`
	Temperature *float64             `json:"temperature,omitempty"`
	Stream      bool                 `json:"stream"`
}

type fingerprintMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type fingerprintTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Fingerprint digests the request fields that must match for cache reuse:
// SHA-256 over the canonical serialization, hex-encoded.
func Fingerprint(req *anthropic.MessagesRequest) string {
	key := fingerprintKey{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      req.Stream,
	}
	for _, m := range req.Messages {
		key.Messages = append(key.Messages, fingerprintMessage{
			Role:    m.Role,
			Content: truncate(flattenContent(m.Content), maxFingerprintContent),
		})
	}
	for _, t := range req.Tools {
		key.Tools = append(key.Tools, fingerprintTool{
			Name:        t.Name,
			Description: truncate(t.Description, maxFingerprintToolDesc),
		})
	}

	data, err := json.Marshal(key)
	if err != nil {
		// Marshal of plain strings and numbers cannot fail; keep a
		// defensible fallback anyway.
		data = []byte(req.Model)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// flattenContent renders blocks into a stable textual form. Image data is
// represented by its length only, keeping keys small while still
// distinguishing different payloads by size and media type.
func flattenContent(blocks []anthropic.ContentBlock) string {
	var out []byte
	for _, b := range blocks {
		switch b.Type {
		case anthropic.BlockText:
			out = append(out, b.Text...)
		case anthropic.BlockImage:
			if b.Source != nil {
				out = append(out, []byte("[image:"+b.Source.MediaType+":")...)
				out = appendInt(out, len(b.Source.Data))
				out = append(out, ']')
			}
		case anthropic.BlockToolUse:
			out = append(out, []byte("[tool_use:"+b.ID+":"+b.Name+"]")...)
		case anthropic.BlockToolResult:
			out = append(out, []byte("[tool_result:"+b.ToolUseID+":"+b.Content.Flatten()+"]")...)
		}
	}
	return string(out)
}

func appendInt(b []byte, n int) []byte {
	if n == 0 {
		return append(b, '0')
	}
	var digits [20]byte
	i := len(digits)
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return append(b, digits[i:]...)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
