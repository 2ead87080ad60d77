package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/chebizarro/crosstalk/internal/anthropic"
	"github.com/chebizarro/crosstalk/internal/apperr"
	"github.com/chebizarro/crosstalk/internal/reqctx"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// loadEncoding fetches the cl100k_base tokenizer once per process. On failure
// the counter falls back to a character heuristic rather than erroring.
func loadEncoding() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	return encoding
}

// handleCountTokens serves POST /v1/messages/count_tokens. Counts are
// estimates from the local tokenizer, not upstream billing numbers.
func (s *Server) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := reqctx.Logger(ctx, s.log)

	var req anthropic.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(ctx, w, apperr.Wrap(apperr.Validation, err, "invalid request body"))
		return
	}
	if req.Model == "" {
		s.writeError(ctx, w, apperr.New(apperr.Validation, "model is required"))
		return
	}

	total := countTokens(req.System.Text())
	for _, msg := range req.Messages {
		// Small per-message overhead approximating role and framing tokens.
		total += 4
		for _, block := range msg.Content {
			total += countBlock(block)
		}
	}
	for _, tool := range req.Tools {
		total += countTokens(tool.Name) + countTokens(tool.Description)
		if schema, err := json.Marshal(tool.InputSchema); err == nil {
			total += countTokens(string(schema))
		}
	}

	log.Debug("tokens counted",
		zap.String("model", req.Model),
		zap.Int("input_tokens", total))
	setRequestID(ctx, w)
	writeJSON(w, http.StatusOK, anthropic.CountTokensResponse{InputTokens: total})
}

func countBlock(block anthropic.ContentBlock) int {
	switch block.Type {
	case anthropic.BlockText:
		return countTokens(block.Text)
	case anthropic.BlockToolUse:
		n := countTokens(block.Name)
		if args, err := json.Marshal(block.Input); err == nil {
			n += countTokens(string(args))
		}
		return n
	case anthropic.BlockToolResult:
		return countTokens(block.Content.Flatten())
	case anthropic.BlockImage:
		// Flat charge per image; actual vision token cost is model-specific.
		return 1500
	default:
		return 0
	}
}

func countTokens(text string) int {
	if text == "" {
		return 0
	}
	if enc := loadEncoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	// Rough fallback when the tokenizer data is unavailable.
	return (len(text) + 3) / 4
}
