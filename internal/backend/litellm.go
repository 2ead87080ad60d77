package backend

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chebizarro/crosstalk/internal/config"
	"github.com/chebizarro/crosstalk/internal/openai"
)

// LiteLLMClient is the translation-library backend: the same OpenAI-dialect
// wire protocol to OpenRouter, with the attribution headers the library
// convention expects. It reuses the converted request unchanged and only
// annotates transport headers.
type LiteLLMClient struct {
	inner *OpenRouterClient
}

// NewLiteLLMClient creates the translation-library backend.
func NewLiteLLMClient(cfg config.OpenRouterConfig, timeout time.Duration, log *zap.Logger) *LiteLLMClient {
	inner := NewOpenRouterClient(cfg, timeout, log)
	inner.log = log.Named("litellm")
	inner.headers = map[string]string{}
	if cfg.Referer != "" {
		inner.headers["HTTP-Referer"] = cfg.Referer
	}
	if cfg.Title != "" {
		inner.headers["X-Title"] = cfg.Title
	}
	return &LiteLLMClient{inner: inner}
}

// Kind reports the backend family.
func (c *LiteLLMClient) Kind() config.BackendKind { return config.BackendLiteLLMOpenRouter }

// Complete delegates to the embedded client.
func (c *LiteLLMClient) Complete(ctx context.Context, req *Request) (*openai.Response, error) {
	return c.inner.Complete(ctx, req)
}

// Stream delegates to the embedded client.
func (c *LiteLLMClient) Stream(ctx context.Context, req *Request) (<-chan StreamResult, error) {
	return c.inner.Stream(ctx, req)
}
