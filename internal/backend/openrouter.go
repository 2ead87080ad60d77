package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/chebizarro/crosstalk/internal/apperr"
	"github.com/chebizarro/crosstalk/internal/config"
	"github.com/chebizarro/crosstalk/internal/openai"
)

// OpenRouterClient posts converted requests to OpenRouter's chat/completions
// endpoint. It is also the transport under the translation-library backend.
type OpenRouterClient struct {
	baseURL string
	apiKey  string
	headers map[string]string
	http    *http.Client
	log     *zap.Logger
}

// NewOpenRouterClient creates the direct OpenRouter backend.
func NewOpenRouterClient(cfg config.OpenRouterConfig, timeout time.Duration, log *zap.Logger) *OpenRouterClient {
	return &OpenRouterClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    newHTTPClient(timeout),
		log:     log.Named("openrouter"),
	}
}

// Kind reports the backend family.
func (c *OpenRouterClient) Kind() config.BackendKind { return config.BackendOpenRouter }

// Complete executes a non-streaming chat completion.
func (c *OpenRouterClient) Complete(ctx context.Context, req *Request) (*openai.Response, error) {
	body, status, err := c.post(ctx, req.Upstream)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, decodeErrorBody(status, body)
	}

	var resp openai.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperr.Wrap(apperr.UpstreamTransport, err, "decoding upstream response")
	}
	if resp.Error != nil {
		return nil, apperr.New(apperr.UpstreamStatus, "upstream error: %s", resp.Error.Message)
	}
	return &resp, nil
}

// Stream executes a streaming chat completion. The returned channel closes
// when the stream ends or ctx is cancelled.
func (c *OpenRouterClient) Stream(ctx context.Context, req *Request) (<-chan StreamResult, error) {
	payload := *req.Upstream
	payload.Stream = true

	httpResp, err := c.do(ctx, &payload)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		return nil, decodeErrorBody(httpResp.StatusCode, body)
	}
	if err := checkContentType(httpResp.Header.Get("Content-Type")); err != nil {
		httpResp.Body.Close()
		return nil, apperr.Wrap(apperr.UpstreamTransport, err, "opening stream")
	}

	out := make(chan StreamResult, 16)
	go readSSE(ctx, httpResp.Body, out)
	return out, nil
}

func (c *OpenRouterClient) post(ctx context.Context, payload *openai.Request) ([]byte, int, error) {
	resp, err := c.do(ctx, payload)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.UpstreamTransport, err, "reading upstream body")
	}
	return body, resp.StatusCode, nil
}

func (c *OpenRouterClient) do(ctx context.Context, payload *openai.Request) (*http.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.Wrap(apperr.Conversion, err, "marshaling upstream request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamTransport, err, "creating upstream request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	c.log.Debug("upstream request",
		zap.String("model", payload.Model),
		zap.Int("messages", len(payload.Messages)),
		zap.Bool("stream", payload.Stream))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.Wrap(apperr.Cancelled, ctx.Err(), "request cancelled")
		}
		return nil, apperr.Wrap(apperr.UpstreamTransport, err, "upstream request failed")
	}
	return resp, nil
}
