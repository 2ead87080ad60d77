package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chebizarro/crosstalk/internal/anthropic"
	"github.com/chebizarro/crosstalk/internal/apperr"
	"github.com/chebizarro/crosstalk/internal/config"
	"github.com/chebizarro/crosstalk/internal/openai"
	"github.com/chebizarro/crosstalk/internal/translate"
)

// DatabricksClient posts to per-workspace Claude serving endpoints. The
// endpoint accepts the Anthropic dialect natively inbound but answers in the
// OpenAI dialect, so the response converter still runs on its output. The
// mapped model is the serving-endpoint name, carried in the URL.
type DatabricksClient struct {
	host      string
	token     string
	maxTokens int
	http      *http.Client
	log       *zap.Logger
}

// NewDatabricksClient creates the Azure Databricks backend. maxTokens clamps
// the caller's max_tokens on the wire; zero disables clamping.
func NewDatabricksClient(cfg config.DatabricksConfig, maxTokens int, timeout time.Duration, log *zap.Logger) *DatabricksClient {
	return &DatabricksClient{
		host:      strings.TrimSuffix(cfg.Host, "/"),
		token:     cfg.Token,
		maxTokens: maxTokens,
		http:      newHTTPClient(timeout),
		log:       log.Named("databricks"),
	}
}

// Kind reports the backend family.
func (c *DatabricksClient) Kind() config.BackendKind { return config.BackendAzureDatabricks }

// invocationPayload is the Anthropic-dialect body the serving endpoint
// accepts. The model rides in the URL, not the body.
type invocationPayload struct {
	Messages      []anthropic.Message   `json:"messages"`
	System        string                `json:"system,omitempty"`
	MaxTokens     int                   `json:"max_tokens"`
	Temperature   *float64              `json:"temperature,omitempty"`
	TopP          *float64              `json:"top_p,omitempty"`
	TopK          *int                  `json:"top_k,omitempty"`
	StopSequences []string              `json:"stop_sequences,omitempty"`
	Stream        bool                  `json:"stream,omitempty"`
	Tools         []anthropic.Tool      `json:"tools,omitempty"`
	ToolChoice    *anthropic.ToolChoice `json:"tool_choice,omitempty"`
}

// buildInvocation shapes the Anthropic-dialect wire body. Serving endpoints
// reject oversized max_tokens and choke on complex tool schemas, so the clamp
// and the tool-set simplification apply here, on the body actually posted.
func (c *DatabricksClient) buildInvocation(req *Request, stream bool) *invocationPayload {
	src := req.Original
	maxTokens := src.MaxTokens
	if c.maxTokens > 0 && maxTokens > c.maxTokens {
		maxTokens = c.maxTokens
	}
	var tools []anthropic.Tool
	if len(src.Tools) > 0 {
		tools = translate.SimplifyTools(src.Tools, 0)
	}
	return &invocationPayload{
		Messages:      src.Messages,
		System:        src.System.Text(),
		MaxTokens:     maxTokens,
		Temperature:   src.Temperature,
		TopP:          src.TopP,
		TopK:          src.TopK,
		StopSequences: src.StopSequences,
		Stream:        stream,
		Tools:         tools,
		ToolChoice:    src.ToolChoice,
	}
}

// Complete executes a non-streaming invocation.
func (c *DatabricksClient) Complete(ctx context.Context, req *Request) (*openai.Response, error) {
	httpResp, err := c.post(ctx, req.Model, c.buildInvocation(req, false))
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamTransport, err, "reading upstream body")
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, decodeErrorBody(httpResp.StatusCode, body)
	}

	var resp openai.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperr.Wrap(apperr.UpstreamTransport, err, "decoding upstream response")
	}
	return &resp, nil
}

// Stream executes a streaming invocation. Chunks arrive in OpenAI SSE
// framing.
func (c *DatabricksClient) Stream(ctx context.Context, req *Request) (<-chan StreamResult, error) {
	httpResp, err := c.post(ctx, req.Model, c.buildInvocation(req, true))
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		return nil, decodeErrorBody(httpResp.StatusCode, body)
	}

	out := make(chan StreamResult, 16)
	go readSSE(ctx, httpResp.Body, out)
	return out, nil
}

func (c *DatabricksClient) post(ctx context.Context, endpoint string, payload *invocationPayload) (*http.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.Wrap(apperr.Conversion, err, "marshaling invocation")
	}

	url := fmt.Sprintf("%s/serving-endpoints/%s/invocations", c.host, endpoint)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamTransport, err, "creating upstream request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Basic "+basicToken(c.token))

	c.log.Debug("invoking serving endpoint",
		zap.String("endpoint", endpoint),
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

// basicToken encodes Databricks token auth: base64("token:<token>").
func basicToken(token string) string {
	return base64.StdEncoding.EncodeToString([]byte("token:" + token))
}
