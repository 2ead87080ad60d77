package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chebizarro/crosstalk/internal/anthropic"
	"github.com/chebizarro/crosstalk/internal/apperr"
	"github.com/chebizarro/crosstalk/internal/config"
	"github.com/chebizarro/crosstalk/internal/openai"
)

func upstreamRequest() *Request {
	return &Request{
		Original: &anthropic.MessagesRequest{
			Model:     "sonnet",
			MaxTokens: 100,
			Messages: []anthropic.Message{{
				Role:    "user",
				Content: []anthropic.ContentBlock{{Type: anthropic.BlockText, Text: "hi"}},
			}},
		},
		Upstream: &openai.Request{
			Model:    "anthropic/claude-sonnet-4",
			Messages: []openai.Message{{Role: "user", Content: "hi"}},
		},
		Model: "anthropic/claude-sonnet-4",
	}
}

func newOpenRouterTestClient(serverURL string) *OpenRouterClient {
	return NewOpenRouterClient(config.OpenRouterConfig{
		APIKey:  "sk-test",
		BaseURL: serverURL,
	}, 5*time.Second, zap.NewNop())
}

func TestOpenRouterComplete(t *testing.T) {
	var gotAuth string
	var gotBody openai.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(openai.Response{
			Choices: []openai.Choice{{
				Message:      openai.Message{Role: "assistant", Content: "hello"},
				FinishReason: "stop",
			}},
		})
	}))
	defer srv.Close()

	c := newOpenRouterTestClient(srv.URL)
	resp, err := c.Complete(context.Background(), upstreamRequest())
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "anthropic/claude-sonnet-4", gotBody.Model)
	assert.Equal(t, "hello", resp.Choices[0].Message.Content)
}

func TestOpenRouterCompleteUpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down"}}`)
	}))
	defer srv.Close()

	c := newOpenRouterTestClient(srv.URL)
	_, err := c.Complete(context.Background(), upstreamRequest())
	require.Error(t, err)

	assert.Equal(t, apperr.UpstreamStatus, apperr.KindOf(err))
	assert.Equal(t, http.StatusTooManyRequests, apperr.HTTPStatus(err))
	assert.Contains(t, err.Error(), "slow down")
}

func TestOpenRouterCompleteErrorIn200Body(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"message":"provider exploded"}}`)
	}))
	defer srv.Close()

	c := newOpenRouterTestClient(srv.URL)
	_, err := c.Complete(context.Background(), upstreamRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider exploded")
}

func TestOpenRouterStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body openai.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(t, body.Stream, "stream flag must be forced on")

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, ": keepalive comment\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := newOpenRouterTestClient(srv.URL)
	ch, err := c.Stream(context.Background(), upstreamRequest())
	require.NoError(t, err)

	var texts []string
	var finish string
	for res := range ch {
		require.NoError(t, res.Err)
		if len(res.Chunk.Choices) == 0 {
			continue
		}
		choice := res.Chunk.Choices[0]
		if choice.Delta.Content != "" {
			texts = append(texts, choice.Delta.Content)
		}
		if choice.FinishReason != nil {
			finish = *choice.FinishReason
		}
	}

	assert.Equal(t, []string{"Hel", "lo"}, texts)
	assert.Equal(t, "stop", finish)
}

func TestOpenRouterStreamMidStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"error\":{\"message\":\"stream fault\"}}\n\n")
	}))
	defer srv.Close()

	c := newOpenRouterTestClient(srv.URL)
	ch, err := c.Stream(context.Background(), upstreamRequest())
	require.NoError(t, err)

	var chunks int
	var streamErr error
	for res := range ch {
		if res.Err != nil {
			streamErr = res.Err
			continue
		}
		chunks++
	}

	assert.Equal(t, 1, chunks, "chunks before the fault must be delivered")
	require.Error(t, streamErr)
	assert.Equal(t, apperr.Stream, apperr.KindOf(streamErr))
}

func TestOpenRouterStreamRejectsHTMLBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html>proxy login page</html>")
	}))
	defer srv.Close()

	c := newOpenRouterTestClient(srv.URL)
	_, err := c.Stream(context.Background(), upstreamRequest())
	require.Error(t, err)
	assert.Equal(t, apperr.UpstreamTransport, apperr.KindOf(err))
}

func TestLiteLLMAttributionHeaders(t *testing.T) {
	var referer, title string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		referer = r.Header.Get("HTTP-Referer")
		title = r.Header.Get("X-Title")
		json.NewEncoder(w).Encode(openai.Response{
			Choices: []openai.Choice{{Message: openai.Message{Content: "ok"}}},
		})
	}))
	defer srv.Close()

	c := NewLiteLLMClient(config.OpenRouterConfig{
		APIKey:  "sk",
		BaseURL: srv.URL,
		Referer: "https://example.com/app",
		Title:   "example app",
	}, 5*time.Second, zap.NewNop())

	_, err := c.Complete(context.Background(), upstreamRequest())
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/app", referer)
	assert.Equal(t, "example app", title)
	assert.Equal(t, config.BackendLiteLLMOpenRouter, c.Kind())
}

func TestDatabricksCompleteSendsAnthropicDialect(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(openai.Response{
			Choices: []openai.Choice{{
				Message:      openai.Message{Role: "assistant", Content: "from databricks"},
				FinishReason: "stop",
			}},
		})
	}))
	defer srv.Close()

	c := NewDatabricksClient(config.DatabricksConfig{
		Host:  srv.URL,
		Token: "dapi123",
	}, 0, 5*time.Second, zap.NewNop())

	req := upstreamRequest()
	req.Model = "databricks-claude-sonnet-4"
	resp, err := c.Complete(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "/serving-endpoints/databricks-claude-sonnet-4/invocations", gotPath)
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("token:dapi123"))
	assert.Equal(t, want, gotAuth)

	// Anthropic dialect inbound: messages with content blocks, no model field.
	assert.NotContains(t, gotBody, "model")
	msgs := gotBody["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "from databricks", resp.Choices[0].Message.Content)
}

func TestDatabricksWireBodyClampsAndSimplifies(t *testing.T) {
	var gotBody struct {
		MaxTokens int              `json:"max_tokens"`
		Tools     []anthropic.Tool `json:"tools"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(openai.Response{
			Choices: []openai.Choice{{Message: openai.Message{Content: "ok"}}},
		})
	}))
	defer srv.Close()

	c := NewDatabricksClient(config.DatabricksConfig{
		Host:  srv.URL,
		Token: "t",
	}, 8192, 5*time.Second, zap.NewNop())

	req := upstreamRequest()
	req.Original.MaxTokens = 64000
	for i := 0; i < 7; i++ {
		req.Original.Tools = append(req.Original.Tools, anthropic.Tool{
			Name:        fmt.Sprintf("tool_%d", i),
			Description: "does a thing",
			InputSchema: map[string]any{
				"type":                 "object",
				"$schema":              "http://json-schema.org/draft-07/schema#",
				"additionalProperties": false,
				"properties": map[string]any{
					"arg": map[string]any{"type": "string", "default": "x"},
				},
			},
		})
	}

	_, err := c.Complete(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 8192, gotBody.MaxTokens)
	require.Len(t, gotBody.Tools, 5)
	for _, tool := range gotBody.Tools {
		assert.NotContains(t, tool.InputSchema, "additionalProperties")
		assert.NotContains(t, tool.InputSchema, "$schema")
		props := tool.InputSchema["properties"].(map[string]any)
		arg := props["arg"].(map[string]any)
		assert.NotContains(t, arg, "default")
	}
	// The caller's request is left alone; only the wire body is shaped.
	assert.Equal(t, 64000, req.Original.MaxTokens)
	assert.Len(t, req.Original.Tools, 7)
}

func TestDatabricksCompleteErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "endpoint scaling up")
	}))
	defer srv.Close()

	c := NewDatabricksClient(config.DatabricksConfig{Host: srv.URL, Token: "t"}, 0, 5*time.Second, zap.NewNop())
	_, err := c.Complete(context.Background(), upstreamRequest())
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, apperr.HTTPStatus(err))
	assert.Contains(t, err.Error(), "endpoint scaling up")
}

func TestCheckContentType(t *testing.T) {
	assert.NoError(t, checkContentType("text/event-stream"))
	assert.NoError(t, checkContentType("text/event-stream; charset=utf-8"))
	assert.NoError(t, checkContentType("application/json"))
	assert.NoError(t, checkContentType(""))
	assert.Error(t, checkContentType("text/html"))
}
