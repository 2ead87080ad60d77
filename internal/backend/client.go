// Package backend selects and executes the upstream provider: direct
// OpenRouter, OpenRouter via the translation-library client, or Azure
// Databricks Claude serving endpoints. The dispatcher here is the only owner
// of the upstream HTTP client and the only component that elects between
// retrying and surfacing an error.
package backend

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chebizarro/crosstalk/internal/anthropic"
	"github.com/chebizarro/crosstalk/internal/config"
	"github.com/chebizarro/crosstalk/internal/openai"
)

// Request bundles both dialect renditions of one inbound request. The
// OpenRouter family consumes Upstream; Databricks accepts the Anthropic
// dialect natively and consumes Original plus the mapped Model.
type Request struct {
	Original *anthropic.MessagesRequest
	Upstream *openai.Request
	// Model is the mapped backend identifier (provider-prefixed model or
	// serving-endpoint name).
	Model string
}

// StreamResult is one upstream chunk or a terminal error.
type StreamResult struct {
	Chunk *openai.StreamChunk
	Err   error
}

// Upstream executes requests against one provider. Implementations must
// honor ctx cancellation: tearing down the HTTP connection and closing the
// stream channel promptly.
type Upstream interface {
	Kind() config.BackendKind
	Complete(ctx context.Context, req *Request) (*openai.Response, error)
	Stream(ctx context.Context, req *Request) (<-chan StreamResult, error)
}

// Hostnames for which corporate proxy environment variables are deliberately
// bypassed; proxies tend to break long-lived SSE connections to providers.
var proxyBypassHosts = []string{
	"openrouter.ai",
	"azuredatabricks.net",
	"api.anthropic.com",
}

// newHTTPClient builds the process-wide upstream client: shared pool,
// per-request timeout, proxy bypass for known provider hosts.
func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:               proxyFunc,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

func proxyFunc(req *http.Request) (*url.URL, error) {
	host := req.URL.Hostname()
	for _, bypass := range proxyBypassHosts {
		if host == bypass || strings.HasSuffix(host, "."+bypass) {
			return nil, nil
		}
	}
	return http.ProxyFromEnvironment(req)
}
