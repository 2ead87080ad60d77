package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/chebizarro/crosstalk/internal/apperr"
	"github.com/chebizarro/crosstalk/internal/openai"
)

// readSSE consumes an OpenAI-format SSE body, forwarding decoded chunks
// until [DONE], EOF, or cancellation. It closes both the body and the
// channel. Decode failures surface as a single terminal Stream error; the
// caller has already received every chunk before the bad one.
func readSSE(ctx context.Context, body io.ReadCloser, out chan<- StreamResult) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return
		}

		var chunk openai.StreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			send(ctx, out, StreamResult{Err: apperr.Wrap(apperr.Stream, err, "decoding stream chunk")})
			return
		}
		if chunk.Error != nil {
			send(ctx, out, StreamResult{Err: apperr.New(apperr.Stream, "upstream stream error: %s", chunk.Error.Message)})
			return
		}
		if !send(ctx, out, StreamResult{Chunk: &chunk}) {
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		send(ctx, out, StreamResult{Err: apperr.Wrap(apperr.UpstreamTransport, err, "reading stream")})
	}
}

// send delivers r unless the request was cancelled. No chunks are emitted
// after cancellation.
func send(ctx context.Context, out chan<- StreamResult, r StreamResult) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

// decodeErrorBody extracts a provider error message from a non-2xx body.
func decodeErrorBody(status int, body []byte) error {
	var wrapper struct {
		Error *openai.Error `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error != nil {
		return apperr.Upstream(status, "upstream error %d: %s", status, wrapper.Error.Message)
	}
	msg := string(body)
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return apperr.Upstream(status, "upstream error %d: %s", status, msg)
}

// checkContentType guards against HTML error pages being fed to the SSE
// reader.
func checkContentType(contentType string) error {
	if contentType == "" || strings.Contains(contentType, "text/event-stream") ||
		strings.Contains(contentType, "application/json") {
		return nil
	}
	return fmt.Errorf("unexpected upstream content type %q", contentType)
}
