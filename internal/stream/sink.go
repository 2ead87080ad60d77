package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/chebizarro/crosstalk/internal/anthropic"
)

// Sink receives translated events in order. Send returning an error stops
// the stream; the engine treats it as a caller disconnect.
type Sink interface {
	Send(ev anthropic.StreamEvent) error
}

// SSEWriter frames events as `data: <minified JSON>\n\n` on an HTTP
// response, flushing after every event.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter prepares w for event-stream output. Returns an error when the
// response writer cannot flush incrementally.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	return &SSEWriter{w: w, flusher: flusher}, nil
}

// Send writes one framed event.
func (s *SSEWriter) Send(ev anthropic.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Tee forwards events to a primary sink and accumulates a copy, so a live
// stream can be delivered and recorded in one pass.
type Tee struct {
	primary Sink

	mu     sync.Mutex
	events []anthropic.StreamEvent
}

// NewTee wraps primary.
func NewTee(primary Sink) *Tee {
	return &Tee{primary: primary}
}

// Send forwards then records. The recorded copy grows even if delivery
// fails, but callers only persist it after a clean finish.
func (t *Tee) Send(ev anthropic.StreamEvent) error {
	err := t.primary.Send(ev)
	t.mu.Lock()
	t.events = append(t.events, ev)
	t.mu.Unlock()
	return err
}

// Events returns the accumulated copy.
func (t *Tee) Events() []anthropic.StreamEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]anthropic.StreamEvent, len(t.events))
	copy(out, t.events)
	return out
}

// Collector accumulates events without forwarding; the test double and the
// reconstruction buffer.
type Collector struct {
	mu     sync.Mutex
	events []anthropic.StreamEvent
}

// Send records ev.
func (c *Collector) Send(ev anthropic.StreamEvent) error {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	return nil
}

// Events returns everything recorded so far.
func (c *Collector) Events() []anthropic.StreamEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]anthropic.StreamEvent, len(c.events))
	copy(out, c.events)
	return out
}
