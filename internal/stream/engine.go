// Package stream transcodes upstream OpenAI-format chunks into the Anthropic
// SSE event sequence. The engine owns the chunk-level state machine; sinks
// own delivery. Per-request event order is strictly preserved and nothing is
// buffered across requests.
package stream

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chebizarro/crosstalk/internal/anthropic"
	"github.com/chebizarro/crosstalk/internal/apperr"
	"github.com/chebizarro/crosstalk/internal/backend"
	"github.com/chebizarro/crosstalk/internal/openai"
	"github.com/chebizarro/crosstalk/internal/reqctx"
	"github.com/chebizarro/crosstalk/internal/translate"
)

// DefaultInactivityTimeout bounds the wait for the next upstream chunk.
const DefaultInactivityTimeout = 300 * time.Second

// Engine drives one stream at a time; it holds no cross-request state.
type Engine struct {
	log        *zap.Logger
	inactivity time.Duration
}

// NewEngine creates the streaming engine.
func NewEngine(log *zap.Logger) *Engine {
	return &Engine{log: log.Named("stream"), inactivity: DefaultInactivityTimeout}
}

// blockState tracks the currently open content block.
type blockState int

const (
	blockNone blockState = iota
	blockText
	blockToolUse
)

// Run consumes chunks until the channel closes, an error arrives, or ctx is
// cancelled, emitting Anthropic events to sink. Partial output before a
// failure is delivered as-is, followed by a single error event. After
// cancellation nothing further is emitted.
func (e *Engine) Run(ctx context.Context, sink Sink, chunks <-chan backend.StreamResult, originalModel string) error {
	log := reqctx.Logger(ctx, e.log)

	st := &runState{sink: sink}
	if err := st.emit(anthropic.StreamEvent{
		Type: anthropic.EventMessageStart,
		Message: &anthropic.MessagesResponse{
			ID:      translate.NewMessageID(),
			Type:    "message",
			Role:    "assistant",
			Model:   originalModel,
			Content: []anthropic.ContentBlock{},
			Usage:   &anthropic.Usage{},
		},
	}); err != nil {
		return err
	}

	timer := time.NewTimer(e.inactivity)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return apperr.Wrap(apperr.Cancelled, ctx.Err(), "stream cancelled")

		case <-timer.C:
			err := apperr.New(apperr.Stream, "upstream produced no chunk within %s", e.inactivity)
			st.emitError(err)
			return err

		case res, ok := <-chunks:
			if !ok {
				return st.finish()
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(e.inactivity)

			if res.Err != nil {
				log.Warn("upstream stream failed mid-flight", zap.Error(res.Err))
				st.emitError(res.Err)
				return res.Err
			}
			if err := st.consume(res.Chunk); err != nil {
				return err
			}
		}
	}
}

// runState carries the per-stream state machine.
type runState struct {
	sink       Sink
	block      blockState
	blockIndex int
	started    bool // first content block opened
	stopReason string
	usage      *anthropic.Usage
	sinkErr    error
}

func (s *runState) emit(ev anthropic.StreamEvent) error {
	if s.sinkErr != nil {
		return s.sinkErr
	}
	if err := s.sink.Send(ev); err != nil {
		s.sinkErr = apperr.Wrap(apperr.Cancelled, err, "caller sink closed")
		return s.sinkErr
	}
	return nil
}

func (s *runState) consume(chunk *openai.StreamChunk) error {
	if chunk.Usage != nil {
		s.usage = &anthropic.Usage{
			InputTokens:  chunk.Usage.PromptTokens,
			OutputTokens: chunk.Usage.CompletionTokens,
		}
	}
	if len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		if err := s.ensureTextBlock(); err != nil {
			return err
		}
		if err := s.emit(anthropic.StreamEvent{
			Type:  anthropic.EventContentBlockDelta,
			Index: indexPtr(s.blockIndex),
			Delta: &anthropic.StreamDelta{Type: anthropic.DeltaText, Text: choice.Delta.Content},
		}); err != nil {
			return err
		}
	}

	for _, tc := range choice.Delta.ToolCalls {
		if err := s.consumeToolDelta(tc); err != nil {
			return err
		}
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		s.stopReason = translate.MapFinishReason(*choice.FinishReason)
	}
	return nil
}

func (s *runState) consumeToolDelta(tc openai.ToolCallDelta) error {
	// A fragment with an id opens a new tool-use block. A fragment without
	// one continues the current block; if none is open the start event is
	// synthesized so the caller always sees content_block_start first.
	if tc.ID != "" || s.block != blockToolUse {
		id := tc.ID
		if id == "" {
			id = "toolu_" + uuid.NewString()[:8]
		}
		if err := s.openBlock(blockToolUse, &anthropic.ContentBlock{
			Type:  anthropic.BlockToolUse,
			ID:    id,
			Name:  tc.Function.Name,
			Input: map[string]any{},
		}); err != nil {
			return err
		}
	}
	if tc.Function.Arguments == "" {
		return nil
	}
	return s.emit(anthropic.StreamEvent{
		Type:  anthropic.EventContentBlockDelta,
		Index: indexPtr(s.blockIndex),
		Delta: &anthropic.StreamDelta{Type: anthropic.DeltaInputJSON, PartialJSON: tc.Function.Arguments},
	})
}

func (s *runState) ensureTextBlock() error {
	if s.block == blockText {
		return nil
	}
	return s.openBlock(blockText, &anthropic.ContentBlock{Type: anthropic.BlockText, Text: ""})
}

func (s *runState) openBlock(kind blockState, block *anthropic.ContentBlock) error {
	if err := s.closeBlock(); err != nil {
		return err
	}
	if s.started {
		s.blockIndex++
	}
	s.started = true
	s.block = kind
	return s.emit(anthropic.StreamEvent{
		Type:         anthropic.EventContentBlockStart,
		Index:        indexPtr(s.blockIndex),
		ContentBlock: block,
	})
}

func (s *runState) closeBlock() error {
	if s.block == blockNone {
		return nil
	}
	ev := anthropic.StreamEvent{Type: anthropic.EventContentBlockStop, Index: indexPtr(s.blockIndex)}
	s.block = blockNone
	return s.emit(ev)
}

func indexPtr(i int) *int { return &i }

// finish emits the closing sequence after the upstream channel drains.
func (s *runState) finish() error {
	if err := s.closeBlock(); err != nil {
		return err
	}
	stop := s.stopReason
	if stop == "" {
		stop = "end_turn"
	}
	if err := s.emit(anthropic.StreamEvent{
		Type:  anthropic.EventMessageDelta,
		Delta: &anthropic.StreamDelta{StopReason: stop},
	}); err != nil {
		return err
	}
	return s.emit(anthropic.StreamEvent{
		Type:  anthropic.EventMessageStop,
		Usage: s.usage,
	})
}

// emitError delivers partial-failure semantics: whatever was already sent
// stands, followed by one error event and the end of the stream.
func (s *runState) emitError(err error) {
	_ = s.emit(anthropic.StreamEvent{
		Type: anthropic.EventError,
		Error: &anthropic.ErrorDetail{
			Type:    "api_error",
			Message: err.Error(),
		},
	})
}
