package anthropic

// Stream event type discriminators, in emission order for a typical stream.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventPing              = "ping"
	EventError             = "error"
)

// Delta type discriminators.
const (
	DeltaText      = "text_delta"
	DeltaInputJSON = "input_json_delta"
)

// StreamEvent is one Anthropic SSE event payload. Exactly one of the
// optional members is set depending on Type. Index is a pointer so that
// block zero still serializes as "index":0 on content_block events while
// message-level events carry no index at all.
type StreamEvent struct {
	Type         string            `json:"type"`
	Message      *MessagesResponse `json:"message,omitempty"`
	Index        *int              `json:"index,omitempty"`
	ContentBlock *ContentBlock     `json:"content_block,omitempty"`
	Delta        *StreamDelta      `json:"delta,omitempty"`
	Usage        *Usage            `json:"usage,omitempty"`
	Error        *ErrorDetail      `json:"error,omitempty"`

	// CacheMetadata is a proxy-side annotation on replayed streams. Absent
	// on live streams.
	CacheMetadata *CacheMetadata `json:"cache_metadata,omitempty"`
}

// StreamDelta is the incremental payload inside content_block_delta and
// message_delta events.
type StreamDelta struct {
	Type         string `json:"type,omitempty"`
	Text         string `json:"text,omitempty"`
	PartialJSON  string `json:"partial_json,omitempty"`
	StopReason   string `json:"stop_reason,omitempty"`
	StopSequence string `json:"stop_sequence,omitempty"`
}

// CacheMetadata annotates replayed chunks.
type CacheMetadata struct {
	CacheStatus string `json:"cache_status"`
}
