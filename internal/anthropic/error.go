package anthropic

// ErrorResponse is the Anthropic error envelope returned on every failure.
type ErrorResponse struct {
	Type  string      `json:"type"` // always "error"
	Error ErrorDetail `json:"error"`
}

// ErrorDetail names the failure class and carries the human-readable message.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewErrorResponse builds the standard envelope.
func NewErrorResponse(errType, message string) *ErrorResponse {
	return &ErrorResponse{
		Type:  "error",
		Error: ErrorDetail{Type: errType, Message: message},
	}
}
