package types

import "encoding/json"

// --- Request types ---

// ChatCompletionRequest represents an inbound OpenAI chat completion request.
// Fields the upstream has no use for are accepted and ignored.
type ChatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
	// ThinkingMode is kept raw because clients send it in several shapes;
	// only a JSON object is honoured.
	ThinkingMode json.RawMessage `json:"thinking_mode,omitempty"`
}

// ChatMessage represents an OpenAI chat message with the Qwen feature_config
// extension.
type ChatMessage struct {
	Role          string         `json:"role,omitempty"`
	Content       any            `json:"content,omitempty"`
	FeatureConfig map[string]any `json:"feature_config,omitempty"`
}

// ContentPart represents a part of a multimodal content array.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ThinkingMode is the object form of the thinking_mode request field.
type ThinkingMode struct {
	Enabled       *bool  `json:"enabled,omitempty"`
	Depth         string `json:"depth,omitempty"`
	ShowReasoning *bool  `json:"show_reasoning,omitempty"`
}

// --- Response types ---

// ModelObject represents a model in the /v1/models response.
type ModelObject struct {
	ID         string `json:"id"`
	Object     string `json:"object"`
	Created    int64  `json:"created"`
	OwnedBy    string `json:"owned_by"`
	Permission []any  `json:"permission"`
}

// ModelList is the /v1/models response envelope.
type ModelList struct {
	Object string        `json:"object"`
	Data   []ModelObject `json:"data"`
}

// ErrorResponse represents an OpenAI-format error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail holds error details.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
}
