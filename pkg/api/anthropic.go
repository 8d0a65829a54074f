package api

import "encoding/json"

// MessagesRequest is an Anthropic-style messages request.
type MessagesRequest struct {
	Model     string             `json:"model" binding:"required"`
	Messages  []AnthropicMessage `json:"messages" binding:"required,min=1,dive"`
	System    SystemPrompt       `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens" binding:"required,min=1"`
	Stream    bool               `json:"stream,omitempty"`

	Temperature   float64         `json:"temperature,omitempty"`
	TopP          float64         `json:"top_p,omitempty"`
	TopK          int             `json:"top_k,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Tools         []AnthropicTool `json:"tools,omitempty"`
	Metadata      *MessagesMeta   `json:"metadata,omitempty"`
}

type MessagesMeta struct {
	UserID string `json:"user_id,omitempty"`
}

type AnthropicMessage struct {
	Role    string        `json:"role" binding:"required,oneof=user assistant"`
	Content BlockSequence `json:"content"`
}

// BlockSequence handles the union type: string | []ContentBlock.
type BlockSequence struct {
	Text   string
	Blocks []ContentBlock
}

func (b *BlockSequence) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &b.Text)
	}
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &b.Blocks)
	}
	return nil
}

func (b BlockSequence) MarshalJSON() ([]byte, error) {
	if b.Blocks != nil {
		return json.Marshal(b.Blocks)
	}
	return json.Marshal(b.Text)
}

// SystemPrompt handles the union type: string | []ContentBlock.
type SystemPrompt struct {
	Text   string
	Blocks []ContentBlock
}

func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &s.Text)
	}
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &s.Blocks)
	}
	return nil
}

func (s SystemPrompt) MarshalJSON() ([]byte, error) {
	if s.Blocks != nil {
		return json.Marshal(s.Blocks)
	}
	return json.Marshal(s.Text)
}

func (s SystemPrompt) IsZero() bool {
	return s.Text == "" && s.Blocks == nil
}

type ContentBlock struct {
	Type string `json:"type"`

	// type == "text"
	Text string `json:"text,omitempty"`

	// type == "image"
	Source *ImageSource `json:"source,omitempty"`

	// type == "tool_use"
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// type == "tool_result"
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type ImageSource struct {
	Type      string `json:"type"`       // "base64"
	MediaType string `json:"media_type"` // "image/png"
	Data      string `json:"data"`
}

type AnthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type MessagesResponse struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"` // "message"
	Role         string          `json:"role"` // "assistant"
	Model        string          `json:"model"`
	Content      []ContentBlock  `json:"content"`
	StopReason   string          `json:"stop_reason,omitempty"`
	StopSequence string          `json:"stop_sequence,omitempty"`
	Usage        *AnthropicUsage `json:"usage,omitempty"`

	Error *ErrorResponse `json:"error,omitempty"`
}

type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// StreamEvent is one Anthropic SSE event payload. The same shape covers
// message_start, content_block_start, content_block_delta, message_delta
// and message_stop; unused fields stay nil.
type StreamEvent struct {
	Type         string            `json:"type"`
	Index        int               `json:"index,omitempty"`
	Message      *MessagesResponse `json:"message,omitempty"`
	ContentBlock *ContentBlock     `json:"content_block,omitempty"`
	Delta        *EventDelta       `json:"delta,omitempty"`
	Usage        *AnthropicUsage   `json:"usage,omitempty"`
}

// AnthropicStreamResult carries one outbound Anthropic SSE frame (or a
// terminal error) on the streaming path. Data is the frame payload
// exactly as it will be written to the wire.
type AnthropicStreamResult struct {
	Event string
	Data  []byte
	Err   error
}

type EventDelta struct {
	Type         string `json:"type,omitempty"` // "text_delta", "input_json_delta"
	Text         string `json:"text,omitempty"`
	PartialJSON  string `json:"partial_json,omitempty"`
	StopReason   string `json:"stop_reason,omitempty"`
	StopSequence string `json:"stop_sequence,omitempty"`
}
