package pipeline

import (
	"github.com/nulzo/llm-gateway-api/pkg/api"
)

// RequestContext is an immutable snapshot of one in-flight request.
// Updates never mutate in place; they go through With, which returns a
// new copy with overrides applied.
type RequestContext struct {
	RequestID      string
	ConversationID string
	Provider       string
	Model          string
	Messages       []api.ChatMessage
	ClientKey      string
	Stream         bool
	Metadata       map[string]interface{}
}

// RequestOverride mutates the copy under construction inside With.
type RequestOverride func(*RequestContext)

func WithModel(model string) RequestOverride {
	return func(c *RequestContext) { c.Model = model }
}

func WithProvider(provider string) RequestOverride {
	return func(c *RequestContext) { c.Provider = provider }
}

func WithMessages(messages []api.ChatMessage) RequestOverride {
	return func(c *RequestContext) { c.Messages = messages }
}

func WithRequestMeta(key string, value interface{}) RequestOverride {
	return func(c *RequestContext) { c.Metadata[key] = value }
}

// With returns a copy of the context with the given overrides applied.
// The receiver is observably unchanged afterwards.
func (c *RequestContext) With(overrides ...RequestOverride) *RequestContext {
	clone := *c
	clone.Messages = make([]api.ChatMessage, len(c.Messages))
	copy(clone.Messages, c.Messages)
	clone.Metadata = copyMeta(c.Metadata)
	for _, o := range overrides {
		o(&clone)
	}
	return &clone
}

// ResponseContext is an immutable snapshot of one response, normalized
// to the client's native shape before middleware sees it.
type ResponseContext struct {
	Response  *api.ChatResponse
	Request   *RequestContext
	Streaming bool
	Metadata  map[string]interface{}
}

type ResponseOverride func(*ResponseContext)

func WithResponse(resp *api.ChatResponse) ResponseOverride {
	return func(c *ResponseContext) { c.Response = resp }
}

func WithResponseMeta(key string, value interface{}) ResponseOverride {
	return func(c *ResponseContext) { c.Metadata[key] = value }
}

func (c *ResponseContext) With(overrides ...ResponseOverride) *ResponseContext {
	clone := *c
	clone.Metadata = copyMeta(c.Metadata)
	for _, o := range overrides {
		o(&clone)
	}
	return &clone
}

// StreamChunkContext carries one streamed delta. Accumulated grows
// monotonically across the chunks of one stream and is reset only at
// stream start; Final marks the terminal chunk.
type StreamChunkContext struct {
	Chunk       *api.ChatResponse
	Request     *RequestContext
	Accumulated map[string]interface{}
	Final       bool
}

type ChunkOverride func(*StreamChunkContext)

func WithChunk(chunk *api.ChatResponse) ChunkOverride {
	return func(c *StreamChunkContext) { c.Chunk = chunk }
}

func WithAccumulated(key string, value interface{}) ChunkOverride {
	return func(c *StreamChunkContext) { c.Accumulated[key] = value }
}

func (c *StreamChunkContext) With(overrides ...ChunkOverride) *StreamChunkContext {
	clone := *c
	clone.Accumulated = copyMeta(c.Accumulated)
	for _, o := range overrides {
		o(&clone)
	}
	return &clone
}

func copyMeta(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
