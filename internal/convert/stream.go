package convert

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nulzo/llm-gateway-api/pkg/api"
)

// EventReader assembles SSE `event:`/`data:` line pairs into complete
// events. Upstream lines may arrive one SSE field at a time, so the
// event name is buffered until its data line shows up.
type EventReader struct {
	pendingEvent string
}

// Feed consumes one raw SSE line and returns a complete (event, data)
// pair once both halves have arrived. ok is false while the pair is
// still incomplete.
func (r *EventReader) Feed(line string) (event string, data []byte, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", nil, false
	}

	if rest, found := strings.CutPrefix(line, "event:"); found {
		r.pendingEvent = strings.TrimSpace(rest)
		return "", nil, false
	}
	if rest, found := strings.CutPrefix(line, "data:"); found {
		payload := strings.TrimSpace(rest)
		event = r.pendingEvent
		r.pendingEvent = ""
		if event == "" {
			// Anthropic data payloads carry their own type field.
			var probe struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal([]byte(payload), &probe); err != nil || probe.Type == "" {
				return "", nil, false
			}
			event = probe.Type
		}
		return event, []byte(payload), true
	}
	return "", nil, false
}

// AnthropicStreamDecoder turns Anthropic SSE events into OpenAI chat
// completion chunks, the shape middleware observes on the streaming
// path.
type AnthropicStreamDecoder struct {
	model        string
	completionID string
	created      int64
	toolIdx      map[int]int // content block index -> tool call index
	toolCount    int
}

func NewAnthropicStreamDecoder(model, completionID string) *AnthropicStreamDecoder {
	return &AnthropicStreamDecoder{
		model:        model,
		completionID: completionID,
		created:      time.Now().Unix(),
		toolIdx:      make(map[int]int),
	}
}

// Decode converts one Anthropic event into at most one chunk. done
// reports message_stop; events with no chat equivalent return (nil,
// false, nil).
func (d *AnthropicStreamDecoder) Decode(event string, data []byte) (chunk *api.ChatResponse, done bool, err error) {
	switch event {
	case "message_start":
		var payload api.StreamEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, false, err
		}
		if payload.Message != nil && payload.Message.Usage != nil {
			c := d.newChunk()
			c.Choices = []api.Choice{{Index: 0, Delta: &api.ChatMessage{Role: "assistant"}}}
			c.Usage = &api.ResponseUsage{PromptTokens: payload.Message.Usage.InputTokens}
			return c, false, nil
		}
		return nil, false, nil

	case "content_block_start":
		var payload api.StreamEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, false, err
		}
		if payload.ContentBlock == nil || payload.ContentBlock.Type != "tool_use" {
			return nil, false, nil
		}
		n := d.toolCount
		d.toolCount++
		d.toolIdx[payload.Index] = n
		c := d.newChunk()
		c.Choices = []api.Choice{{
			Index: 0,
			Delta: &api.ChatMessage{ToolCalls: []api.ToolCall{{
				Index:    n,
				ID:       payload.ContentBlock.ID,
				Type:     "function",
				Function: api.FunctionCall{Name: payload.ContentBlock.Name},
			}}},
		}}
		return c, false, nil

	case "content_block_delta":
		var payload api.StreamEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, false, err
		}
		if payload.Delta == nil {
			return nil, false, nil
		}
		switch payload.Delta.Type {
		case "text_delta":
			if payload.Delta.Text == "" {
				return nil, false, nil
			}
			c := d.newChunk()
			c.Choices = []api.Choice{{
				Index: 0,
				Delta: &api.ChatMessage{Content: api.Content{Text: payload.Delta.Text}},
			}}
			return c, false, nil

		case "input_json_delta":
			n, ok := d.toolIdx[payload.Index]
			if !ok || payload.Delta.PartialJSON == "" {
				return nil, false, nil
			}
			c := d.newChunk()
			c.Choices = []api.Choice{{
				Index: 0,
				Delta: &api.ChatMessage{ToolCalls: []api.ToolCall{{
					Index:    n,
					Function: api.FunctionCall{Arguments: payload.Delta.PartialJSON},
				}}},
			}}
			return c, false, nil
		}
		return nil, false, nil

	case "message_delta":
		var payload api.StreamEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, false, err
		}
		c := d.newChunk()
		finish := "stop"
		if payload.Delta != nil {
			finish = stopReasonToFinish(payload.Delta.StopReason)
		}
		c.Choices = []api.Choice{{Index: 0, Delta: &api.ChatMessage{}, FinishReason: finish}}
		if payload.Usage != nil {
			c.Usage = &api.ResponseUsage{CompletionTokens: payload.Usage.OutputTokens}
		}
		return c, false, nil

	case "message_stop":
		return nil, true, nil
	}

	return nil, false, nil
}

func (d *AnthropicStreamDecoder) newChunk() *api.ChatResponse {
	return &api.ChatResponse{
		ID:      d.completionID,
		Object:  "chat.completion.chunk",
		Created: d.created,
		Model:   d.model,
	}
}

// AnthropicStreamEncoder turns OpenAI chat completion chunks back into
// the Anthropic SSE event sequence: message_start, content_block_start,
// text or tool input deltas, then content_block_stop / message_delta /
// message_stop. One content block is open at a time; a new text run or
// tool call closes the previous block.
type AnthropicStreamEncoder struct {
	model        string
	messageID    string
	started      bool
	blockType    string
	blockIndex   int
	nextIndex    int
	toolBlocks   map[int]int // tool call index -> content block index
	outputTokens int
}

func NewAnthropicStreamEncoder(model, messageID string) *AnthropicStreamEncoder {
	return &AnthropicStreamEncoder{
		model:      model,
		messageID:  messageID,
		toolBlocks: make(map[int]int),
	}
}

// Encode converts one chat chunk into zero or more Anthropic events.
func (e *AnthropicStreamEncoder) Encode(chunk *api.ChatResponse) []api.StreamEvent {
	var events []api.StreamEvent

	if !e.started {
		e.started = true
		events = append(events, api.StreamEvent{
			Type: "message_start",
			Message: &api.MessagesResponse{
				ID:      e.messageID,
				Type:    "message",
				Role:    "assistant",
				Model:   e.model,
				Content: []api.ContentBlock{},
				Usage:   chunkInputUsage(chunk),
			},
		})
	}

	if chunk.Usage != nil {
		e.outputTokens = chunk.Usage.CompletionTokens
	}

	if len(chunk.Choices) == 0 {
		return events
	}
	choice := chunk.Choices[0]

	if choice.Delta != nil {
		if text := flattenText(choice.Delta.Content); text != "" {
			if e.blockType != "text" {
				events = append(events, e.closeBlock()...)
				events = append(events, e.startBlock("text", &api.ContentBlock{Type: "text", Text: ""}))
			}
			events = append(events, api.StreamEvent{
				Type:  "content_block_delta",
				Index: e.blockIndex,
				Delta: &api.EventDelta{Type: "text_delta", Text: text},
			})
		}

		for _, tc := range choice.Delta.ToolCalls {
			if tc.ID != "" || tc.Function.Name != "" {
				events = append(events, e.closeBlock()...)
				events = append(events, e.startBlock("tool_use", &api.ContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: json.RawMessage("{}"),
				}))
				e.toolBlocks[tc.Index] = e.blockIndex
			}
			if tc.Function.Arguments != "" {
				idx, ok := e.toolBlocks[tc.Index]
				if !ok {
					idx = e.blockIndex
				}
				events = append(events, api.StreamEvent{
					Type:  "content_block_delta",
					Index: idx,
					Delta: &api.EventDelta{Type: "input_json_delta", PartialJSON: tc.Function.Arguments},
				})
			}
		}
	}

	if choice.FinishReason != "" {
		events = append(events, e.closeBlock()...)
		events = append(events,
			api.StreamEvent{
				Type:  "message_delta",
				Delta: &api.EventDelta{StopReason: finishToStopReason(choice.FinishReason)},
				Usage: &api.AnthropicUsage{OutputTokens: e.outputTokens},
			},
			api.StreamEvent{Type: "message_stop"},
		)
	}

	return events
}

func (e *AnthropicStreamEncoder) startBlock(blockType string, block *api.ContentBlock) api.StreamEvent {
	e.blockType = blockType
	e.blockIndex = e.nextIndex
	e.nextIndex++
	return api.StreamEvent{
		Type:         "content_block_start",
		Index:        e.blockIndex,
		ContentBlock: block,
	}
}

func (e *AnthropicStreamEncoder) closeBlock() []api.StreamEvent {
	if e.blockType == "" {
		return nil
	}
	e.blockType = ""
	return []api.StreamEvent{{Type: "content_block_stop", Index: e.blockIndex}}
}

func chunkInputUsage(chunk *api.ChatResponse) *api.AnthropicUsage {
	if chunk.Usage == nil {
		return &api.AnthropicUsage{}
	}
	return &api.AnthropicUsage{InputTokens: chunk.Usage.PromptTokens}
}
