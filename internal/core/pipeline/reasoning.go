package pipeline

import (
	"context"

	"github.com/nulzo/llm-gateway-api/internal/processing"
	"github.com/nulzo/llm-gateway-api/pkg/api"
)

// ReasoningMiddleware strips <think> blocks out of model output and
// surfaces them as metadata instead, so clients get clean content while
// the reasoning stays observable. Stream chunks keep a stateful parser
// per stream because tags can split across chunk boundaries.
type ReasoningMiddleware struct {
	Base
}

func NewReasoningMiddleware() *ReasoningMiddleware {
	return &ReasoningMiddleware{}
}

func (m *ReasoningMiddleware) Name() string { return "reasoning" }

func (m *ReasoningMiddleware) AfterResponse(_ context.Context, rc *ResponseContext) (*ResponseContext, error) {
	if rc.Response == nil || len(rc.Response.Choices) == 0 {
		return rc, nil
	}
	choice := rc.Response.Choices[0]
	if choice.Message == nil || choice.Message.Content.Text == "" {
		return rc, nil
	}

	content, reasoning := processing.ExtractThinking(choice.Message.Content.Text)
	if reasoning == "" {
		return rc, nil
	}

	resp := *rc.Response
	resp.Choices = append([]api.Choice(nil), rc.Response.Choices...)
	msg := *choice.Message
	msg.Content = api.Content{Text: content}
	resp.Choices[0].Message = &msg

	return rc.With(
		WithResponse(&resp),
		WithResponseMeta("reasoning", reasoning),
	), nil
}

const streamParserKey = "reasoning.parser"

func (m *ReasoningMiddleware) OnStreamChunk(_ context.Context, sc *StreamChunkContext) (*StreamChunkContext, error) {
	if sc.Chunk == nil || len(sc.Chunk.Choices) == 0 || sc.Chunk.Choices[0].Delta == nil {
		return sc, nil
	}
	text := sc.Chunk.Choices[0].Delta.Content.Text
	if text == "" && !sc.Final {
		return sc, nil
	}

	parser, _ := sc.Accumulated[streamParserKey].(*processing.StreamParser)
	if parser == nil {
		parser = processing.NewStreamParser()
	}

	content, reasoning := parser.Process(text)

	chunk := *sc.Chunk
	chunk.Choices = append([]api.Choice(nil), sc.Chunk.Choices...)
	delta := *sc.Chunk.Choices[0].Delta
	delta.Content = api.Content{Text: content}
	chunk.Choices[0].Delta = &delta

	out := sc.With(
		WithChunk(&chunk),
		WithAccumulated(streamParserKey, parser),
	)
	if reasoning != "" {
		prev, _ := out.Accumulated["reasoning"].(string)
		out = out.With(WithAccumulated("reasoning", prev+reasoning))
	}
	return out, nil
}
