package pipeline

import (
	"context"
	"testing"

	"github.com/nulzo/llm-gateway-api/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReasoningStripsThinkBlocks(t *testing.T) {
	m := NewReasoningMiddleware()

	rc := &ResponseContext{
		Request: requestCtx(),
		Response: &api.ChatResponse{
			Choices: []api.Choice{{
				Message: &api.ChatMessage{
					Role:    "assistant",
					Content: api.Content{Text: "<think>weighing options</think>The answer is 4."},
				},
			}},
		},
		Metadata: map[string]interface{}{},
	}

	out, err := m.AfterResponse(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, "The answer is 4.", out.Response.Choices[0].Message.Content.Text)
	assert.Equal(t, "weighing options", out.Metadata["reasoning"])

	// The input context is untouched.
	assert.Contains(t, rc.Response.Choices[0].Message.Content.Text, "<think>")
}

func TestReasoningNoThinkBlockPassesThrough(t *testing.T) {
	m := NewReasoningMiddleware()

	rc := &ResponseContext{
		Request: requestCtx(),
		Response: &api.ChatResponse{
			Choices: []api.Choice{{
				Message: &api.ChatMessage{Role: "assistant", Content: api.Content{Text: "plain answer"}},
			}},
		},
		Metadata: map[string]interface{}{},
	}

	out, err := m.AfterResponse(context.Background(), rc)
	require.NoError(t, err)
	assert.Same(t, rc, out)
}

func TestReasoningStreamSplitAcrossChunks(t *testing.T) {
	m := NewReasoningMiddleware()
	rc := requestCtx()

	// The tag is split across chunk boundaries.
	pieces := []string{"<thi", "nk>hidden", " thought</think>visi", "ble"}
	acc := map[string]interface{}{}
	var visible string
	for _, piece := range pieces {
		sc := &StreamChunkContext{
			Chunk: &api.ChatResponse{Choices: []api.Choice{{
				Delta: &api.ChatMessage{Content: api.Content{Text: piece}},
			}}},
			Request:     rc,
			Accumulated: acc,
		}
		out, err := m.OnStreamChunk(context.Background(), sc)
		require.NoError(t, err)
		acc = out.Accumulated
		visible += out.Chunk.Choices[0].Delta.Content.Text
	}

	assert.Equal(t, "visible", visible)
	assert.Equal(t, "hidden thought", acc["reasoning"])
}
