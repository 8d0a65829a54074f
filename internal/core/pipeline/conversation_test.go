package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/nulzo/llm-gateway-api/internal/store/cache"
	"github.com/nulzo/llm-gateway-api/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conversationCtx(id string) *RequestContext {
	return &RequestContext{
		RequestID:      "req-1",
		ConversationID: id,
		Provider:       "openai",
		Model:          "gpt-4o",
		Messages:       []api.ChatMessage{{Role: "user", Content: api.Content{Text: "second turn"}}},
		Metadata:       map[string]interface{}{},
	}
}

func TestConversationMergesHistory(t *testing.T) {
	store := cache.NewMemoryCache()
	m := NewConversationMiddleware(store, time.Minute)

	history := []api.ChatMessage{
		{Role: "user", Content: api.Content{Text: "first turn"}},
		{Role: "assistant", Content: api.Content{Text: "first answer"}},
	}
	require.NoError(t, store.Set(context.Background(), "conversation:conv-1", history, time.Minute))

	out, err := m.BeforeRequest(context.Background(), conversationCtx("conv-1"))
	require.NoError(t, err)
	require.Len(t, out.Messages, 3)
	assert.Equal(t, "first turn", out.Messages[0].Content.Text)
	assert.Equal(t, "first answer", out.Messages[1].Content.Text)
	assert.Equal(t, "second turn", out.Messages[2].Content.Text)
}

func TestConversationNoIDPassesThrough(t *testing.T) {
	m := NewConversationMiddleware(cache.NewMemoryCache(), time.Minute)

	rc := conversationCtx("")
	out, err := m.BeforeRequest(context.Background(), rc)
	require.NoError(t, err)
	assert.Same(t, rc, out)
}

func TestConversationUnknownIDStartsFresh(t *testing.T) {
	m := NewConversationMiddleware(cache.NewMemoryCache(), time.Minute)

	out, err := m.BeforeRequest(context.Background(), conversationCtx("never-seen"))
	require.NoError(t, err)
	assert.Len(t, out.Messages, 1)
}

func TestConversationPersistsAfterResponse(t *testing.T) {
	store := cache.NewMemoryCache()
	m := NewConversationMiddleware(store, time.Minute)

	rc := conversationCtx("conv-2")
	resp := &ResponseContext{
		Request: rc,
		Response: &api.ChatResponse{
			Choices: []api.Choice{{
				Message: &api.ChatMessage{Role: "assistant", Content: api.Content{Text: "the answer"}},
			}},
		},
		Metadata: map[string]interface{}{},
	}

	_, err := m.AfterResponse(context.Background(), resp)
	require.NoError(t, err)

	var saved []api.ChatMessage
	require.NoError(t, store.Get(context.Background(), "conversation:conv-2", &saved))
	require.Len(t, saved, 2)
	assert.Equal(t, "second turn", saved[0].Content.Text)
	assert.Equal(t, "assistant", saved[1].Role)
	assert.Equal(t, "the answer", saved[1].Content.Text)
}

func TestConversationPersistsWithoutAssistantMessage(t *testing.T) {
	store := cache.NewMemoryCache()
	m := NewConversationMiddleware(store, time.Minute)

	resp := &ResponseContext{
		Request:  conversationCtx("conv-nil"),
		Response: &api.ChatResponse{Choices: []api.Choice{{FinishReason: "stop"}}},
		Metadata: map[string]interface{}{},
	}
	_, err := m.AfterResponse(context.Background(), resp)
	require.NoError(t, err)

	var saved []api.ChatMessage
	require.NoError(t, store.Get(context.Background(), "conversation:conv-nil", &saved))
	assert.Len(t, saved, 1)
}

func TestConversationPersistLeavesRequestMessagesAlone(t *testing.T) {
	store := cache.NewMemoryCache()
	m := NewConversationMiddleware(store, time.Minute)

	// A messages slice with spare capacity: appending in place would
	// write the assistant turn into the caller-visible backing array.
	backing := make([]api.ChatMessage, 1, 4)
	backing[0] = api.ChatMessage{Role: "user", Content: api.Content{Text: "turn"}}
	rc := conversationCtx("conv-4")
	rc.Messages = backing

	resp := &ResponseContext{
		Request: rc,
		Response: &api.ChatResponse{
			Choices: []api.Choice{{
				Message: &api.ChatMessage{Role: "assistant", Content: api.Content{Text: "answer"}},
			}},
		},
		Metadata: map[string]interface{}{},
	}
	_, err := m.AfterResponse(context.Background(), resp)
	require.NoError(t, err)

	spare := backing[:2]
	assert.NotEqual(t, "answer", spare[1].Content.Text)

	m.OnStreamComplete(context.Background(), rc, map[string]interface{}{"assistant_text": "streamed answer"})
	spare = backing[:2]
	assert.NotEqual(t, "streamed answer", spare[1].Content.Text)
}

func TestConversationStreamAccumulatesAndPersists(t *testing.T) {
	store := cache.NewMemoryCache()
	m := NewConversationMiddleware(store, time.Minute)
	rc := conversationCtx("conv-3")

	acc := map[string]interface{}{}
	for _, piece := range []string{"str", "eam", "ed"} {
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
	}
	assert.Equal(t, "streamed", acc["assistant_text"])

	m.OnStreamComplete(context.Background(), rc, acc)

	var saved []api.ChatMessage
	require.NoError(t, store.Get(context.Background(), "conversation:conv-3", &saved))
	require.Len(t, saved, 2)
	assert.Equal(t, "streamed", saved[1].Content.Text)
}
