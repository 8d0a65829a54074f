package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/nulzo/llm-gateway-api/internal/platform/logger"
	"github.com/nulzo/llm-gateway-api/internal/store/cache"
	"github.com/nulzo/llm-gateway-api/pkg/api"
	"go.uber.org/zap"
)

const conversationKeyPrefix = "conversation:"

// ConversationMiddleware persists message history per conversation id so
// clients can send only the newest turn. History lives in the shared
// cache (memory or Redis) under a TTL; requests without a conversation
// id pass through untouched.
type ConversationMiddleware struct {
	Base
	store cache.CacheService
	ttl   time.Duration
}

func NewConversationMiddleware(store cache.CacheService, ttl time.Duration) *ConversationMiddleware {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &ConversationMiddleware{store: store, ttl: ttl}
}

func (m *ConversationMiddleware) Name() string { return "conversation" }

func (m *ConversationMiddleware) BeforeRequest(ctx context.Context, rc *RequestContext) (*RequestContext, error) {
	if rc.ConversationID == "" {
		return rc, nil
	}

	var history []api.ChatMessage
	err := m.store.Get(ctx, conversationKeyPrefix+rc.ConversationID, &history)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return rc, nil
		}
		return nil, err
	}

	merged := make([]api.ChatMessage, 0, len(history)+len(rc.Messages))
	merged = append(merged, history...)
	merged = append(merged, rc.Messages...)
	return rc.With(WithMessages(merged)), nil
}

func (m *ConversationMiddleware) AfterResponse(ctx context.Context, rc *ResponseContext) (*ResponseContext, error) {
	if rc.Streaming || rc.Request.ConversationID == "" || rc.Response == nil {
		return rc, nil
	}

	history := append([]api.ChatMessage(nil), rc.Request.Messages...)
	if len(rc.Response.Choices) > 0 && rc.Response.Choices[0].Message != nil {
		history = append(history, *rc.Response.Choices[0].Message)
	}
	if err := m.store.Set(ctx, conversationKeyPrefix+rc.Request.ConversationID, history, m.ttl); err != nil {
		// A failed history write degrades continuity, not the response.
		logger.Warn("conversation history write failed",
			zap.String("conversation_id", rc.Request.ConversationID),
			zap.Error(err),
		)
	}
	return rc, nil
}

func (m *ConversationMiddleware) OnStreamChunk(_ context.Context, sc *StreamChunkContext) (*StreamChunkContext, error) {
	if sc.Request.ConversationID == "" || sc.Chunk == nil || len(sc.Chunk.Choices) == 0 {
		return sc, nil
	}
	delta := sc.Chunk.Choices[0].Delta
	if delta == nil {
		return sc, nil
	}
	text := delta.Content.Text
	if text == "" {
		return sc, nil
	}
	prev, _ := sc.Accumulated["assistant_text"].(string)
	return sc.With(WithAccumulated("assistant_text", prev+text)), nil
}

func (m *ConversationMiddleware) OnStreamComplete(ctx context.Context, rc *RequestContext, accumulated map[string]interface{}) {
	if rc.ConversationID == "" {
		return
	}

	history := append([]api.ChatMessage(nil), rc.Messages...)
	if text, ok := accumulated["assistant_text"].(string); ok && text != "" {
		history = append(history, api.ChatMessage{
			Role:    "assistant",
			Content: api.Content{Text: text},
		})
	}
	if err := m.store.Set(ctx, conversationKeyPrefix+rc.ConversationID, history, m.ttl); err != nil {
		logger.Warn("conversation history write failed",
			zap.String("conversation_id", rc.ConversationID),
			zap.Error(err),
		)
	}
}
