package pipeline

import (
	"context"
	"time"

	"github.com/nulzo/llm-gateway-api/internal/platform/logger"
	"go.uber.org/zap"
)

const startedAtKey = "logging.started_at"

// LoggingMiddleware records per-request usage: model, provider, latency
// and token counts, for both buffered and streamed completions.
type LoggingMiddleware struct {
	Base
}

func NewLoggingMiddleware() *LoggingMiddleware {
	return &LoggingMiddleware{}
}

func (m *LoggingMiddleware) Name() string { return "logging" }

func (m *LoggingMiddleware) BeforeRequest(_ context.Context, rc *RequestContext) (*RequestContext, error) {
	return rc.With(WithRequestMeta(startedAtKey, time.Now())), nil
}

func (m *LoggingMiddleware) AfterResponse(_ context.Context, rc *ResponseContext) (*ResponseContext, error) {
	if rc.Streaming {
		// Streamed requests are logged from OnStreamComplete instead.
		return rc, nil
	}

	fields := []zap.Field{
		zap.String("request_id", rc.Request.RequestID),
		zap.String("provider", rc.Request.Provider),
		zap.String("model", rc.Request.Model),
		zap.Duration("duration", sinceStart(rc.Request)),
	}
	if rc.Response != nil && rc.Response.Usage != nil {
		fields = append(fields,
			zap.Int("prompt_tokens", rc.Response.Usage.PromptTokens),
			zap.Int("completion_tokens", rc.Response.Usage.CompletionTokens),
		)
	}
	logger.Info("request completed", fields...)
	return rc, nil
}

func (m *LoggingMiddleware) OnStreamChunk(_ context.Context, sc *StreamChunkContext) (*StreamChunkContext, error) {
	if sc.Chunk != nil && sc.Chunk.Usage != nil {
		return sc.With(
			WithAccumulated("prompt_tokens", sc.Chunk.Usage.PromptTokens),
			WithAccumulated("completion_tokens", sc.Chunk.Usage.CompletionTokens),
		), nil
	}
	return sc, nil
}

func (m *LoggingMiddleware) OnStreamComplete(_ context.Context, rc *RequestContext, accumulated map[string]interface{}) {
	fields := []zap.Field{
		zap.String("request_id", rc.RequestID),
		zap.String("provider", rc.Provider),
		zap.String("model", rc.Model),
		zap.Duration("duration", sinceStart(rc)),
	}
	if v, ok := accumulated["prompt_tokens"].(int); ok {
		fields = append(fields, zap.Int("prompt_tokens", v))
	}
	if v, ok := accumulated["completion_tokens"].(int); ok {
		fields = append(fields, zap.Int("completion_tokens", v))
	}
	logger.Info("stream completed", fields...)
}

func sinceStart(rc *RequestContext) time.Duration {
	if t, ok := rc.Metadata[startedAtKey].(time.Time); ok {
		return time.Since(t)
	}
	return 0
}
