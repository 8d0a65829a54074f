package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/nulzo/llm-gateway-api/internal/platform/logger"
	"go.uber.org/zap"
)

// Middleware is one pluggable processing stage. Hook implementations
// must be pure with respect to their context argument: they return a
// new, updated copy rather than mutating the input.
type Middleware interface {
	Name() string

	// ShouldHandle filters the middleware in or out for one request.
	ShouldHandle(provider, model string) bool

	BeforeRequest(ctx context.Context, rc *RequestContext) (*RequestContext, error)
	AfterResponse(ctx context.Context, rc *ResponseContext) (*ResponseContext, error)
	OnStreamChunk(ctx context.Context, sc *StreamChunkContext) (*StreamChunkContext, error)

	// OnStreamComplete fires exactly once per stream, after the terminal
	// chunk, with the fully accumulated metadata.
	OnStreamComplete(ctx context.Context, rc *RequestContext, accumulated map[string]interface{})

	Initialize(ctx context.Context) error
	Cleanup(ctx context.Context) error
}

// Base provides no-op hook implementations so middlewares only override
// what they need.
type Base struct{}

func (Base) ShouldHandle(string, string) bool { return true }

func (Base) BeforeRequest(_ context.Context, rc *RequestContext) (*RequestContext, error) {
	return rc, nil
}

func (Base) AfterResponse(_ context.Context, rc *ResponseContext) (*ResponseContext, error) {
	return rc, nil
}

func (Base) OnStreamChunk(_ context.Context, sc *StreamChunkContext) (*StreamChunkContext, error) {
	return sc, nil
}

func (Base) OnStreamComplete(context.Context, *RequestContext, map[string]interface{}) {}

func (Base) Initialize(context.Context) error { return nil }
func (Base) Cleanup(context.Context) error    { return nil }

// Chain threads contexts through an ordered list of middlewares. All
// middlewares must be registered before Initialize; Initialize and
// Cleanup run exactly once each from the process startup/shutdown path,
// never concurrently with request processing.
type Chain struct {
	middlewares []Middleware
	initialized bool
}

func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{middlewares: middlewares}
}

// Use registers a middleware. Panics after Initialize: registration
// order is part of the chain's contract and must be fixed at startup.
func (c *Chain) Use(m Middleware) {
	if c.initialized {
		panic("pipeline: Use called after Initialize")
	}
	c.middlewares = append(c.middlewares, m)
}

// Initialize calls each middleware's Initialize in registration order.
// The first failure aborts startup.
func (c *Chain) Initialize(ctx context.Context) error {
	for _, m := range c.middlewares {
		if err := m.Initialize(ctx); err != nil {
			return fmt.Errorf("middleware %q initialize: %w", m.Name(), err)
		}
	}
	c.initialized = true
	return nil
}

// Cleanup calls each middleware's Cleanup in reverse registration
// order. Individual failures are logged, not propagated.
func (c *Chain) Cleanup(ctx context.Context) {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		m := c.middlewares[i]
		if err := m.Cleanup(ctx); err != nil {
			logger.Error("middleware cleanup failed",
				zap.String("middleware", m.Name()),
				zap.Error(err),
			)
		}
	}
}

// ProcessRequest runs the request phase: each applicable middleware's
// BeforeRequest in registration order, each hook's output feeding the
// next hook. A hook error aborts the remainder of the phase.
func (c *Chain) ProcessRequest(ctx context.Context, rc *RequestContext) (*RequestContext, error) {
	current := rc
	for _, m := range c.middlewares {
		if !m.ShouldHandle(current.Provider, current.Model) {
			continue
		}
		next, err := m.BeforeRequest(ctx, current)
		if err != nil {
			c.logHookError("before_request", m, current, err)
			return nil, err
		}
		current = next
	}
	return current, nil
}

// ProcessResponse runs the response phase.
func (c *Chain) ProcessResponse(ctx context.Context, rc *ResponseContext) (*ResponseContext, error) {
	current := rc
	for _, m := range c.middlewares {
		if !m.ShouldHandle(current.Request.Provider, current.Request.Model) {
			continue
		}
		next, err := m.AfterResponse(ctx, current)
		if err != nil {
			c.logHookError("after_response", m, current.Request, err)
			return nil, err
		}
		current = next
	}
	return current, nil
}

// ProcessChunk runs the per-chunk phase for one streamed delta.
func (c *Chain) ProcessChunk(ctx context.Context, sc *StreamChunkContext) (*StreamChunkContext, error) {
	current := sc
	for _, m := range c.middlewares {
		if !m.ShouldHandle(current.Request.Provider, current.Request.Model) {
			continue
		}
		next, err := m.OnStreamChunk(ctx, current)
		if err != nil {
			c.logHookError("on_stream_chunk", m, current.Request, err)
			return nil, err
		}
		current = next
	}
	return current, nil
}

// completeStream notifies applicable middlewares that the stream ended.
func (c *Chain) completeStream(ctx context.Context, rc *RequestContext, accumulated map[string]interface{}) {
	for _, m := range c.middlewares {
		if !m.ShouldHandle(rc.Provider, rc.Model) {
			continue
		}
		m.OnStreamComplete(ctx, rc, accumulated)
	}
}

func (c *Chain) logHookError(phase string, m Middleware, rc *RequestContext, err error) {
	logger.Error("middleware hook failed",
		zap.String("phase", phase),
		zap.String("middleware", m.Name()),
		zap.String("provider", rc.Provider),
		zap.String("model", rc.Model),
		zap.String("request_id", rc.RequestID),
		zap.Error(err),
	)
}

// StreamSession owns the per-stream chunk state: the monotonically
// growing accumulated metadata and the exactly-once completion. Callers
// must defer Complete so completion still fires when the client
// disconnects mid-stream.
type StreamSession struct {
	chain       *Chain
	request     *RequestContext
	accumulated map[string]interface{}
	once        sync.Once
}

func (c *Chain) NewStreamSession(rc *RequestContext) *StreamSession {
	return &StreamSession{
		chain:       c,
		request:     rc,
		accumulated: make(map[string]interface{}),
	}
}

// ProcessChunk runs the chunk through the chain, folding any metadata
// the middlewares accumulated back into the session.
func (s *StreamSession) ProcessChunk(ctx context.Context, chunk *StreamChunkContext) (*StreamChunkContext, error) {
	chunk.Accumulated = mergeMeta(s.accumulated, chunk.Accumulated)
	out, err := s.chain.ProcessChunk(ctx, chunk)
	if err != nil {
		return nil, err
	}
	s.accumulated = out.Accumulated
	return out, nil
}

// Complete fires OnStreamComplete exactly once with everything the
// chunks accumulated. Safe to call from a defer alongside an explicit
// call on the terminal chunk.
func (s *StreamSession) Complete(ctx context.Context) {
	s.once.Do(func() {
		s.chain.completeStream(ctx, s.request, s.accumulated)
	})
}

// Accumulated returns the metadata gathered so far.
func (s *StreamSession) Accumulated() map[string]interface{} {
	return s.accumulated
}

func mergeMeta(base, extra map[string]interface{}) map[string]interface{} {
	out := copyMeta(base)
	for k, v := range extra {
		out[k] = v
	}
	return out
}
