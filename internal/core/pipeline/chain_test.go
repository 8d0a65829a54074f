package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nulzo/llm-gateway-api/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingMiddleware appends its name to a shared trace on every hook
// so tests can assert ordering.
type recordingMiddleware struct {
	Base
	name      string
	trace     *[]string
	handle    func(provider, model string) bool
	beforeErr error
}

func (m *recordingMiddleware) Name() string { return m.name }

func (m *recordingMiddleware) ShouldHandle(provider, model string) bool {
	if m.handle == nil {
		return true
	}
	return m.handle(provider, model)
}

func (m *recordingMiddleware) BeforeRequest(_ context.Context, rc *RequestContext) (*RequestContext, error) {
	*m.trace = append(*m.trace, m.name+":before")
	if m.beforeErr != nil {
		return nil, m.beforeErr
	}
	return rc.With(WithRequestMeta(m.name, true)), nil
}

func (m *recordingMiddleware) AfterResponse(_ context.Context, rc *ResponseContext) (*ResponseContext, error) {
	*m.trace = append(*m.trace, m.name+":after")
	return rc, nil
}

func (m *recordingMiddleware) OnStreamChunk(_ context.Context, sc *StreamChunkContext) (*StreamChunkContext, error) {
	*m.trace = append(*m.trace, m.name+":chunk")
	return sc, nil
}

func (m *recordingMiddleware) OnStreamComplete(_ context.Context, _ *RequestContext, _ map[string]interface{}) {
	*m.trace = append(*m.trace, m.name+":complete")
}

func requestCtx() *RequestContext {
	return &RequestContext{
		RequestID: "req-1",
		Provider:  "openai",
		Model:     "gpt-4o",
		Messages:  []api.ChatMessage{{Role: "user", Content: api.Content{Text: "hi"}}},
		Metadata:  map[string]interface{}{},
	}
}

func TestChainRunsInRegistrationOrder(t *testing.T) {
	var trace []string
	chain := NewChain(
		&recordingMiddleware{name: "a", trace: &trace},
		&recordingMiddleware{name: "b", trace: &trace},
	)

	_, err := chain.ProcessRequest(context.Background(), requestCtx())
	require.NoError(t, err)
	assert.Equal(t, []string{"a:before", "b:before"}, trace)
}

func TestChainHookErrorAborts(t *testing.T) {
	var trace []string
	boom := errors.New("boom")
	chain := NewChain(
		&recordingMiddleware{name: "a", trace: &trace, beforeErr: boom},
		&recordingMiddleware{name: "b", trace: &trace},
	)

	_, err := chain.ProcessRequest(context.Background(), requestCtx())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a:before"}, trace, "later middleware must not run after a failure")
}

func TestChainShouldHandleFilters(t *testing.T) {
	var trace []string
	chain := NewChain(
		&recordingMiddleware{name: "anthropic-only", trace: &trace, handle: func(provider, _ string) bool {
			return provider == "anthropic"
		}},
		&recordingMiddleware{name: "all", trace: &trace},
	)

	_, err := chain.ProcessRequest(context.Background(), requestCtx())
	require.NoError(t, err)
	assert.Equal(t, []string{"all:before"}, trace)
}

func TestChainOutputFeedsNextHook(t *testing.T) {
	var trace []string
	chain := NewChain(
		&recordingMiddleware{name: "first", trace: &trace},
		&recordingMiddleware{name: "second", trace: &trace},
	)

	out, err := chain.ProcessRequest(context.Background(), requestCtx())
	require.NoError(t, err)
	assert.Equal(t, true, out.Metadata["first"])
	assert.Equal(t, true, out.Metadata["second"])
}

func TestChainUsePanicsAfterInitialize(t *testing.T) {
	chain := NewChain()
	require.NoError(t, chain.Initialize(context.Background()))
	assert.Panics(t, func() {
		chain.Use(&recordingMiddleware{name: "late", trace: new([]string)})
	})
}

func TestRequestContextImmutable(t *testing.T) {
	rc := requestCtx()
	updated := rc.With(
		WithModel("other-model"),
		WithRequestMeta("k", "v"),
		WithMessages([]api.ChatMessage{{Role: "system", Content: api.Content{Text: "s"}}}),
	)

	assert.Equal(t, "gpt-4o", rc.Model, "original must not change")
	assert.Empty(t, rc.Metadata)
	assert.Len(t, rc.Messages, 1)
	assert.Equal(t, "user", rc.Messages[0].Role)

	assert.Equal(t, "other-model", updated.Model)
	assert.Equal(t, "v", updated.Metadata["k"])
	assert.Equal(t, "system", updated.Messages[0].Role)
}

func TestStreamChunkContextImmutable(t *testing.T) {
	sc := &StreamChunkContext{
		Chunk:       &api.ChatResponse{},
		Request:     requestCtx(),
		Accumulated: map[string]interface{}{"seen": 1},
	}
	updated := sc.With(WithAccumulated("seen", 2))

	assert.Equal(t, 1, sc.Accumulated["seen"])
	assert.Equal(t, 2, updated.Accumulated["seen"])
}

func TestStreamSessionAccumulates(t *testing.T) {
	var trace []string
	chain := NewChain(&recordingMiddleware{name: "m", trace: &trace})
	rc := requestCtx()
	session := chain.NewStreamSession(rc)

	chunk := &StreamChunkContext{
		Chunk:       &api.ChatResponse{},
		Request:     rc,
		Accumulated: map[string]interface{}{"tokens": 3},
	}
	_, err := session.ProcessChunk(context.Background(), chunk)
	require.NoError(t, err)

	// Metadata from the first chunk is visible on the second.
	second := &StreamChunkContext{
		Chunk:       &api.ChatResponse{},
		Request:     rc,
		Accumulated: map[string]interface{}{},
	}
	out, err := session.ProcessChunk(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Accumulated["tokens"])
	assert.Equal(t, 3, session.Accumulated()["tokens"])
}

func TestStreamSessionCompleteExactlyOnce(t *testing.T) {
	var trace []string
	chain := NewChain(&recordingMiddleware{name: "m", trace: &trace})
	session := chain.NewStreamSession(requestCtx())

	session.Complete(context.Background())
	session.Complete(context.Background())

	completions := 0
	for _, entry := range trace {
		if strings.HasSuffix(entry, ":complete") {
			completions++
		}
	}
	assert.Equal(t, 1, completions)
}

func TestCleanupRunsInReverseOrder(t *testing.T) {
	var order []string
	a := &cleanupMiddleware{name: "a", order: &order}
	b := &cleanupMiddleware{name: "b", order: &order}
	chain := NewChain(a, b)

	chain.Cleanup(context.Background())
	assert.Equal(t, []string{"b", "a"}, order)
}

type cleanupMiddleware struct {
	Base
	name  string
	order *[]string
}

func (m *cleanupMiddleware) Name() string { return m.name }

func (m *cleanupMiddleware) Cleanup(context.Context) error {
	*m.order = append(*m.order, m.name)
	return nil
}
