package test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nulzo/llm-gateway-api/internal/config"
	"github.com/nulzo/llm-gateway-api/internal/core/domain"
	"github.com/nulzo/llm-gateway-api/internal/gateway"
	"github.com/nulzo/llm-gateway-api/internal/server"
	"github.com/nulzo/llm-gateway-api/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const gatewayKey = "test-gateway-key"

// startGateway spins up a mock upstream plus a fully wired gateway in
// front of it and returns the gateway's base URL.
func startGateway(t *testing.T) string {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req api.ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if req.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
			flusher := w.(http.Flusher)
			for _, payload := range []string{
				`{"id":"c1","object":"chat.completion.chunk","choices":[{"delta":{"role":"assistant","content":"Hello"}}]}`,
				`{"id":"c1","object":"chat.completion.chunk","choices":[{"delta":{"content":" there"}}]}`,
				`{"id":"c1","object":"chat.completion.chunk","choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":2,"completion_tokens":2,"total_tokens":4}}`,
			} {
				fmt.Fprintf(w, "data: %s\n\n", payload)
				flusher.Flush()
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}

		json.NewEncoder(w).Encode(api.ChatResponse{
			ID:     "chatcmpl-e2e",
			Object: "chat.completion",
			Model:  req.Model,
			Choices: []api.Choice{{
				Message:      &api.ChatMessage{Role: "assistant", Content: api.Content{Text: "echo: " + req.Model}},
				FinishReason: "stop",
			}},
			Usage: &api.ResponseUsage{PromptTokens: 3, CompletionTokens: 5, TotalTokens: 8},
		})
	}))
	t.Cleanup(upstream.Close)

	cfg := &config.Config{
		Server: config.ServerConfig{
			Port:    "0",
			Env:     "development",
			APIKeys: []string{gatewayKey},
		},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 10000, Burst: 10000},
		Resolver:  config.ResolverConfig{CacheSize: 64, CacheTTLSecs: 60, MaxChainHops: 8},
		Providers: []domain.ProviderConfig{{
			Name:    "openai",
			Format:  domain.FormatOpenAI,
			BaseURL: upstream.URL,
			APIKeys: []string{"upstream-key"},
		}},
		DefaultProvider: "openai",
		Aliases: map[string]map[string]string{
			"openai": {"turbo": "gpt-3.5-turbo"},
		},
	}

	app, err := gateway.Bootstrap(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { app.Shutdown(context.Background()) })

	srv := httptest.NewServer(server.New(cfg, zap.NewNop(), app).Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func doJSON(t *testing.T, method, url string, payload interface{}, target interface{}) int {
	t.Helper()

	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+gatewayKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if target != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
	}
	return resp.StatusCode
}

func TestHealthCheck(t *testing.T) {
	base := startGateway(t)

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	base := startGateway(t)

	req, err := http.NewRequest("GET", base+"/v1/models", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestListModels(t *testing.T) {
	base := startGateway(t)

	var result api.ModelList
	code := doJSON(t, "GET", base+"/v1/models", nil, &result)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "list", result.Object)
	require.NotEmpty(t, result.Data)
	assert.Equal(t, "openai:gpt-3.5-turbo", result.Data[0].ID)
	assert.Contains(t, result.Data[0].Aliases, "turbo")
}

func TestChatCompletionSync(t *testing.T) {
	base := startGateway(t)

	req := api.ChatRequest{
		Model:    "turbo",
		Messages: []api.ChatMessage{{Role: "user", Content: api.Content{Text: "Say hi"}}},
	}

	var resp api.ChatResponse
	code := doJSON(t, "POST", base+"/v1/chat/completions", req, &resp)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "chat.completion", resp.Object)
	require.NotEmpty(t, resp.Choices)
	// The alias resolved before the request hit the upstream.
	assert.Equal(t, "echo: gpt-3.5-turbo", resp.Choices[0].Message.Content.Text)
}

func TestChatCompletionStream(t *testing.T) {
	base := startGateway(t)

	payload := `{"model":"turbo","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	req, err := http.NewRequest("POST", base+"/v1/chat/completions", strings.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+gatewayKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	raw := buf.String()

	assert.Contains(t, raw, `"content":"Hello"`)
	assert.Contains(t, raw, `"finish_reason":"stop"`)
	assert.Contains(t, raw, "data: [DONE]")
}

func TestMessagesEndpoint(t *testing.T) {
	base := startGateway(t)

	req := api.MessagesRequest{
		Model:     "turbo",
		MaxTokens: 100,
		Messages: []api.AnthropicMessage{
			{Role: "user", Content: api.BlockSequence{Text: "hello"}},
		},
	}

	var resp api.MessagesResponse
	code := doJSON(t, "POST", base+"/v1/messages", req, &resp)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "message", resp.Type)
	assert.Equal(t, "assistant", resp.Role)
	require.NotEmpty(t, resp.Content)
	assert.Equal(t, "echo: gpt-3.5-turbo", resp.Content[0].Text)
	assert.Equal(t, "end_turn", resp.StopReason)
}

func TestValidationError(t *testing.T) {
	base := startGateway(t)

	// Missing model, invalid role.
	payload := map[string]interface{}{
		"messages": []map[string]interface{}{
			{"role": "bad_role", "content": "hello"},
		},
	}

	var errResp map[string]interface{}
	code := doJSON(t, "POST", base+"/v1/chat/completions", payload, &errResp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Validation Error", errResp["title"])

	errs, ok := errResp["errors"].(map[string]interface{})
	require.True(t, ok, "problem document must carry the errors extension")
	assert.Contains(t, errs, "model")
}

func TestUnknownProviderRejected(t *testing.T) {
	base := startGateway(t)

	payload := `{"model":"some-model","messages":[{"role":"user","content":"hi"}]}`
	req, err := http.NewRequest("POST", base+"/v1/chat/completions", strings.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+gatewayKey)
	req.Header.Set("X-Provider", "nonexistent")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
