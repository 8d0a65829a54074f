package convert

import (
	"encoding/json"
	"testing"

	"github.com/nulzo/llm-gateway-api/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicResponseToChat(t *testing.T) {
	resp := &api.MessagesResponse{
		ID:         "msg_123",
		Model:      "claude-sonnet-4",
		StopReason: "end_turn",
		Content: []api.ContentBlock{
			{Type: "text", Text: "Hello "},
			{Type: "text", Text: "world"},
		},
		Usage: &api.AnthropicUsage{InputTokens: 10, OutputTokens: 5},
	}

	out := AnthropicResponseToChat(resp)
	assert.Equal(t, "msg_123", out.ID)
	assert.Equal(t, "chat.completion", out.Object)
	require.Len(t, out.Choices, 1)
	assert.Equal(t, "Hello world", out.Choices[0].Message.Content.Text)
	assert.Equal(t, "stop", out.Choices[0].FinishReason)
	require.NotNil(t, out.Usage)
	assert.Equal(t, 10, out.Usage.PromptTokens)
	assert.Equal(t, 5, out.Usage.CompletionTokens)
	assert.Equal(t, 15, out.Usage.TotalTokens)
}

func TestAnthropicResponseToChatToolUse(t *testing.T) {
	resp := &api.MessagesResponse{
		ID:         "msg_1",
		StopReason: "tool_use",
		Content: []api.ContentBlock{
			{Type: "tool_use", ID: "toolu_1", Name: "get_weather", Input: json.RawMessage(`{"city":"SF"}`)},
		},
	}

	out := AnthropicResponseToChat(resp)
	require.Len(t, out.Choices, 1)
	choice := out.Choices[0]
	assert.Equal(t, "tool_calls", choice.FinishReason)
	require.Len(t, choice.Message.ToolCalls, 1)
	call := choice.Message.ToolCalls[0]
	assert.Equal(t, "toolu_1", call.ID)
	assert.Equal(t, "function", call.Type)
	assert.Equal(t, "get_weather", call.Function.Name)
	assert.JSONEq(t, `{"city":"SF"}`, call.Function.Arguments)
}

func TestChatResponseToAnthropic(t *testing.T) {
	resp := &api.ChatResponse{
		ID:    "chatcmpl-1",
		Model: "gpt-4o",
		Choices: []api.Choice{{
			Message:      &api.ChatMessage{Role: "assistant", Content: api.Content{Text: "hi"}},
			FinishReason: "stop",
		}},
		Usage: &api.ResponseUsage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10},
	}

	out := ChatResponseToAnthropic(resp)
	assert.Equal(t, "chatcmpl-1", out.ID)
	assert.Equal(t, "message", out.Type)
	assert.Equal(t, "assistant", out.Role)
	assert.Equal(t, "end_turn", out.StopReason)
	require.Len(t, out.Content, 1)
	assert.Equal(t, "hi", out.Content[0].Text)
	require.NotNil(t, out.Usage)
	assert.Equal(t, 7, out.Usage.InputTokens)
	assert.Equal(t, 3, out.Usage.OutputTokens)
}

func TestChatResponseToAnthropicToolCalls(t *testing.T) {
	resp := &api.ChatResponse{
		Choices: []api.Choice{{
			Message: &api.ChatMessage{
				Role: "assistant",
				ToolCalls: []api.ToolCall{{
					ID:       "call_1",
					Type:     "function",
					Function: api.FunctionCall{Name: "get_weather", Arguments: ""},
				}},
			},
			FinishReason: "tool_calls",
		}},
	}

	out := ChatResponseToAnthropic(resp)
	assert.Equal(t, "tool_use", out.StopReason)
	require.Len(t, out.Content, 1)
	block := out.Content[0]
	assert.Equal(t, "tool_use", block.Type)
	assert.Equal(t, "call_1", block.ID)
	// Empty argument strings normalize to an empty JSON object.
	assert.Equal(t, "{}", string(block.Input))
}

func TestChatResponseToAnthropicEmptyContentNotNull(t *testing.T) {
	out := ChatResponseToAnthropic(&api.ChatResponse{})
	require.NotNil(t, out.Content)

	raw, err := json.Marshal(out)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"content":[]`)
}

func TestStopReasonMappingRoundTrip(t *testing.T) {
	cases := map[string]string{
		"tool_use":   "tool_calls",
		"max_tokens": "length",
		"end_turn":   "stop",
	}
	for stop, finish := range cases {
		assert.Equal(t, finish, stopReasonToFinish(stop))
	}
	assert.Equal(t, "tool_use", finishToStopReason("tool_calls"))
	assert.Equal(t, "max_tokens", finishToStopReason("length"))
	assert.Equal(t, "end_turn", finishToStopReason("stop"))
}
