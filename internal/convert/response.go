package convert

import (
	"encoding/json"
	"time"

	"github.com/nulzo/llm-gateway-api/pkg/api"
)

// AnthropicResponseToChat converts a buffered Anthropic messages
// response into an OpenAI chat completion. Text blocks concatenate into
// the message content; tool_use blocks become tool_calls.
func AnthropicResponseToChat(resp *api.MessagesResponse) *api.ChatResponse {
	msg := api.ChatMessage{Role: "assistant"}

	var textParts []string
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			textParts = append(textParts, block.Text)
		case "tool_use":
			args := "{}"
			if len(block.Input) > 0 {
				args = string(block.Input)
			}
			msg.ToolCalls = append(msg.ToolCalls, api.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: api.FunctionCall{
					Name:      block.Name,
					Arguments: args,
				},
			})
		}
	}
	msg.Content = api.Content{Text: joinNonEmpty(textParts, "")}

	out := &api.ChatResponse{
		ID:      respID(resp.ID),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
		Choices: []api.Choice{{
			Index:        0,
			Message:      &msg,
			FinishReason: stopReasonToFinish(resp.StopReason),
		}},
	}
	if resp.Usage != nil {
		out.Usage = &api.ResponseUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}
	return out
}

// ChatResponseToAnthropic converts an OpenAI chat completion into an
// Anthropic messages response.
func ChatResponseToAnthropic(resp *api.ChatResponse) *api.MessagesResponse {
	out := &api.MessagesResponse{
		ID:    resp.ID,
		Type:  "message",
		Role:  "assistant",
		Model: resp.Model,
	}

	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		out.StopReason = finishToStopReason(choice.FinishReason)

		if choice.Message != nil {
			if text := flattenText(choice.Message.Content); text != "" {
				out.Content = append(out.Content, api.ContentBlock{Type: "text", Text: text})
			}
			for _, call := range choice.Message.ToolCalls {
				input := json.RawMessage(call.Function.Arguments)
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				out.Content = append(out.Content, api.ContentBlock{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  call.Function.Name,
					Input: input,
				})
			}
		}
	}
	if out.Content == nil {
		out.Content = []api.ContentBlock{}
	}

	if resp.Usage != nil {
		out.Usage = &api.AnthropicUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	return out
}

func respID(id string) string {
	if id == "" {
		return "chatcmpl-anthropic"
	}
	return id
}

func stopReasonToFinish(stopReason string) string {
	switch stopReason {
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	default:
		return "stop"
	}
}

func finishToStopReason(finishReason string) string {
	switch finishReason {
	case "tool_calls":
		return "tool_use"
	case "length":
		return "max_tokens"
	default:
		return "end_turn"
	}
}
