package convert

import (
	"encoding/json"

	"github.com/nulzo/llm-gateway-api/internal/core/domain"
	"github.com/nulzo/llm-gateway-api/internal/processing"
	"github.com/nulzo/llm-gateway-api/pkg/api"
)

// ChatRequestToAnthropic converts an OpenAI chat request into an
// Anthropic messages request for providers speaking the Anthropic
// dialect. System messages are collected into the top-level system
// prompt; tool result messages become tool_result content blocks.
func ChatRequestToAnthropic(req *api.ChatRequest, resolvedModel string) (*api.MessagesRequest, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = req.MaxCompletionTokens
	}
	if maxTokens == 0 {
		return nil, domain.BadRequestError("max_tokens is required for this provider")
	}

	out := &api.MessagesRequest{
		Model:       resolvedModel,
		MaxTokens:   maxTokens,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		TopK:        req.TopK,
	}
	if req.Stop != nil {
		out.StopSequences = req.Stop.Val
	}

	var systemParts []string
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			systemParts = append(systemParts, flattenText(msg.Content))

		case "user", "assistant":
			out.Messages = append(out.Messages, api.AnthropicMessage{
				Role:    msg.Role,
				Content: chatContentToBlocks(msg),
			})

		case "tool":
			// OpenAI tool result message maps to an Anthropic user message
			// carrying a tool_result block.
			out.Messages = append(out.Messages, api.AnthropicMessage{
				Role: "user",
				Content: api.BlockSequence{Blocks: []api.ContentBlock{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   json.RawMessage(mustJSONString(flattenText(msg.Content))),
				}}},
			})
		}
	}

	if len(systemParts) > 0 {
		out.System = api.SystemPrompt{Text: joinNonEmpty(systemParts, "\n\n")}
	}

	for _, tool := range req.Tools {
		if tool.Type != "function" || tool.Function.Name == "" {
			continue
		}
		schema := tool.Function.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out.Tools = append(out.Tools, api.AnthropicTool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			InputSchema: schema,
		})
	}

	return out, nil
}

// AnthropicRequestToChat converts an Anthropic messages request into the
// OpenAI chat shape the dispatch core operates on.
func AnthropicRequestToChat(req *api.MessagesRequest) *api.ChatRequest {
	out := &api.ChatRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		TopK:        req.TopK,
	}
	if len(req.StopSequences) > 0 {
		out.Stop = &api.Stop{Val: req.StopSequences}
	}
	if req.Metadata != nil {
		out.User = req.Metadata.UserID
	}

	if !req.System.IsZero() {
		out.Messages = append(out.Messages, api.ChatMessage{
			Role:    "system",
			Content: api.Content{Text: systemText(req.System)},
		})
	}

	for _, msg := range req.Messages {
		out.Messages = append(out.Messages, blocksToChatMessages(msg)...)
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}

	return out
}

// blocksToChatMessages expands one Anthropic message into its OpenAI
// equivalents. tool_use blocks become assistant tool_calls; tool_result
// blocks become separate role=tool messages.
func blocksToChatMessages(msg api.AnthropicMessage) []api.ChatMessage {
	if msg.Content.Blocks == nil {
		return []api.ChatMessage{{
			Role:    msg.Role,
			Content: api.Content{Text: msg.Content.Text},
		}}
	}

	var out []api.ChatMessage
	current := api.ChatMessage{Role: msg.Role}
	var textParts []string

	flush := func() {
		if len(textParts) > 0 || len(current.ToolCalls) > 0 {
			current.Content = api.Content{Text: joinNonEmpty(textParts, "")}
			out = append(out, current)
			current = api.ChatMessage{Role: msg.Role}
			textParts = nil
		}
	}

	for _, block := range msg.Content.Blocks {
		switch block.Type {
		case "text":
			textParts = append(textParts, block.Text)

		case "image":
			if block.Source != nil {
				flush()
				out = append(out, api.ChatMessage{
					Role: msg.Role,
					Content: api.Content{Parts: []api.ContentPart{{
						Type: "image_url",
						ImageURL: &api.ImageURL{
							URL: "data:" + block.Source.MediaType + ";base64," + block.Source.Data,
						},
					}}},
				})
			}

		case "tool_use":
			args := "{}"
			if len(block.Input) > 0 {
				args = string(block.Input)
			}
			current.ToolCalls = append(current.ToolCalls, api.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: api.FunctionCall{
					Name:      block.Name,
					Arguments: args,
				},
			})

		case "tool_result":
			flush()
			out = append(out, api.ChatMessage{
				Role:       "tool",
				ToolCallID: block.ToolUseID,
				Content:    api.Content{Text: rawToText(block.Content)},
			})
		}
	}
	flush()

	return out
}

func chatContentToBlocks(msg api.ChatMessage) api.BlockSequence {
	if msg.Content.Parts == nil {
		return api.BlockSequence{Blocks: []api.ContentBlock{{Type: "text", Text: msg.Content.Text}}}
	}

	var blocks []api.ContentBlock
	for _, part := range msg.Content.Parts {
		switch part.Type {
		case "text":
			blocks = append(blocks, api.ContentBlock{Type: "text", Text: part.Text})
		case "image_url":
			if part.ImageURL == nil {
				continue
			}
			img, err := processing.ProcessImageURL(part.ImageURL.URL)
			if err != nil {
				// Unfetchable images are dropped rather than failing the
				// whole request.
				continue
			}
			blocks = append(blocks, api.ContentBlock{
				Type: "image",
				Source: &api.ImageSource{
					Type:      "base64",
					MediaType: img.MediaType,
					Data:      img.Data,
				},
			})
		}
	}
	return api.BlockSequence{Blocks: blocks}
}

func flattenText(c api.Content) string {
	if c.Parts == nil {
		return c.Text
	}
	var parts []string
	for _, p := range c.Parts {
		if p.Type == "text" {
			parts = append(parts, p.Text)
		}
	}
	return joinNonEmpty(parts, "")
}

func systemText(s api.SystemPrompt) string {
	if s.Blocks == nil {
		return s.Text
	}
	var parts []string
	for _, b := range s.Blocks {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		}
	}
	return joinNonEmpty(parts, "\n\n")
}

// rawToText unwraps a tool_result content payload: a JSON string becomes
// its value, anything else keeps its raw JSON text.
func rawToText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func mustJSONString(s string) []byte {
	b, _ := json.Marshal(s)
	return b
}

func joinNonEmpty(parts []string, sep string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += sep
		}
		out += p
	}
	return out
}
