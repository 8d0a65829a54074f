package processing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractThinking(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		wantContent   string
		wantReasoning string
	}{
		{
			name:        "no thinking",
			input:       "Hello world",
			wantContent: "Hello world",
		},
		{
			name:          "leading block",
			input:         "<think>Reasoning here</think>Hello world",
			wantContent:   "Hello world",
			wantReasoning: "Reasoning here",
		},
		{
			name:          "trailing block",
			input:         "Hello world<think>Reasoning here</think>",
			wantContent:   "Hello world",
			wantReasoning: "Reasoning here",
		},
		{
			name:          "block in the middle",
			input:         "Hello <think>Reasoning</think> world",
			wantContent:   "Hello  world",
			wantReasoning: "Reasoning",
		},
		{
			name:          "multiple blocks",
			input:         "<think>R1</think>C1<think>R2</think>C2",
			wantContent:   "C1C2",
			wantReasoning: "R1R2",
		},
		{
			name:          "unclosed block",
			input:         "Hello <think>Reasoning",
			wantContent:   "Hello ",
			wantReasoning: "Reasoning",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, reasoning := ExtractThinking(tt.input)
			assert.Equal(t, tt.wantContent, content)
			assert.Equal(t, tt.wantReasoning, reasoning)
		})
	}
}

func TestStreamParser(t *testing.T) {
	tests := []struct {
		name          string
		chunks        []string
		wantContent   string
		wantReasoning string
	}{
		{
			name:          "tags split across chunks",
			chunks:        []string{"<thi", "nk>Reasoning</th", "ink>Hello"},
			wantContent:   "Hello",
			wantReasoning: "Reasoning",
		},
		{
			name:          "byte by byte",
			chunks:        []string{"<", "t", "h", "i", "n", "k", ">", "R", "<", "/", "t", "h", "i", "n", "k", ">", "C"},
			wantContent:   "C",
			wantReasoning: "R",
		},
		{
			name:        "no tags at all",
			chunks:      []string{"plain ", "text"},
			wantContent: "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewStreamParser()
			var content, reasoning string
			for _, chunk := range tt.chunks {
				c, r := p.Process(chunk)
				content += c
				reasoning += r
			}
			assert.Equal(t, tt.wantContent, content)
			assert.Equal(t, tt.wantReasoning, reasoning)
		})
	}
}

func TestStreamParserBuffersPartialTag(t *testing.T) {
	p := NewStreamParser()

	// A possible tag prefix at the end of the stream is held back, not
	// emitted as content.
	content, reasoning := p.Process("Hello <thi")
	assert.Equal(t, "Hello ", content)
	assert.Empty(t, reasoning)

	// The next chunk shows it was not a tag after all.
	content, _ = p.Process("ng")
	assert.Equal(t, "<thing", content)
}
