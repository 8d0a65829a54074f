package processing

import "strings"

const (
	ThinkStart = "<think>"
	ThinkEnd   = "</think>"
)

// ExtractThinking splits a completed response into visible content and
// reasoning text. Multiple <think> blocks are all collected; an
// unterminated block treats the remainder as reasoning.
func ExtractThinking(text string) (content string, reasoning string) {
	var contentBuilder strings.Builder
	var reasoningBuilder strings.Builder

	cursor := 0
	for cursor < len(text) {
		start := strings.Index(text[cursor:], ThinkStart)
		if start == -1 {
			contentBuilder.WriteString(text[cursor:])
			break
		}

		contentBuilder.WriteString(text[cursor : cursor+start])
		cursor += start + len(ThinkStart)

		end := strings.Index(text[cursor:], ThinkEnd)
		if end == -1 {
			reasoningBuilder.WriteString(text[cursor:])
			break
		}

		reasoningBuilder.WriteString(text[cursor : cursor+end])
		cursor += end + len(ThinkEnd)
	}

	return contentBuilder.String(), reasoningBuilder.String()
}

// StreamParser separates reasoning from content across stream chunks.
// Tags can split at any byte boundary, so a possible partial tag at the
// end of a chunk is buffered until the next chunk resolves it.
type StreamParser struct {
	inBlock bool
	buffer  string
}

func NewStreamParser() *StreamParser {
	return &StreamParser{}
}

// Process consumes one chunk and returns the content and reasoning text
// it completes. Buffered partial-tag bytes are held back and never
// emitted until disambiguated.
func (p *StreamParser) Process(input string) (content string, reasoning string) {
	text := p.buffer + input
	p.buffer = ""

	var contentBuilder strings.Builder
	var reasoningBuilder strings.Builder

	cursor := 0
	for cursor < len(text) {
		tag := ThinkStart
		sink := &contentBuilder
		if p.inBlock {
			tag = ThinkEnd
			sink = &reasoningBuilder
		}

		if idx := strings.Index(text[cursor:], tag); idx != -1 {
			sink.WriteString(text[cursor : cursor+idx])
			cursor += idx + len(tag)
			p.inBlock = !p.inBlock
			continue
		}

		// No full tag: hold back the longest suffix that could still
		// grow into one.
		keep := partialTagSuffix(text[cursor:], tag)
		sink.WriteString(text[cursor : len(text)-keep])
		p.buffer = text[len(text)-keep:]
		break
	}

	return contentBuilder.String(), reasoningBuilder.String()
}

func partialTagSuffix(text, tag string) int {
	max := len(tag) - 1
	if len(text) < max {
		max = len(text)
	}
	for i := max; i > 0; i-- {
		if strings.HasPrefix(tag, text[len(text)-i:]) {
			return i
		}
	}
	return 0
}
