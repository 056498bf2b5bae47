package segmenter

import (
	"fmt"
	"regexp"
	"strings"
)

// ChunkType classifies the structural role of a chunk.
type ChunkType string

const (
	TypeHeading   ChunkType = "heading"
	TypeParagraph ChunkType = "paragraph"
	TypeList      ChunkType = "list"
	TypeTable     ChunkType = "table"
)

// Chunk is a bounded unit of source text with one structural type. Position
// is unique and strictly increasing across a document; chunks are read-only
// after creation.
type Chunk struct {
	ID       string    `json:"id"`
	Position int       `json:"position"`
	Text     string    `json:"text"`
	Type     ChunkType `json:"type"`
	Level    int       `json:"level,omitempty"`   // heading nesting level
	Heading  string    `json:"heading,omitempty"` // extracted heading text
}

// DefaultTokenBudget is the per-chunk token ceiling used when the caller
// does not override it.
const DefaultTokenBudget = 800

// EstimateTokens approximates the token count of a text segment as
// ceil(len/4). Good enough to keep chunks inside a remote model's window.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

var (
	blankLine   = regexp.MustCompile(`\n[ \t]*\n`)
	sentenceEnd = regexp.MustCompile(`([.!?。！？])\s+`)
)

// Split divides reconstructed document text into typed chunks whose token
// estimate stays within budget. Paragraphs (blank-line separated) are
// accumulated and flushed before the budget would be exceeded; a paragraph
// that alone exceeds the budget is further split on sentence boundaries.
// The only chunk that may exceed the budget is a single oversize sentence.
func Split(text string, budget int) []Chunk {
	if budget <= 0 {
		budget = DefaultTokenBudget
	}

	var chunks []Chunk
	emit := func(body string) {
		body = strings.TrimSpace(body)
		if body == "" {
			return
		}
		pos := len(chunks)
		c := classify(body)
		c.ID = fmt.Sprintf("chunk-%d", pos)
		c.Position = pos
		chunks = append(chunks, c)
	}

	var buf []string
	bufChars := 0 // length of the chunk body if flushed now, separators included
	flush := func() {
		if len(buf) == 0 {
			return
		}
		emit(strings.Join(buf, "\n\n"))
		buf = nil
		bufChars = 0
	}

	for _, para := range blankLine.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if EstimateTokens(para) > budget {
			// Oversize paragraph: flush what we have, then pack its
			// sentences into budget-sized chunks.
			flush()
			for _, piece := range packSentences(para, budget) {
				emit(piece)
			}
			continue
		}

		joined := bufChars + len(para)
		if len(buf) > 0 {
			joined += 2 // "\n\n"
		}
		if len(buf) > 0 && (joined+3)/4 > budget {
			flush()
			joined = len(para)
		}
		buf = append(buf, para)
		bufChars = joined
	}
	flush()

	return chunks
}

// splitSentences splits on sentence-terminal punctuation followed by
// whitespace, keeping the punctuation with the preceding sentence.
func splitSentences(para string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceEnd.FindAllStringSubmatchIndex(para, -1) {
		// loc[3] is the end of the punctuation group; whitespace is dropped.
		out = append(out, strings.TrimSpace(para[last:loc[3]]))
		last = loc[1]
	}
	if rest := strings.TrimSpace(para[last:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

// packSentences accumulates sentences into budget-sized pieces. A single
// sentence above the budget is emitted on its own.
func packSentences(para string, budget int) []string {
	var pieces []string
	var buf []string
	bufChars := 0
	flush := func() {
		if len(buf) > 0 {
			pieces = append(pieces, strings.Join(buf, " "))
			buf = nil
			bufChars = 0
		}
	}

	for _, sent := range splitSentences(para) {
		joined := bufChars + len(sent)
		if len(buf) > 0 {
			joined++ // " "
		}
		if len(buf) > 0 && (joined+3)/4 > budget {
			flush()
			joined = len(sent)
		}
		buf = append(buf, sent)
		bufChars = joined
	}
	flush()
	return pieces
}
