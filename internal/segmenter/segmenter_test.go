package segmenter

import (
	"strings"
	"testing"
)

// ========== EstimateTokens ==========

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 800), 200},
	}
	for _, c := range cases {
		if got := EstimateTokens(c.text); got != c.want {
			t.Errorf("EstimateTokens(%d chars) = %d, want %d", len(c.text), got, c.want)
		}
	}
}

// ========== Split ==========

func TestSplit_EmptyInput(t *testing.T) {
	if chunks := Split("", 800); len(chunks) != 0 {
		t.Errorf("expected no chunks for empty input, got %d", len(chunks))
	}
	if chunks := Split("\n\n  \n\n", 800); len(chunks) != 0 {
		t.Errorf("expected no chunks for blank input, got %d", len(chunks))
	}
}

func TestSplit_PositionsStrictlyIncreasing(t *testing.T) {
	text := "First paragraph here.\n\nSecond paragraph here.\n\nThird paragraph here."
	chunks := Split(text, 10)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Position != i {
			t.Errorf("chunk %d has position %d", i, c.Position)
		}
	}
}

func TestSplit_RespectsBudget(t *testing.T) {
	// Twenty short paragraphs with a small budget: every chunk must stay
	// within the budget because no single sentence exceeds it.
	var paras []string
	for i := 0; i < 20; i++ {
		paras = append(paras, "This sentence is about forty characters.")
	}
	text := strings.Join(paras, "\n\n")

	budget := 30
	for _, c := range Split(text, budget) {
		if got := EstimateTokens(c.Text); got > budget {
			t.Errorf("chunk %d has %d tokens, budget %d:\n%q", c.Position, got, budget, c.Text)
		}
	}
}

func TestSplit_OversizeParagraphSplitsOnSentences(t *testing.T) {
	sent := "The machine shall be guarded at all times. "
	para := strings.TrimSpace(strings.Repeat(sent, 20))
	budget := EstimateTokens(sent) * 3

	chunks := Split(para, budget)
	if len(chunks) < 2 {
		t.Fatalf("oversize paragraph should split into several chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if got := EstimateTokens(c.Text); got > budget {
			t.Errorf("chunk %d exceeds budget: %d > %d", c.Position, got, budget)
		}
		if !strings.HasSuffix(c.Text, ".") {
			t.Errorf("chunk %d should end on a sentence boundary: %q", c.Position, c.Text)
		}
	}
}

func TestSplit_SingleOversizeSentenceEmittedAlone(t *testing.T) {
	sentence := strings.Repeat("word ", 200) + "end"
	chunks := Split(sentence, 10)
	if len(chunks) != 1 {
		t.Fatalf("an unsplittable sentence should become exactly one chunk, got %d", len(chunks))
	}
}

func TestSplit_RetainsSentencePunctuation(t *testing.T) {
	got := splitSentences("First point. Second point! Third point? Tail without punct")
	want := []string{"First point.", "Second point!", "Third point?", "Tail without punct"}
	if len(got) != len(want) {
		t.Fatalf("got %d sentences, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
}

// ========== classify ==========

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		body string
		want ChunkType
	}{
		{"markdown heading", "## Scope", TypeHeading},
		{"section keyword", "Section 4 Safety requirements", TypeHeading},
		{"chapter keyword", "chapter two", TypeHeading},
		{"numbered short", "4.2.1 Guards and protective devices", TypeHeading},
		{"title case short", "Safety Requirements Overview", TypeHeading},
		{"plain prose", "The equipment must comply with the directive.", TypeParagraph},
		{"long numbered line", "1. " + strings.Repeat("very long sentence text ", 10), TypeList},
		{"bullet list", "- first item\n- second item", TypeList},
		{"numbered list", "1) first\n2) second", TypeList},
		{"table", "a | b | c\nd | e | f\ng | h | i", TypeTable},
		{"pipes on one line only", "a | b | c | d | e | f", TypeParagraph},
	}
	for _, c := range cases {
		got := classify(c.body)
		if got.Type != c.want {
			t.Errorf("%s: classify(%q).Type = %q, want %q", c.name, c.body, got.Type, c.want)
		}
	}
}

func TestClassify_HeadingLevelAndText(t *testing.T) {
	got := classify("### Annex B")
	if got.Type != TypeHeading {
		t.Fatalf("expected heading, got %q", got.Type)
	}
	if got.Level != 3 {
		t.Errorf("level = %d, want 3", got.Level)
	}
	if got.Heading != "Annex B" {
		t.Errorf("heading text = %q, want %q", got.Heading, "Annex B")
	}
}

func TestClassify_DefaultHeadingLevel(t *testing.T) {
	got := classify("Section 1 General")
	if got.Type != TypeHeading {
		t.Fatalf("expected heading, got %q", got.Type)
	}
	if got.Level != 2 {
		t.Errorf("default level = %d, want 2", got.Level)
	}
}

func TestClassify_FirstLineDecidesWholeChunk(t *testing.T) {
	// Known behavior: a chunk beginning with a heading-like line is typed
	// heading even when body prose follows.
	body := "## Overview\nThe following clauses describe the scope in detail."
	if got := classify(body); got.Type != TypeHeading {
		t.Errorf("chunk starting with heading line should be typed heading, got %q", got.Type)
	}
}

// ========== Reassemble ==========

func TestReassemble_Empty(t *testing.T) {
	if got := Reassemble(nil); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestReassemble_HeadingSpacing(t *testing.T) {
	got := Reassemble([]Piece{
		{Type: TypeParagraph, Text: "intro"},
		{Type: TypeHeading, Text: "## Scope"},
		{Type: TypeParagraph, Text: "body"},
	})
	want := "intro\n\n\n## Scope\n\nbody"
	if got != want {
		t.Errorf("Reassemble = %q, want %q", got, want)
	}
}

func TestSplitThenReassemble_PreservesParagraphs(t *testing.T) {
	paras := []string{
		"The first paragraph talks about general requirements.",
		"The second paragraph talks about guarding.",
		"The third paragraph talks about maintenance and inspection.",
	}
	text := strings.Join(paras, "\n\n")

	chunks := Split(text, 20)
	var pieces []Piece
	for _, c := range chunks {
		pieces = append(pieces, Piece{Type: c.Type, Text: c.Text})
	}
	got := Reassemble(pieces)

	// Every paragraph survives, in order. Exact blank-line counts are not
	// part of the contract.
	lastIdx := -1
	for _, p := range paras {
		idx := strings.Index(got, p)
		if idx < 0 {
			t.Fatalf("paragraph lost in round trip: %q\noutput: %q", p, got)
		}
		if idx < lastIdx {
			t.Fatalf("paragraph order changed: %q\noutput: %q", p, got)
		}
		lastIdx = idx
	}
}
