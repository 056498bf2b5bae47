package segmenter

import (
	"regexp"
	"strings"
	"unicode"
)

const shortLineLimit = 100

var (
	markerPrefix   = regexp.MustCompile(`^#{1,6}\s+`)
	sectionKeyword = regexp.MustCompile(`(?i)^(section|chapter|annex|appendix)\b`)
	numberedHead   = regexp.MustCompile(`^\d+(\.\d+)*\.?\s+\S`)
	listPattern    = regexp.MustCompile(`^\s*([-*•]|\d+[.)])\s+`)
)

// headingSignals are the classifier inputs, all computed from a chunk's
// first line. Kept as a struct so scoring stays a pure function.
type headingSignals struct {
	MarkerPrefix   bool // markdown-style #-marker
	SectionKeyword bool // section/chapter/annex/appendix
	NumberedShort  bool // "1.2.3 Title" style and under 100 chars
	TitleCaseShort bool // Title Case, short, no terminal punctuation
}

func collectSignals(firstLine string) headingSignals {
	short := len(firstLine) < shortLineLimit
	return headingSignals{
		MarkerPrefix:   markerPrefix.MatchString(firstLine),
		SectionKeyword: sectionKeyword.MatchString(firstLine),
		NumberedShort:  short && numberedHead.MatchString(firstLine),
		TitleCaseShort: short && isTitleCase(firstLine) && !hasTerminalPunct(firstLine),
	}
}

// headingScore weighs the signals; a score of 2 or more marks a heading.
func headingScore(s headingSignals) int {
	score := 0
	if s.MarkerPrefix {
		score += 5
	}
	if s.SectionKeyword {
		score += 5
	}
	if s.NumberedShort {
		score += 3
	}
	if s.TitleCaseShort {
		score += 2
	}
	return score
}

// classify assigns a structural type to a chunk body. The decision is made
// from the first line only; a chunk that merely starts with a heading-like
// line is typed heading as a whole.
func classify(body string) Chunk {
	lines := strings.Split(body, "\n")
	first := strings.TrimSpace(lines[0])

	if headingScore(collectSignals(first)) >= 2 {
		level, heading := headingLevel(first)
		return Chunk{Text: body, Type: TypeHeading, Level: level, Heading: heading}
	}

	if listPattern.MatchString(first) {
		return Chunk{Text: body, Type: TypeList}
	}

	if strings.Count(body, "|") > 4 && len(lines) > 2 {
		return Chunk{Text: body, Type: TypeTable}
	}

	return Chunk{Text: body, Type: TypeParagraph}
}

// headingLevel extracts the nesting level from leading #-markers (default 2
// when no marker is present) and the heading text with markers stripped.
func headingLevel(firstLine string) (int, string) {
	level := 0
	rest := firstLine
	for strings.HasPrefix(rest, "#") {
		level++
		rest = rest[1:]
	}
	if level == 0 {
		level = 2
	}
	return level, strings.TrimSpace(rest)
}

// isTitleCase reports whether the line reads as a title: the first word is
// capitalized and every word longer than 3 characters starts uppercase.
// Short connectives ("of", "and") are allowed in lowercase.
func isTitleCase(s string) bool {
	sawLetter := false
	for _, word := range strings.Fields(s) {
		r := firstLetter(word)
		if r == 0 {
			continue
		}
		if !sawLetter && !unicode.IsUpper(r) {
			return false
		}
		sawLetter = true
		if len(word) > 3 && !unicode.IsUpper(r) {
			return false
		}
	}
	return sawLetter
}

func firstLetter(word string) rune {
	for _, r := range word {
		if unicode.IsLetter(r) {
			return r
		}
	}
	return 0
}

func hasTerminalPunct(s string) bool {
	s = strings.TrimRight(s, " ")
	return strings.HasSuffix(s, ".") || strings.HasSuffix(s, "!") ||
		strings.HasSuffix(s, "?") || strings.HasSuffix(s, "。")
}
