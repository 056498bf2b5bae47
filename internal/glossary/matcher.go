package glossary

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Match records every occurrence of one glossary term in a text. Positions
// are ascending byte offsets of match starts within the NFKC-normalized form
// of the text. Matching never mutates the text it runs over.
type Match struct {
	English   string `json:"english"`
	Chinese   string `json:"chinese"`
	Positions []int  `json:"positions"`
	Source    string `json:"source"`
}

// IdentifyTerms finds all glossary occurrences in text. The text is
// NFKC-normalized before matching, mirroring the normalization of terms at
// load time, so full-width and compatibility variants in the document still
// match their glossary entries. Terms are tried in descending source-term
// length so a longer compound term claims its span before any shorter term
// it contains; offsets inside claimed spans are not reported again. Entries
// with zero remaining occurrences are omitted.
func (g *Glossary) IdentifyTerms(text string) []Match {
	text = norm.NFKC.String(text)

	entries := make([]Entry, len(g.Entries))
	copy(entries, g.Entries)
	sort.SliceStable(entries, func(i, j int) bool {
		return len(entries[i].English) > len(entries[j].English)
	})

	claimed := make([]bool, len(text))
	var matches []Match

	for _, e := range entries {
		term := strings.TrimSpace(e.English)
		if term == "" {
			continue
		}
		re, err := termPattern(term)
		if err != nil {
			continue
		}

		var positions []int
		for _, loc := range re.FindAllStringIndex(text, -1) {
			if spanClaimed(claimed, loc[0], loc[1]) {
				continue
			}
			positions = append(positions, loc[0])
			for i := loc[0]; i < loc[1]; i++ {
				claimed[i] = true
			}
		}
		if len(positions) > 0 {
			matches = append(matches, Match{
				English:   e.English,
				Chinese:   e.Chinese,
				Positions: positions,
				Source:    e.Source,
			})
		}
	}
	return matches
}

// termPattern compiles a case-insensitive, word-boundary-safe pattern for a
// term, with regexp metacharacters escaped.
func termPattern(term string) (*regexp.Regexp, error) {
	return regexp.Compile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
}

func spanClaimed(claimed []bool, start, end int) bool {
	for i := start; i < end && i < len(claimed); i++ {
		if claimed[i] {
			return true
		}
	}
	return false
}

// Coverage is the fraction of distinct glossary terms that were matched at
// least once anywhere in the document, computed post-batch.
func Coverage(g *Glossary, matched map[string]bool) float64 {
	if len(g.Entries) == 0 {
		return 0
	}
	distinct := make(map[string]bool, len(g.Entries))
	for _, e := range g.Entries {
		distinct[strings.ToLower(e.English)] = true
	}
	hit := 0
	for term := range distinct {
		if matched[term] {
			hit++
		}
	}
	return float64(hit) / float64(len(distinct))
}
