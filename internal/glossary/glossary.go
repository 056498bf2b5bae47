// Package glossary loads controlled terminology and finds its occurrences
// inside chunk text. Entries constrain the remote translation: every matched
// term carries a mandated target rendering.
package glossary

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Entry is one mandated source-term → target-term mapping. Source records
// where the entry came from (glossary file name, "user", ...). Immutable
// during a run.
type Entry struct {
	English string `json:"english"`
	Chinese string `json:"chinese"`
	Source  string `json:"source"`
}

// ErrEmpty is returned when ingestion produced no usable entries. A run must
// not start against an empty glossary.
var ErrEmpty = errors.New("glossary contains no usable entries")

// Glossary is the loaded terminology with its lookup index. The index is
// keyed by each entry's exact and lower-cased source term; duplicate keys
// resolve last-write-wins.
type Glossary struct {
	Entries []Entry
	Dropped int // rows skipped for missing a source or target value

	index map[string]Entry
}

// New builds a Glossary from already-typed entries.
func New(entries []Entry) *Glossary {
	g := &Glossary{Entries: entries, index: make(map[string]Entry, len(entries)*2)}
	for _, e := range entries {
		g.index[e.English] = e
		g.index[strings.ToLower(e.English)] = e
	}
	return g
}

// Find looks a term up by exact key first, then by its lower-cased form.
func (g *Glossary) Find(term string) (Entry, bool) {
	if e, ok := g.index[term]; ok {
		return e, true
	}
	e, ok := g.index[strings.ToLower(term)]
	return e, ok
}

// Load parses tabular glossary input (CSV, or TSV when the first line
// carries tabs). The source-term and target-term columns are located by
// header-name heuristics with a positional fallback to the first two
// columns. Rows missing either value are dropped and counted. Terms are
// NFKC-normalized at this boundary so full-width variants match later.
func Load(r io.Reader, source string) (*Glossary, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read glossary: %w", err)
	}

	cr := csv.NewReader(strings.NewReader(string(data)))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	if firstLine, _, ok := strings.Cut(string(data), "\n"); ok || len(data) > 0 {
		if strings.Contains(firstLine, "\t") {
			cr.Comma = '\t'
		}
	}

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse glossary: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrEmpty
	}

	srcCol, dstCol, hasHeader := detectColumns(records[0])
	rows := records
	if hasHeader {
		rows = records[1:]
	}

	var entries []Entry
	dropped := 0
	for _, row := range rows {
		if len(row) <= srcCol || len(row) <= dstCol {
			dropped++
			continue
		}
		en := strings.TrimSpace(norm.NFKC.String(row[srcCol]))
		zh := strings.TrimSpace(norm.NFKC.String(row[dstCol]))
		if en == "" || zh == "" {
			dropped++
			continue
		}
		entries = append(entries, Entry{English: en, Chinese: zh, Source: source})
	}

	if len(entries) == 0 {
		return nil, ErrEmpty
	}

	g := New(entries)
	g.Dropped = dropped
	return g, nil
}

// detectColumns finds the source and target columns from header names.
// Returns hasHeader=false when nothing matched, in which case the first row
// is data and the first two columns are used positionally.
func detectColumns(header []string) (srcCol, dstCol int, hasHeader bool) {
	srcCol, dstCol = 0, 1
	foundSrc, foundDst := false, false

	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		switch {
		case !foundSrc && isSourceHeader(h):
			srcCol = i
			foundSrc = true
		case !foundDst && isTargetHeader(h):
			dstCol = i
			foundDst = true
		}
	}
	if srcCol == dstCol {
		if srcCol == 0 {
			dstCol = 1
		} else {
			dstCol = 0
		}
	}
	return srcCol, dstCol, foundSrc || foundDst
}

func isSourceHeader(h string) bool {
	return h == "en" || strings.Contains(h, "english") ||
		strings.Contains(h, "term") || strings.Contains(h, "source")
}

func isTargetHeader(h string) bool {
	return h == "zh" || strings.Contains(h, "chinese") ||
		strings.Contains(h, "translation") || strings.Contains(h, "target")
}
