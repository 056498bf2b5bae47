package extractor

import (
	"fmt"
	"sort"
	"strings"

	"doctrans/internal/layout"

	"github.com/ledongthuc/pdf"
)

// ExtractPDF extracts per-page positioned text runs from a PDF. Pages with
// no extractable text come back empty; the caller decides whether to fall
// back to the vision path for them.
func ExtractPDF(filePath string) ([][]layout.Run, error) {
	f, r, err := pdf.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	numPages := r.NumPage()
	pages := make([][]layout.Run, 0, numPages)

	for pageIndex := 1; pageIndex <= numPages; pageIndex++ {
		p := r.Page(pageIndex)
		if p.V.IsNull() {
			pages = append(pages, nil)
			continue
		}
		pages = append(pages, pageRuns(p.Content().Text))
	}
	return pages, nil
}

// pageRuns groups the character-level fragments the PDF library yields into
// word-level runs: same baseline, horizontally contiguous. PDF Y grows
// upward, so it is negated to match the top-down convention the layout
// package expects.
func pageRuns(texts []pdf.Text) []layout.Run {
	if len(texts) == 0 {
		return nil
	}

	sorted := make([]pdf.Text, len(texts))
	copy(sorted, texts)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Y != sorted[j].Y {
			return sorted[i].Y > sorted[j].Y // top of page first
		}
		return sorted[i].X < sorted[j].X
	})

	var runs []layout.Run
	var cur strings.Builder
	var startX, endX, baseY, size float64

	flush := func() {
		text := cur.String()
		cur.Reset()
		if strings.TrimSpace(text) == "" {
			return
		}
		runs = append(runs, layout.Run{
			Text:   text,
			X:      startX,
			Y:      -baseY,
			Width:  endX - startX,
			Height: size,
		})
	}

	for _, t := range sorted {
		if t.S == "" {
			continue
		}
		wordGap := t.FontSize * 0.3
		if wordGap <= 0 {
			wordGap = 2
		}
		sameBaseline := cur.Len() > 0 && absDiff(t.Y, baseY) < 0.5
		contiguous := sameBaseline && t.X-endX < wordGap

		if cur.Len() == 0 {
			startX, baseY, size = t.X, t.Y, t.FontSize
		} else if !contiguous {
			flush()
			startX, baseY, size = t.X, t.Y, t.FontSize
		}
		cur.WriteString(t.S)
		endX = t.X + t.W
		if t.FontSize > size {
			size = t.FontSize
		}
	}
	flush()

	return runs
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
