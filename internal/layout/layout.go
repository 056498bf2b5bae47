package layout

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// Run is a positioned piece of text as it appears on a page, before any
// logical structure has been recovered. Coordinates are in page units with
// Y increasing downward.
type Run struct {
	Text   string
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Thresholds are the per-page vertical cutoffs deciding whether two adjacent
// runs share a line, start a new line, or start a new paragraph. Immutable
// once derived.
type Thresholds struct {
	SameLine       float64
	NewLine        float64
	ParagraphBreak float64
}

// fallbackThresholds is used when a page has too few gap samples to derive
// anything meaningful (empty pages, cover pages, single-run pages).
var fallbackThresholds = Thresholds{SameLine: 3, NewLine: 15, ParagraphBreak: 30}

const (
	minGapSamples = 5
	gapFloor      = 0.1
	gapCeiling    = 500
	columnGap     = 30 // horizontal gap treated as a table column separator
	indentUnit    = 20 // page units per indentation level
	marginBin     = 5

	// CellSeparator marks a column boundary inside a reconstructed line so
	// the segmenter can later recognize tabular regions.
	CellSeparator = " | "

	// HeadingMarker prefixes lines whose runs are taller than the page's
	// typical line height.
	HeadingMarker = "## "
)

// DeriveThresholds computes per-page thresholds from the distribution of
// vertical gaps between consecutive non-empty runs. Gaps outside
// (0.1, 500) are discarded as noise (overlapping runs, page breaks).
func DeriveThresholds(runs []Run) Thresholds {
	var gaps []float64
	havePrev := false
	var prevY float64
	for _, r := range runs {
		if strings.TrimSpace(r.Text) == "" {
			continue
		}
		if havePrev {
			g := math.Abs(r.Y - prevY)
			if g > gapFloor && g < gapCeiling {
				gaps = append(gaps, g)
			}
		}
		prevY = r.Y
		havePrev = true
	}
	if len(gaps) < minGapSamples {
		return fallbackThresholds
	}

	sort.Float64s(gaps)
	p20 := percentile(gaps, 0.20)
	p50 := percentile(gaps, 0.50)
	p80 := percentile(gaps, 0.80)

	return Thresholds{
		SameLine:       math.Max(p20*0.8, 2),
		NewLine:        math.Max(p50*1.5, 10),
		ParagraphBreak: math.Max(p80*1.2, 25),
	}
}

func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// DominantMargin finds the left margin of a page by binning run X positions
// to the nearest 5 units and picking the most frequent bin. Ties resolve
// toward the leftmost bin so indented body text never wins over a flush
// margin with equal count.
func DominantMargin(runs []Run) float64 {
	bins := make(map[int]int)
	for _, r := range runs {
		if strings.TrimSpace(r.Text) == "" {
			continue
		}
		bin := int(math.Round(r.X/marginBin)) * marginBin
		bins[bin]++
	}
	if len(bins) == 0 {
		return 0
	}

	best := 0
	bestCount := -1
	for bin, count := range bins {
		if count > bestCount || (count == bestCount && bin < best) {
			best = bin
			bestCount = count
		}
	}
	return float64(best)
}

// typicalLineHeight is the median height of non-empty runs on the page.
func typicalLineHeight(runs []Run) float64 {
	var heights []float64
	for _, r := range runs {
		if strings.TrimSpace(r.Text) != "" && r.Height > 0 {
			heights = append(heights, r.Height)
		}
	}
	if len(heights) == 0 {
		return 0
	}
	sort.Float64s(heights)
	return heights[len(heights)/2]
}

// line accumulates runs that share a baseline before rendering.
type line struct {
	text    strings.Builder
	startX  float64
	heading bool
}

// ReconstructPage converts the ordered positioned runs of one page into a
// logical text stream: lines joined within paragraphs, blank lines between
// paragraphs, indentation and heading markers rendered inline.
func ReconstructPage(runs []Run) string {
	var nonEmpty []Run
	for _, r := range runs {
		if strings.TrimSpace(r.Text) != "" {
			nonEmpty = append(nonEmpty, r)
		}
	}
	if len(nonEmpty) == 0 {
		return ""
	}

	th := DeriveThresholds(nonEmpty)
	margin := DominantMargin(nonEmpty)
	typical := typicalLineHeight(nonEmpty)

	var out []string
	cur := &line{startX: nonEmpty[0].X}

	flush := func() {
		text := strings.TrimSpace(cur.text.String())
		if text == "" {
			return
		}
		level := indentLevel(cur.startX, margin)
		rendered := strings.Repeat("  ", level) + text
		if cur.heading {
			rendered = HeadingMarker + text
		}
		out = append(out, rendered)
	}

	appendRun := func(r Run) {
		cur.text.WriteString(r.Text)
		if typical > 0 && r.Height > typical*1.2 {
			cur.heading = true
		}
	}
	appendRun(nonEmpty[0])

	for i := 1; i < len(nonEmpty); i++ {
		prev := nonEmpty[i-1]
		r := nonEmpty[i]
		gap := math.Abs(r.Y - prev.Y)

		switch {
		case gap < th.SameLine:
			// Same baseline. A wide horizontal gap is a column boundary;
			// anything else is a word boundary.
			hGap := r.X - (prev.X + prev.Width)
			if hGap > columnGap {
				cur.text.WriteString(CellSeparator)
			} else {
				cur.text.WriteString(" ")
			}
			appendRun(r)

		case strings.HasSuffix(strings.TrimRight(cur.text.String(), " "), "-") && startsLower(r.Text):
			// Hyphenated word split across lines: drop the hyphen and
			// continue the current line.
			joined := strings.TrimRight(cur.text.String(), " ")
			cur.text.Reset()
			cur.text.WriteString(strings.TrimSuffix(joined, "-"))
			appendRun(r)

		default:
			flush()
			if gap >= th.ParagraphBreak {
				out = append(out, "")
			}
			cur = &line{startX: r.X}
			appendRun(r)
		}
	}
	flush()

	return strings.Join(out, "\n") + "\n"
}

// Reconstruct runs ReconstructPage over every page and concatenates the
// results with paragraph breaks between pages.
func Reconstruct(pages [][]Run) string {
	var parts []string
	for _, page := range pages {
		if text := ReconstructPage(page); text != "" {
			parts = append(parts, strings.TrimRight(text, "\n"))
		}
	}
	return strings.Join(parts, "\n\n")
}

func indentLevel(x, margin float64) int {
	offset := x - margin
	if offset < 0 {
		offset = 0
	}
	return int(offset / indentUnit)
}

func startsLower(s string) bool {
	for _, r := range s {
		return unicode.IsLower(r)
	}
	return false
}
