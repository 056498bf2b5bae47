package segmenter

import "strings"

// Piece is one translated unit ready for reassembly: the chunk's structural
// type and the text that should appear in the output document.
type Piece struct {
	Type ChunkType
	Text string
}

// Reassemble is the inverse of Split: it joins ordered pieces back into one
// document. Headings get extra leading spacing; everything else gets
// standard paragraph spacing. Original blank-line counts are not restored.
func Reassemble(pieces []Piece) string {
	var b strings.Builder
	for _, p := range pieces {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			if p.Type == TypeHeading {
				b.WriteString("\n\n\n")
			} else {
				b.WriteString("\n\n")
			}
		}
		b.WriteString(text)
	}
	return b.String()
}
