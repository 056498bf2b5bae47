// Package export renders a completed run's ordered chunk results into
// reviewable files. It relies only on the sequence order and type tags the
// pipeline guarantees.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"doctrans/internal/segmenter"
	"doctrans/internal/translator"
)

// Markdown writes the reassembled document. With bilingual set, each
// translated chunk is preceded by its source text as a blockquote.
func Markdown(w io.Writer, chunks []translator.TranslatedChunk, bilingual bool) error {
	var pieces []segmenter.Piece
	for _, c := range chunks {
		text := c.Translation
		if bilingual {
			text = quoteSource(c.Text) + "\n\n" + c.Translation
		}
		pieces = append(pieces, segmenter.Piece{Type: c.Type, Text: text})
	}
	_, err := io.WriteString(w, segmenter.Reassemble(pieces)+"\n")
	return err
}

func quoteSource(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = "> " + l
	}
	return strings.Join(lines, "\n")
}

// CSV writes one row per chunk: position, type, source, translation, and
// the matched glossary terms as "en=zh" pairs.
func CSV(w io.Writer, chunks []translator.TranslatedChunk) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"position", "type", "source", "translation", "matched_terms", "failed"}); err != nil {
		return err
	}
	for _, c := range chunks {
		var terms []string
		for _, m := range c.MatchedTerms {
			terms = append(terms, fmt.Sprintf("%s=%s", m.English, m.Chinese))
		}
		row := []string{
			strconv.Itoa(c.Position),
			string(c.Type),
			c.Text,
			c.Translation,
			strings.Join(terms, "; "),
			strconv.FormatBool(c.Failed),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
