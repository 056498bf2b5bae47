package extractor

import (
	"fmt"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

// ExtractDOCX extracts logical text from a DOCX file. DOCX paragraphs are
// already logical structure, so this path bypasses layout reconstruction
// and returns text ready for the segmenter: paragraphs separated by blank
// lines.
func ExtractDOCX(filePath string) (string, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read docx: %w", err)
	}
	defer r.Close()

	doc := r.Editable()
	paragraphs := splitDOCXParagraphs(doc.GetContent())
	if len(paragraphs) == 0 {
		return "", fmt.Errorf("no text extracted from %s", filePath)
	}

	return strings.Join(paragraphs, "\n\n"), nil
}

// splitDOCXParagraphs splits DOCX XML content by <w:p> paragraph tags
// and strips all XML tags from each paragraph, returning clean text.
func splitDOCXParagraphs(xmlStr string) []string {
	parts := strings.Split(xmlStr, "<w:p")
	var paragraphs []string

	for _, part := range parts {
		cleaned := strings.TrimSpace(stripTags(part))
		if cleaned != "" {
			paragraphs = append(paragraphs, cleaned)
		}
	}
	return paragraphs
}

func stripTags(xmlStr string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range xmlStr {
		if r == '<' {
			inTag = true
			continue
		}
		if r == '>' {
			inTag = false
			continue
		}
		if !inTag {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
