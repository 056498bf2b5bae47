// Package search maintains a bleve index over a project's translated chunks
// so reviewers can find where a term or phrase ended up, in source or
// translation.
package search

import (
	"fmt"
	"os"

	"doctrans/internal/translator"

	"github.com/blevesearch/bleve/v2"
)

// Hit is one search result, ordered by relevance.
type Hit struct {
	ChunkID  string  `json:"chunk_id"`
	Position int     `json:"position"`
	Score    float64 `json:"score"`
}

// Index wraps a bleve index stored on disk next to the project data.
type Index struct {
	path string
	idx  bleve.Index
}

// Open opens the index at path, creating it when absent.
func Open(path string) (*Index, error) {
	var idx bleve.Index
	var err error
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		idx, err = bleve.New(path, bleve.NewIndexMapping())
	} else {
		idx, err = bleve.Open(path)
	}
	if err != nil {
		return nil, fmt.Errorf("open search index: %w", err)
	}
	return &Index{path: path, idx: idx}, nil
}

// Rebuild replaces the index contents with the given chunk results. Called
// after every completed run and after a chunk edit.
func Rebuild(path string, chunks []translator.TranslatedChunk) (*Index, error) {
	// Drop any stale index; chunk sets are small enough to reindex whole.
	_ = os.RemoveAll(path)

	ix, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := ix.IndexChunks(chunks); err != nil {
		ix.Close()
		return nil, err
	}
	return ix, nil
}

// IndexChunks adds chunk results to the index.
func (ix *Index) IndexChunks(chunks []translator.TranslatedChunk) error {
	batch := ix.idx.NewBatch()
	for _, c := range chunks {
		doc := map[string]interface{}{
			"position":    c.Position,
			"type":        string(c.Type),
			"source":      c.Text,
			"translation": c.Translation,
		}
		if err := batch.Index(c.ID, doc); err != nil {
			return fmt.Errorf("index chunk %s: %w", c.ID, err)
		}
	}
	return ix.idx.Batch(batch)
}

// Search runs a match query over source and translation text and returns up
// to topK hits by relevance.
func (ix *Index) Search(query string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = 10
	}
	req := bleve.NewSearchRequest(bleve.NewMatchQuery(query))
	req.Size = topK
	req.Fields = []string{"position"}

	res, err := ix.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	var hits []Hit
	for _, h := range res.Hits {
		hit := Hit{ChunkID: h.ID, Score: h.Score}
		if pos, ok := h.Fields["position"].(float64); ok {
			hit.Position = int(pos)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Close closes the underlying bleve index. Must be called before reopening
// the same path.
func (ix *Index) Close() error {
	if ix.idx != nil {
		return ix.idx.Close()
	}
	return nil
}
