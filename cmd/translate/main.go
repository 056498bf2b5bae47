package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"doctrans/internal/export"
	"doctrans/internal/extractor"
	"doctrans/internal/glossary"
	"doctrans/internal/layout"
	"doctrans/internal/segmenter"
	"doctrans/internal/translator"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load() // .env is optional, os.Getenv is checked below

	var (
		inPath    = flag.String("in", "", "source document (.pdf, .docx or .txt)")
		glossPath = flag.String("glossary", "", "terminology CSV/TSV file")
		outPath   = flag.String("out", "", "output file (default: <in>.zh.md)")
		budget    = flag.Int("budget", segmenter.DefaultTokenBudget, "token budget per chunk")
		model     = flag.String("model", "", "chat model name")
		bilingual = flag.Bool("bilingual", false, "include source text as blockquotes")
	)
	flag.Parse()

	if *inPath == "" || *glossPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	keys := splitKeys(os.Getenv("OPENAI_API_KEYS"))
	if len(keys) == 0 {
		if k := os.Getenv("OPENAI_API_KEY"); k != "" {
			keys = []string{k}
		}
	}
	pool, err := translator.NewKeyPool(keys)
	if err != nil {
		log.Fatal("set OPENAI_API_KEYS (comma-separated) or OPENAI_API_KEY")
	}

	gf, err := os.Open(*glossPath)
	if err != nil {
		log.Fatalf("open glossary: %v", err)
	}
	gls, err := glossary.Load(gf, filepath.Base(*glossPath))
	gf.Close()
	if err != nil {
		log.Fatalf("load glossary: %v", err)
	}
	if gls.Dropped > 0 {
		log.Printf("Warning: %d glossary rows dropped (missing source or target value)", gls.Dropped)
	}
	log.Printf("Glossary loaded: %d entries", len(gls.Entries))

	text, err := extractText(*inPath)
	if err != nil {
		log.Fatalf("extract %s: %v", *inPath, err)
	}

	chunks := segmenter.Split(text, *budget)
	if len(chunks) == 0 {
		log.Fatalf("no translatable text found in %s", *inPath)
	}
	log.Printf("Segmented into %d chunks", len(chunks))

	o := translator.New(translator.NewOpenAIEngine(*model), pool)
	o.Progress = func(done, total int) {
		fmt.Fprintf(os.Stderr, "\rTranslating %d/%d", done, total)
	}
	o.Status = func(ev translator.StatusEvent) {
		switch ev.Kind {
		case "rotate":
			log.Printf("rate limited on chunk %d, rotated to key %d", ev.Position, ev.KeyIndex)
		case "backoff":
			log.Printf("key pool exhausted on chunk %d, backing off %v (retry %d)", ev.Position, ev.Delay, ev.Retry)
		case "chunk_failed":
			log.Printf("chunk %d failed terminally", ev.Position)
		}
	}

	start := time.Now()
	res, err := o.Run(context.Background(), chunks, gls)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		log.Fatalf("translation run: %v", err)
	}
	log.Printf("Done in %v: %d chunks, %d failed, %.0f%% terminology coverage",
		time.Since(start).Round(time.Second), len(res.Chunks), res.Failed, res.Coverage*100)

	dest := *outPath
	if dest == "" {
		dest = strings.TrimSuffix(*inPath, filepath.Ext(*inPath)) + ".zh.md"
	}
	f, err := os.Create(dest)
	if err != nil {
		log.Fatalf("create output: %v", err)
	}
	defer f.Close()
	if err := export.Markdown(f, res.Chunks, *bilingual); err != nil {
		log.Fatalf("write output: %v", err)
	}
	log.Printf("Wrote %s", dest)
}

// extractText turns a source document into reconstructed logical text. PDF
// pages go through layout reconstruction; DOCX and plain text are already
// logical.
func extractText(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		pages, err := extractor.ExtractPDF(path)
		if err != nil {
			return "", err
		}
		text := layout.Reconstruct(pages)
		if strings.TrimSpace(text) != "" {
			return text, nil
		}
		// Scanned PDF: fall back to the vision path when configured.
		cfg := &extractor.VisionConfig{
			APIKey: os.Getenv("VISION_API_KEY"),
			Model:  os.Getenv("VISION_MODEL"),
		}
		if !extractor.CanRunVision(cfg) {
			return "", fmt.Errorf("no text layer in %s (scanned PDF? set VISION_API_KEY)", path)
		}
		visionPages, err := extractor.VisionExtract(context.Background(), *cfg, path)
		if err != nil {
			return "", err
		}
		return strings.Join(visionPages, "\n\n"), nil
	case ".docx":
		return extractor.ExtractDOCX(path)
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

func splitKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
