package extractor

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/sashabaranov/go-openai"
)

// VisionConfig controls the remote vision-extraction path used for scanned
// PDFs that yield no positioned text.
type VisionConfig struct {
	APIKey string // empty disables the vision path entirely
	Model  string // defaults to gpt-4o-mini
}

// CanRunVision reports whether the vision fallback is usable.
func CanRunVision(cfg *VisionConfig) bool {
	return cfg != nil && cfg.APIKey != ""
}

// DetectConverter checks whether pdftoppm (Poppler) or magick (ImageMagick)
// is available for rasterizing PDF pages, which the vision path requires.
func DetectConverter() bool {
	if _, err := exec.LookPath("pdftoppm"); err == nil {
		return true
	}
	if _, err := exec.LookPath("magick"); err == nil {
		return true
	}
	return false
}

var visionPrompt = `Extract all text from this document page as structured plain text.
Keep the reading order. Prefix headings with "## ". Keep list markers.
Render table rows with " | " between cells. Output only the extracted text.`

// VisionExtract rasterizes each PDF page and sends it to the vision model
// for best-effort structured text. A failed page is terminal for that page
// only: it is logged and skipped, and the remaining pages continue.
func VisionExtract(ctx context.Context, cfg VisionConfig, pdfPath string) ([]string, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("vision extraction requires an API key")
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	images, cleanup, err := rasterizePDF(pdfPath)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	client := openai.NewClient(cfg.APIKey)
	var pages []string
	for i, img := range images {
		text, err := visionPage(ctx, client, model, img)
		if err != nil {
			log.Printf("vision extraction failed on page %d of %s: %v", i+1, filepath.Base(pdfPath), err)
			pages = append(pages, "")
			continue
		}
		pages = append(pages, text)
	}
	return pages, nil
}

func visionPage(ctx context.Context, client *openai.Client, model, imgPath string) (string, error) {
	data, err := os.ReadFile(imgPath)
	if err != nil {
		return "", fmt.Errorf("read page image: %w", err)
	}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: visionPrompt},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL}},
				},
			},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("vision model returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// rasterizePDF converts every page of a PDF to a PNG in a temp directory,
// trying pdftoppm first and ImageMagick as fallback. The returned cleanup
// removes the temp directory.
func rasterizePDF(pdfPath string) ([]string, func(), error) {
	tmpDir, err := os.MkdirTemp("", "doctrans-vision-*")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(tmpDir) }

	imagePrefix := filepath.Join(tmpDir, "page")
	converted := false
	var convertErr error

	if pdftoppmPath, lookErr := exec.LookPath("pdftoppm"); lookErr == nil {
		cmd := exec.Command(pdftoppmPath, "-png", "-r", "200", pdfPath, imagePrefix)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err == nil {
			converted = true
		} else {
			convertErr = fmt.Errorf("pdftoppm: %v (stderr: %s)", err, stderr.String())
		}
	}

	if !converted {
		if magickPath, lookErr := exec.LookPath("magick"); lookErr == nil {
			cmd := exec.Command(magickPath, "convert", "-density", "200", pdfPath, imagePrefix+"-%03d.png")
			var stderr bytes.Buffer
			cmd.Stderr = &stderr
			if err := cmd.Run(); err == nil {
				converted = true
			} else {
				convertErr = fmt.Errorf("magick: %v (stderr: %s)", err, stderr.String())
			}
		}
	}

	if !converted {
		cleanup()
		errMsg := "install Poppler (pdftoppm) or ImageMagick (magick)"
		if convertErr != nil {
			errMsg = convertErr.Error()
		}
		return nil, nil, fmt.Errorf("cannot convert PDF to images: %s", errMsg)
	}

	images, err := filepath.Glob(imagePrefix + "*")
	if err != nil || len(images) == 0 {
		cleanup()
		return nil, nil, fmt.Errorf("no page images generated from PDF")
	}
	sortImageFiles(images)
	return images, cleanup, nil
}

// sortImageFiles sorts image file paths by the page number embedded in the filename.
func sortImageFiles(files []string) {
	re := regexp.MustCompile(`(\d+)\.png$`)
	for i := 0; i < len(files); i++ {
		for j := i + 1; j < len(files); j++ {
			if extractNum(files[i], re) > extractNum(files[j], re) {
				files[i], files[j] = files[j], files[i]
			}
		}
	}
}

func extractNum(path string, re *regexp.Regexp) int {
	m := re.FindStringSubmatch(filepath.Base(path))
	if len(m) >= 2 {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	return 0
}
