package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"doctrans/internal/extractor"
	"doctrans/internal/glossary"
	"doctrans/internal/layout"
	"doctrans/internal/search"
	"doctrans/internal/segmenter"
	"doctrans/internal/translator"
)

// ========== Upload & Translation Endpoints ==========

const (
	documentField = "document"
	glossaryField = "glossary"
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Parse multipart (max 100MB)
	if err := r.ParseMultipartForm(100 << 20); err != nil {
		jsonErr(w, "Failed to parse upload: "+err.Error(), http.StatusBadRequest)
		return
	}

	projectID := r.FormValue("project_id")
	if projectID == "" {
		jsonErr(w, "project_id is required", http.StatusBadRequest)
		return
	}
	proj, err := s.projects.Get(projectID)
	if err != nil {
		jsonErr(w, "Project not found", http.StatusNotFound)
		return
	}

	uploadsDir := s.projects.UploadsDir(projectID)
	_ = os.MkdirAll(uploadsDir, 0755)

	var saved []string
	for _, field := range []string{documentField, glossaryField} {
		fhs := r.MultipartForm.File[field]
		if len(fhs) == 0 {
			continue
		}
		fh := fhs[0]

		ext := strings.ToLower(filepath.Ext(fh.Filename))
		if field == documentField && ext != ".pdf" && ext != ".docx" && ext != ".txt" {
			jsonErr(w, "document must be .pdf, .docx or .txt", http.StatusBadRequest)
			return
		}
		if field == glossaryField && ext != ".csv" && ext != ".tsv" && ext != ".txt" {
			jsonErr(w, "glossary must be .csv, .tsv or .txt", http.StatusBadRequest)
			return
		}

		src, err := fh.Open()
		if err != nil {
			jsonErr(w, "Failed to read upload: "+err.Error(), http.StatusBadRequest)
			return
		}
		// Stored under a fixed name so the run handler can find it
		dstPath := filepath.Join(uploadsDir, field+ext)
		dst, err := os.Create(dstPath)
		if err != nil {
			src.Close()
			jsonErr(w, "Failed to save upload: "+err.Error(), http.StatusInternalServerError)
			return
		}
		_, _ = io.Copy(dst, src)
		src.Close()
		dst.Close()
		saved = append(saved, fh.Filename)
	}

	if len(saved) == 0 {
		jsonErr(w, "No files uploaded (expected document and/or glossary fields)", http.StatusBadRequest)
		return
	}

	proj.Status = "upload"
	_ = s.projects.Update(*proj)

	jsonResp(w, map[string]interface{}{
		"uploaded": saved,
		"count":    len(saved),
	})
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ProjectID string `json:"project_id"`
		Budget    int    `json:"budget,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProjectID == "" {
		jsonErr(w, "project_id is required", http.StatusBadRequest)
		return
	}

	proj, err := s.projects.Get(req.ProjectID)
	if err != nil {
		jsonErr(w, "Project not found", http.StatusNotFound)
		return
	}

	docPath, err := findUpload(s.projects.UploadsDir(proj.ID), documentField)
	if err != nil {
		jsonErr(w, "No document uploaded", http.StatusBadRequest)
		return
	}
	glossPath, err := findUpload(s.projects.UploadsDir(proj.ID), glossaryField)
	if err != nil {
		jsonErr(w, "No glossary uploaded", http.StatusBadRequest)
		return
	}

	pool, err := s.keyPool()
	if err != nil {
		jsonErr(w, err.Error(), http.StatusBadRequest)
		return
	}

	budget := req.Budget
	if budget <= 0 {
		budget = segmenter.DefaultTokenBudget
	}

	// One run at a time: claiming the cancel slot is the atomic gate, so two
	// simultaneous requests cannot both start.
	ctx, cancel := context.WithCancel(context.Background())
	if !s.acquireRun(cancel) {
		cancel()
		jsonErr(w, "A translation run is already in progress", http.StatusConflict)
		return
	}

	proj.Status = "translating"
	_ = s.projects.Update(*proj)

	s.runStatus.mu.Lock()
	s.runStatus.ProjectID = proj.ID
	s.runStatus.Phase = "extracting"
	s.runStatus.ChunksTotal = 0
	s.runStatus.ChunksDone = 0
	s.runStatus.Failed = 0
	s.runStatus.Coverage = 0
	s.runStatus.Error = ""
	s.runStatus.mu.Unlock()

	go s.runTranslation(ctx, proj.ID, docPath, glossPath, budget, pool)

	jsonResp(w, map[string]string{"status": "started"})
}

// acquireRun claims the single run slot. It fails when a run is already
// active; the caller owns cancel only on success.
func (s *Server) acquireRun(cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCancel != nil {
		return false
	}
	s.runCancel = cancel
	return true
}

func (s *Server) releaseRun() {
	s.mu.Lock()
	s.runCancel = nil
	s.mu.Unlock()
}

func (s *Server) runTranslation(ctx context.Context, projectID, docPath, glossPath string, budget int, pool *translator.KeyPool) {
	defer s.releaseRun()

	fail := func(msg string) {
		log.Printf("Translation run for %s failed: %s", projectID, msg)
		s.runStatus.mu.Lock()
		s.runStatus.Phase = "error"
		s.runStatus.Error = msg
		s.runStatus.mu.Unlock()
		s.hub.broadcast(s.runStatus.snapshot())
		if proj, err := s.projects.Get(projectID); err == nil {
			proj.Status = "error"
			_ = s.projects.Update(*proj)
		}
	}

	gf, err := os.Open(glossPath)
	if err != nil {
		fail("open glossary: " + err.Error())
		return
	}
	gls, err := glossary.Load(gf, filepath.Base(glossPath))
	gf.Close()
	if err != nil {
		fail("load glossary: " + err.Error())
		return
	}
	if gls.Dropped > 0 {
		log.Printf("Glossary for %s: %d rows dropped", projectID, gls.Dropped)
	}

	text, err := s.extractDocument(ctx, docPath)
	if err != nil {
		fail("extract document: " + err.Error())
		return
	}
	chunks := segmenter.Split(text, budget)
	if len(chunks) == 0 {
		fail("no translatable text found")
		return
	}

	s.runStatus.mu.Lock()
	s.runStatus.Phase = "translating"
	s.runStatus.ChunksTotal = len(chunks)
	s.runStatus.mu.Unlock()
	s.hub.broadcast(s.runStatus.snapshot())

	if proj, err := s.projects.Get(projectID); err == nil {
		proj.ChunkCount = len(chunks)
		_ = s.projects.Update(*proj)
	}

	s.mu.RLock()
	model := s.model
	s.mu.RUnlock()

	o := translator.New(translator.NewOpenAIEngine(model), pool)
	o.Progress = func(done, total int) {
		s.runStatus.mu.Lock()
		s.runStatus.ChunksDone = done
		s.runStatus.mu.Unlock()
		s.hub.broadcast(s.runStatus.snapshot())
	}
	o.Status = func(ev translator.StatusEvent) {
		s.runStatus.mu.Lock()
		s.runStatus.KeyIndex = ev.KeyIndex
		s.runStatus.Retry = ev.Retry
		if ev.Kind == "chunk_failed" {
			s.runStatus.Failed++
		}
		s.runStatus.mu.Unlock()
		s.hub.broadcast(s.runStatus.snapshot())
	}

	res, err := o.Run(ctx, chunks, gls)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.runStatus.mu.Lock()
			s.runStatus.Phase = "cancelled"
			s.runStatus.mu.Unlock()
			s.hub.broadcast(s.runStatus.snapshot())
			if proj, gerr := s.projects.Get(projectID); gerr == nil {
				proj.Status = "upload"
				_ = s.projects.Update(*proj)
			}
			return
		}
		fail("translation run: " + err.Error())
		return
	}

	if err := s.projects.SaveChunks(projectID, res.Chunks); err != nil {
		fail("save results: " + err.Error())
		return
	}
	if ix, err := search.Rebuild(s.projects.SearchIndexDir(projectID), res.Chunks); err != nil {
		log.Printf("Warning: could not build search index for %s: %v", projectID, err)
	} else {
		_ = ix.Close()
	}

	if proj, err := s.projects.Get(projectID); err == nil {
		proj.Status = "ready"
		proj.ChunkCount = len(res.Chunks)
		proj.TranslatedCount = len(res.Chunks) - res.Failed
		proj.FailedCount = res.Failed
		proj.Coverage = res.Coverage
		_ = s.projects.Update(*proj)
	}

	s.runStatus.mu.Lock()
	s.runStatus.Phase = "done"
	s.runStatus.Failed = res.Failed
	s.runStatus.Coverage = res.Coverage
	s.runStatus.mu.Unlock()
	s.hub.broadcast(s.runStatus.snapshot())
	log.Printf("Translation run for %s done: %d chunks, %d failed, %.0f%% coverage",
		projectID, len(res.Chunks), res.Failed, res.Coverage*100)
}

// extractDocument turns the uploaded file into reconstructed logical text.
func (s *Server) extractDocument(ctx context.Context, path string) (string, error) {
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
		s.mu.RLock()
		cfg := extractor.VisionConfig{APIKey: s.visionKey, Model: s.visionModel}
		s.mu.RUnlock()
		if !extractor.CanRunVision(&cfg) {
			return "", fmt.Errorf("no text layer (scanned PDF? configure a vision key)")
		}
		visionPages, err := extractor.VisionExtract(ctx, cfg, path)
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

// findUpload locates the stored upload for a field regardless of extension.
func findUpload(dir, field string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.TrimSuffix(name, filepath.Ext(name)) == field {
			return filepath.Join(dir, name), nil
		}
	}
	return "", fmt.Errorf("no %s uploaded", field)
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jsonResp(w, s.runStatus.snapshot())
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.Lock()
	cancel := s.runCancel
	s.mu.Unlock()
	if cancel == nil {
		jsonErr(w, "No active translation run", http.StatusBadRequest)
		return
	}
	cancel()
	jsonResp(w, map[string]string{"status": "cancelling"})
}
