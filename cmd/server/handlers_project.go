package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"doctrans/internal/export"
	"doctrans/internal/search"
)

// ========== Project Endpoints ==========

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		jsonResp(w, s.projects.List())
	case http.MethodPost:
		var req struct {
			Title string `json:"title"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		proj, err := s.projects.Create(req.Title)
		if err != nil {
			jsonErr(w, err.Error(), http.StatusInternalServerError)
			return
		}
		jsonResp(w, proj)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProjectID == "" {
		jsonErr(w, "project_id is required", http.StatusBadRequest)
		return
	}

	// Refuse to delete the project that is currently translating
	st := s.runStatus.snapshot()
	if st.ProjectID == req.ProjectID && st.Phase == "translating" {
		jsonErr(w, "project has an active translation run", http.StatusConflict)
		return
	}

	if err := s.projects.Delete(req.ProjectID); err != nil {
		jsonErr(w, err.Error(), http.StatusNotFound)
		return
	}
	jsonResp(w, map[string]string{"status": "deleted"})
}

func (s *Server) handleRenameProject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ProjectID string `json:"project_id"`
		Title     string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProjectID == "" || req.Title == "" {
		jsonErr(w, "project_id and title are required", http.StatusBadRequest)
		return
	}
	proj, err := s.projects.Get(req.ProjectID)
	if err != nil {
		jsonErr(w, err.Error(), http.StatusNotFound)
		return
	}
	proj.Title = req.Title
	if err := s.projects.Update(*proj); err != nil {
		jsonErr(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResp(w, proj)
}

// ========== Review Endpoints ==========

func (s *Server) handleChunks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		jsonErr(w, "project_id is required", http.StatusBadRequest)
		return
	}
	chunks, err := s.projects.LoadChunks(projectID)
	if err != nil {
		jsonErr(w, err.Error(), http.StatusNotFound)
		return
	}
	jsonResp(w, chunks)
}

// handleUpdateChunk saves a reviewer's edit to one chunk's translation and
// reindexes it so search stays in sync.
func (s *Server) handleUpdateChunk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ProjectID   string `json:"project_id"`
		ChunkID     string `json:"chunk_id"`
		Translation string `json:"translation"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProjectID == "" || req.ChunkID == "" {
		jsonErr(w, "project_id and chunk_id are required", http.StatusBadRequest)
		return
	}

	chunks, err := s.projects.LoadChunks(req.ProjectID)
	if err != nil {
		jsonErr(w, err.Error(), http.StatusNotFound)
		return
	}
	found := false
	for i := range chunks {
		if chunks[i].ID == req.ChunkID {
			chunks[i].Translation = req.Translation
			chunks[i].Failed = false
			if err := s.projects.UpdateChunk(req.ProjectID, chunks[i]); err != nil {
				jsonErr(w, err.Error(), http.StatusInternalServerError)
				return
			}
			found = true
			break
		}
	}
	if !found {
		jsonErr(w, fmt.Sprintf("chunk not found: %s", req.ChunkID), http.StatusNotFound)
		return
	}

	if ix, err := search.Rebuild(s.projects.SearchIndexDir(req.ProjectID), chunks); err != nil {
		log.Printf("Warning: could not reindex project %s: %v", req.ProjectID, err)
	} else {
		_ = ix.Close()
	}
	jsonResp(w, map[string]string{"status": "updated"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	projectID := r.URL.Query().Get("project_id")
	query := r.URL.Query().Get("q")
	if projectID == "" || query == "" {
		jsonErr(w, "project_id and q are required", http.StatusBadRequest)
		return
	}

	ix, err := search.Open(s.projects.SearchIndexDir(projectID))
	if err != nil {
		jsonErr(w, err.Error(), http.StatusNotFound)
		return
	}
	defer ix.Close()

	hits, err := ix.Search(query, 20)
	if err != nil {
		jsonErr(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResp(w, hits)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	projectID := r.URL.Query().Get("project_id")
	format := r.URL.Query().Get("format")
	if projectID == "" {
		jsonErr(w, "project_id is required", http.StatusBadRequest)
		return
	}
	chunks, err := s.projects.LoadChunks(projectID)
	if err != nil {
		jsonErr(w, err.Error(), http.StatusNotFound)
		return
	}

	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", projectID))
		if err := export.CSV(w, chunks); err != nil {
			log.Printf("Warning: CSV export for %s: %v", projectID, err)
		}
	case "", "markdown", "md":
		bilingual := r.URL.Query().Get("bilingual") == "true"
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.md", projectID))
		if err := export.Markdown(w, chunks, bilingual); err != nil {
			log.Printf("Warning: markdown export for %s: %v", projectID, err)
		}
	default:
		jsonErr(w, "format must be markdown or csv", http.StatusBadRequest)
	}
}
