// Package session persists translation projects and their per-chunk results
// between runs. Storage is plain JSON under a data directory; chunk records
// are keyed by (project id, chunk id).
package session

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"doctrans/internal/translator"
)

// Project is one translation workspace: a source document, a glossary, and
// the chunk results of its runs.
type Project struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Status          string    `json:"status"` // "upload", "translating", "ready", "error"
	ChunkCount      int       `json:"chunk_count"`
	TranslatedCount int       `json:"translated_count"`
	FailedCount     int       `json:"failed_count"`
	Coverage        float64   `json:"coverage"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Store manages persistence of projects and their chunk records.
type Store struct {
	mu       sync.RWMutex
	projects []Project
	dataDir  string // e.g. "data/projects"
	filePath string // e.g. "data/projects/projects.json"
}

// NewStore initialises the store, creating directories and loading any
// existing projects.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	store := &Store{
		dataDir:  dataDir,
		filePath: filepath.Join(dataDir, "projects.json"),
	}
	if data, err := os.ReadFile(store.filePath); err == nil {
		_ = json.Unmarshal(data, &store.projects)
	}
	return store, nil
}

func (s *Store) save() error {
	data, err := json.MarshalIndent(s.projects, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.filePath, data, 0644)
}

// ==================== Project CRUD ====================

func (s *Store) Create(title string) (*Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := generateUUID()
	if title == "" {
		title = "Project " + id[:8]
	}

	project := Project{
		ID:        id,
		Title:     title,
		Status:    "upload",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := os.MkdirAll(filepath.Join(s.dataDir, id, "uploads"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create project dir: %w", err)
	}

	s.projects = append(s.projects, project)
	if err := s.save(); err != nil {
		return nil, err
	}
	return &project, nil
}

func (s *Store) List() []Project {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Project, len(s.projects))
	copy(result, s.projects)
	return result
}

func (s *Store) Get(id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.projects {
		if s.projects[i].ID == id {
			p := s.projects[i]
			return &p, nil
		}
	}
	return nil, fmt.Errorf("project not found: %s", id)
}

func (s *Store) Update(project Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	project.UpdatedAt = time.Now()
	for i := range s.projects {
		if s.projects[i].ID == project.ID {
			s.projects[i] = project
			return s.save()
		}
	}
	return fmt.Errorf("project not found: %s", project.ID)
}

// Delete removes a project and everything stored under it, chunk records
// included.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	var updated []Project
	for _, p := range s.projects {
		if p.ID == id {
			found = true
			continue
		}
		updated = append(updated, p)
	}
	if !found {
		return fmt.Errorf("project not found: %s", id)
	}

	s.projects = updated
	_ = os.RemoveAll(filepath.Join(s.dataDir, id))
	return s.save()
}

// ==================== Chunk records ====================

// SaveChunks persists the ordered chunk results of a project's run.
func (s *Store) SaveChunks(projectID string, chunks []translator.TranslatedChunk) error {
	if _, err := s.Get(projectID); err != nil {
		return err
	}
	data, err := json.MarshalIndent(chunks, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.chunksPath(projectID), data, 0644)
}

// LoadChunks returns a project's chunk results in stored (position) order.
func (s *Store) LoadChunks(projectID string) ([]translator.TranslatedChunk, error) {
	data, err := os.ReadFile(s.chunksPath(projectID))
	if err != nil {
		return nil, fmt.Errorf("no chunk records for project %s: %w", projectID, err)
	}
	var chunks []translator.TranslatedChunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, err
	}
	return chunks, nil
}

// UpdateChunk rewrites a single chunk record, keyed by (projectID, chunkID).
func (s *Store) UpdateChunk(projectID string, chunk translator.TranslatedChunk) error {
	chunks, err := s.LoadChunks(projectID)
	if err != nil {
		return err
	}
	for i := range chunks {
		if chunks[i].ID == chunk.ID {
			chunks[i] = chunk
			return s.SaveChunks(projectID, chunks)
		}
	}
	return fmt.Errorf("chunk not found: %s/%s", projectID, chunk.ID)
}

func (s *Store) chunksPath(projectID string) string {
	return filepath.Join(s.dataDir, projectID, "chunks.json")
}

// ==================== Path helpers ====================

func (s *Store) ProjectDir(id string) string {
	return filepath.Join(s.dataDir, id)
}

func (s *Store) UploadsDir(id string) string {
	return filepath.Join(s.dataDir, id, "uploads")
}

func (s *Store) SearchIndexDir(id string) string {
	return filepath.Join(s.dataDir, id, "search.bleve")
}

// ==================== UUID ====================

func generateUUID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
