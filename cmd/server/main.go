package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"

	"doctrans/internal/crypto"
	"doctrans/internal/session"
	"doctrans/internal/translator"

	"github.com/joho/godotenv"
)

// Server holds all shared state.
type Server struct {
	mu        sync.RWMutex
	projects  *session.Store
	runStatus *RunStatus
	runCancel context.CancelFunc // cancels the active translation goroutine
	hub       *wsHub

	apiKeys     []string // rotation pool for the translation provider
	model       string
	visionKey   string
	visionModel string
}

// RunStatus is polled by the frontend (and pushed over the websocket) to
// show translation progress for the active run.
type RunStatus struct {
	mu          sync.RWMutex
	ProjectID   string  `json:"project_id,omitempty"`
	Phase       string  `json:"phase"` // idle, extracting, translating, done, error, cancelled
	ChunksTotal int     `json:"chunks_total"`
	ChunksDone  int     `json:"chunks_done"`
	Failed      int     `json:"failed"`
	Coverage    float64 `json:"coverage"`
	KeyIndex    int     `json:"key_index"`
	Retry       int     `json:"retry"`
	Error       string  `json:"error,omitempty"`
}

func (s *RunStatus) snapshot() RunStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return RunStatus{
		ProjectID:   s.ProjectID,
		Phase:       s.Phase,
		ChunksTotal: s.ChunksTotal,
		ChunksDone:  s.ChunksDone,
		Failed:      s.Failed,
		Coverage:    s.Coverage,
		KeyIndex:    s.KeyIndex,
		Retry:       s.Retry,
		Error:       s.Error,
	}
}

func (s *RunStatus) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ProjectID = ""
	s.Phase = "idle"
	s.ChunksTotal = 0
	s.ChunksDone = 0
	s.Failed = 0
	s.Coverage = 0
	s.KeyIndex = 0
	s.Retry = 0
	s.Error = ""
}

// ========== Settings Persistence ==========

const settingsFile = "data/settings.json"

type SavedSettings struct {
	APIKeys     []string `json:"api_keys"`
	Model       string   `json:"model"`
	VisionKey   string   `json:"vision_key"`
	VisionModel string   `json:"vision_model"`
}

func loadSavedSettings() *SavedSettings {
	data, err := os.ReadFile(settingsFile)
	if err != nil {
		return nil
	}
	var s SavedSettings
	if err := json.Unmarshal(data, &s); err != nil {
		log.Printf("Warning: could not parse %s: %v", settingsFile, err)
		return nil
	}

	// Decrypt API key fields (backward-compatible: if decryption fails, use raw value)
	for i, k := range s.APIKeys {
		s.APIKeys[i] = decryptOrPassthrough(k)
	}
	s.VisionKey = decryptOrPassthrough(s.VisionKey)

	return &s
}

// decryptOrPassthrough tries to decrypt a value; if it fails (e.g. legacy
// plaintext), returns the original value unchanged.
func decryptOrPassthrough(val string) string {
	if val == "" {
		return ""
	}
	decrypted, err := crypto.Decrypt(val)
	if err != nil {
		return val
	}
	return decrypted
}

func persistSettings(s SavedSettings) error {
	_ = os.MkdirAll("data", 0755)

	// Encrypt API key fields before writing to disk
	toSave := s
	toSave.APIKeys = make([]string, len(s.APIKeys))
	for i, k := range s.APIKeys {
		enc, err := crypto.Encrypt(k)
		if err != nil {
			log.Printf("Warning: failed to encrypt API key: %v", err)
			enc = k // fall back to plaintext
		}
		toSave.APIKeys[i] = enc
	}
	var err error
	if toSave.VisionKey, err = crypto.Encrypt(s.VisionKey); err != nil {
		log.Printf("Warning: failed to encrypt vision key: %v", err)
		toSave.VisionKey = s.VisionKey
	}

	data, err := json.MarshalIndent(toSave, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(settingsFile, data, 0644)
}

func maskKey(key string) string {
	if len(key) <= 8 {
		if key == "" {
			return ""
		}
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// ========== main ==========

func main() {
	_ = godotenv.Load()

	var apiKeys []string
	for _, k := range strings.Split(os.Getenv("OPENAI_API_KEYS"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			apiKeys = append(apiKeys, k)
		}
	}
	if len(apiKeys) == 0 {
		if k := os.Getenv("OPENAI_API_KEY"); k != "" {
			apiKeys = []string{k}
		}
	}
	model := os.Getenv("TRANSLATE_MODEL")
	visionKey := os.Getenv("VISION_API_KEY")
	visionModel := os.Getenv("VISION_MODEL")

	// Override with saved settings if they exist
	if saved := loadSavedSettings(); saved != nil {
		log.Printf("Loading saved settings from %s", settingsFile)
		if len(saved.APIKeys) > 0 {
			apiKeys = saved.APIKeys
		}
		if saved.Model != "" {
			model = saved.Model
		}
		if saved.VisionKey != "" {
			visionKey = saved.VisionKey
		}
		if saved.VisionModel != "" {
			visionModel = saved.VisionModel
		}
	}

	if len(apiKeys) == 0 {
		log.Printf("Warning: no API keys configured (set OPENAI_API_KEYS or use /api/settings)")
	} else {
		log.Printf("Key pool: %d key(s)", len(apiKeys))
	}

	projects, err := session.NewStore("data/projects")
	if err != nil {
		log.Fatalf("Failed to init project store: %v", err)
	}

	srv := &Server{
		projects:    projects,
		runStatus:   &RunStatus{Phase: "idle"},
		hub:         newWSHub(),
		apiKeys:     apiKeys,
		model:       model,
		visionKey:   visionKey,
		visionModel: visionModel,
	}

	mux := http.NewServeMux()

	// Project endpoints
	mux.HandleFunc("/api/projects", srv.handleProjects)
	mux.HandleFunc("/api/projects/delete", srv.handleDeleteProject)
	mux.HandleFunc("/api/projects/rename", srv.handleRenameProject)

	// Translation run endpoints
	mux.HandleFunc("/api/upload", srv.handleUpload)
	mux.HandleFunc("/api/translate", srv.handleTranslate)
	mux.HandleFunc("/api/translate/status", srv.handleRunStatus)
	mux.HandleFunc("/api/translate/cancel", srv.handleCancelRun)

	// Review endpoints
	mux.HandleFunc("/api/chunks", srv.handleChunks)
	mux.HandleFunc("/api/chunks/update", srv.handleUpdateChunk)
	mux.HandleFunc("/api/search", srv.handleSearch)
	mux.HandleFunc("/api/export", srv.handleExport)

	// Settings and live status
	mux.HandleFunc("/api/settings", srv.handleSettings)
	mux.HandleFunc("/ws/status", srv.handleStatusWS)

	// Static files
	mux.Handle("/", http.FileServer(http.Dir("web")))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("DocTrans server starting on http://localhost:%s", port)
	if err := http.ListenAndServe(":"+port, corsMiddleware(mux)); err != nil {
		log.Fatal(err)
	}
}

// ========== Middleware ==========

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ========== Helpers ==========

func (s *Server) keyPool() (*translator.KeyPool, error) {
	s.mu.RLock()
	keys := s.apiKeys
	s.mu.RUnlock()
	pool, err := translator.NewKeyPool(keys)
	if err != nil {
		return nil, fmt.Errorf("no API keys configured")
	}
	return pool, nil
}

func jsonResp(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
