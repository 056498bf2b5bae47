package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
)

// ========== Settings Endpoint ==========

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.mu.RLock()
		masked := make([]string, len(s.apiKeys))
		for i, k := range s.apiKeys {
			masked[i] = maskKey(k)
		}
		resp := map[string]interface{}{
			"api_keys":     masked,
			"model":        s.model,
			"vision_key":   maskKey(s.visionKey),
			"vision_model": s.visionModel,
		}
		s.mu.RUnlock()
		jsonResp(w, resp)

	case http.MethodPost:
		var req struct {
			APIKeys     []string `json:"api_keys"`
			Model       string   `json:"model"`
			VisionKey   string   `json:"vision_key"`
			VisionModel string   `json:"vision_model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonErr(w, "Invalid request", http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		if len(req.APIKeys) > 0 {
			// Masked values round-tripped from the UI are not real keys
			var keys []string
			for _, k := range req.APIKeys {
				if k = strings.TrimSpace(k); k != "" && !strings.Contains(k, "...") && k != "****" {
					keys = append(keys, k)
				}
			}
			if len(keys) > 0 {
				s.apiKeys = keys
			}
		}
		if req.Model != "" {
			s.model = req.Model
		}
		if req.VisionKey != "" && !strings.Contains(req.VisionKey, "...") {
			s.visionKey = req.VisionKey
		}
		if req.VisionModel != "" {
			s.visionModel = req.VisionModel
		}

		saved := SavedSettings{
			APIKeys:     s.apiKeys,
			Model:       s.model,
			VisionKey:   s.visionKey,
			VisionModel: s.visionModel,
		}
		s.mu.Unlock()

		if err := persistSettings(saved); err != nil {
			log.Printf("Failed to persist settings: %v", err)
		}

		log.Printf("Settings updated: %d key(s), model=%s", len(saved.APIKeys), saved.Model)
		jsonResp(w, map[string]string{"status": "saved"})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
