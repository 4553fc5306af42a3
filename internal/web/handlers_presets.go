package web

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/JonMunkholm/draftimport/internal/core"
)

// handleListPresets returns all saved presets. With a headers query
// parameter (comma separated) it returns only the presets matching those
// headers, best first.
func (s *Server) handleListPresets(w http.ResponseWriter, r *http.Request) {
	presets, err := s.service.ListPresets(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	headersStr := r.URL.Query().Get("headers")
	if headersStr == "" {
		writeJSON(w, http.StatusOK, presets)
		return
	}

	headers := strings.Split(headersStr, ",")
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}

	matches := core.MatchPresets(headers, presets)
	if matches == nil {
		matches = []core.PresetMatch{}
	}
	writeJSON(w, http.StatusOK, matches)
}

// handleSavePreset creates or replaces a preset by name.
func (s *Server) handleSavePreset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string             `json:"name"`
		Headers []string           `json:"headers"`
		Mapping core.ColumnMapping `json:"mapping"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, badRequest("invalid request body: %v", err))
		return
	}

	preset, err := s.service.SavePreset(r.Context(), req.Name, req.Headers, req.Mapping)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, preset)
}
