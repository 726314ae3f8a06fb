package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/judesonleo/songcast/internal/session"
)

func (s *Server) handleSongList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.Library.List())
}

func (s *Server) handleSongSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query().Get("query")
	if strings.TrimSpace(query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query parameter is required"})
		return
	}
	results := s.Library.Search(query)
	if results == nil {
		results = []session.Song{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleSongGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/songs/")
	if id == "" || strings.Contains(id, "/") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid song id"})
		return
	}
	song, ok := s.Library.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "song not found"})
		return
	}
	writeJSON(w, http.StatusOK, song)
}

func (s *Server) handleVerse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	reference := r.URL.Query().Get("reference")
	if strings.TrimSpace(reference) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reference parameter is required"})
		return
	}
	language := r.URL.Query().Get("language")
	if language == "" {
		language = s.GetConfig().Session.DefaultLanguage
	}

	verse, err := s.Bible.LookupVerse(r.Context(), reference, language)
	if err != nil {
		if errors.Is(err, session.ErrContentNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "verse not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "verse lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, verse)
}

func (s *Server) handleVerseSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query().Get("query")
	if strings.TrimSpace(query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query parameter is required"})
		return
	}
	language := r.URL.Query().Get("language")
	if language == "" {
		language = s.GetConfig().Session.DefaultLanguage
	}

	results := s.Bible.SearchVerses(query, language)
	if results == nil {
		results = []session.Verse{}
	}
	writeJSON(w, http.StatusOK, results)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
