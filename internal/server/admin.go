package server

import (
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/judesonleo/songcast/internal/logring"
)

// AdminAPI serves the JSON endpoints mounted on the loopback health
// listener: live status, room snapshots and recent log entries.
type AdminAPI struct {
	server    *Server
	ring      *logring.Ring // optional, nil disables /api/v1/logs
	startTime time.Time
	version   string
}

// NewAdminAPI creates the admin API for the given server.
func NewAdminAPI(s *Server, ring *logring.Ring, version string) *AdminAPI {
	return &AdminAPI{
		server:    s,
		ring:      ring,
		startTime: time.Now(),
		version:   version,
	}
}

// Register mounts the admin endpoints on mux.
func (a *AdminAPI) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/status", a.handleStatus)
	mux.HandleFunc("/api/v1/rooms", a.handleRooms)
	mux.HandleFunc("/api/v1/logs", a.handleLogs)
}

// statusResponse is the JSON body for GET /api/v1/status.
type statusResponse struct {
	Uptime            string  `json:"uptime"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
	ActiveRooms       int     `json:"active_rooms"`
	ActiveConnections int     `json:"active_connections"`
	SongsLoaded       int     `json:"songs_loaded"`
	Languages         int     `json:"bible_languages"`
	MemoryMB          float64 `json:"memory_mb"`
	Goroutines        int     `json:"goroutines"`
	Version           string  `json:"version"`
}

func (a *AdminAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptime := time.Since(a.startTime)
	stats := a.server.Stats()

	languages := 0
	if a.server.Bible != nil {
		languages = len(a.server.Bible.Languages())
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Uptime:            uptime.Round(time.Second).String(),
		UptimeSeconds:     uptime.Seconds(),
		ActiveRooms:       stats.ActiveRooms,
		ActiveConnections: stats.ActiveConnections,
		SongsLoaded:       stats.SongsLoaded,
		Languages:         languages,
		MemoryMB:          float64(memStats.Alloc) / 1024 / 1024,
		Goroutines:        runtime.NumGoroutine(),
		Version:           a.version,
	})
}

func (a *AdminAPI) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, a.server.Store.Snapshot())
}

// logEntryResponse mirrors logring.Entry for JSON serialization.
type logEntryResponse struct {
	Time    string         `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

func (a *AdminAPI) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.ring == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "log capture disabled"})
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	minLevel := slog.LevelDebug
	switch r.URL.Query().Get("level") {
	case "info":
		minLevel = slog.LevelInfo
	case "warn":
		minLevel = slog.LevelWarn
	case "error":
		minLevel = slog.LevelError
	}

	entries := a.ring.Recent(limit, minLevel)
	resp := make([]logEntryResponse, len(entries))
	for i, e := range entries {
		resp[i] = logEntryResponse{
			Time:    e.Time.Format(time.RFC3339Nano),
			Level:   e.Level.String(),
			Message: e.Message,
			Attrs:   e.Attrs,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
