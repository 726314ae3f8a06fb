// Package health serves the loopback health check endpoint.
package health

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"
)

// Stats reports the live counts shown by the health endpoint.
type Stats struct {
	ActiveRooms       int
	ActiveConnections int
	SongsLoaded       int
}

// StatsFunc supplies current counts without coupling the handler to
// the session packages.
type StatsFunc func() Stats

// Response is the JSON body of the /health endpoint.
type Response struct {
	Status            string   `json:"status"`
	Uptime            string   `json:"uptime"`
	ActiveRooms       int      `json:"active_rooms"`
	ActiveConnections int      `json:"active_connections"`
	Version           string   `json:"version,omitempty"`
	Timestamp         string   `json:"timestamp"`
	Details           *Details `json:"details,omitempty"`
}

// Details contains extended health information.
type Details struct {
	SongsLoaded int     `json:"songs_loaded"`
	Goroutines  int     `json:"goroutines"`
	MemoryMB    float64 `json:"memory_mb"`
}

// Handler serves health check requests. The listener it is mounted on
// binds to loopback only, so systemd and local monitors can poll it
// without touching the public port.
type Handler struct {
	startTime time.Time
	stats     StatsFunc
	version   string
	detailed  bool
}

// NewHandler creates a health handler reading live counts from stats.
func NewHandler(stats StatsFunc, version string, detailed bool) *Handler {
	return &Handler{
		startTime: time.Now(),
		stats:     stats,
		version:   version,
		detailed:  detailed,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stats := h.stats()

	resp := Response{
		Status:            "ok",
		Uptime:            time.Since(h.startTime).Round(time.Second).String(),
		ActiveRooms:       stats.ActiveRooms,
		ActiveConnections: stats.ActiveConnections,
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
	}

	if h.detailed {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		resp.Version = h.version
		resp.Details = &Details{
			SongsLoaded: stats.SongsLoaded,
			Goroutines:  runtime.NumGoroutine(),
			MemoryMB:    float64(memStats.Alloc) / 1024 / 1024,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
