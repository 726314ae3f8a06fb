// Package server exposes the WebSocket session endpoint, the content
// REST API and the static client bundle.
package server

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/judesonleo/songcast/internal/config"
	"github.com/judesonleo/songcast/internal/content"
	"github.com/judesonleo/songcast/internal/health"
	"github.com/judesonleo/songcast/internal/metrics"
	"github.com/judesonleo/songcast/internal/security"
	"github.com/judesonleo/songcast/internal/session"
)

// Server wires the transport layer to the session coordinator and the
// content providers.
type Server struct {
	Coordinator *session.Coordinator
	Registry    *session.Registry
	Store       *session.Store
	Library     *content.Library
	Bible       *content.Bible
	Metrics     *metrics.Metrics // optional, nil if metrics disabled

	rateLimiter *security.RateLimiter
	tracker     *security.Tracker

	// shutdownCtx is cancelled when the process begins shutting down.
	shutdownCtx context.Context

	// drainCtx is cancelled when the server begins draining connections.
	// Active connections watch this to send graceful close frames.
	drainCtx    context.Context
	drainCancel context.CancelFunc

	// mu protects cfg during hot-reload
	mu  sync.RWMutex
	cfg *config.Config
}

// New creates a server from its collaborators. shutdownCtx is the
// process lifetime context.
func New(cfg *config.Config, coord *session.Coordinator, reg *session.Registry, store *session.Store, lib *content.Library, bible *content.Bible, m *metrics.Metrics, shutdownCtx context.Context) *Server {
	drainCtx, drainCancel := context.WithCancel(context.Background())

	var rl *security.RateLimiter
	if cfg.Security.RateLimit.Enabled && cfg.Security.RateLimit.ConnectionsPerMinute > 0 {
		rl = security.NewRateLimiter(
			rate.Limit(float64(cfg.Security.RateLimit.ConnectionsPerMinute)/60.0),
			cfg.Security.RateLimit.ConnectionsPerMinute,
		)
	}

	return &Server{
		Coordinator: coord,
		Registry:    reg,
		Store:       store,
		Library:     lib,
		Bible:       bible,
		Metrics:     m,
		rateLimiter: rl,
		tracker:     security.NewTracker(cfg.Security.MaxConnections, cfg.Security.MaxConnectionsPerIP),
		shutdownCtx: shutdownCtx,
		drainCtx:    drainCtx,
		drainCancel: drainCancel,
		cfg:         cfg,
	}
}

// Handler returns the public HTTP handler: WebSocket endpoint, REST
// API and the static client bundle with SPA fallback.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/songs", s.handleSongList)
	mux.HandleFunc("/api/songs/search", s.handleSongSearch)
	mux.HandleFunc("/api/songs/", s.handleSongGet)
	mux.HandleFunc("/api/bible/verse", s.handleVerse)
	mux.HandleFunc("/api/bible/search", s.handleVerseSearch)
	mux.Handle("/", s.staticHandler())
	return mux
}

// StartDrain signals all active connections to begin graceful
// shutdown. Each connection's drain watcher sends a close frame.
func (s *Server) StartDrain() {
	s.drainCancel()
}

// Stop releases background resources.
func (s *Server) Stop() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
}

// GetConfig returns the current config (thread-safe for hot-reload).
func (s *Server) GetConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// UpdateConfig swaps the config (called on SIGHUP). Admission caps and
// the connection rate take effect immediately.
func (s *Server) UpdateConfig(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	s.tracker.SetLimits(cfg.Security.MaxConnections, cfg.Security.MaxConnectionsPerIP)
	if s.rateLimiter != nil && cfg.Security.RateLimit.ConnectionsPerMinute > 0 {
		s.rateLimiter.UpdateRate(
			rate.Limit(float64(cfg.Security.RateLimit.ConnectionsPerMinute)/60.0),
			cfg.Security.RateLimit.ConnectionsPerMinute,
		)
	}
}

// Stats supplies the live counts for the health endpoint.
func (s *Server) Stats() health.Stats {
	songs := 0
	if s.Library != nil {
		songs = s.Library.Count()
	}
	return health.Stats{
		ActiveRooms:       s.Store.Count(),
		ActiveConnections: s.Registry.Count(),
		SongsLoaded:       songs,
	}
}

// staticHandler serves the client bundle with SPA fallback: unknown
// paths without a file extension get index.html so client-side routes
// work on refresh.
func (s *Server) staticHandler() http.Handler {
	dir := s.GetConfig().Server.StaticDir
	fs := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(dir, filepath.Clean("/"+r.URL.Path))
		if _, err := os.Stat(path); err != nil && !strings.Contains(filepath.Base(r.URL.Path), ".") {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
			return
		}
		fs.ServeHTTP(w, r)
	})
}
