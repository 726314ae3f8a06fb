// Package content loads the song library and bible translations that
// session commands and the REST API serve.
package content

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/judesonleo/songcast/internal/session"
)

// Library holds the songs loaded from a directory of JSON files. All
// read methods are safe for concurrent use with Reload.
type Library struct {
	dir string

	mu    sync.RWMutex
	songs map[string]session.Song
	order []string // ids sorted by title
}

// NewLibrary loads every *.json file under dir. Files that fail to
// parse are skipped with a warning; an unreadable directory is an
// error.
func NewLibrary(dir string) (*Library, error) {
	lib := &Library{dir: dir}
	if err := lib.Reload(); err != nil {
		return nil, err
	}
	return lib, nil
}

// Reload re-reads the song directory, replacing the in-memory set.
func (l *Library) Reload() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("reading songs directory: %w", err)
	}

	songs := make(map[string]session.Song)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		song, err := loadSongFile(path)
		if err != nil {
			slog.Warn("skipping unparseable song file", "path", path, "error", err)
			continue
		}
		if song.ID == "" {
			song.ID = strings.TrimSuffix(entry.Name(), ".json")
		}
		songs[song.ID] = song
	}

	order := make([]string, 0, len(songs))
	for id := range songs {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := songs[order[i]], songs[order[j]]
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return a.ID < b.ID
	})

	l.mu.Lock()
	l.songs = songs
	l.order = order
	l.mu.Unlock()

	slog.Info("song library loaded", "dir", l.dir, "songs", len(songs))
	return nil
}

func loadSongFile(path string) (session.Song, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return session.Song{}, err
	}
	var song session.Song
	if err := json.Unmarshal(data, &song); err != nil {
		return session.Song{}, err
	}
	if song.Title == "" {
		return session.Song{}, fmt.Errorf("song has no title")
	}
	return song, nil
}

// List returns all songs sorted by title.
func (l *Library) List() []session.Song {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]session.Song, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.songs[id])
	}
	return out
}

// Get returns the song with the given id.
func (l *Library) Get(id string) (session.Song, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	song, ok := l.songs[id]
	return song, ok
}

// Search returns songs whose title, artist or lyrics contain query,
// case-insensitively. An empty query matches nothing.
func (l *Library) Search(query string) []session.Song {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []session.Song
	for _, id := range l.order {
		song := l.songs[id]
		if strings.Contains(strings.ToLower(song.Title), query) ||
			strings.Contains(strings.ToLower(song.Artist), query) ||
			strings.Contains(strings.ToLower(song.Lyrics), query) {
			out = append(out, song)
		}
	}
	return out
}

// Count returns the number of loaded songs.
func (l *Library) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.songs)
}

// Watch reloads the library whenever files in the song directory
// change. It blocks until ctx is cancelled.
func (l *Library) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("watching %s: %w", l.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			slog.Debug("song directory changed", "file", event.Name, "op", event.Op.String())
			if err := l.Reload(); err != nil {
				slog.Error("song library reload failed", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("song directory watch error", "error", err)
		}
	}
}
