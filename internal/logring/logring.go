// Package logring keeps the most recent log records in memory so the
// admin API can show them without tailing files.
package logring

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Entry is one captured log record.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   slog.Level     `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Ring is a fixed-capacity circular buffer of log entries.
type Ring struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	wrapped bool
}

// New creates a ring holding up to capacity entries.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 256
	}
	return &Ring{entries: make([]Entry, capacity)}
}

// Append stores an entry, overwriting the oldest once full.
func (r *Ring) Append(e Entry) {
	r.mu.Lock()
	r.entries[r.next] = e
	r.next++
	if r.next == len(r.entries) {
		r.next = 0
		r.wrapped = true
	}
	r.mu.Unlock()
}

// Recent returns up to limit entries at or above minLevel, newest first.
// limit <= 0 means no limit.
func (r *Ring) Recent(limit int, minLevel slog.Level) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	size := r.next
	if r.wrapped {
		size = len(r.entries)
	}

	var out []Entry
	for i := 1; i <= size; i++ {
		idx := (r.next - i + len(r.entries)) % len(r.entries)
		e := r.entries[idx]
		if e.Level < minLevel {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Len returns the number of stored entries.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.wrapped {
		return len(r.entries)
	}
	return r.next
}

// teeHandler forwards records to an inner handler and copies them into
// a Ring.
type teeHandler struct {
	inner slog.Handler
	ring  *Ring
	attrs []slog.Attr
}

// Tee wraps inner so every record it handles is also captured in ring.
func Tee(inner slog.Handler, ring *Ring) slog.Handler {
	return &teeHandler{inner: inner, ring: ring}
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *teeHandler) Handle(ctx context.Context, rec slog.Record) error {
	entry := Entry{
		Time:    rec.Time,
		Level:   rec.Level,
		Message: rec.Message,
	}
	attrs := make(map[string]any, rec.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	rec.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})
	if len(attrs) > 0 {
		entry.Attrs = attrs
	}
	h.ring.Append(entry)

	return h.inner.Handle(ctx, rec)
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &teeHandler{inner: h.inner.WithAttrs(attrs), ring: h.ring, attrs: merged}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	// Groups are flattened for the ring; the inner handler keeps them.
	return &teeHandler{inner: h.inner.WithGroup(name), ring: h.ring, attrs: h.attrs}
}
