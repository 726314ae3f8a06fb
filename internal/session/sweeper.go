package session

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often the sweeper scans for abandoned
// rooms. Coarse on purpose; expiry precision is the grace period, not
// the tick.
const DefaultSweepInterval = 30 * time.Second

// Sweeper reaps rooms whose controller has been absent past the grace
// period. The grace check itself lives in Coordinator.ExpireRoom so that
// check and teardown are atomic with respect to a reconnecting
// controller.
type Sweeper struct {
	store    *Store
	coord    *Coordinator
	interval time.Duration
}

// NewSweeper creates a sweeper over the given store and coordinator.
func NewSweeper(store *Store, coord *Coordinator, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{store: store, coord: coord, interval: interval}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep scans all live rooms once and returns how many were reaped.
func (s *Sweeper) Sweep(ctx context.Context) int {
	expired := 0
	for _, code := range s.store.Codes() {
		if s.coord.ExpireRoom(ctx, code) {
			expired++
		}
	}
	if expired > 0 {
		slog.Info("session: sweep complete", "expired", expired, "live", s.store.Count())
	}
	return expired
}
