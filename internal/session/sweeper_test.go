package session

import (
	"context"
	"testing"
	"time"
)

func TestSweepReapsAbandonedRooms(t *testing.T) {
	h := newHarness(t)
	sweeper := NewSweeper(h.store, h.coord, time.Second)

	// Room A: controller gone. Room B: controller still attached.
	cA, pA := h.connect()
	codeA := h.initController(t, cA, pA, "")
	cB, pB := h.connect()
	codeB := h.initController(t, cB, pB, "")

	h.coord.HandleDisconnect(context.Background(), cA.ID())

	if n := sweeper.Sweep(context.Background()); n != 0 {
		t.Fatalf("sweep inside grace reaped %d rooms, want 0", n)
	}

	h.clock.Advance(6 * time.Minute)
	if n := sweeper.Sweep(context.Background()); n != 1 {
		t.Fatalf("sweep after grace reaped %d rooms, want 1", n)
	}

	if _, ok := h.store.Get(codeA); ok {
		t.Error("abandoned room should be reaped")
	}
	if _, ok := h.store.Get(codeB); !ok {
		t.Error("room with a live controller must survive")
	}

	// Nothing left to reap.
	if n := sweeper.Sweep(context.Background()); n != 0 {
		t.Errorf("second sweep reaped %d rooms, want 0", n)
	}
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	sweeper := NewSweeper(h.store, h.coord, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestNewSweeperDefaultInterval(t *testing.T) {
	h := newHarness(t)
	s := NewSweeper(h.store, h.coord, 0)
	if s.interval != DefaultSweepInterval {
		t.Errorf("interval = %v, want %v", s.interval, DefaultSweepInterval)
	}
}
