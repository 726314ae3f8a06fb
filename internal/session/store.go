package session

import (
	"fmt"
	"sync"
	"time"
)

// Store owns the mapping from room code to live Room. Codes are unique
// among live rooms only; a destroyed room's code may be reused.
type Store struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	gen             *CodeGenerator
	maxAttempts     int
	defaultLanguage string
	now             func() time.Time
}

// NewStore creates an empty room store. maxAttempts bounds the collision
// retry loop when allocating generated codes.
func NewStore(gen *CodeGenerator, maxAttempts int, defaultLanguage string) *Store {
	if maxAttempts <= 0 {
		maxAttempts = 50
	}
	if defaultLanguage == "" {
		defaultLanguage = "en"
	}
	return &Store{
		rooms:           make(map[string]*Room),
		gen:             gen,
		maxAttempts:     maxAttempts,
		defaultLanguage: defaultLanguage,
		now:             time.Now,
	}
}

// Acquire returns the live room for requested if one exists, otherwise
// creates a room. A requested code is honored when it is valid and free;
// an invalid or unusable request falls back to a generated code. The
// caller learns about the fallback by comparing the room's code with the
// requested one.
//
// The whole operation runs under one lock so two concurrent requests for
// the same fresh code cannot both create it.
func (s *Store) Acquire(requested string) (room *Room, created bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if requested != "" {
		if r, ok := s.rooms[requested]; ok {
			return r, false, nil
		}
		if ValidCode(requested, s.gen.Length()) {
			r := newRoom(requested, s.defaultLanguage, s.now())
			s.rooms[requested] = r
			return r, true, nil
		}
	}

	for i := 0; i < s.maxAttempts; i++ {
		code, genErr := s.gen.Generate()
		if genErr != nil {
			return nil, false, fmt.Errorf("generating room code: %w", genErr)
		}
		if _, taken := s.rooms[code]; taken {
			continue
		}
		r := newRoom(code, s.defaultLanguage, s.now())
		s.rooms[code] = r
		return r, true, nil
	}
	return nil, false, ErrCodeSpaceExhausted
}

// Get returns the live room for code, if any.
func (s *Store) Get(code string) (*Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[code]
	return r, ok
}

// Destroy removes the room unconditionally. Connections are not touched;
// notifying them is the coordinator's job.
func (s *Store) Destroy(code string) {
	s.mu.Lock()
	if r, ok := s.rooms[code]; ok {
		r.mu.Lock()
		r.dead = true
		r.mu.Unlock()
		delete(s.rooms, code)
	}
	s.mu.Unlock()
}

// DestroyIf removes the room when cond, evaluated under the room's lock,
// returns true. Returns whether the room was removed. This lets the
// expiry check and the removal happen atomically so a controller that
// reconnects between the two is never stranded in a deleted room.
func (s *Store) DestroyIf(code string, cond func(*Room) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[code]
	if !ok {
		return false
	}
	r.mu.Lock()
	remove := cond(r)
	if remove {
		// Marked under both locks, so anyone who resolved this room
		// before the removal sees dead once they take r.mu.
		r.dead = true
	}
	r.mu.Unlock()
	if remove {
		delete(s.rooms, code)
	}
	return remove
}

// Count returns the number of live rooms.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// Codes returns a snapshot of all live room codes.
func (s *Store) Codes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	codes := make([]string, 0, len(s.rooms))
	for code := range s.rooms {
		codes = append(codes, code)
	}
	return codes
}

// Snapshot returns point-in-time info for every live room.
func (s *Store) Snapshot() []RoomInfo {
	s.mu.RLock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.RUnlock()

	infos := make([]RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		infos = append(infos, r.Info())
	}
	return infos
}
