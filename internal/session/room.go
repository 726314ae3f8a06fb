package session

import (
	"sync"
	"time"
)

// Song is the full song payload carried through selection messages.
type Song struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Artist   string `json:"artist,omitempty"`
	Lyrics   string `json:"lyrics"`
	Language string `json:"language,omitempty"`
}

// Verse is a resolved Bible verse in a specific translation language.
type Verse struct {
	Reference string `json:"reference"`
	Text      string `json:"text"`
	Language  string `json:"language"`
}

// SelectionKind tags a room's current selection.
type SelectionKind int

const (
	SelectionNone SelectionKind = iota
	SelectionSong
	SelectionVerse
)

func (k SelectionKind) String() string {
	switch k {
	case SelectionSong:
		return "song"
	case SelectionVerse:
		return "verse"
	default:
		return "none"
	}
}

// Selection is the tagged variant of what a room currently presents.
// Exactly one of Song/Verse is set when Kind is not SelectionNone.
type Selection struct {
	Kind  SelectionKind
	Song  *Song
	Verse *Verse
}

// Section is a named substring range of the current song's lyrics.
// Offsets always lie within [0, len(lyrics)].
type Section struct {
	Name  string
	Text  string
	Start int
	End   int
}

// Room is the shared state scoped to one code: one live presentation.
// All fields are guarded by mu; the coordinator holds the lock while
// mutating so commands for the same room are serialized while different
// rooms proceed independently.
type Room struct {
	mu sync.Mutex

	code         string
	controllerID string              // empty while the controller is absent
	displays     map[string]struct{} // connection IDs, non-owning

	selection Selection
	section   *Section // only meaningful while selection is a song
	scrollPos float64
	language  string

	lastControllerSeen time.Time

	// dead is set by the store, under mu, when the room is removed.
	// Holders of a stale *Room must check it after locking.
	dead bool
}

func newRoom(code, language string, now time.Time) *Room {
	return &Room{
		code:               code,
		displays:           make(map[string]struct{}),
		language:           language,
		lastControllerSeen: now,
	}
}

// Code returns the room's immutable code.
func (r *Room) Code() string {
	return r.code
}

// displayIDs returns a snapshot of the display connection IDs.
// Caller must hold r.mu.
func (r *Room) displayIDs() []string {
	ids := make([]string, 0, len(r.displays))
	for id := range r.displays {
		ids = append(ids, id)
	}
	return ids
}

// RoomInfo is a point-in-time snapshot of a room for the admin API and
// health endpoint.
type RoomInfo struct {
	Code               string    `json:"code"`
	HasController      bool      `json:"has_controller"`
	Displays           int       `json:"displays"`
	Selection          string    `json:"selection"`
	Language           string    `json:"language"`
	LastControllerSeen time.Time `json:"last_controller_seen"`
}

// Info returns a consistent snapshot of the room.
func (r *Room) Info() RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RoomInfo{
		Code:               r.code,
		HasController:      r.controllerID != "",
		Displays:           len(r.displays),
		Selection:          r.selection.Kind.String(),
		Language:           r.language,
		LastControllerSeen: r.lastControllerSeen,
	}
}
