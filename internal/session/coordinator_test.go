package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeVerses resolves from a fixed map, keyed reference|language.
type fakeVerses struct {
	verses  map[string]Verse
	failAll bool
}

func (f *fakeVerses) LookupVerse(ctx context.Context, reference, language string) (Verse, error) {
	if f.failAll {
		return Verse{}, errors.New("backend down")
	}
	v, ok := f.verses[reference+"|"+language]
	if !ok {
		return Verse{}, fmt.Errorf("no verse: %w", ErrContentNotFound)
	}
	return v, nil
}

type harness struct {
	store  *Store
	reg    *Registry
	coord  *Coordinator
	clock  *fakeClock
	verses *fakeVerses
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := newFakeClock()
	verses := &fakeVerses{verses: map[string]Verse{
		"John 3:16|en": {Reference: "John 3:16", Text: "For God so loved the world", Language: "en"},
		"John 3:16|kn": {Reference: "John 3:16", Text: "ಯೋಹಾನ", Language: "kn"},
	}}
	store := NewStore(NewCodeGenerator(6), 50, "en")
	reg := NewRegistry(time.Second)
	coord := NewCoordinator(store, reg, verses, Options{
		GracePeriod: 5 * time.Minute,
		Now:         clock.Now,
	})
	return &harness{store: store, reg: reg, coord: coord, clock: clock, verses: verses}
}

func (h *harness) connect() (*Conn, *fakePeer) {
	peer := &fakePeer{}
	return h.reg.Register(peer), peer
}

func (h *harness) send(t *testing.T, conn *Conn, v map[string]any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	h.coord.HandleMessage(context.Background(), conn.ID(), data)
}

// initController runs a controller init and returns the room code from
// the sessionCreated reply.
func (h *harness) initController(t *testing.T, conn *Conn, peer *fakePeer, roomID string) string {
	t.Helper()
	msg := map[string]any{"type": "init", "clientType": "controller"}
	if roomID != "" {
		msg["roomId"] = roomID
	}
	h.send(t, conn, msg)

	events := peer.events(t)
	last := events[len(events)-1]
	if last["type"] != "sessionCreated" {
		t.Fatalf("controller init reply = %v, want sessionCreated", last)
	}
	code, _ := last["sessionId"].(string)
	if code == "" {
		t.Fatal("sessionCreated without sessionId")
	}
	return code
}

func (h *harness) joinDisplay(t *testing.T, conn *Conn, code string) {
	t.Helper()
	h.send(t, conn, map[string]any{"type": "join", "roomId": code})
}

func lastEvent(t *testing.T, peer *fakePeer) map[string]any {
	t.Helper()
	events := peer.events(t)
	if len(events) == 0 {
		t.Fatal("peer received nothing")
	}
	return events[len(events)-1]
}

func countEvents(t *testing.T, peer *fakePeer, typ string) int {
	t.Helper()
	n := 0
	for _, e := range peer.events(t) {
		if e["type"] == typ {
			n++
		}
	}
	return n
}

func TestControllerInitCreatesRoom(t *testing.T) {
	h := newHarness(t)
	conn, peer := h.connect()

	code := h.initController(t, conn, peer, "")
	if len(code) != 6 {
		t.Errorf("code %q has length %d, want 6", code, len(code))
	}
	if _, ok := h.store.Get(code); !ok {
		t.Error("room should exist in the store")
	}

	role, bound, ok := conn.Binding()
	if !ok || role != RoleController || bound != code {
		t.Errorf("binding = %v %q %v, want controller %q true", role, bound, ok, code)
	}
}

func TestControllerInitHonorsRequestedCode(t *testing.T) {
	h := newHarness(t)
	conn, peer := h.connect()

	code := h.initController(t, conn, peer, "abc123")
	if code != "ABC123" {
		t.Errorf("code = %q, want normalized ABC123", code)
	}
}

func TestControllerInitInvalidCodeFallsBack(t *testing.T) {
	h := newHarness(t)
	conn, peer := h.connect()

	code := h.initController(t, conn, peer, "no!")
	if code == "NO!" || len(code) != 6 {
		t.Errorf("invalid requested code should fall back, got %q", code)
	}
	if lastEvent(t, peer)["message"] == "" {
		t.Error("fallback should be explained in the reply message")
	}
}

func TestControllerRebindDisplacesPrevious(t *testing.T) {
	h := newHarness(t)
	first, firstPeer := h.connect()
	code := h.initController(t, first, firstPeer, "")

	second, secondPeer := h.connect()
	got := h.initController(t, second, secondPeer, code)
	if got != code {
		t.Fatalf("rebind landed in %q, want %q", got, code)
	}

	// Exactly one controller: the displaced one can no longer drive.
	h.send(t, first, map[string]any{
		"type": "selectSong",
		"song": map[string]any{"title": "T", "lyrics": "L"},
	})
	if lastEvent(t, firstPeer)["type"] != "error" {
		t.Error("displaced controller should get an error")
	}

	// The new controller still can.
	h.send(t, second, map[string]any{
		"type": "selectSong",
		"song": map[string]any{"title": "T", "lyrics": "L"},
	})
	if lastEvent(t, secondPeer)["type"] == "error" {
		t.Error("current controller should be able to drive")
	}
}

func TestDisplayJoinUnknownRoom(t *testing.T) {
	h := newHarness(t)
	conn, peer := h.connect()

	h.joinDisplay(t, conn, "ZZZZZZ")
	if lastEvent(t, peer)["type"] != "error" {
		t.Errorf("event = %v, want error", lastEvent(t, peer))
	}
	if _, _, bound := conn.Binding(); bound {
		t.Error("failed join should leave the connection unbound")
	}
}

func TestDisplayJoinRequiresRoomID(t *testing.T) {
	h := newHarness(t)
	conn, peer := h.connect()

	h.send(t, conn, map[string]any{"type": "join"})
	if lastEvent(t, peer)["type"] != "error" {
		t.Error("join without roomId should fail")
	}
}

func TestDisplayCannotDriveRoom(t *testing.T) {
	h := newHarness(t)
	controller, controllerPeer := h.connect()
	code := h.initController(t, controller, controllerPeer, "")

	display, displayPeer := h.connect()
	h.joinDisplay(t, display, code)

	h.send(t, display, map[string]any{
		"type": "selectSong",
		"song": map[string]any{"title": "T", "lyrics": "L"},
	})
	if lastEvent(t, displayPeer)["type"] != "error" {
		t.Error("display-issued commands should be rejected")
	}
}

func TestSongSelectBroadcastsToDisplaysOnly(t *testing.T) {
	h := newHarness(t)
	controller, controllerPeer := h.connect()
	code := h.initController(t, controller, controllerPeer, "")

	d1, p1 := h.connect()
	d2, p2 := h.connect()
	h.joinDisplay(t, d1, code)
	h.joinDisplay(t, d2, code)

	h.send(t, controller, map[string]any{
		"type": "selectSong",
		"song": map[string]any{"id": "s1", "title": "Amazing Grace", "lyrics": "words"},
	})

	for i, p := range []*fakePeer{p1, p2} {
		event := lastEvent(t, p)
		if event["type"] != "songSelected" {
			t.Fatalf("display %d event = %v", i, event)
		}
		song := event["song"].(map[string]any)
		if song["title"] != "Amazing Grace" {
			t.Errorf("display %d song = %v", i, song)
		}
	}
	// The controller hears only its own acknowledgements.
	if countEvents(t, controllerPeer, "songSelected") != 0 {
		t.Error("controller should not receive its own broadcast")
	}
}

func TestUnifiedSongCommandEchoesAsSong(t *testing.T) {
	h := newHarness(t)
	controller, controllerPeer := h.connect()
	code := h.initController(t, controller, controllerPeer, "")

	display, displayPeer := h.connect()
	h.joinDisplay(t, display, code)

	h.send(t, controller, map[string]any{
		"type":   "song",
		"action": "select",
		"song":   map[string]any{"title": "T", "lyrics": "L"},
	})
	if lastEvent(t, displayPeer)["type"] != "song" {
		t.Errorf("event = %v, want song", lastEvent(t, displayPeer))
	}

	h.send(t, controller, map[string]any{
		"type":   "song",
		"action": "delete",
		"song":   map[string]any{"title": "T", "lyrics": "L"},
	})
	if lastEvent(t, controllerPeer)["type"] != "error" {
		t.Error("unsupported action should be rejected")
	}
}

func TestDisplayJoinReplaysCurrentState(t *testing.T) {
	h := newHarness(t)
	controller, controllerPeer := h.connect()
	code := h.initController(t, controller, controllerPeer, "")

	h.send(t, controller, map[string]any{
		"type": "selectSong",
		"song": map[string]any{"id": "s1", "title": "T", "lyrics": "verse one words here"},
	})
	h.send(t, controller, map[string]any{
		"type":           "displaySection",
		"sectionName":    "Verse 1",
		"section":        "verse one",
		"scrollPosition": 0.25,
	})
	h.send(t, controller, map[string]any{"type": "scrollDisplay", "position": 0.5})

	late, latePeer := h.connect()
	h.joinDisplay(t, late, code)

	events := latePeer.events(t)
	if len(events) != 3 {
		t.Fatalf("replay = %d events, want 3: %v", len(events), events)
	}
	if events[0]["type"] != "songSelected" {
		t.Errorf("replay[0] = %v, want songSelected", events[0])
	}
	if events[1]["type"] != "displaySection" || events[1]["sectionName"] != "Verse 1" {
		t.Errorf("replay[1] = %v, want displaySection Verse 1", events[1])
	}
	if events[2]["type"] != "scrollDisplay" || events[2]["position"] != 0.5 {
		t.Errorf("replay[2] = %v, want scrollDisplay 0.5", events[2])
	}
}

func TestSongSelectResetsSectionAndScroll(t *testing.T) {
	h := newHarness(t)
	controller, controllerPeer := h.connect()
	code := h.initController(t, controller, controllerPeer, "")

	h.send(t, controller, map[string]any{
		"type": "selectSong",
		"song": map[string]any{"title": "First", "lyrics": "first words"},
	})
	h.send(t, controller, map[string]any{
		"type": "displaySection", "sectionName": "V1", "section": "first", "scrollPosition": 0.3,
	})
	h.send(t, controller, map[string]any{"type": "scrollDisplay", "position": 0.9})

	// New selection wipes section and scroll regardless of prior state.
	h.send(t, controller, map[string]any{
		"type": "selectSong",
		"song": map[string]any{"title": "Second", "lyrics": "second words"},
	})

	late, latePeer := h.connect()
	h.joinDisplay(t, late, code)
	events := latePeer.events(t)
	if len(events) != 1 {
		t.Fatalf("replay after re-select = %d events, want just the song: %v", len(events), events)
	}
	song := events[0]["song"].(map[string]any)
	if song["title"] != "Second" {
		t.Errorf("replayed song = %v", song)
	}
}

func TestSectionRequiresSongSelection(t *testing.T) {
	h := newHarness(t)
	controller, controllerPeer := h.connect()
	h.initController(t, controller, controllerPeer, "")

	h.send(t, controller, map[string]any{
		"type": "displaySection", "sectionName": "V1", "section": "text",
	})
	if lastEvent(t, controllerPeer)["type"] != "error" {
		t.Error("section without a song should be rejected")
	}
}

func TestSectionOffsetValidation(t *testing.T) {
	h := newHarness(t)
	controller, controllerPeer := h.connect()
	h.initController(t, controller, controllerPeer, "")
	h.send(t, controller, map[string]any{
		"type": "selectSong",
		"song": map[string]any{"title": "T", "lyrics": "0123456789"},
	})

	tests := []struct {
		name   string
		start  any
		end    any
		wantOK bool
	}{
		{"valid range", 2, 6, true},
		{"start only", 2, nil, false},
		{"negative start", -1, 4, false},
		{"end past lyrics", 0, 11, false},
		{"inverted", 6, 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := map[string]any{
				"type": "displaySection", "sectionName": "V", "section": "2345",
			}
			if tt.start != nil {
				msg["start"] = tt.start
			}
			if tt.end != nil {
				msg["end"] = tt.end
			}
			h.send(t, controller, msg)
			gotErr := lastEvent(t, controllerPeer)["type"] == "error"
			if gotErr == tt.wantOK {
				t.Errorf("error = %v, wantOK = %v", gotErr, tt.wantOK)
			}
		})
	}
}

func TestScrollIsolationBetweenRooms(t *testing.T) {
	h := newHarness(t)

	c1, p1 := h.connect()
	code1 := h.initController(t, c1, p1, "")
	d1, dp1 := h.connect()
	h.joinDisplay(t, d1, code1)

	c2, p2 := h.connect()
	code2 := h.initController(t, c2, p2, "")
	d2, dp2 := h.connect()
	h.joinDisplay(t, d2, code2)

	h.send(t, c1, map[string]any{"type": "scrollDisplay", "position": 0.7})

	if countEvents(t, dp1, "scrollDisplay") != 1 {
		t.Error("display in the scrolled room should receive the update")
	}
	if countEvents(t, dp2, "scrollDisplay") != 0 {
		t.Error("displays in other rooms must not receive the update")
	}
}

func TestRapidScrollsLastWriteWins(t *testing.T) {
	h := newHarness(t)
	controller, controllerPeer := h.connect()
	code := h.initController(t, controller, controllerPeer, "")
	display, displayPeer := h.connect()
	h.joinDisplay(t, display, code)

	positions := []float64{0.1, 0.4, 0.2, 0.8, 0.65}
	for _, pos := range positions {
		h.send(t, controller, map[string]any{"type": "scrollDisplay", "position": pos})
	}

	if got := lastEvent(t, displayPeer); got["position"] != 0.65 {
		t.Errorf("final position = %v, want 0.65", got["position"])
	}
	// A display joining now sees only the final value.
	late, latePeer := h.connect()
	h.joinDisplay(t, late, code)
	if got := lastEvent(t, latePeer); got["position"] != 0.65 {
		t.Errorf("replayed position = %v, want 0.65", got["position"])
	}
}

func TestVerseSelect(t *testing.T) {
	h := newHarness(t)
	controller, controllerPeer := h.connect()
	code := h.initController(t, controller, controllerPeer, "")
	display, displayPeer := h.connect()
	h.joinDisplay(t, display, code)

	h.send(t, controller, map[string]any{
		"type": "bible", "action": "select", "reference": "John 3:16", "language": "kn",
	})

	event := lastEvent(t, displayPeer)
	if event["type"] != "bible" || event["language"] != "kn" {
		t.Fatalf("event = %v", event)
	}

	// The room remembers the language for subsequent lookups.
	h.send(t, controller, map[string]any{
		"type": "bible", "action": "select", "reference": "John 3:16",
	})
	if lastEvent(t, displayPeer)["language"] != "kn" {
		t.Error("room language should carry over when the command omits it")
	}
}

func TestVerseSelectUnknownReference(t *testing.T) {
	h := newHarness(t)
	controller, controllerPeer := h.connect()
	h.initController(t, controller, controllerPeer, "")

	h.send(t, controller, map[string]any{
		"type": "bible", "action": "select", "reference": "Obadiah 99:99",
	})
	if lastEvent(t, controllerPeer)["type"] != "error" {
		t.Error("unknown reference should fail")
	}
}

func TestVerseSelectBackendFailure(t *testing.T) {
	h := newHarness(t)
	h.verses.failAll = true
	controller, controllerPeer := h.connect()
	code := h.initController(t, controller, controllerPeer, "")
	display, displayPeer := h.connect()
	h.joinDisplay(t, display, code)

	h.send(t, controller, map[string]any{
		"type": "bible", "action": "select", "reference": "John 3:16",
	})

	// Only the sender hears about it; room state is untouched.
	if lastEvent(t, controllerPeer)["type"] != "error" {
		t.Error("backend failure should be reported to the sender")
	}
	if len(displayPeer.events(t)) != 0 {
		t.Error("displays must not see failed lookups")
	}
	room, _ := h.store.Get(code)
	if room.Info().Selection != "none" {
		t.Error("failed lookup must not change the selection")
	}
}

func TestVerseSelectReplacesSong(t *testing.T) {
	h := newHarness(t)
	controller, controllerPeer := h.connect()
	code := h.initController(t, controller, controllerPeer, "")

	h.send(t, controller, map[string]any{
		"type": "selectSong",
		"song": map[string]any{"title": "T", "lyrics": "some words"},
	})
	h.send(t, controller, map[string]any{
		"type": "displaySection", "sectionName": "V1", "section": "some",
	})
	h.send(t, controller, map[string]any{
		"type": "bible", "action": "select", "reference": "John 3:16", "language": "en",
	})

	late, latePeer := h.connect()
	h.joinDisplay(t, late, code)
	events := latePeer.events(t)
	if len(events) != 1 || events[0]["type"] != "bible" {
		t.Fatalf("replay = %v, want a single bible event", events)
	}
}

func TestControllerDisconnectKeepsRoomAlive(t *testing.T) {
	h := newHarness(t)
	controller, controllerPeer := h.connect()
	code := h.initController(t, controller, controllerPeer, "")
	display, displayPeer := h.connect()
	h.joinDisplay(t, display, code)

	h.coord.HandleDisconnect(context.Background(), controller.ID())

	event := lastEvent(t, displayPeer)
	if event["type"] != "controllerDisconnected" {
		t.Fatalf("event = %v, want controllerDisconnected", event)
	}
	if _, ok := h.store.Get(code); !ok {
		t.Error("room must survive controller disconnect")
	}
	if h.reg.Count() != 1 {
		t.Errorf("registry count = %d, want 1", h.reg.Count())
	}
}

func TestControllerReconnectWithinGrace(t *testing.T) {
	h := newHarness(t)
	controller, controllerPeer := h.connect()
	code := h.initController(t, controller, controllerPeer, "")
	h.send(t, controller, map[string]any{
		"type": "selectSong",
		"song": map[string]any{"title": "T", "lyrics": "L"},
	})

	h.coord.HandleDisconnect(context.Background(), controller.ID())
	h.clock.Advance(2 * time.Minute)

	// Fresh transport, same room code: full state is still there.
	again, againPeer := h.connect()
	got := h.initController(t, again, againPeer, code)
	if got != code {
		t.Fatalf("rejoined %q, want %q", got, code)
	}
	room, _ := h.store.Get(code)
	if room.Info().Selection != "song" {
		t.Error("selection must survive reconnect within grace")
	}

	// Reclaimed room no longer expires.
	h.clock.Advance(10 * time.Minute)
	if h.coord.ExpireRoom(context.Background(), code) {
		t.Error("room with a live controller must not expire")
	}
}

func TestExpireRoomAfterGrace(t *testing.T) {
	h := newHarness(t)
	controller, controllerPeer := h.connect()
	code := h.initController(t, controller, controllerPeer, "")
	display, displayPeer := h.connect()
	h.joinDisplay(t, display, code)

	h.coord.HandleDisconnect(context.Background(), controller.ID())

	// Not yet: inside the grace period.
	h.clock.Advance(4 * time.Minute)
	if h.coord.ExpireRoom(context.Background(), code) {
		t.Fatal("room expired inside the grace period")
	}

	h.clock.Advance(2 * time.Minute)
	if !h.coord.ExpireRoom(context.Background(), code) {
		t.Fatal("room should expire after the grace period")
	}

	if countEvents(t, displayPeer, "roomClosed") != 1 {
		t.Error("displays should get exactly one roomClosed")
	}
	if _, ok := h.store.Get(code); ok {
		t.Error("expired room should be gone")
	}
	if _, _, bound := display.Binding(); bound {
		t.Error("surviving displays drop back to unbound")
	}

	// Idempotent: a second expiry attempt is a no-op.
	if h.coord.ExpireRoom(context.Background(), code) {
		t.Error("second expiry should report false")
	}
	if countEvents(t, displayPeer, "roomClosed") != 1 {
		t.Error("no duplicate roomClosed notices")
	}

	// The display can try to rejoin and learns the room is gone.
	h.joinDisplay(t, display, code)
	if lastEvent(t, displayPeer)["type"] != "error" {
		t.Error("rejoining an expired room should fail")
	}
}

func TestDisplayDisconnectIsSilent(t *testing.T) {
	h := newHarness(t)
	controller, controllerPeer := h.connect()
	code := h.initController(t, controller, controllerPeer, "")
	display, _ := h.connect()
	h.joinDisplay(t, display, code)

	before := len(controllerPeer.events(t))
	h.coord.HandleDisconnect(context.Background(), display.ID())

	if len(controllerPeer.events(t)) != before {
		t.Error("display departure should not be announced")
	}
	room, _ := h.store.Get(code)
	if room.Info().Displays != 0 {
		t.Error("display should be removed from the room")
	}
}

func TestFailedSendUnregistersConnection(t *testing.T) {
	h := newHarness(t)
	controller, controllerPeer := h.connect()
	code := h.initController(t, controller, controllerPeer, "")

	deadPeer := &fakePeer{}
	dead := h.reg.Register(deadPeer)
	h.joinDisplay(t, dead, code)
	deadPeer.mu.Lock()
	deadPeer.fail = true
	deadPeer.mu.Unlock()

	h.send(t, controller, map[string]any{
		"type": "selectSong",
		"song": map[string]any{"title": "T", "lyrics": "L"},
	})

	if _, ok := h.reg.Get(dead.ID()); ok {
		t.Error("connection with a dead transport should be unregistered")
	}
	room, _ := h.store.Get(code)
	if room.Info().Displays != 0 {
		t.Error("dead display should be detached from the room")
	}
}

func TestUnboundCommandRejected(t *testing.T) {
	h := newHarness(t)
	conn, peer := h.connect()

	h.send(t, conn, map[string]any{"type": "scrollDisplay", "position": 0.5})
	if lastEvent(t, peer)["type"] != "error" {
		t.Error("commands before join should be rejected")
	}
}

func TestRoundTripSession(t *testing.T) {
	h := newHarness(t)
	controller, controllerPeer := h.connect()
	code := h.initController(t, controller, controllerPeer, "")
	display, displayPeer := h.connect()
	h.joinDisplay(t, display, code)

	h.send(t, controller, map[string]any{
		"type": "selectSong",
		"song": map[string]any{"title": "Amazing Grace", "lyrics": "amazing grace how sweet"},
	})
	h.send(t, controller, map[string]any{
		"type": "displaySection", "sectionName": "Verse 1", "section": "amazing grace",
	})
	h.send(t, controller, map[string]any{"type": "scrollDisplay", "position": 0.33})
	h.send(t, controller, map[string]any{
		"type": "bible", "action": "select", "reference": "John 3:16", "language": "en",
	})

	var types []string
	for _, e := range displayPeer.events(t) {
		types = append(types, e["type"].(string))
	}
	want := []string{"songSelected", "displaySection", "scrollDisplay", "bible"}
	if len(types) != len(want) {
		t.Fatalf("display saw %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("display saw %v, want %v", types, want)
		}
	}
}

func TestControllerReinitOwnRoomIsQuiet(t *testing.T) {
	h := newHarness(t)
	controller, controllerPeer := h.connect()
	code := h.initController(t, controller, controllerPeer, "")
	display, displayPeer := h.connect()
	h.joinDisplay(t, display, code)

	// The same connection announces itself again for its own room.
	again := h.initController(t, controller, controllerPeer, code)
	if again != code {
		t.Fatalf("re-init moved to %q, want %q", again, code)
	}

	if n := countEvents(t, displayPeer, TypeControllerDisconnected); n != 0 {
		t.Errorf("displays heard controllerDisconnected %d times across a re-init, want 0", n)
	}
	if n := countEvents(t, displayPeer, TypeRoomClosed); n != 0 {
		t.Errorf("displays heard roomClosed %d times across a re-init, want 0", n)
	}

	h.send(t, controller, map[string]any{"type": "scrollDisplay", "position": 0.3})
	if e := lastEvent(t, displayPeer); e["type"] != TypeScrollDisplay {
		t.Errorf("controller lost the room after re-init, display saw %v", e)
	}
}

// zeroReader makes the code generator deterministic: every draw yields
// the same code, so a store whose only code is taken exhausts.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestControllerReinitAllocationFailureKeepsBinding(t *testing.T) {
	clock := newFakeClock()
	gen := NewCodeGenerator(6)
	gen.rand = zeroReader{}
	store := NewStore(gen, 3, "en")
	reg := NewRegistry(time.Second)
	coord := NewCoordinator(store, reg, &fakeVerses{}, Options{
		GracePeriod: 5 * time.Minute,
		Now:         clock.Now,
	})
	h := &harness{store: store, reg: reg, coord: coord, clock: clock}

	controller, controllerPeer := h.connect()
	code := h.initController(t, controller, controllerPeer, "")
	display, displayPeer := h.connect()
	h.joinDisplay(t, display, code)

	// Asking for a fresh room can only re-draw the taken code.
	h.send(t, controller, map[string]any{"type": "init", "clientType": "controller"})
	if e := lastEvent(t, controllerPeer); e["type"] != "error" {
		t.Fatalf("reply = %v, want error on allocation failure", e)
	}

	// The failed request leaves everything as it was.
	role, bound, ok := controller.Binding()
	if !ok || role != RoleController || bound != code {
		t.Errorf("binding = %v %q %v, want controller %q true", role, bound, ok, code)
	}
	if n := countEvents(t, displayPeer, TypeControllerDisconnected); n != 0 {
		t.Errorf("displays heard controllerDisconnected %d times, want 0", n)
	}
	h.send(t, controller, map[string]any{"type": "scrollDisplay", "position": 0.5})
	if e := lastEvent(t, displayPeer); e["type"] != TypeScrollDisplay {
		t.Errorf("controller should still drive its room, display saw %v", e)
	}
}

func TestDisplayJoinLosesExpiryRace(t *testing.T) {
	h := newHarness(t)
	controller, controllerPeer := h.connect()
	code := h.initController(t, controller, controllerPeer, "")

	h.coord.HandleDisconnect(context.Background(), controller.ID())
	h.clock.Advance(6 * time.Minute)

	room, _ := h.store.Get(code)
	if !h.coord.ExpireRoom(context.Background(), code) {
		t.Fatal("room should expire")
	}

	// A join that resolved the code just before removal still holds the
	// reaped room; put it back to pin that interleaving.
	h.store.mu.Lock()
	h.store.rooms[code] = room
	h.store.mu.Unlock()

	display, displayPeer := h.connect()
	h.joinDisplay(t, display, code)

	if e := lastEvent(t, displayPeer); e["type"] != "error" {
		t.Fatalf("join into a reaped room got %v, want error", e)
	}
	if _, _, bound := display.Binding(); bound {
		t.Error("display must not stay bound to a reaped room")
	}
	room.mu.Lock()
	n := len(room.displays)
	room.mu.Unlock()
	if n != 0 {
		t.Errorf("reaped room holds %d displays, want 0", n)
	}
}
