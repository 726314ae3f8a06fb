package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/judesonleo/songcast/internal/metrics"
)

// VerseProvider resolves Bible verse text. The coordinator calls it
// before taking the room lock so a slow content backend never stalls
// other commands for the same room.
type VerseProvider interface {
	LookupVerse(ctx context.Context, reference, language string) (Verse, error)
}

// DefaultGracePeriod is how long a room survives controller absence
// before the sweeper reaps it.
const DefaultGracePeriod = 5 * time.Minute

// Coordinator consumes inbound messages, mutates the room store under
// per-room serialization and decides what to broadcast to which peers.
type Coordinator struct {
	store   *Store
	reg     *Registry
	content VerseProvider
	metrics *metrics.Metrics // optional, nil if metrics disabled

	defaultLanguage string
	grace           time.Duration
	now             func() time.Time
}

// Options tunes a Coordinator beyond its required collaborators.
type Options struct {
	Metrics         *metrics.Metrics
	DefaultLanguage string
	GracePeriod     time.Duration
	Now             func() time.Time // test hook
}

// NewCoordinator wires the coordinator to its stores. content may not be
// nil; use a provider that always fails if no Bible backend is
// configured.
func NewCoordinator(store *Store, reg *Registry, content VerseProvider, opts Options) *Coordinator {
	c := &Coordinator{
		store:           store,
		reg:             reg,
		content:         content,
		metrics:         opts.Metrics,
		defaultLanguage: opts.DefaultLanguage,
		grace:           opts.GracePeriod,
		now:             opts.Now,
	}
	if c.defaultLanguage == "" {
		c.defaultLanguage = "en"
	}
	if c.grace <= 0 {
		c.grace = DefaultGracePeriod
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// GracePeriod returns the controller-absence grace period.
func (c *Coordinator) GracePeriod() time.Duration {
	return c.grace
}

// HandleMessage processes one inbound wire record from a connection.
// The transport guarantees per-connection ordering; nothing here blocks
// on another connection's progress.
func (c *Coordinator) HandleMessage(ctx context.Context, connID string, data []byte) {
	conn, ok := c.reg.Get(connID)
	if !ok {
		return
	}

	in, perr := ParseInbound(data)
	if perr != nil {
		c.replyError(ctx, conn, perr)
		return
	}

	switch m := in.(type) {
	case *InitMessage:
		if c.metrics != nil {
			c.metrics.MessagesTotal.WithLabelValues(TypeInit).Inc()
		}
		if m.ClientType == string(RoleDisplay) {
			perr = c.handleDisplayJoin(ctx, conn, m.RoomID)
		} else {
			perr = c.handleControllerInit(ctx, conn, m.RoomID)
		}
	case *JoinMessage:
		if c.metrics != nil {
			c.metrics.MessagesTotal.WithLabelValues(TypeJoin).Inc()
		}
		perr = c.handleDisplayJoin(ctx, conn, m.RoomID)
	case *SelectSongMessage:
		if c.metrics != nil {
			c.metrics.MessagesTotal.WithLabelValues(TypeSelectSong).Inc()
		}
		perr = c.handleSongSelect(ctx, conn, m.Song, TypeSongSelected)
	case *SongMessage:
		if c.metrics != nil {
			c.metrics.MessagesTotal.WithLabelValues(TypeSong).Inc()
		}
		if m.Action != "" && m.Action != ActionSelect {
			perr = validationErr(fmt.Sprintf("unsupported song action %q", m.Action))
		} else {
			perr = c.handleSongSelect(ctx, conn, m.Song, TypeSong)
		}
	case *DisplaySectionMessage:
		if c.metrics != nil {
			c.metrics.MessagesTotal.WithLabelValues(TypeDisplaySection).Inc()
		}
		perr = c.handleSection(ctx, conn, m)
	case *ScrollMessage:
		if c.metrics != nil {
			c.metrics.MessagesTotal.WithLabelValues(TypeScrollDisplay).Inc()
		}
		perr = c.handleScroll(ctx, conn, m.Position)
	case *BibleMessage:
		if c.metrics != nil {
			c.metrics.MessagesTotal.WithLabelValues(TypeBible).Inc()
		}
		perr = c.handleVerseSelect(ctx, conn, m)
	default:
		perr = validationErr("unhandled message type")
	}

	if perr != nil {
		c.replyError(ctx, conn, perr)
	}
}

// HandleDisconnect removes a connection and updates its room. Controller
// departure never destroys the room immediately; the slot is marked
// empty and the sweeper reaps the room after the grace period.
func (c *Coordinator) HandleDisconnect(ctx context.Context, connID string) {
	conn, ok := c.reg.Unregister(connID)
	if !ok {
		return
	}
	c.detach(ctx, conn)
	conn.close()
}

// handleControllerInit creates, joins or rebinds a room as controller.
func (c *Coordinator) handleControllerInit(ctx context.Context, conn *Conn, requested string) *ProtocolError {
	code := NormalizeCode(requested)

	var (
		room      *Room
		created   bool
		displaced string
	)
	for {
		var err error
		room, created, err = c.store.Acquire(code)
		if err != nil {
			// Exhaustion is operational, not the client's fault. Log
			// loudly, fail just this request; the connection keeps
			// whatever binding it had.
			slog.Error("session: room allocation failed", "error", err)
			return &ProtocolError{Kind: KindExhausted, Message: "unable to allocate a session, try again later"}
		}

		// Leave the previous room only once the new one is secured. A
		// re-init for the room this connection already controls keeps
		// the slot; its displays hear nothing.
		if role, prev, bound := conn.Binding(); bound && !(role == RoleController && prev == room.Code()) {
			c.detach(ctx, conn)
		}

		room.mu.Lock()
		if room.dead {
			// Reaped between Acquire and the lock; the code is free
			// again, so another Acquire gets a fresh room.
			room.mu.Unlock()
			continue
		}
		displaced = room.controllerID
		room.controllerID = conn.ID()
		room.lastControllerSeen = c.now()
		room.mu.Unlock()
		break
	}

	if displaced != "" && displaced != conn.ID() {
		// The previous controller keeps its transport but loses the
		// slot; its next room command fails Forbidden.
		if old, found := c.reg.Get(displaced); found {
			old.unbind()
		}
	}

	conn.bind(RoleController, room.Code())

	if created {
		if c.metrics != nil {
			c.metrics.RoomsCreatedTotal.Inc()
			c.metrics.ActiveRooms.Set(float64(c.store.Count()))
		}
		slog.Info("session: room created", "room", room.Code(), "conn", conn.ID())
	} else {
		slog.Info("session: controller rebound", "room", room.Code(), "conn", conn.ID(), "displaced", displaced != "")
	}

	var note string
	if requested != "" && room.Code() != code {
		note = fmt.Sprintf("Room %s was unavailable, created %s instead", code, room.Code())
	}
	c.send(ctx, conn, sessionCreatedReply(room.Code(), note))
	return nil
}

// handleDisplayJoin binds a display to an existing room and replays the
// current state so the display never starts blank.
func (c *Coordinator) handleDisplayJoin(ctx context.Context, conn *Conn, roomID string) *ProtocolError {
	if strings.TrimSpace(roomID) == "" {
		return validationErr("roomId is required")
	}
	code := NormalizeCode(roomID)
	room, ok := c.store.Get(code)
	if !ok {
		return notFoundErr("room not found")
	}

	c.detach(ctx, conn)

	room.mu.Lock()
	if room.dead {
		// Reaped between the code lookup and the lock; the join loses.
		room.mu.Unlock()
		return notFoundErr("room not found")
	}
	room.displays[conn.ID()] = struct{}{}
	selection := room.selection
	section := room.section
	scroll := room.scrollPos
	room.mu.Unlock()

	conn.bind(RoleDisplay, code)
	slog.Info("session: display joined", "room", code, "conn", conn.ID())

	// Replay under no lock; a selection racing in right now reaches the
	// display through the normal broadcast path instead.
	switch selection.Kind {
	case SelectionSong:
		c.send(ctx, conn, songEvent(TypeSongSelected, *selection.Song))
	case SelectionVerse:
		c.send(ctx, conn, verseEvent(*selection.Verse))
	}
	if section != nil {
		c.send(ctx, conn, sectionEvent(section.Name, section.Text, scroll))
	}
	if scroll != 0 {
		c.send(ctx, conn, scrollEvent(scroll))
	}
	return nil
}

// handleSongSelect applies a song selection: section cleared, scroll
// reset to zero, regardless of prior state.
func (c *Coordinator) handleSongSelect(ctx context.Context, conn *Conn, song Song, eventType string) *ProtocolError {
	if song.Title == "" && song.Lyrics == "" {
		return validationErr("song payload is required")
	}
	room, perr := c.controllerRoom(conn)
	if perr != nil {
		return perr
	}

	room.mu.Lock()
	if room.controllerID != conn.ID() {
		room.mu.Unlock()
		return forbiddenErr("another controller owns this session")
	}
	songCopy := song
	room.selection = Selection{Kind: SelectionSong, Song: &songCopy}
	room.section = nil
	room.scrollPos = 0
	targets := room.displayIDs()
	room.mu.Unlock()

	c.broadcast(ctx, targets, songEvent(eventType, song))
	return nil
}

// handleSection sets the active section of the current song. Offsets,
// when supplied, must lie within the lyrics; otherwise the server
// locates the section text itself.
func (c *Coordinator) handleSection(ctx context.Context, conn *Conn, m *DisplaySectionMessage) *ProtocolError {
	room, perr := c.controllerRoom(conn)
	if perr != nil {
		return perr
	}

	room.mu.Lock()
	if room.controllerID != conn.ID() {
		room.mu.Unlock()
		return forbiddenErr("another controller owns this session")
	}
	if room.selection.Kind != SelectionSong {
		room.mu.Unlock()
		return validationErr("select a song before sending a section")
	}

	lyrics := room.selection.Song.Lyrics
	start, end, perr := sectionRange(m, lyrics)
	if perr != nil {
		room.mu.Unlock()
		return perr
	}

	room.section = &Section{
		Name:  m.SectionName,
		Text:  m.Section,
		Start: start,
		End:   end,
	}
	room.scrollPos = m.ScrollPosition
	targets := room.displayIDs()
	room.mu.Unlock()

	c.broadcast(ctx, targets, sectionEvent(m.SectionName, m.Section, m.ScrollPosition))
	return nil
}

// sectionRange resolves and validates the section offsets against the
// current lyrics.
func sectionRange(m *DisplaySectionMessage, lyrics string) (int, int, *ProtocolError) {
	if m.Start != nil || m.End != nil {
		if m.Start == nil || m.End == nil {
			return 0, 0, validationErr("section start and end must be given together")
		}
		start, end := *m.Start, *m.End
		if start < 0 || end > len(lyrics) || start > end {
			return 0, 0, validationErr("section offsets out of range")
		}
		return start, end, nil
	}
	if idx := strings.Index(lyrics, m.Section); idx >= 0 {
		return idx, idx + len(m.Section), nil
	}
	return 0, len(lyrics), nil
}

// handleScroll updates the shared scroll position, last-write-wins.
func (c *Coordinator) handleScroll(ctx context.Context, conn *Conn, position float64) *ProtocolError {
	room, perr := c.controllerRoom(conn)
	if perr != nil {
		return perr
	}

	room.mu.Lock()
	if room.controllerID != conn.ID() {
		room.mu.Unlock()
		return forbiddenErr("another controller owns this session")
	}
	room.scrollPos = position
	targets := room.displayIDs()
	room.mu.Unlock()

	c.broadcast(ctx, targets, scrollEvent(position))
	return nil
}

// handleVerseSelect resolves a Bible verse and makes it the room's
// selection. The provider call happens before the room lock is taken;
// a failed lookup leaves room state untouched.
func (c *Coordinator) handleVerseSelect(ctx context.Context, conn *Conn, m *BibleMessage) *ProtocolError {
	if m.Action != "" && m.Action != ActionSelect {
		return validationErr(fmt.Sprintf("unsupported bible action %q", m.Action))
	}
	if strings.TrimSpace(m.Reference) == "" {
		return validationErr("reference is required")
	}

	room, perr := c.controllerRoom(conn)
	if perr != nil {
		return perr
	}

	language := m.Language
	if language == "" {
		room.mu.Lock()
		language = room.language
		room.mu.Unlock()
	}
	if language == "" {
		language = c.defaultLanguage
	}

	verse, err := c.content.LookupVerse(ctx, m.Reference, language)
	if err != nil {
		if errors.Is(err, ErrContentNotFound) {
			return notFoundErr(fmt.Sprintf("verse %q not found", m.Reference))
		}
		slog.Warn("session: verse lookup failed", "reference", m.Reference, "language", language, "error", err)
		return &ProtocolError{Kind: KindContentUnavailable, Message: "verse lookup failed, try again"}
	}

	room.mu.Lock()
	if room.controllerID != conn.ID() {
		room.mu.Unlock()
		return forbiddenErr("another controller owns this session")
	}
	verseCopy := verse
	room.selection = Selection{Kind: SelectionVerse, Verse: &verseCopy}
	room.section = nil
	room.language = verse.Language
	targets := room.displayIDs()
	room.mu.Unlock()

	c.broadcast(ctx, targets, verseEvent(verse))
	return nil
}

// ExpireRoom destroys the room if its controller has been absent past
// the grace period. Surviving displays get exactly one roomClosed notice
// and drop back to Unbound; their transports stay open so they may try
// to rejoin (and get "room not found").
func (c *Coordinator) ExpireRoom(ctx context.Context, code string) bool {
	var targets []string
	removed := c.store.DestroyIf(code, func(r *Room) bool {
		if r.controllerID != "" {
			return false
		}
		if c.now().Sub(r.lastControllerSeen) <= c.grace {
			return false
		}
		targets = r.displayIDs()
		return true
	})
	if !removed {
		return false
	}

	for _, id := range targets {
		if conn, ok := c.reg.Get(id); ok {
			conn.unbind()
		}
	}
	c.broadcast(ctx, targets, noticeEvent(TypeRoomClosed, "Session closed: controller did not return"))

	if c.metrics != nil {
		c.metrics.RoomsExpiredTotal.Inc()
		c.metrics.ActiveRooms.Set(float64(c.store.Count()))
	}
	slog.Info("session: room expired", "room", code, "displays", len(targets))
	return true
}

// detach removes a connection from its current room, if bound. Display
// departure is silent; controller departure empties the slot, stamps the
// absence time for the sweeper and informs the displays.
func (c *Coordinator) detach(ctx context.Context, conn *Conn) {
	role, code, bound := conn.Binding()
	if !bound {
		return
	}
	conn.unbind()

	room, ok := c.store.Get(code)
	if !ok {
		return
	}

	if role == RoleDisplay {
		room.mu.Lock()
		delete(room.displays, conn.ID())
		room.mu.Unlock()
		slog.Debug("session: display left", "room", code, "conn", conn.ID())
		return
	}

	room.mu.Lock()
	if room.controllerID != conn.ID() {
		// Already displaced by a newer controller; nothing to announce.
		room.mu.Unlock()
		return
	}
	room.controllerID = ""
	room.lastControllerSeen = c.now()
	targets := room.displayIDs()
	room.mu.Unlock()

	slog.Info("session: controller left", "room", code, "conn", conn.ID(), "grace", c.grace.String())
	c.broadcast(ctx, targets, noticeEvent(TypeControllerDisconnected, graceNotice(c.grace)))
}

// graceNotice renders the user-facing controller-absence message with
// the actual configured grace period.
func graceNotice(grace time.Duration) string {
	minutes := int(grace.Round(time.Minute) / time.Minute)
	if minutes <= 1 {
		return "Controller disconnected. The session will remain active briefly."
	}
	return fmt.Sprintf("Controller disconnected. The session will remain active for %d minutes.", minutes)
}

// controllerRoom checks that conn is a bound controller and resolves its
// room. Ownership of the controller slot is re-verified under the room
// lock by each handler.
func (c *Coordinator) controllerRoom(conn *Conn) (*Room, *ProtocolError) {
	role, code, bound := conn.Binding()
	if !bound {
		return nil, forbiddenErr("join a session before sending commands")
	}
	if role != RoleController {
		return nil, forbiddenErr("controller role required")
	}
	room, ok := c.store.Get(code)
	if !ok {
		// Room expired under us; drop the stale binding.
		conn.unbind()
		return nil, notFoundErr("room not found")
	}
	return room, nil
}

// send delivers one message best-effort. A failed write means the
// transport is gone: the connection is cleaned up as a disconnect.
func (c *Coordinator) send(ctx context.Context, conn *Conn, v any) {
	if err := c.reg.Send(ctx, conn.ID(), v); err != nil {
		slog.Debug("session: send failed", "conn", conn.ID(), "error", err)
		c.HandleDisconnect(ctx, conn.ID())
	}
}

// broadcast delivers to each target independently; failed recipients are
// unregistered. Partial delivery is fine, the next update supersedes.
func (c *Coordinator) broadcast(ctx context.Context, targets []string, v any) {
	failed := c.reg.Broadcast(ctx, targets, v)
	for _, id := range failed {
		c.HandleDisconnect(ctx, id)
	}
	if c.metrics != nil && len(targets) > 0 {
		c.metrics.BroadcastsTotal.Inc()
	}
}

// replyError reports a failure to the sender only.
func (c *Coordinator) replyError(ctx context.Context, conn *Conn, perr *ProtocolError) {
	if c.metrics != nil {
		c.metrics.ErrorsTotal.WithLabelValues(string(perr.Kind)).Inc()
	}
	slog.Debug("session: rejected message", "conn", conn.ID(), "kind", string(perr.Kind), "reason", perr.Message)
	c.send(ctx, conn, errorReply(perr.Message))
}
