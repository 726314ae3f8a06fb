package session

import (
	"encoding/json"
	"fmt"
)

// Message type tags. Inbound and outbound share the wire convention of a
// mandatory "type" field; "song" and "bible" appear in both directions.
const (
	TypeInit           = "init"
	TypeJoin           = "join"
	TypeSelectSong     = "selectSong"
	TypeDisplaySection = "displaySection"
	TypeScrollDisplay  = "scrollDisplay"
	TypeBible          = "bible"
	TypeSong           = "song"

	TypeSessionCreated         = "sessionCreated"
	TypeSongSelected           = "songSelected"
	TypeControllerDisconnected = "controllerDisconnected"
	TypeRoomClosed             = "roomClosed"
	TypeError                  = "error"
)

// ActionSelect is the only action the bible/song commands support.
const ActionSelect = "select"

// Inbound is the closed set of client messages. Adding a message type
// means adding a struct here, a case in ParseInbound, and a case in the
// coordinator's dispatch switch; the compiler flags anything missed.
type Inbound interface {
	inbound()
}

// InitMessage opens or rejoins a session. Controllers send it on
// connect; RoomID is optional and rebinding an existing room's
// controller slot displaces the previous holder.
type InitMessage struct {
	ClientType string `json:"clientType"`
	RoomID     string `json:"roomId"`
}

// JoinMessage binds a display to an existing room.
type JoinMessage struct {
	RoomID string `json:"roomId"`
}

// SelectSongMessage replaces the room's selection with a song, clearing
// the active section and resetting scroll.
type SelectSongMessage struct {
	Song Song `json:"song"`
}

// SongMessage is the unified controller's song selection. Semantically
// identical to SelectSongMessage but echoed to displays as "song".
type SongMessage struct {
	Action string `json:"action"`
	Song   Song   `json:"song"`
}

// DisplaySectionMessage pushes a named lyrics slice to displays.
// Start/End offsets are optional; when absent the server locates the
// text within the current lyrics.
type DisplaySectionMessage struct {
	SectionName    string  `json:"sectionName"`
	Section        string  `json:"section"`
	Start          *int    `json:"start"`
	End            *int    `json:"end"`
	ScrollPosition float64 `json:"scrollPosition"`
}

// ScrollMessage updates the shared scroll position, last-write-wins.
type ScrollMessage struct {
	Position float64 `json:"position"`
}

// BibleMessage selects a verse by reference; the server resolves the
// text in the requested translation language.
type BibleMessage struct {
	Action    string `json:"action"`
	Reference string `json:"reference"`
	Language  string `json:"language"`
}

func (*InitMessage) inbound()           {}
func (*JoinMessage) inbound()           {}
func (*SelectSongMessage) inbound()     {}
func (*SongMessage) inbound()           {}
func (*DisplaySectionMessage) inbound() {}
func (*ScrollMessage) inbound()         {}
func (*BibleMessage) inbound()          {}

// ParseInbound decodes one wire record into its concrete message type.
// Unknown or malformed records produce a ProtocolError of kind
// validation.
func ParseInbound(data []byte) (Inbound, *ProtocolError) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, validationErr("malformed message: not valid JSON")
	}
	if envelope.Type == "" {
		return nil, validationErr("missing required field: type")
	}

	var (
		msg Inbound
		err error
	)
	switch envelope.Type {
	case TypeInit:
		m := &InitMessage{}
		err = json.Unmarshal(data, m)
		msg = m
	case TypeJoin:
		m := &JoinMessage{}
		err = json.Unmarshal(data, m)
		msg = m
	case TypeSelectSong:
		m := &SelectSongMessage{}
		err = json.Unmarshal(data, m)
		msg = m
	case TypeSong:
		m := &SongMessage{}
		err = json.Unmarshal(data, m)
		msg = m
	case TypeDisplaySection:
		m := &DisplaySectionMessage{}
		err = json.Unmarshal(data, m)
		msg = m
	case TypeScrollDisplay:
		m := &ScrollMessage{}
		err = json.Unmarshal(data, m)
		msg = m
	case TypeBible:
		m := &BibleMessage{}
		err = json.Unmarshal(data, m)
		msg = m
	default:
		return nil, validationErr(fmt.Sprintf("unknown message type %q", envelope.Type))
	}
	if err != nil {
		return nil, validationErr(fmt.Sprintf("malformed %s message", envelope.Type))
	}
	return msg, nil
}

// Outbound message bodies. Constructors set the type tag so handlers
// cannot send a mistagged record.

// SessionCreatedReply acknowledges a controller init with the room code.
type SessionCreatedReply struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Message   string `json:"message,omitempty"`
}

func sessionCreatedReply(code, message string) SessionCreatedReply {
	return SessionCreatedReply{Type: TypeSessionCreated, SessionID: code, Message: message}
}

// ErrorReply carries a failure notice to the offending sender only.
type ErrorReply struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func errorReply(message string) ErrorReply {
	return ErrorReply{Type: TypeError, Message: message}
}

// SongEvent announces a song selection. The type tag mirrors the inbound
// command: "songSelected" for selectSong, "song" for the unified path.
type SongEvent struct {
	Type string `json:"type"`
	Song Song   `json:"song"`
}

func songEvent(typ string, song Song) SongEvent {
	return SongEvent{Type: typ, Song: song}
}

// SectionEvent pushes the active section and its starting scroll offset.
type SectionEvent struct {
	Type           string  `json:"type"`
	SectionName    string  `json:"sectionName"`
	Section        string  `json:"section"`
	ScrollPosition float64 `json:"scrollPosition"`
}

func sectionEvent(name, text string, scroll float64) SectionEvent {
	return SectionEvent{Type: TypeDisplaySection, SectionName: name, Section: text, ScrollPosition: scroll}
}

// ScrollEvent propagates a scroll position update.
type ScrollEvent struct {
	Type     string  `json:"type"`
	Position float64 `json:"position"`
}

func scrollEvent(position float64) ScrollEvent {
	return ScrollEvent{Type: TypeScrollDisplay, Position: position}
}

// VerseEvent announces a Bible verse selection with its resolved text.
type VerseEvent struct {
	Type      string `json:"type"`
	Reference string `json:"reference"`
	Text      string `json:"text"`
	Language  string `json:"language"`
}

func verseEvent(v Verse) VerseEvent {
	return VerseEvent{Type: TypeBible, Reference: v.Reference, Text: v.Text, Language: v.Language}
}

// NoticeEvent is an informational broadcast to displays
// (controllerDisconnected, roomClosed).
type NoticeEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

func noticeEvent(typ, message string) NoticeEvent {
	return NoticeEvent{Type: typ, Message: message}
}
