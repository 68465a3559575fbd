package models

import "time"

// EventKind discriminates the payloads carried by the discussion event feed.
type EventKind string

const (
	// EventMessage carries a new utterance.
	EventMessage EventKind = "message"
	// EventTyping carries a typing indicator change.
	EventTyping EventKind = "typing"
	// EventEnd is the terminal marker of the feed.
	EventEnd EventKind = "end"
	// EventUnknown is any payload that matched none of the known shapes. It is discarded.
	EventUnknown EventKind = "unknown"
)

// Event is a single payload from the feed, parsed into one tagged value. Only the fields relevant
// to Kind are filled.
type Event struct {
	Kind EventKind

	// Who would be filled if Kind is EventMessage or EventTyping.
	Who Role

	// Content would be filled if Kind is EventMessage.
	Content string

	// Active would be filled if Kind is EventTyping.
	Active bool

	// Raw holds the original payload when Kind is EventUnknown, for diagnostics.
	Raw string
}

// RoomEntry is a room this client joined, remembered so it can be reopened from the home page.
type RoomEntry struct {
	ID        string
	SessionID string
	Role      Role
	JoinedAt  time.Time
	Finished  bool
}
