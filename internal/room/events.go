package room

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/MegaGrindStone/roundtable/internal/models"
)

type rawEvent struct {
	Type    string      `json:"type"`
	Who     models.Role `json:"who"`
	Content *string     `json:"content"`
	Active  *bool       `json:"active"`
}

// ParseEvent turns one feed payload into a tagged event. The feed mixes JSON-encoded events with a
// bare end-of-stream string, and both are recognized here so callers switch on a single Kind.
// Anything else becomes EventUnknown.
func ParseEvent(data string) models.Event {
	trimmed := strings.TrimSpace(data)
	if trimmed == models.EndOfStreamSentinel {
		return models.Event{Kind: models.EventEnd}
	}

	var raw rawEvent
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return models.Event{Kind: models.EventUnknown, Raw: data}
	}

	switch models.EventKind(raw.Type) {
	case models.EventMessage:
		if raw.Who == "" || raw.Content == nil {
			break
		}
		return models.Event{Kind: models.EventMessage, Who: raw.Who, Content: *raw.Content}
	case models.EventTyping:
		if raw.Who == "" || raw.Active == nil {
			break
		}
		return models.Event{Kind: models.EventTyping, Who: raw.Who, Active: *raw.Active}
	}
	return models.Event{Kind: models.EventUnknown, Raw: data}
}

// State is what the feed has told this client so far: the message log, who is typing, and whether
// the session is over. It is not safe for concurrent use; Room serializes access to it.
type State struct {
	Messages []models.Message
	Typing   map[models.Role]bool
	Phase    models.Phase

	order models.TurnOrder
}

// NewState returns an empty, active state for a session following order.
func NewState(order models.TurnOrder) *State {
	return &State{
		Typing: make(map[models.Role]bool, len(order)),
		Phase:  models.PhaseActive,
		order:  order,
	}
}

// Apply folds one event into the state and reports whether anything observable changed.
//
// A message clears its speaker's typing flag, so a lost "typing off" cannot leave a participant
// typing forever. Typing flags are only kept for roles that hold a turn slot. The phase only ever
// moves from active to finished.
func (s *State) Apply(ev models.Event, at time.Time) bool {
	switch ev.Kind {
	case models.EventMessage:
		s.Messages = append(s.Messages, models.Message{
			Speaker:    ev.Who,
			Content:    ev.Content,
			ReceivedAt: at,
		})
		if s.order.Contains(ev.Who) {
			s.Typing[ev.Who] = false
		}
		if strings.TrimSpace(ev.Content) == models.ConsensusSentinel {
			s.finish()
		}
		return true
	case models.EventTyping:
		if !s.order.Contains(ev.Who) {
			return false
		}
		prev, seen := s.Typing[ev.Who]
		s.Typing[ev.Who] = ev.Active
		return !seen || prev != ev.Active
	case models.EventEnd:
		return s.finish()
	case models.EventUnknown:
	}
	return false
}

// Finished reports whether the session reached its absorbing phase.
func (s *State) Finished() bool {
	return s.Phase == models.PhaseFinished
}

func (s *State) finish() bool {
	if s.Phase == models.PhaseFinished {
		return false
	}
	s.Phase = models.PhaseFinished
	return true
}
