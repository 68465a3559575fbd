package models

import (
	"bytes"
	"fmt"
	"slices"
	"time"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
)

// Role identifies a participant of a discussion. The set of roles is fixed: one moderator and the
// traveler roles enumerated in Travelers.
type Role string

// Phase represents the lifecycle of a discussion session as observed by this client.
type Phase string

// TurnOrder is the fixed cyclic sequence of roles that defines whose turn follows whose.
type TurnOrder []Role

// Message represents a single utterance received from the event feed. Messages are kept in arrival
// order; the service assigns no sequence number.
type Message struct {
	Speaker    Role
	Content    string
	ReceivedAt time.Time
}

// RoleAssignment partitions the traveler roles into the ones driven by the service (automated) and
// the ones typed by people through a client like this one (human). The moderator is never part of
// the assignment.
type RoleAssignment struct {
	AutomatedRoles []Role
	HumanRoles     []Role
}

const (
	// RoleModerator is the distinguished participant that opens every round.
	RoleModerator Role = "moderator"
	// RoleTravelerA is the first traveler.
	RoleTravelerA Role = "traveler_A"
	// RoleTravelerB is the second traveler.
	RoleTravelerB Role = "traveler_B"
	// RoleTravelerC is the third traveler.
	RoleTravelerC Role = "traveler_C"
	// RoleTravelerD is the fourth traveler.
	RoleTravelerD Role = "traveler_D"

	// PhaseActive means the discussion is still running and may accept input.
	PhaseActive Phase = "active"
	// PhaseFinished means the discussion reached consensus or the feed ended. It is absorbing.
	PhaseFinished Phase = "finished"

	// ConsensusSentinel is the exact message content, after trimming, that concludes a discussion.
	ConsensusSentinel = "【合意確定】"
	// EndOfStreamSentinel is the bare payload the service sends as its last event.
	EndOfStreamSentinel = "__END__"
)

// Travelers lists the traveler roles in their stable enumeration order.
var Travelers = []Role{RoleTravelerA, RoleTravelerB, RoleTravelerC, RoleTravelerD}

var roleLabels = map[Role]string{
	RoleModerator: "司会",
	RoleTravelerA: "旅行者A",
	RoleTravelerB: "旅行者B",
	RoleTravelerC: "旅行者C",
	RoleTravelerD: "旅行者D",
}

var markdown = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		highlighting.NewHighlighting(highlighting.WithStyle("github")),
	),
)

// DefaultTurnOrder returns the moderator followed by every traveler in enumeration order.
func DefaultTurnOrder() TurnOrder {
	order := make(TurnOrder, 0, len(Travelers)+1)
	order = append(order, RoleModerator)
	return append(order, Travelers...)
}

// Index returns the position of role in the order, or -1 if it is not part of it.
func (o TurnOrder) Index(role Role) int {
	return slices.Index(o, role)
}

// Contains reports whether role occupies a slot in the order.
func (o TurnOrder) Contains(role Role) bool {
	return o.Index(role) != -1
}

// IsTraveler reports whether r is one of the enumerated traveler roles.
func (r Role) IsTraveler() bool {
	return slices.Contains(Travelers, r)
}

// Label returns the display name of the role. Speakers outside the known set, such as the
// service's own "system" announcements, are shown verbatim.
func (r Role) Label() string {
	if l, ok := roleLabels[r]; ok {
		return l
	}
	return string(r)
}

// IsHuman reports whether role is in the human partition.
func (a RoleAssignment) IsHuman(role Role) bool {
	return slices.Contains(a.HumanRoles, role)
}

// IsAutomated reports whether role is in the automated partition.
func (a RoleAssignment) IsAutomated(role Role) bool {
	return slices.Contains(a.AutomatedRoles, role)
}

// RenderContent renders a message body, which the moderator writes in Markdown, into HTML.
func RenderContent(content string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(content), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return buf.String(), nil
}
