package room

import (
	"strings"

	"github.com/MegaGrindStone/roundtable/internal/models"
)

// CanSubmit reports whether the local participant may send draft right now. It holds when the local
// role is known and human, the session is still active, it is that role's turn, and the draft is not
// blank.
func CanSubmit(
	role models.Role,
	assignment models.RoleAssignment,
	phase models.Phase,
	next models.Role,
	draft string,
) bool {
	if role == "" || !assignment.IsHuman(role) {
		return false
	}
	if phase != models.PhaseActive {
		return false
	}
	if next != role {
		return false
	}
	return strings.TrimSpace(draft) != ""
}
