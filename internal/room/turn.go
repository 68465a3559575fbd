package room

import "github.com/MegaGrindStone/roundtable/internal/models"

// NextSpeaker returns whose turn it is. With an empty log the first role of the order speaks;
// otherwise the role following the last speaker, wrapping around. A last speaker that has no slot
// in the order counts as position -1, so the first role speaks next.
//
// Automated roles occupy their slots like any other; whether the returned role may type is the
// gate's business, not this function's.
func NextSpeaker(order models.TurnOrder, messages []models.Message) models.Role {
	if len(order) == 0 {
		return ""
	}
	if len(messages) == 0 {
		return order[0]
	}

	i := order.Index(messages[len(messages)-1].Speaker)
	return order[(i+1)%len(order)]
}
