package ui

import "msgoffice/models"

// presenceIcon renders a contact's availability as a colored marker.
func presenceIcon(p models.Presence) string {
	switch p {
	case models.PresenceOnline:
		return "[green]●[-]"
	case models.PresenceAway:
		return "[yellow]●[-]"
	case models.PresenceBusy:
		return "[red]●[-]"
	case models.PresenceAwayForLong:
		return "[gray]◐[-]"
	case models.PresenceOffline:
		return "[gray]○[-]"
	default:
		return "[gray]?[-]"
	}
}
