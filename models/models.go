package models

import "strings"

// Presence is a contact's published availability.
type Presence string

const (
	PresenceOnline      Presence = "online"
	PresenceAway        Presence = "away"
	PresenceBusy        Presence = "busy"
	PresenceAwayForLong Presence = "away-for-long"
	PresenceOffline     Presence = "offline"
	PresenceUnknown     Presence = "unknown"
)

// Subscription is the server-side roster subscription state for a contact.
type Subscription string

const (
	SubscriptionNone   Subscription = "none"
	SubscriptionTo     Subscription = "to"
	SubscriptionFrom   Subscription = "from"
	SubscriptionBoth   Subscription = "both"
	SubscriptionRemove Subscription = "remove"
)

// ConnState is the lifecycle state of the single engine session.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// Profile holds the structured vCard fields the engine cares about.
type Profile struct {
	FirstName    string
	LastName     string
	Nickname     string
	Organization string
	Country      string
	Note         string
	Photo        string // base64 payload or URL reference
}

// Contact is a single roster entry. JID is always bare.
type Contact struct {
	JID          string
	Name         string
	Subscription Subscription
	Presence     Presence
	Profile      *Profile
}

// DisplayName prefers vCard name parts, then the roster name, then the JID.
func (c Contact) DisplayName() string {
	if c.Profile != nil {
		if full := strings.TrimSpace(c.Profile.FirstName + " " + c.Profile.LastName); full != "" {
			return full
		}
	}
	if c.Name != "" {
		return c.Name
	}
	return c.JID
}

// BareJID strips the resource suffix from a JID, if any.
func BareJID(jid string) string {
	if i := strings.IndexByte(jid, '/'); i >= 0 {
		return jid[:i]
	}
	return jid
}

// MapShow translates a presence <show> value into a Presence.
// An empty show on an available presence means plain online.
func MapShow(show string) Presence {
	switch show {
	case "away":
		return PresenceAway
	case "dnd":
		return PresenceBusy
	case "xa":
		return PresenceAwayForLong
	default:
		return PresenceOnline
	}
}
