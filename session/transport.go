package session

import (
	"context"
	"errors"

	"msgoffice/models"
)

// Error taxonomy surfaced to collaborators. Best-effort failures (presence
// probes, vCard fetches) are logged and swallowed; user-initiated operations
// return errors wrapping one of these sentinels.
var (
	// ErrAuthentication means the server rejected the credentials. Terminal
	// for the attempt; the user has to re-enter them.
	ErrAuthentication = errors.New("authentication failed")
	// ErrTransport is any other connection-level failure. Retryable by the
	// caller; the engine never retries on its own.
	ErrTransport = errors.New("transport failure")
	// ErrRoster means the server rejected a roster query or update.
	ErrRoster = errors.New("roster operation rejected")
	// ErrContactUnavailable rejects a call placed to a contact that is not
	// online. A policy rejection, not a fault.
	ErrContactUnavailable = errors.New("contact is not available")
	// ErrAlreadyConnecting rejects a connect while one is in flight, so two
	// transports can never be created.
	ErrAlreadyConnecting = errors.New("connect already in progress")
	// ErrAlreadyConnected rejects a connect over a live session.
	ErrAlreadyConnected = errors.New("session already connected")
	// ErrNotConnected rejects operations that need a live session.
	ErrNotConnected = errors.New("not connected")
)

// Creds is everything the transport needs to open the stream.
type Creds struct {
	Server      string // host:port
	Username    string // bare JID or localpart
	Password    string
	Resource    string // optional; the transport generates one when empty
	InsecureTLS bool
}

// PresenceType is the outbound presence stanza subtype.
type PresenceType string

const (
	PresenceAvailable   PresenceType = ""
	PresenceUnavailable PresenceType = "unavailable"
	PresenceProbe       PresenceType = "probe"
	PresenceSubscribe   PresenceType = "subscribe"
)

// OutboundPresence is a presence send request. An empty To broadcasts.
type OutboundPresence struct {
	To   string
	Type PresenceType
}

// InboundPresence is a delivered presence stanza, already reduced to the
// fields the engine classifies on.
type InboundPresence struct {
	From string // full JID as received
	Type string // "", "available", "unavailable", ...
	Show string // "", "away", "dnd", "xa", ...
}

// InboundMessage is a delivered chat message with a body.
type InboundMessage struct {
	From string
	Body string
}

// RosterItem is one entry of the server-stored contact list.
type RosterItem struct {
	JID          string
	Name         string
	Subscription models.Subscription
}

// Transport is the wire-level collaborator the engine drives. It owns stanza
// framing, authentication, and TLS; the engine owns everything above that.
// Handler registration must happen before Open; the transport delivers one
// inbound stanza at a time and waits for the handler to return.
type Transport interface {
	// Open connects and authenticates, returning the bound bare JID. An
	// authorization rejection is reported wrapping ErrAuthentication, any
	// other failure wrapping ErrTransport.
	Open(ctx context.Context, creds Creds) (string, error)
	Close(ctx context.Context) error

	SendPresence(ctx context.Context, p OutboundPresence) error
	SendMessage(ctx context.Context, to, body string) error

	FetchRoster(ctx context.Context) ([]RosterItem, error)
	SetRosterItem(ctx context.Context, item RosterItem) error
	FetchVCard(ctx context.Context, jid string) (*models.Profile, error)
	SetVCard(ctx context.Context, profile models.Profile) error

	OnMessage(func(InboundMessage))
	OnPresence(func(InboundPresence))
	OnConnState(func(models.ConnState, error))
}
