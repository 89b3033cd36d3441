// Package session owns the single live connection to the chat server. The
// engine opens and closes the transport, keeps the roster store in sync,
// classifies every inbound stanza, and drives the call state machine. All
// observable output flows through the event bus; collaborators never reach
// into engine state directly.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"msgoffice/call"
	"msgoffice/config"
	"msgoffice/event"
	"msgoffice/models"
	"msgoffice/roster"
	"msgoffice/signal"
)

// sendTimeout bounds fire-and-forget sends issued outside a caller context
// (call-machine notifications, probe fan-out).
const sendTimeout = 10 * time.Second

// Engine is the session and signaling core. Construct one per process with
// NewEngine, connect it explicitly, and dispose of it with Disconnect; it is
// never recreated implicitly.
type Engine struct {
	transport Transport
	store     *roster.Store
	bus       *event.Bus
	calls     *call.Machine
	log       zerolog.Logger

	mu      sync.Mutex
	state   models.ConnState
	self    string
	profile *models.Profile
}

// NewEngine wires the engine to a transport. Transport handlers are
// registered exactly once, here; the transport must not be open yet.
func NewEngine(cfg *config.Config, t Transport, log zerolog.Logger) *Engine {
	e := &Engine{
		transport: t,
		store:     roster.NewStore(),
		bus:       event.NewBus(log),
		log:       log.With().Str("component", "session").Logger(),
		state:     models.StateDisconnected,
	}
	e.calls = call.NewMachine(call.Config{
		MeetDomain: cfg.MeetDomain,
		MeetPort:   signal.PortFromInt(cfg.MeetPort),
		Timeout:    cfg.CallTimeout,
	}, e.sendSignal, e.callReady, log)

	t.OnMessage(e.handleMessage)
	t.OnPresence(e.handlePresence)
	t.OnConnState(e.handleConnState)
	return e
}

// Subscribe attaches a collaborator handler and returns its unsubscribe
// function. Events emitted before subscription are not replayed.
func (e *Engine) Subscribe(kind event.Kind, fn event.Handler) func() {
	return e.bus.Subscribe(kind, fn)
}

// State returns the current connection state.
func (e *Engine) State() models.ConnState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Self returns the bare JID the session is bound to, empty when disconnected.
func (e *Engine) Self() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.self
}

// Profile returns the local user's last fetched profile snapshot.
func (e *Engine) Profile() *models.Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.profile == nil {
		return nil
	}
	p := *e.profile
	return &p
}

// Contacts returns a detached snapshot of the roster.
func (e *Engine) Contacts() []models.Contact {
	return e.store.All()
}

// Connect opens the transport, fetches the roster, and broadcasts initial
// presence. Re-entry is guarded: a second call while one is in flight fails
// with ErrAlreadyConnecting and never creates a second transport.
func (e *Engine) Connect(ctx context.Context, creds Creds) error {
	e.mu.Lock()
	switch e.state {
	case models.StateConnected:
		e.mu.Unlock()
		return ErrAlreadyConnected
	case models.StateConnecting:
		e.mu.Unlock()
		return ErrAlreadyConnecting
	}
	e.state = models.StateConnecting
	e.mu.Unlock()

	self, err := e.transport.Open(ctx, creds)
	if err != nil {
		e.mu.Lock()
		e.state = models.StateDisconnected
		e.mu.Unlock()
		return err
	}

	e.mu.Lock()
	e.state = models.StateConnected
	e.self = models.BareJID(self)
	e.mu.Unlock()
	e.log.Info().Str("self", self).Msg("connected")
	e.bus.Publish(event.KindConnStateChanged, event.ConnStateChanged{State: models.StateConnected})

	// Roster and presence are best-effort here: the session is up either
	// way, and the caller can refresh explicitly.
	if err := e.FetchRoster(ctx); err != nil {
		e.log.Warn().Err(err).Msg("initial roster fetch failed")
	}
	if err := e.transport.SendPresence(ctx, OutboundPresence{Type: PresenceAvailable}); err != nil {
		e.log.Warn().Err(err).Msg("initial presence broadcast failed")
	}
	return nil
}

// Disconnect sends unavailable presence, closes the transport, and resets
// state. Calling it without a live session is a no-op.
func (e *Engine) Disconnect(ctx context.Context) error {
	e.mu.Lock()
	if e.state != models.StateConnected {
		e.mu.Unlock()
		return nil
	}
	e.state = models.StateDisconnected
	e.self = ""
	e.profile = nil
	e.mu.Unlock()

	// The transport is going away; drop any pending call without notifying.
	e.calls.Reset()

	if err := e.transport.SendPresence(ctx, OutboundPresence{Type: PresenceUnavailable}); err != nil {
		e.log.Warn().Err(err).Msg("unavailable presence send failed")
	}
	err := e.transport.Close(ctx)
	e.bus.Publish(event.KindConnStateChanged, event.ConnStateChanged{State: models.StateDisconnected})
	e.log.Info().Msg("disconnected")
	return err
}

// FetchRoster replaces the store wholesale with the server's roster, emits
// the new snapshot, then probes presence for every contact in the background.
// The call returns once the listing itself is fetched.
func (e *Engine) FetchRoster(ctx context.Context) error {
	if e.State() != models.StateConnected {
		return ErrNotConnected
	}
	items, err := e.transport.FetchRoster(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRoster, err)
	}

	contacts := make([]models.Contact, 0, len(items))
	for _, item := range items {
		name := item.Name
		if name == "" {
			name = item.JID
		}
		contacts = append(contacts, models.Contact{
			JID:          item.JID,
			Name:         name,
			Subscription: item.Subscription,
			Presence:     models.PresenceUnknown,
		})
	}
	e.store.ReplaceAll(contacts)
	e.emitRoster()

	go e.probeAll(contacts)
	return nil
}

// probeAll asks the server for current presence of each contact. A failed
// probe degrades that one contact to a stale or unknown presence and must
// not stop the rest.
func (e *Engine) probeAll(contacts []models.Contact) {
	for _, c := range contacts {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := e.transport.SendPresence(ctx, OutboundPresence{To: c.JID, Type: PresenceProbe})
		cancel()
		if err != nil {
			e.log.Warn().Err(err).Str("jid", c.JID).Msg("presence probe failed")
		}
	}
}

// AddUser adds a roster item, refreshes the roster, and asks the new contact
// for a presence subscription.
func (e *Engine) AddUser(ctx context.Context, jid, name string) error {
	if e.State() != models.StateConnected {
		return ErrNotConnected
	}
	jid = models.BareJID(jid)
	if name == "" {
		name = jid
	}
	item := RosterItem{JID: jid, Name: name}
	if err := e.transport.SetRosterItem(ctx, item); err != nil {
		return fmt.Errorf("%w: %v", ErrRoster, err)
	}
	if err := e.FetchRoster(ctx); err != nil {
		e.log.Warn().Err(err).Msg("roster refresh after add failed")
	}
	if err := e.transport.SendPresence(ctx, OutboundPresence{To: jid, Type: PresenceSubscribe}); err != nil {
		return err
	}
	return nil
}

// RemoveUser removes the roster item and refreshes.
func (e *Engine) RemoveUser(ctx context.Context, jid string) error {
	if e.State() != models.StateConnected {
		return ErrNotConnected
	}
	jid = models.BareJID(jid)
	item := RosterItem{JID: jid, Subscription: models.SubscriptionRemove}
	if err := e.transport.SetRosterItem(ctx, item); err != nil {
		return fmt.Errorf("%w: %v", ErrRoster, err)
	}
	// Drop the contact locally right away; the refresh below reconciles with
	// the server's view when it succeeds.
	if e.store.Remove(jid) {
		e.emitRoster()
	}
	if err := e.FetchRoster(ctx); err != nil {
		e.log.Warn().Err(err).Msg("roster refresh after remove failed")
	}
	return nil
}

// SendMessage delivers a plain chat message.
func (e *Engine) SendMessage(ctx context.Context, to, body string) error {
	if e.State() != models.StateConnected {
		return ErrNotConnected
	}
	return e.transport.SendMessage(ctx, models.BareJID(to), body)
}

// GetProfile fetches the vCard for jid, or for the local user when jid is
// empty or the session's own address. Failures are logged, never fatal: the
// result is nil and the caller shows what it has.
func (e *Engine) GetProfile(ctx context.Context, jid string) *models.Profile {
	if e.State() != models.StateConnected {
		return nil
	}
	self := e.Self()
	target := models.BareJID(jid)
	if target == "" {
		target = self
	}
	profile, err := e.transport.FetchVCard(ctx, target)
	if err != nil {
		e.log.Warn().Err(err).Str("jid", target).Msg("vcard fetch failed")
		return nil
	}
	if profile == nil {
		return nil
	}
	if target == self {
		e.mu.Lock()
		p := *profile
		e.profile = &p
		e.mu.Unlock()
	} else if e.store.UpsertProfile(target, profile) {
		e.emitRoster()
	}
	return profile
}

// SetProfile publishes the local user's vCard and updates the local
// snapshot.
func (e *Engine) SetProfile(ctx context.Context, profile models.Profile) error {
	if e.State() != models.StateConnected {
		return ErrNotConnected
	}
	if err := e.transport.SetVCard(ctx, profile); err != nil {
		return err
	}
	e.mu.Lock()
	e.profile = &profile
	e.mu.Unlock()
	return nil
}

// PlaceCall starts a call to an online contact. Placing a call to a contact
// that is absent from the roster or not online is rejected with
// ErrContactUnavailable; placing one while another is pending is rejected by
// the machine without touching the pending attempt.
func (e *Engine) PlaceCall(ctx context.Context, jid string) (call.Attempt, error) {
	if e.State() != models.StateConnected {
		return call.Attempt{}, ErrNotConnected
	}
	contact, ok := e.store.Find(jid)
	if !ok || contact.Presence != models.PresenceOnline {
		return call.Attempt{}, fmt.Errorf("%w: %s", ErrContactUnavailable, models.BareJID(jid))
	}
	return e.calls.Place(contact.JID, e.Self())
}

// CancelCall withdraws the pending call attempt, if any.
func (e *Engine) CancelCall(ctx context.Context) error {
	return e.calls.Cancel(e.Self())
}

// CurrentCall exposes the pending attempt to collaborators.
func (e *Engine) CurrentCall() (call.Attempt, bool) {
	return e.calls.Current()
}

// sendSignal is the call machine's path to the wire: a signaling payload
// rides in a plain chat message body.
func (e *Engine) sendSignal(to string, p signal.Payload) error {
	body, err := p.Encode()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return e.transport.SendMessage(ctx, to, body)
}

// callReady relays the machine's accepted transition to collaborators.
func (e *Engine) callReady(target, roomID, url string) {
	e.bus.Publish(event.KindCallReady, event.CallReady{Target: target, RoomID: roomID, URL: url})
}

// handlePresence classifies one inbound presence stanza. The roster is the
// source of truth for membership: presence for an address the store does not
// know is logged and dropped, never turned into a contact.
func (e *Engine) handlePresence(p InboundPresence) {
	from := models.BareJID(p.From)
	switch p.Type {
	case "", "available":
		// fall through to the show mapping below
	case "unavailable":
		// handled below
	default:
		// Subscription management and probes addressed at us are not
		// availability updates.
		e.log.Debug().Str("from", from).Str("type", p.Type).Msg("ignoring presence subtype")
		return
	}

	presence := models.PresenceOffline
	if p.Type != "unavailable" {
		presence = models.MapShow(p.Show)
	}
	if !e.store.UpsertPresence(from, presence) {
		e.log.Warn().Str("from", from).Msg("presence for unknown contact dropped")
		return
	}
	e.log.Debug().Str("from", from).Str("presence", string(presence)).Msg("presence updated")
	e.emitRoster()
}

// handleMessage classifies one inbound chat message: call signaling first,
// meeting invitations second, plain chat last. Empty bodies are dropped.
func (e *Engine) handleMessage(m InboundMessage) {
	if m.Body == "" {
		return
	}
	from := models.BareJID(m.From)
	payload, kind := signal.Decode(m.Body)
	switch kind {
	case signal.KindCallSignal:
		if e.calls.HandleSignal(from, payload) {
			return
		}
		// Idle: an inbound "calling" is an invitation for us; anything
		// else is a stale answer to a call we no longer have.
		if payload.Status == signal.StatusCalling {
			e.bus.Publish(event.KindCallInviteReceived, event.CallInviteReceived{
				From: from,
				URL:  payload.JoinURL(),
			})
			return
		}
		e.log.Debug().Str("from", from).Str("status", string(payload.Status)).
			Msg("dropping stale call signal")
	case signal.KindMeetingInvite:
		// While an attempt is pending, only signaling matching that attempt
		// gets through; a third-party invitation is not an answer.
		if e.calls.Busy() {
			e.log.Debug().Str("from", from).Msg("dropping meeting invite during pending call")
			return
		}
		e.bus.Publish(event.KindCallInviteReceived, event.CallInviteReceived{
			From: from,
			URL:  payload.JoinURL(),
		})
	default:
		e.bus.Publish(event.KindMessageReceived, event.MessageReceived{From: from, Body: m.Body})
	}
}

// handleConnState reacts to transport-detected connection loss. Explicit
// Connect/Disconnect drive their own transitions; this path only covers the
// transport dying underneath a connected session.
func (e *Engine) handleConnState(state models.ConnState, err error) {
	if state != models.StateDisconnected {
		return
	}
	e.mu.Lock()
	if e.state != models.StateConnected {
		e.mu.Unlock()
		return
	}
	e.state = models.StateDisconnected
	e.self = ""
	e.mu.Unlock()

	e.calls.Reset()
	e.log.Warn().Err(err).Msg("transport connection lost")
	e.bus.Publish(event.KindConnStateChanged, event.ConnStateChanged{
		State: models.StateDisconnected,
		Err:   err,
	})
}

// emitRoster publishes a fresh detached snapshot of the contact set.
func (e *Engine) emitRoster() {
	e.bus.Publish(event.KindRosterChanged, event.RosterChanged{Contacts: e.store.All()})
}
