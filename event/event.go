package event

import (
	"sync"

	"github.com/rs/zerolog"

	"msgoffice/models"
)

// Kind is a notification the engine emits to collaborators.
type Kind int

const (
	// KindRosterChanged carries a full contact snapshot after any roster or
	// presence mutation.
	KindRosterChanged Kind = iota
	// KindMessageReceived carries a plain chat message.
	KindMessageReceived
	// KindCallInviteReceived carries an unsolicited meeting invitation.
	KindCallInviteReceived
	// KindCallReady fires when an outbound call attempt is accepted and the
	// join URL is known.
	KindCallReady
	// KindConnStateChanged surfaces transport lifecycle transitions.
	KindConnStateChanged
)

// RosterChanged is the payload of KindRosterChanged.
type RosterChanged struct {
	Contacts []models.Contact
}

// MessageReceived is the payload of KindMessageReceived.
type MessageReceived struct {
	From string
	Body string
}

// CallInviteReceived is the payload of KindCallInviteReceived. URL is the
// direct join URL built from the invitation payload.
type CallInviteReceived struct {
	From string
	URL  string
}

// CallReady is the payload of KindCallReady.
type CallReady struct {
	Target string
	RoomID string
	URL    string
}

// ConnStateChanged is the payload of KindConnStateChanged. Err is set when
// the transition was caused by a transport failure.
type ConnStateChanged struct {
	State models.ConnState
	Err   error
}

// Handler receives a published payload for the kind it subscribed to.
type Handler func(payload any)

type subscriber struct {
	id int
	fn Handler
}

// Bus is an in-process publish/subscribe fan-out. Handlers for a kind run
// synchronously in registration order on the publishing goroutine. Events
// published before a handler subscribes are lost to that handler.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[Kind][]subscriber
	log    zerolog.Logger
}

func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[Kind][]subscriber),
		log:  log.With().Str("component", "event").Logger(),
	}
}

// Subscribe registers a handler and returns its unsubscribe function.
// Unsubscribing twice is harmless.
func (b *Bus) Subscribe(kind Kind, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[kind] = append(b.subs[kind], subscriber{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[kind]
		for i, s := range list {
			if s.id == id {
				b.subs[kind] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers payload to every handler of kind. A panicking handler is
// recovered and logged so the remaining handlers still run.
func (b *Bus) Publish(kind Kind, payload any) {
	b.mu.Lock()
	list := make([]subscriber, len(b.subs[kind]))
	copy(list, b.subs[kind])
	b.mu.Unlock()

	for _, s := range list {
		b.deliver(kind, s, payload)
	}
}

func (b *Bus) deliver(kind Kind, s subscriber, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Int("kind", int(kind)).Interface("panic", r).
				Msg("event handler panicked")
		}
	}()
	s.fn(payload)
}
