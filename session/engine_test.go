package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgoffice/config"
	"msgoffice/event"
	"msgoffice/models"
	"msgoffice/signal"
)

type sentMessage struct {
	to   string
	body string
}

// fakeTransport records every outbound interaction and lets tests inject
// inbound stanzas through the registered handlers.
type fakeTransport struct {
	mu        sync.Mutex
	openCalls int
	openErr   error
	openGate  chan struct{} // when set, Open blocks until it closes
	self      string
	roster    []RosterItem
	rosterErr error
	presences []OutboundPresence
	messages  []sentMessage
	setItems  []RosterItem
	vcards    map[string]*models.Profile
	setVCards []models.Profile
	closes    int

	onMessage   func(InboundMessage)
	onPresence  func(InboundPresence)
	onConnState func(models.ConnState, error)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		self:   "alice@example.com/msgoffice-test",
		vcards: map[string]*models.Profile{},
	}
}

func (f *fakeTransport) Open(ctx context.Context, creds Creds) (string, error) {
	f.mu.Lock()
	f.openCalls++
	gate := f.openGate
	err := f.openErr
	self := f.self
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return "", err
	}
	return self, nil
}

func (f *fakeTransport) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeTransport) SendPresence(ctx context.Context, p OutboundPresence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presences = append(f.presences, p)
	return nil
}

func (f *fakeTransport) SendMessage(ctx context.Context, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, sentMessage{to: to, body: body})
	return nil
}

func (f *fakeTransport) FetchRoster(ctx context.Context) ([]RosterItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rosterErr != nil {
		return nil, f.rosterErr
	}
	return append([]RosterItem(nil), f.roster...), nil
}

func (f *fakeTransport) SetRosterItem(ctx context.Context, item RosterItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setItems = append(f.setItems, item)
	return nil
}

func (f *fakeTransport) FetchVCard(ctx context.Context, jid string) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vcards[jid], nil
}

func (f *fakeTransport) SetVCard(ctx context.Context, profile models.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setVCards = append(f.setVCards, profile)
	return nil
}

func (f *fakeTransport) OnMessage(fn func(InboundMessage))            { f.onMessage = fn }
func (f *fakeTransport) OnPresence(fn func(InboundPresence))          { f.onPresence = fn }
func (f *fakeTransport) OnConnState(fn func(models.ConnState, error)) { f.onConnState = fn }

func (f *fakeTransport) presencesCopy() []OutboundPresence {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]OutboundPresence(nil), f.presences...)
}

func (f *fakeTransport) messagesCopy() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.messages...)
}

func (f *fakeTransport) setItemsCopy() []RosterItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RosterItem(nil), f.setItems...)
}

func newTestEngine(t *testing.T) (*Engine, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	cfg := &config.Config{
		Server:      "example.com:5222",
		MeetDomain:  "meet.example.com",
		MeetPort:    8443,
		CallTimeout: time.Minute,
	}
	return NewEngine(cfg, ft, zerolog.Nop()), ft
}

func connect(t *testing.T, e *Engine) {
	t.Helper()
	require.NoError(t, e.Connect(context.Background(), Creds{Username: "alice", Password: "pw"}))
}

// setOnline delivers an available presence for a roster contact so calls to
// it pass the availability gate.
func setOnline(ft *fakeTransport, jid string) {
	ft.onPresence(InboundPresence{From: jid + "/mobile", Type: ""})
}

func TestConnectFetchesRosterAndBroadcastsPresence(t *testing.T) {
	e, ft := newTestEngine(t)
	ft.roster = []RosterItem{
		{JID: "bob@example.com", Name: "Bob", Subscription: models.SubscriptionBoth},
		{JID: "carol@example.com", Subscription: models.SubscriptionTo},
	}

	var states []models.ConnState
	e.Subscribe(event.KindConnStateChanged, func(p any) {
		states = append(states, p.(event.ConnStateChanged).State)
	})

	connect(t, e)

	assert.Equal(t, models.StateConnected, e.State())
	assert.Equal(t, "alice@example.com", e.Self())
	assert.Equal(t, []models.ConnState{models.StateConnected}, states)

	contacts := e.Contacts()
	require.Len(t, contacts, 2)
	assert.Equal(t, "Bob", contacts[0].Name)
	assert.Equal(t, models.PresenceUnknown, contacts[0].Presence)
	// A nameless roster item falls back to its address.
	assert.Equal(t, "carol@example.com", contacts[1].Name)

	// Availability broadcast plus one probe per contact, probes async.
	assert.Eventually(t, func() bool {
		probes := 0
		for _, p := range ft.presencesCopy() {
			if p.Type == PresenceProbe {
				probes++
			}
		}
		return probes == 2
	}, time.Second, 10*time.Millisecond)

	broadcast := false
	for _, p := range ft.presencesCopy() {
		if p.Type == PresenceAvailable && p.To == "" {
			broadcast = true
		}
	}
	assert.True(t, broadcast)
}

func TestConnectAuthFailure(t *testing.T) {
	e, ft := newTestEngine(t)
	ft.openErr = fmt.Errorf("%w: not-authorized", ErrAuthentication)

	err := e.Connect(context.Background(), Creds{Username: "alice", Password: "bad"})
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.Equal(t, models.StateDisconnected, e.State())

	// A later attempt is not blocked by the failed one.
	ft.mu.Lock()
	ft.openErr = nil
	ft.mu.Unlock()
	connect(t, e)
	assert.Equal(t, models.StateConnected, e.State())
}

func TestConcurrentConnectOpensOneTransport(t *testing.T) {
	e, ft := newTestEngine(t)
	gate := make(chan struct{})
	ft.openGate = gate

	done := make(chan error, 1)
	go func() {
		done <- e.Connect(context.Background(), Creds{Username: "alice", Password: "pw"})
	}()

	require.Eventually(t, func() bool {
		return e.State() == models.StateConnecting
	}, time.Second, 5*time.Millisecond)

	err := e.Connect(context.Background(), Creds{Username: "alice", Password: "pw"})
	assert.ErrorIs(t, err, ErrAlreadyConnecting)

	close(gate)
	require.NoError(t, <-done)

	err = e.Connect(context.Background(), Creds{Username: "alice", Password: "pw"})
	assert.ErrorIs(t, err, ErrAlreadyConnected)

	ft.mu.Lock()
	opens := ft.openCalls
	ft.mu.Unlock()
	assert.Equal(t, 1, opens)
}

func TestDisconnectSendsUnavailableAndCloses(t *testing.T) {
	e, ft := newTestEngine(t)
	connect(t, e)

	require.NoError(t, e.Disconnect(context.Background()))
	assert.Equal(t, models.StateDisconnected, e.State())
	assert.Empty(t, e.Self())

	unavailable := false
	for _, p := range ft.presencesCopy() {
		if p.Type == PresenceUnavailable {
			unavailable = true
		}
	}
	assert.True(t, unavailable)

	ft.mu.Lock()
	closes := ft.closes
	ft.mu.Unlock()
	assert.Equal(t, 1, closes)

	// Idempotent.
	require.NoError(t, e.Disconnect(context.Background()))
	ft.mu.Lock()
	assert.Equal(t, 1, ft.closes)
	ft.mu.Unlock()
}

func TestOperationsRequireLiveSession(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	assert.ErrorIs(t, e.FetchRoster(ctx), ErrNotConnected)
	assert.ErrorIs(t, e.AddUser(ctx, "bob@example.com", "Bob"), ErrNotConnected)
	assert.ErrorIs(t, e.RemoveUser(ctx, "bob@example.com"), ErrNotConnected)
	assert.ErrorIs(t, e.SendMessage(ctx, "bob@example.com", "hi"), ErrNotConnected)
	assert.ErrorIs(t, e.SetProfile(ctx, models.Profile{}), ErrNotConnected)
	_, err := e.PlaceCall(ctx, "bob@example.com")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Nil(t, e.GetProfile(ctx, "bob@example.com"))
}

func TestPresenceUpdatesRosterContact(t *testing.T) {
	e, ft := newTestEngine(t)
	ft.roster = []RosterItem{{JID: "bob@example.com", Name: "Bob"}}
	connect(t, e)

	var snapshots [][]models.Contact
	e.Subscribe(event.KindRosterChanged, func(p any) {
		snapshots = append(snapshots, p.(event.RosterChanged).Contacts)
	})

	ft.onPresence(InboundPresence{From: "bob@example.com/mobile", Show: "dnd"})
	c, ok := e.store.Find("bob@example.com")
	require.True(t, ok)
	assert.Equal(t, models.PresenceBusy, c.Presence)
	require.Len(t, snapshots, 1)

	ft.onPresence(InboundPresence{From: "bob@example.com/mobile", Type: "unavailable"})
	c, _ = e.store.Find("bob@example.com")
	assert.Equal(t, models.PresenceOffline, c.Presence)
	assert.Len(t, snapshots, 2)
}

func TestPresenceForStrangerIsDropped(t *testing.T) {
	e, ft := newTestEngine(t)
	ft.roster = []RosterItem{{JID: "bob@example.com"}}
	connect(t, e)

	rosterEvents := 0
	e.Subscribe(event.KindRosterChanged, func(any) { rosterEvents++ })

	ft.onPresence(InboundPresence{From: "stranger@example.com/pc"})

	assert.Len(t, e.Contacts(), 1)
	assert.Equal(t, 0, rosterEvents)
}

func TestSubscriptionPresenceIsNotAvailability(t *testing.T) {
	e, ft := newTestEngine(t)
	ft.roster = []RosterItem{{JID: "bob@example.com"}}
	connect(t, e)

	ft.onPresence(InboundPresence{From: "bob@example.com", Type: "subscribe"})

	c, ok := e.store.Find("bob@example.com")
	require.True(t, ok)
	assert.Equal(t, models.PresenceUnknown, c.Presence)
}

func TestAddUserSetsItemAndRequestsSubscription(t *testing.T) {
	e, ft := newTestEngine(t)
	connect(t, e)

	require.NoError(t, e.AddUser(context.Background(), "bob@example.com/office", ""))

	items := ft.setItemsCopy()
	require.Len(t, items, 1)
	assert.Equal(t, "bob@example.com", items[0].JID)
	assert.Equal(t, "bob@example.com", items[0].Name)

	subscribe := false
	for _, p := range ft.presencesCopy() {
		if p.Type == PresenceSubscribe && p.To == "bob@example.com" {
			subscribe = true
		}
	}
	assert.True(t, subscribe)
}

func TestRemoveUserSendsRemovalItem(t *testing.T) {
	e, ft := newTestEngine(t)
	ft.roster = []RosterItem{{JID: "bob@example.com"}}
	connect(t, e)

	require.NoError(t, e.RemoveUser(context.Background(), "bob@example.com"))

	items := ft.setItemsCopy()
	require.Len(t, items, 1)
	assert.Equal(t, models.SubscriptionRemove, items[0].Subscription)
}

func TestSendMessageUsesBareAddress(t *testing.T) {
	e, ft := newTestEngine(t)
	connect(t, e)

	require.NoError(t, e.SendMessage(context.Background(), "bob@example.com/mobile", "hello"))

	msgs := ft.messagesCopy()
	require.Len(t, msgs, 1)
	assert.Equal(t, "bob@example.com", msgs[0].to)
	assert.Equal(t, "hello", msgs[0].body)
}

func TestGetProfileCachesSelfAndEnrichesContacts(t *testing.T) {
	e, ft := newTestEngine(t)
	ft.roster = []RosterItem{{JID: "bob@example.com", Name: "Bob"}}
	ft.vcards["alice@example.com"] = &models.Profile{FirstName: "Alice"}
	ft.vcards["bob@example.com"] = &models.Profile{FirstName: "Bob", Organization: "ACME"}
	connect(t, e)

	self := e.GetProfile(context.Background(), "")
	require.NotNil(t, self)
	assert.Equal(t, "Alice", self.FirstName)
	require.NotNil(t, e.Profile())
	assert.Equal(t, "Alice", e.Profile().FirstName)

	rosterEvents := 0
	e.Subscribe(event.KindRosterChanged, func(any) { rosterEvents++ })

	p := e.GetProfile(context.Background(), "bob@example.com/mobile")
	require.NotNil(t, p)
	assert.Equal(t, "ACME", p.Organization)
	assert.Equal(t, 1, rosterEvents)

	c, _ := e.store.Find("bob@example.com")
	require.NotNil(t, c.Profile)
	assert.Equal(t, "ACME", c.Profile.Organization)
}

func TestSetProfilePublishesVCard(t *testing.T) {
	e, ft := newTestEngine(t)
	connect(t, e)

	require.NoError(t, e.SetProfile(context.Background(), models.Profile{Nickname: "ally"}))

	ft.mu.Lock()
	published := append([]models.Profile(nil), ft.setVCards...)
	ft.mu.Unlock()
	require.Len(t, published, 1)
	assert.Equal(t, "ally", published[0].Nickname)
	require.NotNil(t, e.Profile())
	assert.Equal(t, "ally", e.Profile().Nickname)
}

func TestPlaceCallRequiresOnlineContact(t *testing.T) {
	e, ft := newTestEngine(t)
	ft.roster = []RosterItem{{JID: "bob@example.com"}}
	connect(t, e)

	_, err := e.PlaceCall(context.Background(), "bob@example.com")
	assert.ErrorIs(t, err, ErrContactUnavailable)

	_, err = e.PlaceCall(context.Background(), "stranger@example.com")
	assert.ErrorIs(t, err, ErrContactUnavailable)

	setOnline(ft, "bob@example.com")
	attempt, err := e.PlaceCall(context.Background(), "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", attempt.Target)

	msgs := ft.messagesCopy()
	require.Len(t, msgs, 1)
	payload, kind := signal.Decode(msgs[0].body)
	assert.Equal(t, signal.KindCallSignal, kind)
	assert.Equal(t, signal.StatusCalling, payload.Status)
	assert.Equal(t, attempt.RoomID, payload.RoomID)
	assert.Equal(t, "alice@example.com", payload.JID)
}

func TestAcceptedSignalCompletesCall(t *testing.T) {
	e, ft := newTestEngine(t)
	ft.roster = []RosterItem{{JID: "bob@example.com"}}
	connect(t, e)
	setOnline(ft, "bob@example.com")

	var ready []event.CallReady
	e.Subscribe(event.KindCallReady, func(p any) {
		ready = append(ready, p.(event.CallReady))
	})

	attempt, err := e.PlaceCall(context.Background(), "bob@example.com")
	require.NoError(t, err)

	// An answer for a different room is consumed and ignored.
	mismatch := signal.Payload{
		RoomID: "ZzZzZzZzZz", Type: "call",
		Status: signal.StatusAccepted, JID: "bob@example.com",
	}
	body, err := mismatch.Encode()
	require.NoError(t, err)
	ft.onMessage(InboundMessage{From: "bob@example.com/mobile", Body: body})
	assert.Empty(t, ready)
	_, pending := e.CurrentCall()
	assert.True(t, pending)

	accept := signal.Payload{
		Domain: "meet.example.com", Port: "8443", Token: attempt.Token,
		RoomID: attempt.RoomID, Type: "call",
		Status: signal.StatusAccepted, JID: "bob@example.com",
	}
	body, err = accept.Encode()
	require.NoError(t, err)
	ft.onMessage(InboundMessage{From: "bob@example.com/mobile", Body: body})

	require.Len(t, ready, 1)
	assert.Equal(t, "bob@example.com", ready[0].Target)
	assert.Equal(t, "https://meet.example.com:8443/"+attempt.RoomID, ready[0].URL)
	_, pending = e.CurrentCall()
	assert.False(t, pending)
}

func TestInboundCallingWhileIdleBecomesInvite(t *testing.T) {
	e, ft := newTestEngine(t)
	connect(t, e)

	var invites []event.CallInviteReceived
	e.Subscribe(event.KindCallInviteReceived, func(p any) {
		invites = append(invites, p.(event.CallInviteReceived))
	})

	p := signal.Payload{
		Domain: "meet.example.com", Port: "8443", Token: "tok",
		RoomID: "AbCdEfGhIj", Type: "call",
		Status: signal.StatusCalling, JID: "bob@example.com",
	}
	body, err := p.Encode()
	require.NoError(t, err)
	ft.onMessage(InboundMessage{From: "bob@example.com/mobile", Body: body})

	require.Len(t, invites, 1)
	assert.Equal(t, "bob@example.com", invites[0].From)
	assert.Equal(t, "https://meet.example.com:8443/AbCdEfGhIj", invites[0].URL)
}

func TestStaleAnswerWhileIdleIsDropped(t *testing.T) {
	e, ft := newTestEngine(t)
	connect(t, e)

	events := 0
	e.Subscribe(event.KindCallInviteReceived, func(any) { events++ })
	e.Subscribe(event.KindMessageReceived, func(any) { events++ })
	e.Subscribe(event.KindCallReady, func(any) { events++ })

	p := signal.Payload{
		RoomID: "AbCdEfGhIj", Type: "call",
		Status: signal.StatusCanceled, JID: "bob@example.com",
	}
	body, err := p.Encode()
	require.NoError(t, err)
	ft.onMessage(InboundMessage{From: "bob@example.com", Body: body})

	assert.Equal(t, 0, events)
}

func TestMeetingInviteBecomesInvite(t *testing.T) {
	e, ft := newTestEngine(t)
	connect(t, e)

	var invites []event.CallInviteReceived
	e.Subscribe(event.KindCallInviteReceived, func(p any) {
		invites = append(invites, p.(event.CallInviteReceived))
	})

	body := `{"domain":"meet.example.com","port":"8443","token":"tok","roomId":"AbCdEfGhIj"}`
	ft.onMessage(InboundMessage{From: "bob@example.com", Body: body})

	require.Len(t, invites, 1)
	assert.Equal(t, "https://meet.example.com:8443/AbCdEfGhIj", invites[0].URL)
}

func TestMeetingInviteDuringPendingCallIsDropped(t *testing.T) {
	e, ft := newTestEngine(t)
	ft.roster = []RosterItem{{JID: "bob@example.com"}}
	connect(t, e)
	setOnline(ft, "bob@example.com")

	var invites []event.CallInviteReceived
	e.Subscribe(event.KindCallInviteReceived, func(p any) {
		invites = append(invites, p.(event.CallInviteReceived))
	})

	_, err := e.PlaceCall(context.Background(), "bob@example.com")
	require.NoError(t, err)

	body := `{"domain":"meet.example.com","port":"8443","token":"tok","roomId":"AbCdEfGhIj"}`
	ft.onMessage(InboundMessage{From: "carol@example.com", Body: body})

	assert.Empty(t, invites)
	_, pending := e.CurrentCall()
	assert.True(t, pending)

	// Once the attempt is over the same invitation surfaces normally.
	require.NoError(t, e.CancelCall(context.Background()))
	ft.onMessage(InboundMessage{From: "carol@example.com", Body: body})
	require.Len(t, invites, 1)
	assert.Equal(t, "carol@example.com", invites[0].From)
}

func TestRosterRefreshIsIdempotent(t *testing.T) {
	e, ft := newTestEngine(t)
	ft.roster = []RosterItem{
		{JID: "bob@example.com", Name: "Bob"},
		{JID: "carol@example.com"},
	}
	connect(t, e)
	setOnline(ft, "bob@example.com")

	c, ok := e.store.Find("bob@example.com")
	require.True(t, ok)
	require.Equal(t, models.PresenceOnline, c.Presence)

	require.NoError(t, e.FetchRoster(context.Background()))

	contacts := e.Contacts()
	require.Len(t, contacts, 2)
	assert.Equal(t, "bob@example.com", contacts[0].JID)
	assert.Equal(t, "Bob", contacts[0].Name)
	assert.Equal(t, "carol@example.com", contacts[1].JID)
	// A refresh starts presence tracking over; probes repopulate it.
	assert.Equal(t, models.PresenceUnknown, contacts[0].Presence)
	assert.Equal(t, models.PresenceUnknown, contacts[1].Presence)
}

func TestRemoveUserDropsContactImmediately(t *testing.T) {
	e, ft := newTestEngine(t)
	ft.roster = []RosterItem{{JID: "bob@example.com"}}
	connect(t, e)

	// The follow-up refresh failing must not undo the local removal.
	ft.mu.Lock()
	ft.rosterErr = fmt.Errorf("%w: service-unavailable", ErrRoster)
	ft.mu.Unlock()

	rosterEvents := 0
	e.Subscribe(event.KindRosterChanged, func(any) { rosterEvents++ })

	require.NoError(t, e.RemoveUser(context.Background(), "bob@example.com"))

	assert.Empty(t, e.Contacts())
	assert.Equal(t, 1, rosterEvents)
}

func TestPlainChatBecomesMessageEvent(t *testing.T) {
	e, ft := newTestEngine(t)
	connect(t, e)

	var msgs []event.MessageReceived
	e.Subscribe(event.KindMessageReceived, func(p any) {
		msgs = append(msgs, p.(event.MessageReceived))
	})

	ft.onMessage(InboundMessage{From: "bob@example.com/mobile", Body: "lunch?"})
	ft.onMessage(InboundMessage{From: "bob@example.com", Body: ""}) // dropped

	require.Len(t, msgs, 1)
	assert.Equal(t, "bob@example.com", msgs[0].From)
	assert.Equal(t, "lunch?", msgs[0].Body)
}

func TestTransportLossResetsSessionAndCall(t *testing.T) {
	e, ft := newTestEngine(t)
	ft.roster = []RosterItem{{JID: "bob@example.com"}}
	connect(t, e)
	setOnline(ft, "bob@example.com")

	_, err := e.PlaceCall(context.Background(), "bob@example.com")
	require.NoError(t, err)

	var changes []event.ConnStateChanged
	e.Subscribe(event.KindConnStateChanged, func(p any) {
		changes = append(changes, p.(event.ConnStateChanged))
	})

	lossErr := fmt.Errorf("%w: stream reset", ErrTransport)
	ft.onConnState(models.StateDisconnected, lossErr)

	assert.Equal(t, models.StateDisconnected, e.State())
	assert.Empty(t, e.Self())
	_, pending := e.CurrentCall()
	assert.False(t, pending)
	require.Len(t, changes, 1)
	assert.Equal(t, models.StateDisconnected, changes[0].State)
	assert.ErrorIs(t, changes[0].Err, ErrTransport)

	// Only the original "calling" message went out; losing the transport
	// notifies nobody.
	assert.Len(t, ft.messagesCopy(), 1)
}
