// Package call tracks the single outbound call attempt. The machine has two
// states, idle and calling, and every transition out of calling disarms the
// expiry timer. At most one attempt may be outstanding; inbound signaling
// that does not match the outstanding attempt's room and peer is ignored.
package call

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"msgoffice/signal"
)

// ErrCallInProgress rejects a second placement while an attempt is pending.
var ErrCallInProgress = errors.New("call already in progress")

// DefaultTimeout is how long an unanswered attempt rings before it is
// recorded as missed and the peer is notified.
const DefaultTimeout = 120 * time.Second

// Attempt is one outbound call invitation awaiting acceptance.
type Attempt struct {
	Target    string
	RoomID    string
	Token     string
	Status    signal.Status
	StartedAt time.Time
}

// Sender delivers a signaling payload to a peer. The machine never talks to
// the transport directly.
type Sender func(to string, p signal.Payload) error

// ReadyFunc is invoked when the outstanding attempt is accepted. URL is the
// join URL built from the accepting payload.
type ReadyFunc func(target, roomID, url string)

// Machine is the call-signaling state machine. Zero or one attempt at a time.
type Machine struct {
	mu      sync.Mutex
	attempt *Attempt
	timer   *time.Timer
	gen     int    // invalidates stale timer fires
	self    string // wire identity of the local user, set at placement

	meetDomain string
	meetPort   signal.Port
	timeout    time.Duration

	send    Sender
	onReady ReadyFunc
	log     zerolog.Logger
}

// Config carries the meeting endpoint the machine advertises in outbound
// payloads and the ring timeout.
type Config struct {
	MeetDomain string
	MeetPort   signal.Port
	Timeout    time.Duration
}

func NewMachine(cfg Config, send Sender, onReady ReadyFunc, log zerolog.Logger) *Machine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Machine{
		meetDomain: cfg.MeetDomain,
		meetPort:   cfg.MeetPort,
		timeout:    cfg.Timeout,
		send:       send,
		onReady:    onReady,
		log:        log.With().Str("component", "call").Logger(),
	}
}

// Busy reports whether an attempt is outstanding.
func (m *Machine) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt != nil
}

// Current returns a copy of the outstanding attempt, if any.
func (m *Machine) Current() (Attempt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attempt == nil {
		return Attempt{}, false
	}
	return *m.attempt, true
}

// Place starts a call to target, identified on the wire as coming from self.
// It sends the "calling" payload and arms the expiry timer. A second call
// while one is pending fails with ErrCallInProgress and leaves the pending
// attempt untouched.
func (m *Machine) Place(target, self string) (Attempt, error) {
	m.mu.Lock()
	if m.attempt != nil {
		m.mu.Unlock()
		return Attempt{}, ErrCallInProgress
	}
	attempt := &Attempt{
		Target:    target,
		RoomID:    signal.NewRoomID(),
		Token:     signal.NewToken(),
		Status:    signal.StatusCalling,
		StartedAt: time.Now(),
	}
	m.attempt = attempt
	m.self = self
	m.gen++
	gen := m.gen
	m.timer = time.AfterFunc(m.timeout, func() { m.expire(gen) })
	payload := m.payloadFor(attempt, signal.StatusCalling, self)
	m.mu.Unlock()

	if err := m.send(target, payload); err != nil {
		m.clear(gen)
		return Attempt{}, err
	}
	m.log.Info().Str("target", target).Str("room", attempt.RoomID).Msg("call placed")
	return *attempt, nil
}

// HandleSignal feeds an inbound call-control payload to the machine. It
// reports whether the payload was consumed; payloads arriving while idle are
// left to the caller (an inbound "calling" is an invitation, not an answer).
func (m *Machine) HandleSignal(from string, p signal.Payload) bool {
	m.mu.Lock()
	attempt := m.attempt
	if attempt == nil {
		m.mu.Unlock()
		return false
	}
	// A call is pending: evaluate only against this attempt's identifiers.
	if p.Status != signal.StatusAccepted || !p.Matches(attempt.RoomID, attempt.Target) {
		m.mu.Unlock()
		m.log.Debug().Str("from", from).Str("status", string(p.Status)).
			Msg("ignoring signaling that does not answer the pending call")
		return true
	}
	gen := m.gen
	target, roomID := attempt.Target, attempt.RoomID
	m.mu.Unlock()

	m.clear(gen)
	m.log.Info().Str("target", target).Str("room", roomID).Msg("call accepted")
	m.onReady(target, roomID, p.JoinURL())
	return true
}

// Cancel withdraws the pending attempt and tells the peer. Idempotent: with
// no pending attempt it is a no-op.
func (m *Machine) Cancel(self string) error {
	m.mu.Lock()
	attempt := m.attempt
	if attempt == nil {
		m.mu.Unlock()
		return nil
	}
	gen := m.gen
	payload := m.payloadFor(attempt, signal.StatusCanceled, self)
	target := attempt.Target
	m.mu.Unlock()

	m.clear(gen)
	m.log.Info().Str("target", target).Msg("call canceled")
	return m.send(target, payload)
}

// Reset drops any pending attempt without notifying the peer. Used on
// disconnect, when the transport is gone anyway.
func (m *Machine) Reset() {
	m.mu.Lock()
	gen := m.gen
	had := m.attempt != nil
	m.mu.Unlock()
	if had {
		m.clear(gen)
	}
}

// expire fires when the ring timeout elapses. The generation check makes a
// stale timer (raced against accept/cancel) a no-op, so at most one missed
// notification is sent per attempt.
func (m *Machine) expire(gen int) {
	m.mu.Lock()
	if m.attempt == nil || m.gen != gen {
		m.mu.Unlock()
		return
	}
	attempt := m.attempt
	m.attempt = nil
	m.timer = nil
	payload := m.payloadFor(attempt, signal.StatusMissed, m.self)
	m.mu.Unlock()

	m.log.Info().Str("target", attempt.Target).Str("room", attempt.RoomID).
		Msg("call timed out, marking missed")
	if err := m.send(attempt.Target, payload); err != nil {
		m.log.Warn().Err(err).Str("target", attempt.Target).
			Msg("failed to deliver missed notification")
	}
}

// clear disarms the timer and forgets the attempt if gen still identifies it.
func (m *Machine) clear(gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.attempt = nil
}

// payloadFor must be called with m.mu held or with attempt owned exclusively.
func (m *Machine) payloadFor(a *Attempt, status signal.Status, self string) signal.Payload {
	return signal.Payload{
		Domain: m.meetDomain,
		Port:   m.meetPort,
		Token:  a.Token,
		RoomID: a.RoomID,
		Type:   "call",
		Status: status,
		JID:    self,
	}
}
