// Package signal encodes and decodes the call-signaling payloads this system
// carries inside plain chat message bodies. Call setup is not a native
// protocol feature: an outbound call is a JSON body with an explicit status
// field, so every inbound body is classified exactly once, at this boundary,
// into a tagged variant.
package signal

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Status is the call-control state carried on the wire.
type Status string

const (
	StatusCalling  Status = "calling"
	StatusAccepted Status = "accepted"
	StatusCanceled Status = "canceled"
	StatusMissed   Status = "missed"
)

// Kind tags the variant a message body decoded into.
type Kind int

const (
	// KindPlain is an ordinary chat message.
	KindPlain Kind = iota
	// KindCallSignal is a call-control message with type "call" and a valid
	// status.
	KindCallSignal
	// KindMeetingInvite is an unsolicited meeting invitation: room
	// coordinates without call-control semantics.
	KindMeetingInvite
)

const payloadType = "call"

// roomIDLen and roomIDChars match the identifier format the meeting backend
// expects: 10 ASCII letters.
const (
	roomIDLen   = 10
	roomIDChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

// Payload is the wire shape of both the call-control message and the meeting
// invitation. Port arrives as a string or a number depending on the sender.
type Payload struct {
	Domain string `json:"domain"`
	Port   Port   `json:"port"`
	Token  string `json:"token"`
	RoomID string `json:"roomId"`
	Type   string `json:"type,omitempty"`
	Status Status `json:"status,omitempty"`
	JID    string `json:"jid,omitempty"`
}

// Port tolerates both JSON string and number encodings.
type Port string

func (p *Port) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = Port(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("port is neither string nor number: %s", data)
	}
	*p = Port(n.String())
	return nil
}

func (p Port) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(p))
}

// Decode classifies a message body. A body that is not JSON, or that lacks
// the required fields of either structured variant, is plain chat.
func Decode(body string) (Payload, Kind) {
	trimmed := strings.TrimSpace(body)
	if !strings.HasPrefix(trimmed, "{") {
		return Payload{}, KindPlain
	}
	var p Payload
	if err := json.Unmarshal([]byte(trimmed), &p); err != nil {
		return Payload{}, KindPlain
	}
	if p.Type == payloadType && validStatus(p.Status) && p.RoomID != "" && p.JID != "" {
		return p, KindCallSignal
	}
	if p.Type == "" && p.Status == "" &&
		p.Domain != "" && p.Port != "" && p.Token != "" && p.RoomID != "" {
		return p, KindMeetingInvite
	}
	return Payload{}, KindPlain
}

func validStatus(s Status) bool {
	switch s {
	case StatusCalling, StatusAccepted, StatusCanceled, StatusMissed:
		return true
	}
	return false
}

// Encode renders the payload as a message body.
func (p Payload) Encode() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// JoinURL builds the direct meeting URL for this payload's room.
func (p Payload) JoinURL() string {
	return "https://" + p.Domain + ":" + string(p.Port) + "/" + p.RoomID
}

// Matches reports whether an inbound payload answers the attempt identified
// by roomID and the peer's bare JID.
func (p Payload) Matches(roomID, peerJID string) bool {
	return p.RoomID == roomID && bare(p.JID) == bare(peerJID)
}

func bare(jid string) string {
	if i := strings.IndexByte(jid, '/'); i >= 0 {
		return jid[:i]
	}
	return jid
}

// NewRoomID returns a fresh 10-letter room identifier.
func NewRoomID() string {
	var b strings.Builder
	b.Grow(roomIDLen)
	for i := 0; i < roomIDLen; i++ {
		b.WriteByte(roomIDChars[rand.Intn(len(roomIDChars))])
	}
	return b.String()
}

// NewToken returns an opaque per-call token.
func NewToken() string {
	return uuid.NewString()
}

// PortFromInt is a convenience for configuration sources that carry the
// meeting port as an integer.
func PortFromInt(n int) Port {
	return Port(strconv.Itoa(n))
}
