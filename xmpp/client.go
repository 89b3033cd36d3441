// Package xmpp is the transport adapter: it owns the wire connection to the
// XMPP server through mellium.im/xmpp and exposes the narrow contract the
// session engine consumes. Stanza framing, TLS, and SASL live here and
// nowhere else.
package xmpp

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"mellium.im/sasl"
	"mellium.im/xmlstream"
	"mellium.im/xmpp"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/roster"
	"mellium.im/xmpp/stanza"

	"msgoffice/models"
	"msgoffice/session"
)

const dialTimeout = 30 * time.Second

// Client is the mellium-backed transport. It implements session.Transport.
type Client struct {
	log zerolog.Logger

	mu      sync.RWMutex
	sess    *xmpp.Session
	self    jid.JID
	closing bool

	onMessage   func(session.InboundMessage)
	onPresence  func(session.InboundPresence)
	onConnState func(models.ConnState, error)
}

func NewClient(log zerolog.Logger) *Client {
	return &Client{log: log.With().Str("component", "xmpp").Logger()}
}

// OnMessage registers the inbound chat message handler. Must be called
// before Open.
func (c *Client) OnMessage(fn func(session.InboundMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

// OnPresence registers the inbound presence handler. Must be called before
// Open.
func (c *Client) OnPresence(fn func(session.InboundPresence)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPresence = fn
}

// OnConnState registers the connection lifecycle handler. Must be called
// before Open.
func (c *Client) OnConnState(fn func(models.ConnState, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnState = fn
}

// Open dials the server, negotiates StartTLS, SASL, and resource binding,
// and starts the serve loop. It returns the bound bare JID.
func (c *Client) Open(ctx context.Context, creds session.Creds) (string, error) {
	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: transport already open", session.ErrTransport)
	}
	c.closing = false
	c.mu.Unlock()

	origin, err := jid.Parse(creds.Username)
	if err != nil {
		return "", fmt.Errorf("%w: invalid address %q: %v", session.ErrTransport, creds.Username, err)
	}
	resource := creds.Resource
	if resource == "" {
		// Unique per process so reconnects never collide with a stale
		// binding of the same account.
		resource = "msgoffice-" + uuid.NewString()[:8]
	}
	origin, err = origin.WithResource(resource)
	if err != nil {
		return "", fmt.Errorf("%w: invalid resource: %v", session.ErrTransport, err)
	}

	server := creds.Server
	if server == "" {
		server = origin.Domain().String() + ":5222"
	}

	conn, err := net.DialTimeout("tcp", server, dialTimeout)
	if err != nil {
		return "", fmt.Errorf("%w: dial %s: %v", session.ErrTransport, server, err)
	}

	tlsConfig := &tls.Config{
		ServerName:         origin.Domain().String(),
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: creds.InsecureTLS,
	}
	negotiator := xmpp.NewNegotiator(func(_ *xmpp.Session, _ *xmpp.StreamConfig) xmpp.StreamConfig {
		return xmpp.StreamConfig{
			Features: []xmpp.StreamFeature{
				xmpp.StartTLS(tlsConfig),
				xmpp.SASL("", creds.Password,
					sasl.ScramSha256Plus, sasl.ScramSha256,
					sasl.ScramSha1Plus, sasl.ScramSha1, sasl.Plain),
				xmpp.BindResource(),
			},
		}
	})

	sess, err := xmpp.NewSession(ctx, origin.Domain(), origin, conn, 0, negotiator)
	if err != nil {
		conn.Close()
		if isAuthError(err) {
			return "", fmt.Errorf("%w: %v", session.ErrAuthentication, err)
		}
		return "", fmt.Errorf("%w: negotiate session: %v", session.ErrTransport, err)
	}

	c.mu.Lock()
	c.sess = sess
	c.self = sess.LocalAddr()
	c.mu.Unlock()

	go c.serve(sess)

	c.log.Info().Str("jid", c.self.String()).Msg("stream established")
	return c.self.Bare().String(), nil
}

// isAuthError recognizes a SASL authorization rejection in the negotiation
// error chain, so callers can tell bad credentials from a dead network. Only
// rejection markers count: a transport failure during the SASL exchange is
// still a transport failure.
func isAuthError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "not-authorized") ||
		strings.Contains(msg, "credentials")
}

// Close tears the stream down. The serve loop's exit is expected and not
// reported as a connection loss.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	sess := c.sess
	c.closing = true
	c.sess = nil
	c.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.Close()
}

// serve dispatches inbound stanzas one at a time until the stream dies.
// Responses to outstanding queries are routed internally by the session and
// never reach this handler.
func (c *Client) serve(sess *xmpp.Session) {
	err := sess.Serve(xmpp.HandlerFunc(func(t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
		switch start.Name.Local {
		case "message":
			c.handleMessage(t, start)
		case "presence":
			c.handlePresence(t, start)
		case "iq":
			// Solicited iq results were consumed by their callers; whatever
			// arrives here nobody asked for.
			c.log.Debug().Str("name", start.Name.Local).Msg("ignoring unsolicited iq")
		}
		return nil
	}))

	c.mu.Lock()
	deliberate := c.closing
	c.sess = nil
	fn := c.onConnState
	c.mu.Unlock()

	if deliberate {
		return
	}
	c.log.Warn().Err(err).Msg("stream closed unexpectedly")
	if fn != nil {
		fn(models.StateDisconnected, err)
	}
}

// messageBody is the subset of a message stanza the engine consumes.
type messageBody struct {
	stanza.Message
	Body string `xml:"body"`
}

func (c *Client) handleMessage(t xmlstream.TokenReadEncoder, start *xml.StartElement) {
	d := xml.NewTokenDecoder(t)
	var msg messageBody
	if err := d.DecodeElement(&msg, start); err != nil {
		// Malformed stanza: drop the unit, keep the stream.
		c.log.Warn().Err(err).Msg("dropping undecodable message stanza")
		return
	}
	if msg.Type == stanza.ErrorMessage {
		c.log.Debug().Str("from", msg.From.String()).Msg("ignoring error message")
		return
	}
	c.mu.RLock()
	fn := c.onMessage
	c.mu.RUnlock()
	if fn != nil {
		fn(session.InboundMessage{From: msg.From.String(), Body: msg.Body})
	}
}

// presenceStanza is the subset of a presence stanza the engine consumes.
type presenceStanza struct {
	stanza.Presence
	Show   string `xml:"show"`
	Status string `xml:"status"`
}

func (c *Client) handlePresence(t xmlstream.TokenReadEncoder, start *xml.StartElement) {
	d := xml.NewTokenDecoder(t)
	var p presenceStanza
	if err := d.DecodeElement(&p, start); err != nil {
		c.log.Warn().Err(err).Msg("dropping undecodable presence stanza")
		return
	}
	c.mu.RLock()
	fn := c.onPresence
	c.mu.RUnlock()
	if fn != nil {
		fn(session.InboundPresence{
			From: p.From.String(),
			Type: string(p.Presence.Type),
			Show: p.Show,
		})
	}
}

func (c *Client) session() (*xmpp.Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sess == nil {
		return nil, fmt.Errorf("%w: transport not open", session.ErrTransport)
	}
	return c.sess, nil
}

// SendPresence sends a presence stanza; an empty To broadcasts to the
// server.
func (c *Client) SendPresence(ctx context.Context, p session.OutboundPresence) error {
	sess, err := c.session()
	if err != nil {
		return err
	}
	out := stanza.Presence{Type: stanza.PresenceType(p.Type)}
	if p.To != "" {
		to, err := jid.Parse(p.To)
		if err != nil {
			return fmt.Errorf("%w: invalid address %q: %v", session.ErrTransport, p.To, err)
		}
		out.To = to
	}
	if err := sess.Encode(ctx, out); err != nil {
		return fmt.Errorf("%w: send presence: %v", session.ErrTransport, err)
	}
	return nil
}

// SendMessage sends a chat message with the given body.
func (c *Client) SendMessage(ctx context.Context, to, body string) error {
	sess, err := c.session()
	if err != nil {
		return err
	}
	toJID, err := jid.Parse(to)
	if err != nil {
		return fmt.Errorf("%w: invalid address %q: %v", session.ErrTransport, to, err)
	}
	msg := messageBody{
		Message: stanza.Message{To: toJID, Type: stanza.ChatMessage},
		Body:    body,
	}
	if err := sess.Encode(ctx, msg); err != nil {
		return fmt.Errorf("%w: send message: %v", session.ErrTransport, err)
	}
	return nil
}

// FetchRoster queries the server-stored contact list.
func (c *Client) FetchRoster(ctx context.Context) ([]session.RosterItem, error) {
	sess, err := c.session()
	if err != nil {
		return nil, err
	}
	iter := roster.Fetch(ctx, sess)
	defer iter.Close()

	var items []session.RosterItem
	for iter.Next() {
		item := iter.Item()
		items = append(items, session.RosterItem{
			JID:          item.JID.Bare().String(),
			Name:         item.Name,
			Subscription: models.Subscription(item.Subscription),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("fetch roster: %w", err)
	}
	return items, nil
}

// SetRosterItem pushes one roster entry. Removal is a set with subscription
// "remove", per the protocol.
func (c *Client) SetRosterItem(ctx context.Context, item session.RosterItem) error {
	sess, err := c.session()
	if err != nil {
		return err
	}
	j, err := jid.Parse(item.JID)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", item.JID, err)
	}
	err = roster.Set(ctx, sess, roster.Item{
		JID:          j.Bare(),
		Name:         item.Name,
		Subscription: string(item.Subscription),
	})
	if err != nil {
		return fmt.Errorf("roster set: %w", err)
	}
	return nil
}
