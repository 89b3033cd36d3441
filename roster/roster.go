package roster

import (
	"sync"

	"msgoffice/models"
)

// Store holds the authoritative contact list and per-contact presence.
// It is a pure state container: no network calls, mutated only by the
// session engine. Bare JID is the primary key.
type Store struct {
	mu       sync.RWMutex
	contacts map[string]*models.Contact
	order    []string // insertion order, stable across snapshots
}

func NewStore() *Store {
	return &Store{contacts: make(map[string]*models.Contact)}
}

// ReplaceAll swaps the whole contact set for the given entries. Entries with
// a duplicate bare JID keep the first occurrence. Presence on every entry is
// reset by the caller before replacement (the engine passes unknown).
func (s *Store) ReplaceAll(contacts []models.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts = make(map[string]*models.Contact, len(contacts))
	s.order = s.order[:0]
	for _, c := range contacts {
		jid := models.BareJID(c.JID)
		if _, ok := s.contacts[jid]; ok {
			continue
		}
		c.JID = jid
		cc := c
		s.contacts[jid] = &cc
		s.order = append(s.order, jid)
	}
}

// UpsertPresence updates the presence of an existing contact. It reports
// whether a contact with that bare JID exists; the store never fabricates
// contacts from presence alone.
func (s *Store) UpsertPresence(jid string, p models.Presence) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[models.BareJID(jid)]
	if !ok {
		return false
	}
	c.Presence = p
	return true
}

// UpsertProfile attaches fetched vCard data to an existing contact.
func (s *Store) UpsertProfile(jid string, p *models.Profile) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[models.BareJID(jid)]
	if !ok {
		return false
	}
	c.Profile = p
	return true
}

// Remove drops a contact. It reports whether the contact existed.
func (s *Store) Remove(jid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	jid = models.BareJID(jid)
	if _, ok := s.contacts[jid]; !ok {
		return false
	}
	delete(s.contacts, jid)
	for i, j := range s.order {
		if j == jid {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Find returns a copy of the contact with the given bare JID.
func (s *Store) Find(jid string) (models.Contact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[models.BareJID(jid)]
	if !ok {
		return models.Contact{}, false
	}
	return *c, true
}

// All returns a snapshot of the contact set in insertion order. The snapshot
// is detached: later store mutations never show through it.
func (s *Store) All() []models.Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Contact, 0, len(s.order))
	for _, jid := range s.order {
		c := *s.contacts[jid]
		if c.Profile != nil {
			p := *c.Profile
			c.Profile = &p
		}
		out = append(out, c)
	}
	return out
}

// Len reports the number of contacts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contacts)
}
