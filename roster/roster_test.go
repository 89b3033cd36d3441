package roster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgoffice/models"
)

func contacts(jids ...string) []models.Contact {
	out := make([]models.Contact, 0, len(jids))
	for _, j := range jids {
		out = append(out, models.Contact{JID: j, Name: j, Presence: models.PresenceUnknown})
	}
	return out
}

func TestReplaceAllKeepsOneContactPerAddress(t *testing.T) {
	s := NewStore()
	s.ReplaceAll([]models.Contact{
		{JID: "bob@example.com", Name: "Bob"},
		{JID: "bob@example.com/office", Name: "Bob duplicate"},
		{JID: "alice@example.com", Name: "Alice"},
	})

	assert.Equal(t, 2, s.Len())
	c, ok := s.Find("bob@example.com")
	require.True(t, ok)
	assert.Equal(t, "Bob", c.Name)
	assert.Equal(t, "bob@example.com", c.JID)
}

func TestReplaceAllDiscardsPreviousSet(t *testing.T) {
	s := NewStore()
	s.ReplaceAll(contacts("old@example.com"))
	s.ReplaceAll(contacts("new@example.com"))

	_, ok := s.Find("old@example.com")
	assert.False(t, ok)
	_, ok = s.Find("new@example.com")
	assert.True(t, ok)
}

func TestUpsertPresenceOnKnownContact(t *testing.T) {
	s := NewStore()
	s.ReplaceAll(contacts("bob@example.com"))

	ok := s.UpsertPresence("bob@example.com/mobile", models.PresenceBusy)
	require.True(t, ok)

	c, _ := s.Find("bob@example.com")
	assert.Equal(t, models.PresenceBusy, c.Presence)
}

func TestUpsertPresenceNeverFabricatesContacts(t *testing.T) {
	s := NewStore()
	s.ReplaceAll(contacts("bob@example.com"))

	ok := s.UpsertPresence("stranger@example.com", models.PresenceOnline)
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestAllReturnsDetachedSnapshot(t *testing.T) {
	s := NewStore()
	s.ReplaceAll(contacts("bob@example.com"))
	s.UpsertProfile("bob@example.com", &models.Profile{FirstName: "Bob"})

	snap := s.All()
	require.Len(t, snap, 1)

	// Mutations after the snapshot must not show through it.
	s.UpsertPresence("bob@example.com", models.PresenceOnline)
	s.UpsertProfile("bob@example.com", &models.Profile{FirstName: "Robert"})

	assert.Equal(t, models.PresenceUnknown, snap[0].Presence)
	assert.Equal(t, "Bob", snap[0].Profile.FirstName)
}

func TestAllPreservesInsertionOrder(t *testing.T) {
	s := NewStore()
	s.ReplaceAll(contacts("c@example.com", "a@example.com", "b@example.com"))

	snap := s.All()
	require.Len(t, snap, 3)
	assert.Equal(t, "c@example.com", snap[0].JID)
	assert.Equal(t, "a@example.com", snap[1].JID)
	assert.Equal(t, "b@example.com", snap[2].JID)
}

func TestRemove(t *testing.T) {
	s := NewStore()
	s.ReplaceAll(contacts("a@example.com", "b@example.com"))

	assert.True(t, s.Remove("a@example.com"))
	assert.False(t, s.Remove("a@example.com"))
	assert.Equal(t, 1, s.Len())

	snap := s.All()
	require.Len(t, snap, 1)
	assert.Equal(t, "b@example.com", snap[0].JID)
}
