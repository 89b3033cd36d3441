package ui

import (
	"fmt"

	"msgoffice/models"
)

// selectedContact resolves a contacts list index against the roster snapshot.
func (a *App) selectedContact(index int) (models.Contact, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if index < 0 || index >= len(a.contacts) {
		return models.Contact{}, false
	}
	return a.contacts[index], true
}

// refreshRoster asks the engine to refetch the contact list. The result lands
// as a roster event; no reply handling here.
func (a *App) refreshRoster() {
	go func() {
		ctx, cancel := opCtx()
		defer cancel()
		if err := a.engine.FetchRoster(ctx); err != nil {
			a.app.QueueUpdateDraw(func() {
				a.setConnectionError(err.Error())
			})
		}
	}()
}

func (a *App) updateContactsList() {
	if a.contactsList == nil {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	currentIdx := a.contactsList.GetCurrentItem()
	a.contactsList.Clear()

	for _, contact := range a.contacts {
		name := contact.DisplayName()
		unread := a.unread[contact.JID]

		var mainText string
		if unread > 0 {
			mainText = fmt.Sprintf("%s %s [gray](%s)[-] [red](%d)",
				presenceIcon(contact.Presence), name, contact.JID, unread)
		} else {
			mainText = fmt.Sprintf("%s %s [gray](%s)[-]",
				presenceIcon(contact.Presence), name, contact.JID)
		}

		a.contactsList.AddItem(mainText, "", 0, nil)
	}

	if currentIdx >= 0 && currentIdx < a.contactsList.GetItemCount() {
		a.contactsList.SetCurrentItem(currentIdx)
	}
}
