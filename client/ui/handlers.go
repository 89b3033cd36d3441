package ui

import (
	"time"

	"msgoffice/event"
	"msgoffice/models"
)

// subscribeEvents routes engine events onto the UI thread. The bus delivers
// synchronously from engine goroutines, so every widget touch goes through
// QueueUpdateDraw.
func (a *App) subscribeEvents() {
	a.unsubs = append(a.unsubs,
		a.engine.Subscribe(event.KindRosterChanged, func(p any) {
			contacts := p.(event.RosterChanged).Contacts
			a.mu.Lock()
			a.contacts = contacts
			a.mu.Unlock()
			a.app.QueueUpdateDraw(func() {
				a.updateContactsList()
				a.updateChatTitle()
			})
		}),

		a.engine.Subscribe(event.KindMessageReceived, func(p any) {
			msg := p.(event.MessageReceived)
			a.mu.Lock()
			a.messages[msg.From] = append(a.messages[msg.From], chatLine{
				when: time.Now(),
				dir:  dirIn,
				text: msg.Body,
			})
			if a.currentChat != msg.From {
				a.unread[msg.From]++
			}
			current := a.currentChat
			a.mu.Unlock()

			a.app.QueueUpdateDraw(func() {
				if current == msg.From && a.chatView != nil {
					a.refreshChatView()
				}
				a.updateContactsList()
			})
		}),

		a.engine.Subscribe(event.KindCallInviteReceived, func(p any) {
			invite := p.(event.CallInviteReceived)
			a.mu.Lock()
			a.messages[invite.From] = append(a.messages[invite.From], chatLine{
				when: time.Now(),
				dir:  dirInfo,
				text: "invites you to a call: " + invite.URL,
			})
			a.mu.Unlock()

			a.app.QueueUpdateDraw(func() {
				if a.currentChat == invite.From && a.chatView != nil {
					a.refreshChatView()
				}
				a.showInviteDialog(invite.From, invite.URL)
			})
		}),

		a.engine.Subscribe(event.KindCallReady, func(p any) {
			ready := p.(event.CallReady)
			a.app.QueueUpdateDraw(func() {
				a.showCallReady(ready.Target, ready.URL)
			})
		}),

		a.engine.Subscribe(event.KindConnStateChanged, func(p any) {
			change := p.(event.ConnStateChanged)
			a.app.QueueUpdateDraw(func() {
				a.updateConnectionStatus()
				a.updateStatusBarText()
				a.updateContactsList()
				if change.State == models.StateDisconnected && change.Err != nil {
					a.showDisconnectNotification(change.Err)
				}
			})
		}),
	)
}
