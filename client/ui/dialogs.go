package ui

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"msgoffice/models"
)

func (a *App) showAddContactDialog() {
	form := tview.NewForm()
	form.SetBackgroundColor(ColorBg)
	form.SetFieldBackgroundColor(tcell.NewRGBColor(0, 0, 64))
	form.SetFieldTextColor(ColorFg)
	form.SetLabelColor(ColorHighlight)
	form.SetButtonBackgroundColor(tcell.NewRGBColor(0, 128, 128))
	form.SetButtonTextColor(ColorTitle)
	form.SetBorder(true)
	form.SetBorderColor(ColorBorder)
	form.SetTitle(" Add Contact ")
	form.SetTitleColor(ColorTitle)

	statusLabel := tview.NewTextView()
	statusLabel.SetBackgroundColor(ColorBg)
	statusLabel.SetTextColor(tcell.ColorRed)

	jidField := tview.NewInputField()
	jidField.SetLabel("Address: ")
	jidField.SetFieldWidth(30)
	jidField.SetPlaceholder("user@example.com")

	nameField := tview.NewInputField()
	nameField.SetLabel("Name: ")
	nameField.SetFieldWidth(30)

	form.AddFormItem(jidField)
	form.AddFormItem(nameField)

	form.AddButton("Add", func() {
		jid := jidField.GetText()
		name := nameField.GetText()
		if jid == "" {
			statusLabel.SetText("Address is required")
			return
		}

		go func() {
			ctx, cancel := opCtx()
			defer cancel()
			err := a.engine.AddUser(ctx, jid, name)
			a.app.QueueUpdateDraw(func() {
				if err != nil {
					statusLabel.SetText(err.Error())
					return
				}
				a.pages.RemovePage("dialog")
				a.app.SetFocus(a.contactsList)
			})
		}()
	})

	form.AddButton("Cancel", func() {
		a.pages.RemovePage("dialog")
		a.app.SetFocus(a.contactsList)
	})

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().
			AddItem(nil, 0, 1, false).
			AddItem(form, 50, 0, true).
			AddItem(nil, 0, 1, false), 10, 0, true).
		AddItem(tview.NewFlex().
			AddItem(nil, 0, 1, false).
			AddItem(statusLabel, 50, 0, false).
			AddItem(nil, 0, 1, false), 1, 0, false).
		AddItem(nil, 0, 1, false)
	flex.SetBackgroundColor(ColorBg)

	a.pages.AddPage("dialog", flex, true, true)
	a.app.SetFocus(form)
}

func (a *App) showDeleteContactDialog() {
	contact, ok := a.selectedContact(a.contactsList.GetCurrentItem())
	if !ok {
		return
	}

	modal := tview.NewModal()
	modal.SetText(fmt.Sprintf("Delete contact %s (%s)?", contact.DisplayName(), contact.JID))
	modal.SetBackgroundColor(ColorBg)
	modal.SetTextColor(ColorFg)
	modal.SetButtonBackgroundColor(tcell.NewRGBColor(0, 128, 128))
	modal.SetButtonTextColor(ColorTitle)
	modal.AddButtons([]string{"Delete", "Cancel"})
	modal.SetDoneFunc(func(buttonIndex int, buttonLabel string) {
		if buttonLabel != "Delete" {
			a.pages.RemovePage("dialog")
			a.app.SetFocus(a.contactsList)
			return
		}
		go func() {
			ctx, cancel := opCtx()
			defer cancel()
			err := a.engine.RemoveUser(ctx, contact.JID)
			a.app.QueueUpdateDraw(func() {
				a.pages.RemovePage("dialog")
				a.app.SetFocus(a.contactsList)
				if err != nil {
					a.setConnectionError(err.Error())
				}
			})
		}()
	})

	a.pages.AddPage("dialog", modal, true, true)
}

// showProfileDialog fetches the local user's card and opens it for editing.
func (a *App) showProfileDialog() {
	go func() {
		ctx, cancel := opCtx()
		defer cancel()
		profile := a.engine.GetProfile(ctx, "")
		if profile == nil {
			profile = &models.Profile{}
		}
		a.app.QueueUpdateDraw(func() {
			a.showProfileForm(*profile)
		})
	}()
}

func (a *App) showProfileForm(profile models.Profile) {
	form := tview.NewForm()
	form.SetBackgroundColor(ColorBg)
	form.SetFieldBackgroundColor(tcell.NewRGBColor(0, 0, 64))
	form.SetFieldTextColor(ColorFg)
	form.SetLabelColor(ColorHighlight)
	form.SetButtonBackgroundColor(tcell.NewRGBColor(0, 128, 128))
	form.SetButtonTextColor(ColorTitle)
	form.SetBorder(true)
	form.SetBorderColor(ColorBorder)
	form.SetTitle(" My Profile ")
	form.SetTitleColor(ColorTitle)

	statusLabel := tview.NewTextView()
	statusLabel.SetBackgroundColor(ColorBg)
	statusLabel.SetTextColor(tcell.ColorRed)

	form.AddInputField("First name: ", profile.FirstName, 30, nil, func(v string) { profile.FirstName = v })
	form.AddInputField("Last name: ", profile.LastName, 30, nil, func(v string) { profile.LastName = v })
	form.AddInputField("Nickname: ", profile.Nickname, 30, nil, func(v string) { profile.Nickname = v })
	form.AddInputField("Organization: ", profile.Organization, 30, nil, func(v string) { profile.Organization = v })
	form.AddInputField("Country: ", profile.Country, 30, nil, func(v string) { profile.Country = v })
	form.AddInputField("Note: ", profile.Note, 30, nil, func(v string) { profile.Note = v })

	form.AddButton("Save", func() {
		go func() {
			ctx, cancel := opCtx()
			defer cancel()
			err := a.engine.SetProfile(ctx, profile)
			a.app.QueueUpdateDraw(func() {
				if err != nil {
					statusLabel.SetText(err.Error())
					return
				}
				a.pages.RemovePage("dialog")
				a.app.SetFocus(a.contactsList)
			})
		}()
	})

	form.AddButton("Cancel", func() {
		a.pages.RemovePage("dialog")
		a.app.SetFocus(a.contactsList)
	})

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().
			AddItem(nil, 0, 1, false).
			AddItem(form, 54, 0, true).
			AddItem(nil, 0, 1, false), 18, 0, true).
		AddItem(tview.NewFlex().
			AddItem(nil, 0, 1, false).
			AddItem(statusLabel, 54, 0, false).
			AddItem(nil, 0, 1, false), 1, 0, false).
		AddItem(nil, 0, 1, false)
	flex.SetBackgroundColor(ColorBg)

	a.pages.AddPage("dialog", flex, true, true)
	a.app.SetFocus(form)
}

func (a *App) callSelectedContact() {
	contact, ok := a.selectedContact(a.contactsList.GetCurrentItem())
	if !ok {
		return
	}
	a.placeCall(contact.JID)
}

// placeCall starts a call and shows the ringing modal. The modal closes on
// accept (call ready event), on cancel, or when the attempt times out.
func (a *App) placeCall(jid string) {
	go func() {
		ctx, cancel := opCtx()
		defer cancel()
		attempt, err := a.engine.PlaceCall(ctx, jid)
		a.app.QueueUpdateDraw(func() {
			if err != nil {
				a.setConnectionError(err.Error())
				return
			}
			a.showCallingModal(attempt.Target)
		})
	}()
}

func (a *App) showCallingModal(target string) {
	a.mu.Lock()
	a.callTarget = target
	a.mu.Unlock()

	modal := tview.NewModal()
	modal.SetText(fmt.Sprintf("Calling %s...", target))
	modal.SetBackgroundColor(ColorBg)
	modal.SetTextColor(ColorFg)
	modal.SetButtonBackgroundColor(tcell.NewRGBColor(0, 128, 128))
	modal.SetButtonTextColor(ColorTitle)
	modal.AddButtons([]string{"Cancel"})
	modal.SetDoneFunc(func(buttonIndex int, buttonLabel string) {
		go func() {
			ctx, cancel := opCtx()
			defer cancel()
			a.engine.CancelCall(ctx)
			a.app.QueueUpdateDraw(a.closeCallModal)
		}()
	})
	a.callModal = modal
	a.pages.AddPage("call", modal, true, true)

	// The engine never notifies the caller about its own timeout; watch the
	// pending attempt and flip the modal when it is gone.
	go a.watchCall(target)
}

func (a *App) watchCall(target string) {
	for {
		time.Sleep(500 * time.Millisecond)
		a.mu.RLock()
		watching := a.callTarget == target
		a.mu.RUnlock()
		if !watching {
			return
		}
		if _, pending := a.engine.CurrentCall(); !pending {
			a.app.QueueUpdateDraw(func() {
				a.mu.RLock()
				still := a.callTarget == target
				a.mu.RUnlock()
				if still && a.callModal != nil {
					a.callModal.SetText(fmt.Sprintf("%s did not answer", target))
				}
			})
			return
		}
	}
}

func (a *App) closeCallModal() {
	a.mu.Lock()
	a.callTarget = ""
	a.mu.Unlock()
	a.callModal = nil
	a.pages.RemovePage("call")
	a.app.SetFocus(a.contactsList)
}

// showCallReady replaces the ringing modal with the join location once the
// peer accepts.
func (a *App) showCallReady(target, url string) {
	a.mu.Lock()
	a.callTarget = ""
	a.mu.Unlock()
	a.callModal = nil
	a.pages.RemovePage("call")

	modal := tview.NewModal()
	modal.SetText(fmt.Sprintf("%s accepted.\n\nJoin the call at:\n%s", target, url))
	modal.SetBackgroundColor(ColorBg)
	modal.SetTextColor(ColorFg)
	modal.SetButtonBackgroundColor(tcell.NewRGBColor(0, 128, 128))
	modal.SetButtonTextColor(ColorTitle)
	modal.AddButtons([]string{"OK"})
	modal.SetDoneFunc(func(buttonIndex int, buttonLabel string) {
		a.pages.RemovePage("call")
		a.app.SetFocus(a.contactsList)
	})
	a.pages.AddPage("call", modal, true, true)
}

// showInviteDialog surfaces an inbound call or meeting invitation. The join
// location also lands in the conversation, so dismissing here loses nothing.
func (a *App) showInviteDialog(from, url string) {
	modal := tview.NewModal()
	modal.SetText(fmt.Sprintf("%s invites you to a call.\n\nJoin at:\n%s", from, url))
	modal.SetBackgroundColor(ColorBg)
	modal.SetTextColor(ColorFg)
	modal.SetButtonBackgroundColor(tcell.NewRGBColor(0, 128, 128))
	modal.SetButtonTextColor(ColorTitle)
	modal.AddButtons([]string{"OK"})
	modal.SetDoneFunc(func(buttonIndex int, buttonLabel string) {
		a.pages.RemovePage("invite")
		if a.messageInput != nil {
			a.app.SetFocus(a.messageInput)
		} else if a.contactsList != nil {
			a.app.SetFocus(a.contactsList)
		}
	})
	a.pages.AddPage("invite", modal, true, true)
}

func (a *App) showDisconnectNotification(err error) {
	if a.connectionView == nil {
		return
	}
	a.connectionView.SetText(fmt.Sprintf("[red]○ Connection lost: %v[-]\n[gray]Press F6 to reconnect[-]", err))
}
