package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"msgoffice/models"
)

func (a *App) openChat(jid string) {
	a.mu.Lock()
	a.currentChat = jid
	a.unread[jid] = 0
	a.mu.Unlock()

	chatPage := a.createChatPage(jid)
	a.pages.AddPage("chat", chatPage, true, true)
	a.pages.SwitchToPage("chat")

	// Update contacts list to reflect cleared unread count
	a.updateContactsList()
	a.refreshChatView()
}

func (a *App) getChatTitle(jid string) string {
	a.mu.RLock()
	name := jid
	presence := models.PresenceUnknown
	for _, c := range a.contacts {
		if c.JID == jid {
			name = c.DisplayName()
			presence = c.Presence
			break
		}
	}
	a.mu.RUnlock()

	return fmt.Sprintf(" %s ─ %s %s ", name, presenceIcon(presence), presence)
}

func (a *App) updateChatTitle() {
	if a.chatView != nil && a.currentChat != "" {
		a.chatView.SetTitle(a.getChatTitle(a.currentChat))
	}
}

func (a *App) createChatPage(jid string) tview.Primitive {
	// Chat history view
	a.chatView = tview.NewTextView()
	a.chatView.SetBorder(true)
	a.chatView.SetBorderColor(ColorBorder)
	a.chatView.SetBackgroundColor(ColorBg)
	a.chatView.SetTitle(a.getChatTitle(jid))
	a.chatView.SetTitleColor(ColorTitle)
	a.chatView.SetTextColor(ColorFg)
	a.chatView.SetDynamicColors(true)
	a.chatView.SetScrollable(true)
	a.chatView.ScrollToEnd()

	// Message input
	a.messageInput = tview.NewInputField()
	a.messageInput.SetLabel("> ")
	a.messageInput.SetFieldWidth(0)
	a.messageInput.SetBackgroundColor(ColorBg)
	a.messageInput.SetFieldBackgroundColor(tcell.NewRGBColor(0, 0, 64))
	a.messageInput.SetFieldTextColor(ColorFg)
	a.messageInput.SetLabelColor(ColorHighlight)
	a.messageInput.SetBorder(true)
	a.messageInput.SetBorderColor(ColorBorder)
	a.messageInput.SetTitle(" Message ")
	a.messageInput.SetTitleColor(ColorTitle)

	a.messageInput.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			text := a.messageInput.GetText()
			if text != "" {
				a.sendMessage(jid, text)
				a.messageInput.SetText("")
			}
		}
	})

	// Status bar
	chatStatus := tview.NewTextView()
	chatStatus.SetBackgroundColor(tcell.NewRGBColor(0, 128, 128))
	chatStatus.SetTextColor(ColorTitle)
	chatStatus.SetTextAlign(tview.AlignCenter)
	chatStatus.SetText(" Enter:Send | Tab:Scroll | F7:Call | Esc:Back ")

	// Layout
	mainFlex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.chatView, 0, 1, false).
		AddItem(a.messageInput, 3, 0, true).
		AddItem(chatStatus, 1, 0, false)
	mainFlex.SetBackgroundColor(ColorBg)

	// Track focus on chat view for scrolling
	chatViewFocused := false

	// Handle keyboard
	mainFlex.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEsc:
			if chatViewFocused {
				chatViewFocused = false
				a.app.SetFocus(a.messageInput)
				chatStatus.SetText(" Enter:Send | Tab:Scroll | F7:Call | Esc:Back ")
				return nil
			}
			a.closeChat()
			return nil
		case tcell.KeyTab:
			chatViewFocused = !chatViewFocused
			if chatViewFocused {
				a.app.SetFocus(a.chatView)
				chatStatus.SetText(" ↑↓/PgUp/PgDn:Scroll | Home:Top | End:Bottom | Tab/Esc:Input ")
			} else {
				a.app.SetFocus(a.messageInput)
				chatStatus.SetText(" Enter:Send | Tab:Scroll | F7:Call | Esc:Back ")
			}
			return nil
		case tcell.KeyF7:
			a.placeCall(jid)
			return nil
		case tcell.KeyPgUp:
			row, col := a.chatView.GetScrollOffset()
			a.chatView.ScrollTo(row-10, col)
			return nil
		case tcell.KeyPgDn:
			row, col := a.chatView.GetScrollOffset()
			a.chatView.ScrollTo(row+10, col)
			return nil
		case tcell.KeyUp:
			if chatViewFocused {
				row, col := a.chatView.GetScrollOffset()
				a.chatView.ScrollTo(row-1, col)
				return nil
			}
		case tcell.KeyDown:
			if chatViewFocused {
				row, col := a.chatView.GetScrollOffset()
				a.chatView.ScrollTo(row+1, col)
				return nil
			}
		case tcell.KeyHome:
			if chatViewFocused {
				a.chatView.ScrollToBeginning()
				return nil
			}
		case tcell.KeyEnd:
			if chatViewFocused {
				a.chatView.ScrollToEnd()
				return nil
			}
		}
		return event
	})

	return mainFlex
}

func (a *App) refreshChatView() {
	if a.chatView == nil {
		return
	}

	a.mu.RLock()
	lines := a.messages[a.currentChat]
	a.mu.RUnlock()

	a.chatView.Clear()
	var sb strings.Builder

	for _, line := range lines {
		timeStr := line.when.Format("15:04:05")
		switch line.dir {
		case dirOut:
			sb.WriteString(fmt.Sprintf("[gray]%s[-] [white]→ %s[-]\n", timeStr, line.text))
		case dirIn:
			sb.WriteString(fmt.Sprintf("[gray]%s[-] [yellow]← %s[-]\n", timeStr, line.text))
		case dirInfo:
			sb.WriteString(fmt.Sprintf("[gray]%s[-] [aqua]• %s[-]\n", timeStr, line.text))
		}
	}

	a.chatView.SetText(sb.String())
	a.chatView.ScrollToEnd()
}

func (a *App) sendMessage(jid, text string) {
	go func() {
		ctx, cancel := opCtx()
		defer cancel()
		if err := a.engine.SendMessage(ctx, jid, text); err != nil {
			a.app.QueueUpdateDraw(func() {
				a.appendInfoLine(jid, "send failed: "+err.Error())
			})
			return
		}
		a.mu.Lock()
		a.messages[jid] = append(a.messages[jid], chatLine{
			when: time.Now(),
			dir:  dirOut,
			text: text,
		})
		a.mu.Unlock()
		a.app.QueueUpdateDraw(func() {
			if a.currentChat == jid {
				a.refreshChatView()
			}
		})
	}()
}

// appendInfoLine adds a status row to a conversation and repaints it when
// open. Callers must be on the UI thread.
func (a *App) appendInfoLine(jid, text string) {
	a.mu.Lock()
	a.messages[jid] = append(a.messages[jid], chatLine{
		when: time.Now(),
		dir:  dirInfo,
		text: text,
	})
	a.mu.Unlock()
	if a.currentChat == jid {
		a.refreshChatView()
	}
}

func (a *App) closeChat() {
	a.mu.Lock()
	a.currentChat = ""
	a.mu.Unlock()
	a.chatView = nil
	a.messageInput = nil
	a.pages.RemovePage("chat")
	a.pages.SwitchToPage("main")
	a.app.SetFocus(a.contactsList)
}
