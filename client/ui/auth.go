package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"msgoffice/session"
)

const connectTimeout = 45 * time.Second

func (a *App) showAuthDialog() {
	// Form container
	form := tview.NewForm()
	form.SetBackgroundColor(ColorBg)
	form.SetFieldBackgroundColor(tcell.NewRGBColor(0, 0, 64))
	form.SetFieldTextColor(ColorFg)
	form.SetLabelColor(ColorHighlight)
	form.SetButtonBackgroundColor(tcell.NewRGBColor(0, 128, 128))
	form.SetButtonTextColor(ColorTitle)
	form.SetBorder(true)
	form.SetBorderColor(ColorBorder)
	form.SetTitle(" Sign In ")
	form.SetTitleColor(ColorTitle)

	statusText := tview.NewTextView()
	statusText.SetBackgroundColor(ColorBg)
	statusText.SetTextColor(tcell.ColorRed)
	statusText.SetTextAlign(tview.AlignCenter)
	statusText.SetDynamicColors(true)

	jidField := tview.NewInputField()
	jidField.SetLabel("Address: ")
	jidField.SetFieldWidth(30)
	jidField.SetPlaceholder("user@example.com")
	jidField.SetBackgroundColor(ColorBg)

	passwordField := tview.NewInputField()
	passwordField.SetLabel("Password: ")
	passwordField.SetFieldWidth(30)
	passwordField.SetMaskCharacter('*')
	passwordField.SetBackgroundColor(ColorBg)

	serverField := tview.NewInputField()
	serverField.SetLabel("Server: ")
	serverField.SetFieldWidth(30)
	serverField.SetText(a.cfg.Server)
	serverField.SetPlaceholder("host:5222, blank = from address")
	serverField.SetBackgroundColor(ColorBg)

	form.AddFormItem(jidField)
	form.AddFormItem(passwordField)
	form.AddFormItem(serverField)

	form.AddButton("Sign In", func() {
		address := jidField.GetText()
		password := passwordField.GetText()
		if address == "" || password == "" {
			statusText.SetText("[red]Please enter address and password[-]")
			return
		}
		a.doConnect(session.Creds{
			Server:      serverField.GetText(),
			Username:    address,
			Password:    password,
			InsecureTLS: a.cfg.InsecureTLS,
		}, statusText)
	})

	form.AddButton("Quit", func() {
		a.app.Stop()
	})

	// Center the form
	formFlex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(form, 0, 1, true).
		AddItem(statusText, 1, 0, false)

	width := 54
	height := 13

	modal := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().
			AddItem(nil, 0, 1, false).
			AddItem(formFlex, width, 0, true).
			AddItem(nil, 0, 1, false), height, 0, true).
		AddItem(nil, 0, 1, false)

	a.pages.AddPage("auth", modal, true, true)
	a.app.SetFocus(form)
}

func (a *App) doConnect(creds session.Creds, statusText *tview.TextView) {
	statusText.SetText("Connecting...")

	// Run connection in goroutine to avoid blocking UI
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()

		err := a.engine.Connect(ctx, creds)
		if err != nil {
			a.app.QueueUpdateDraw(func() {
				statusText.SetText(fmt.Sprintf("[red]%v[-]", err))
			})
			return
		}

		a.mu.Lock()
		a.creds = creds
		a.mu.Unlock()

		a.app.QueueUpdateDraw(func() {
			a.showMainScreen()
		})
	}()
}
