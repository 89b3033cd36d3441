package ui

import (
	"context"
	"fmt"
	"time"

	"msgoffice/models"
)

// opCtx is the bound for one user-initiated engine operation.
func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 15*time.Second)
}

func (a *App) updateConnectionStatus() {
	if a.connectionView == nil {
		return
	}
	switch a.engine.State() {
	case models.StateConnected:
		a.connectionView.SetText(fmt.Sprintf("[green]● Connected as %s[-]", a.engine.Self()))
	case models.StateConnecting:
		a.connectionView.SetText("[yellow]Connecting...[-]")
	default:
		a.connectionView.SetText("[red]○ Disconnected[-]")
	}
}

func (a *App) setConnectionError(err string) {
	if a.connectionView == nil {
		return
	}
	a.connectionView.SetText(fmt.Sprintf("[red]✗ Error: %s[-]", err))
}

func (a *App) updateStatusBarText() {
	if a.statusBar == nil {
		return
	}
	if a.engine.State() == models.StateConnected {
		a.statusBar.SetText(" F1:Help | F2:Add | F3:Profile | F4:Delete | F5:Refresh | F6:Disconnect | F7:Call | F10:Quit ")
	} else {
		a.statusBar.SetText(" F1:Help | F6:Connect | F10:Quit ")
	}
}

func (a *App) toggleConnection() {
	if a.engine.State() == models.StateConnected {
		a.connectionView.SetText("[yellow]Disconnecting...[-]")
		go func() {
			ctx, cancel := opCtx()
			defer cancel()
			a.engine.Disconnect(ctx)
			a.app.QueueUpdateDraw(func() {
				a.updateConnectionStatus()
				a.updateStatusBarText()
			})
		}()
		return
	}

	a.connectionView.SetText("[yellow]Connecting...[-]")
	go a.reconnect()
}

func (a *App) reconnect() {
	a.mu.RLock()
	creds := a.creds
	a.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	err := a.engine.Connect(ctx, creds)
	a.app.QueueUpdateDraw(func() {
		if err != nil {
			a.setConnectionError(err.Error())
		} else {
			a.updateConnectionStatus()
			a.contactsList.SetTitle(fmt.Sprintf(" Contacts [%s] ", a.engine.Self()))
		}
		a.updateStatusBarText()
	})
}
