package ui

import (
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"msgoffice/config"
	"msgoffice/models"
	"msgoffice/session"
)

// lineDir classifies a chat line for rendering.
type lineDir int

const (
	dirIn lineDir = iota
	dirOut
	dirInfo
)

// chatLine is one rendered row of a conversation. History is in-memory only
// and per process run.
type chatLine struct {
	when time.Time
	dir  lineDir
	text string
}

// App is the terminal client. It drives the engine through its public
// operations and renders the events the engine publishes; it never reaches
// into engine internals.
type App struct {
	engine *session.Engine
	cfg    *config.Config

	app   *tview.Application
	pages *tview.Pages

	mu          sync.RWMutex
	contacts    []models.Contact
	messages    map[string][]chatLine
	unread      map[string]int
	currentChat string
	creds       session.Creds
	callTarget  string

	contactsList   *tview.List
	chatView       *tview.TextView
	messageInput   *tview.InputField
	statusBar      *tview.TextView
	connectionView *tview.TextView
	callModal      *tview.Modal

	unsubs []func()
}

// NewApp creates a new application instance over a constructed engine.
func NewApp(engine *session.Engine, cfg *config.Config) *App {
	return &App{
		engine:   engine,
		cfg:      cfg,
		messages: make(map[string][]chatLine),
		unread:   make(map[string]int),
	}
}

// Run starts the application and blocks until it exits.
func (a *App) Run() error {
	a.app = tview.NewApplication()
	a.pages = tview.NewPages()

	a.subscribeEvents()
	defer a.unsubscribeEvents()

	// Create empty background
	background := tview.NewBox()
	background.SetBackgroundColor(tcell.NewRGBColor(64, 64, 64))
	a.pages.AddPage("background", background, true, true)

	// Show auth dialog on top
	a.showAuthDialog()

	return a.app.SetRoot(a.pages, true).EnableMouse(false).Run()
}

func (a *App) unsubscribeEvents() {
	for _, unsub := range a.unsubs {
		unsub()
	}
	a.unsubs = nil
}

// quit exits the application. It runs from input capture on the event loop,
// so the disconnect goes through a goroutine: Disconnect publishes state
// events whose handlers queue redraws, and those would wait forever on a
// blocked event loop.
func (a *App) quit() {
	go func() {
		if a.engine.State() == models.StateConnected {
			ctx, cancel := opCtx()
			defer cancel()
			a.engine.Disconnect(ctx)
		}
		a.app.Stop()
	}()
}
