package tui

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/matheus3301/wacrm/internal/bus"
	"github.com/matheus3301/wacrm/internal/outbox"
	"github.com/matheus3301/wacrm/internal/status"
	intsync "github.com/matheus3301/wacrm/internal/sync"
	"github.com/matheus3301/wacrm/internal/tui/keys"
	"github.com/matheus3301/wacrm/internal/tui/model"
	"github.com/matheus3301/wacrm/internal/tui/views"
)

const (
	pageList = "chats"
	pageChat = "chat"

	flashFor = 5 * time.Second
)

// Deps are the console components the TUI drives.
type Deps struct {
	Engine   *intsync.Engine
	Pipeline *outbox.Pipeline
	Bus      *bus.Bus
	Machine  *status.Machine
	Profile  string
	Bell     bool
	Logger   *zap.Logger
}

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	screen    tcell.Screen
	pages     *tview.Pages
	engine    *intsync.Engine
	pipeline  *outbox.Pipeline
	bus       *bus.Bus
	machine   *status.Machine
	exec      *executor
	bell      *bell
	flash     *model.Flash
	registry  *keys.Registry
	logger    *zap.Logger
	statusBar *views.StatusBar
	chatList  *views.ChatList
	msgView   *views.MessageView
	composer  *views.Composer
	dirty     atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(d Deps) (*App, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication().SetScreen(screen),
		screen:    screen,
		pages:     tview.NewPages(),
		engine:    d.Engine,
		pipeline:  d.Pipeline,
		bus:       d.Bus,
		machine:   d.Machine,
		exec:      &executor{conv: d.Engine, send: d.Pipeline},
		flash:     model.NewFlash(),
		registry:  keys.NewRegistry(),
		logger:    logger.Named("tui"),
		statusBar: views.NewStatusBar(),
		chatList:  views.NewChatList(),
		msgView:   views.NewMessageView(),
		composer:  views.NewComposer(),
		ctx:       ctx,
		cancel:    cancel,
	}
	a.bell = &bell{screen: screen, ring: d.Bell, show: func(line string) {
		a.flash.Info(line, flashFor)
		a.invalidate()
	}}

	a.statusBar.SetProfile(d.Profile)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a, nil
}

func (a *App) setupBindings() {
	a.registry.AddGlobal(&keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() { a.Stop() },
	})
	a.registry.AddGlobal(&keys.Action{
		Rune: 'r', Key: tcell.KeyRune,
		Description: "r:refresh", Visible: true,
		Handler: func() { a.runCommand("/refresh") },
	})
	a.registry.AddPage(pageChat, &keys.Action{
		Rune: 'i', Key: tcell.KeyRune,
		Description: "i:compose", Visible: true,
		Handler: func() { a.app.SetFocus(a.composer.InputField) },
	})
	a.registry.AddPage(pageChat, &keys.Action{
		Key: tcell.KeyEscape, Description: "esc:back", Visible: true,
		Handler: func() { a.closeChat() },
	})
}

func (a *App) setupCallbacks() {
	a.chatList.SetSelectedFunc(func(int, int) {
		if id := a.chatList.SelectedConversation(); id != "" {
			a.openChat(id)
		}
	})

	a.composer.SetOnSend(func(text string) {
		id := a.engine.Selected()
		if id == "" {
			return
		}
		go func() {
			if _, err := a.pipeline.Send(a.ctx, id, text); err != nil {
				a.flash.Error("Send failed: "+err.Error(), flashFor)
				a.invalidate()
			}
		}()
	})

	a.composer.SetOnCommand(a.runCommand)
}

func (a *App) setupLayout() {
	chatFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage(pageList, a.chatList, true, true)
	a.pages.AddPage(pageChat, chatFlex, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		page, _ := a.pages.GetFrontPage()

		// Text input keeps every key except escape, which leaves the composer.
		if a.composer.HasFocus() {
			if event.Key() == tcell.KeyEscape {
				a.app.SetFocus(a.msgView)
				return nil
			}
			return event
		}

		if a.registry.HandleEvent(page, event) {
			return nil
		}
		return event
	})
}

func (a *App) openChat(id string) {
	a.pages.SwitchToPage(pageChat)
	a.app.SetFocus(a.composer.InputField)
	a.render()
	go func() {
		if err := a.engine.Select(a.ctx, id); err != nil {
			a.flash.Error("Load failed: "+err.Error(), flashFor)
		}
		a.invalidate()
	}()
}

func (a *App) closeChat() {
	a.engine.Deselect()
	a.pages.SwitchToPage(pageList)
	a.app.SetFocus(a.chatList)
	a.render()
}

func (a *App) runCommand(line string) {
	cmd, err := ParseCommand(line)
	if err != nil {
		a.flash.Error(err.Error(), flashFor)
		a.render()
		return
	}
	go func() {
		msg, err := a.exec.run(a.ctx, cmd)
		if err != nil {
			a.flash.Error(err.Error(), flashFor)
		} else {
			a.flash.Info(msg, flashFor)
		}
		a.invalidate()
	}()
}

// invalidate schedules a redraw. Bursts of events collapse into one.
func (a *App) invalidate() {
	if a.dirty.CompareAndSwap(false, true) {
		a.app.QueueUpdateDraw(func() {
			a.dirty.Store(false)
			a.render()
		})
	}
}

// render copies engine state into the widgets. Must run on the UI goroutine.
func (a *App) render() {
	page, _ := a.pages.GetFrontPage()
	a.chatList.Update(a.engine.Conversations(), a.engine.Unread)

	if id := a.engine.Selected(); id != "" {
		name, tag := id, ""
		if c, ok := a.engine.Conversation(id); ok {
			name, tag = c.Name(), c.StatusTag
		}
		a.msgView.SetConversation(name, tag)
		a.msgView.Update(a.engine.Messages(id), a.engine.Loading(id))
	}

	a.statusBar.SetPush(a.machine.Current())
	a.statusBar.SetHints(a.registry.Hints(page))
	msg, isErr := a.flash.Get()
	a.statusBar.SetFlash(msg, isErr)
}

func (a *App) follow(events <-chan bus.Event) {
	for {
		select {
		case evt := <-events:
			if evt.Kind == bus.KindError {
				if err, ok := evt.Payload.(error); ok {
					a.flash.Error(err.Error(), flashFor)
				}
			}
			a.invalidate()
		case <-a.ctx.Done():
			return
		}
	}
}

// Run starts the TUI application and blocks until the operator quits.
func (a *App) Run() error {
	changes, unsubChanges := a.bus.Subscribe("", 256)
	defer unsubChanges()
	notes, unsubNotes := a.bus.Subscribe("notify.", 16)
	defer unsubNotes()

	go a.follow(changes)
	go a.bell.watch(a.ctx, notes)
	go a.tick()

	a.render()
	err := a.app.Run()
	a.cancel()
	return err
}

// tick keeps the clock and flash expiry current.
func (a *App) tick() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.invalidate()
		case <-a.ctx.Done():
			return
		}
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
