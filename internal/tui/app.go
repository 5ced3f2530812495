// Package tui is the terminal chat client. It renders the stores, feeds user
// intents to the sync engine and repaints on bus events; it never mutates
// the stores itself.
package tui

import (
	"context"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/opencoach/chatsync/internal/bus"
	"github.com/opencoach/chatsync/internal/config"
	"github.com/opencoach/chatsync/internal/model"
	"github.com/opencoach/chatsync/internal/presence"
	"github.com/opencoach/chatsync/internal/status"
	"github.com/opencoach/chatsync/internal/store"
	intsync "github.com/opencoach/chatsync/internal/sync"
	"github.com/opencoach/chatsync/internal/tui/views"
	"github.com/opencoach/chatsync/internal/typing"
)

// Deps are the application's collaborators.
type Deps struct {
	Engine        *intsync.Engine
	Messages      *store.MessageStore
	Conversations *store.ConversationStore
	Bus           *bus.Bus
	Typing        *typing.Coordinator
	Composer      *typing.Composer
	Presence      *presence.Tracker
	Machine       *status.Machine
	Config        *config.Config
}

// App is the TUI application shell.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	statusBar *views.StatusBar
	convList  *views.ConversationList
	msgView   *views.MessageView
	composer  *views.Composer

	d      Deps
	ctx    context.Context
	cancel context.CancelFunc

	active       string
	showArchived bool
}

// NewApp creates the TUI application.
func NewApp(d Deps) *App {
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		statusBar: views.NewStatusBar(),
		convList:  views.NewConversationList(),
		msgView:   views.NewMessageView(),
		composer:  views.NewComposer(),
		d:         d,
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetUser(d.Config.User.Email)
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) setupCallbacks() {
	a.convList.SetSelectedFunc(func(row, col int) {
		if id := a.convList.SelectedConversation(); id != "" {
			a.openConversation(id)
		}
	})

	a.composer.SetOnKeystroke(func() {
		if a.active != "" {
			a.d.Composer.Keystroke(a.ctx, a.active)
		}
	})
	a.composer.SetOnSend(func(text string) {
		if a.active == "" {
			return
		}
		a.d.Composer.Sent(a.ctx, a.active)
		a.d.Engine.SendMessage(a.active, text)
	})
}

func (a *App) setupLayout() {
	thread := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage("conversations", a.convList, true, true)
	a.pages.AddPage("thread", thread, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape && currentPage == "thread" {
			a.closeConversation()
			return nil
		}

		if event.Key() == tcell.KeyTab && currentPage == "thread" {
			if a.app.GetFocus() == a.composer.InputField {
				a.app.SetFocus(a.msgView)
			} else {
				a.app.SetFocus(a.composer.InputField)
			}
			return nil
		}

		// Text input handles its own keys.
		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			return event
		}

		if event.Key() != tcell.KeyRune {
			return event
		}
		switch event.Rune() {
		case 'q':
			a.app.Stop()
			return nil
		case 'i':
			if currentPage == "thread" {
				a.app.SetFocus(a.composer.InputField)
				return nil
			}
		case 'a':
			if currentPage == "conversations" {
				a.toggleArchived()
				return nil
			}
		case 'A':
			if currentPage == "conversations" {
				a.showArchived = !a.showArchived
				a.refreshList()
				return nil
			}
		}
		return event
	})
}

func (a *App) openConversation(id string) {
	a.active = id
	a.d.Engine.OpenConversation(id)

	conv, ok := a.d.Conversations.Get(id)
	if ok {
		a.msgView.SetCounterpart(a.counterpartName(conv))
	}
	a.refreshThread()
	a.pages.SwitchToPage("thread")
	a.app.SetFocus(a.composer.InputField)
}

func (a *App) closeConversation() {
	a.active = ""
	a.d.Engine.CloseConversation()
	a.refreshList()
	a.pages.SwitchToPage("conversations")
	a.app.SetFocus(a.convList)
}

func (a *App) toggleArchived() {
	id := a.convList.SelectedConversation()
	if id == "" {
		return
	}
	conv, ok := a.d.Conversations.Get(id)
	if !ok {
		return
	}
	a.d.Engine.SetArchived(id, !conv.Archived)
}

func (a *App) counterpartName(conv model.Conversation) string {
	cp := conv.Counterpart(a.d.Config.User.Email)
	if cp.DisplayName != "" {
		return cp.DisplayName
	}
	return cp.Email
}

func (a *App) refreshList() {
	filter := store.FilterOpen
	if a.showArchived {
		filter = store.FilterAll
	}
	convs := a.d.Conversations.List(filter)
	rows := make([]views.ConversationRow, len(convs))
	for i, c := range convs {
		cp := c.Counterpart(a.d.Config.User.Email)
		rows[i] = views.ConversationRow{
			ID:       c.ID,
			Name:     a.counterpartName(c),
			Online:   c.Synthetic || a.d.Presence.IsOnline(cp.Email),
			Typing:   a.d.Typing.IsTyping(c.ID, cp.Email),
			Unread:   c.UnreadCount,
			Preview:  c.LastMessagePreview,
			LastAt:   c.LastMessageAt,
			Archived: c.Archived,
		}
	}
	a.convList.Update(rows)
}

func (a *App) refreshThread() {
	if a.active == "" {
		return
	}
	conv, ok := a.d.Conversations.Get(a.active)
	if !ok {
		return
	}
	cp := conv.Counterpart(a.d.Config.User.Email)
	msgs := a.d.Messages.ListByConversation(a.active)
	a.msgView.Update(msgs, a.d.Config.User.Email, a.counterpartName(conv), a.d.Typing.IsTyping(a.active, cp.Email))
}

func (a *App) refreshStatus() {
	a.statusBar.SetConnection(string(a.d.Machine.Current()))
	if a.active != "" {
		a.statusBar.SetTyping(a.d.Typing.TypingIn(a.active))
	} else {
		a.statusBar.SetTyping(nil)
	}
}

// Run starts the event loop and blocks until the UI exits.
func (a *App) Run() error {
	storeCh, unsubStore := a.d.Bus.SubscribeStore()
	typingCh, unsubTyping := a.d.Bus.SubscribeTyping()
	presenceCh, unsubPresence := a.d.Bus.SubscribePresence()
	sessionCh, unsubSession := a.d.Bus.SubscribeSession()

	go func() {
		defer unsubStore()
		defer unsubTyping()
		defer unsubPresence()
		defer unsubSession()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-storeCh:
				a.app.QueueUpdateDraw(func() {
					a.refreshList()
					a.refreshThread()
				})
			case <-typingCh:
				a.app.QueueUpdateDraw(func() {
					a.refreshList()
					a.refreshThread()
					a.refreshStatus()
				})
			case <-presenceCh:
				a.app.QueueUpdateDraw(a.refreshList)
			case <-sessionCh:
				a.app.QueueUpdateDraw(a.refreshStatus)
			case <-ticker.C:
				a.app.QueueUpdateDraw(a.refreshStatus)
			case <-a.ctx.Done():
				return
			}
		}
	}()

	a.refreshList()
	a.refreshStatus()
	return a.app.Run()
}

// Stop shuts the TUI down.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
