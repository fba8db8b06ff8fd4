package tui

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatline/internal/api"
	"github.com/matheus3301/chatline/internal/chat"
	"github.com/matheus3301/chatline/internal/outbox"
	"github.com/matheus3301/chatline/internal/store"
	"github.com/matheus3301/chatline/internal/tui/keys"
	"github.com/matheus3301/chatline/internal/tui/views"
	"github.com/rivo/tview"
	"google.golang.org/grpc/status"
)

const (
	pageThread = "thread"
	pageSearch = "search"
	pageHelp   = "help"

	flashTime   = 5 * time.Second
	retryDelay  = 2 * time.Second
	searchLimit = 100
)

// Client is the daemon API the terminal UI drives.
type Client interface {
	remoteSender
	SearchMessages(ctx context.Context, query string, limit int) ([]store.Message, error)
	Resend(ctx context.Context, localID int64) (*store.Message, error)
	StartSync(ctx context.Context) (string, error)
	StopSync(ctx context.Context) (string, error)
	WatchHistory(ctx context.Context, limit int, fn func([]store.Message) error) error
	WatchReply(ctx context.Context, serverID int64, fn func(api.ReplyEvent) error) error
	WatchStatus(ctx context.Context, fn func(api.StatusEvent) error) error
}

// App is the terminal chat client.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	client    Client
	composer  *chat.Composer
	registry  *keys.Registry
	thread    *views.Thread
	search    *views.SearchView
	help      *views.HelpView
	statusBar *views.StatusBar
	limit     int
	ctx       context.Context
	cancel    context.CancelFunc

	mu          sync.Mutex
	replyCancel context.CancelFunc
}

// NewApp creates the UI for sessionName. limit bounds the rendered history;
// zero shows all of it.
func NewApp(c Client, sessionName string, limit int) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		client:    c,
		registry:  keys.NewRegistry(),
		thread:    views.NewThread(),
		search:    views.NewSearchView(),
		help:      views.NewHelpView(),
		statusBar: views.NewStatusBar(sessionName),
		limit:     limit,
		ctx:       ctx,
		cancel:    cancel,
	}
	a.composer = chat.NewComposer(&submitter{
		ctx:    ctx,
		remote: c,
		onErr:  func(err error) { a.flash("Send failed: " + errorText(err)) },
	})

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: 'q', Description: "Quit",
		Handler: a.Stop,
	})
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: '/', Description: "Search messages",
		Handler: a.showSearch,
	})
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: '?', Description: "Help",
		Handler: a.showHelp,
	})
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: 'S', Description: "Start or stop sync",
		Handler: a.toggleSync,
	})

	a.registry.AddPage(pageThread, &keys.Action{
		Key: tcell.KeyRune, Rune: 'i', Description: "Focus composer",
		Handler: func() { a.app.SetFocus(a.thread.Input()) },
	})
	a.registry.AddPage(pageThread, &keys.Action{
		Key: tcell.KeyRune, Rune: 'r', Description: "Reply to selected message",
		Handler: a.replyToSelected,
	})
	a.registry.AddPage(pageThread, &keys.Action{
		Key: tcell.KeyRune, Rune: 'R', Description: "Resend selected failed message",
		Handler: a.resendSelected,
	})
	a.registry.AddPage(pageThread, &keys.Action{
		Key: tcell.KeyCtrlX, Label: "Ctrl-X", Description: "Cancel reply",
		Handler: func() { a.setReplyTarget(0) },
	})
}

func (a *App) setupCallbacks() {
	a.thread.SetOnSend(a.submit)

	a.search.SetOnQuery(func(query string) {
		go func() {
			results, err := a.client.SearchMessages(a.ctx, query, searchLimit)
			if err != nil {
				a.flash("Search failed: " + errorText(err))
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.search.Update(results)
				a.app.SetFocus(a.search.Results())
			})
		}()
	})

	a.search.SetOnOpen(func(m store.Message) {
		a.showThread()
		if !a.thread.SelectLocal(m.LocalID) {
			a.statusBar.Flash("Message is outside the loaded history", flashTime)
		}
	})
}

func (a *App) setupLayout() {
	a.pages.AddPage(pageThread, a.thread, true, true)
	a.pages.AddPage(pageSearch, a.search, true, false)
	a.pages.AddPage(pageHelp, a.help, true, false)

	a.help.Render([]views.HelpSection{
		{Title: "History", Hints: a.registry.Hints(pageThread)[:4]},
		{Title: "Composer", Hints: []keys.Hint{
			{Key: "Enter", Description: "Send message or /command"},
			{Key: "Esc", Description: "Back to history"},
		}},
		{Title: "Global", Hints: a.registry.GlobalHints()},
	})

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)
	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		page, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape {
			switch {
			case page != pageThread:
				a.showThread()
				return nil
			case a.app.GetFocus() == a.thread.Input():
				a.app.SetFocus(a.thread.Table())
				return nil
			}
		}

		// Input fields get every key except Ctrl-X in the composer.
		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			if page == pageThread && event.Key() == tcell.KeyCtrlX {
				a.setReplyTarget(0)
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

// Run starts the streams and blocks until the UI exits.
func (a *App) Run() error {
	go a.keep("history", func(ctx context.Context) error {
		return a.client.WatchHistory(ctx, a.limit, func(msgs []store.Message) error {
			a.app.QueueUpdateDraw(func() { a.thread.Update(msgs) })
			return nil
		})
	})
	go a.keep("status", func(ctx context.Context) error {
		return a.client.WatchStatus(ctx, a.onStatus)
	})
	go a.tick()

	return a.app.Run()
}

func (a *App) onStatus(evt api.StatusEvent) error {
	a.app.QueueUpdateDraw(func() {
		switch evt.Kind {
		case "sync.poll_failed":
			a.statusBar.Flash("Poll failed: "+evt.LastError, flashTime)
		case "sync.poll_ok":
		default:
			if evt.State != "" {
				a.statusBar.SetState(evt.State, evt.LastError)
			}
		}
	})
	return nil
}

// keep reruns watch until the app stops, reporting each failure.
func (a *App) keep(name string, watch func(ctx context.Context) error) {
	for {
		err := watch(a.ctx)
		if a.ctx.Err() != nil {
			return
		}
		if err != nil {
			a.flash(name + " stream: " + errorText(err))
		}
		select {
		case <-a.ctx.Done():
			return
		case <-time.After(retryDelay):
		}
	}
}

func (a *App) tick() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			a.app.QueueUpdateDraw(func() { a.statusBar.Render(now) })
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) submit(text string) {
	a.composer.SetText(text)
	a.thread.SetDraft("")
	if _, err := a.composer.Send(); err != nil {
		if !errors.Is(err, outbox.ErrEmptyDraft) {
			a.statusBar.Flash(errorText(err), flashTime)
		}
	}
	a.stopReplyWatch()
	a.thread.SetReplyPreview(0, nil)
}

func (a *App) replyToSelected() {
	m := a.thread.Selected()
	switch {
	case m == nil:
		return
	case m.IsCommand:
		a.statusBar.Flash("Command output cannot be replied to", flashTime)
		return
	case m.ServerID == 0:
		a.statusBar.Flash("Message is not confirmed by the server yet", flashTime)
		return
	}
	a.setReplyTarget(m.ServerID)
	a.app.SetFocus(a.thread.Input())
}

// setReplyTarget points the composer at serverID and follows the target
// through the reply stream so the banner updates once it syncs. Zero clears.
func (a *App) setReplyTarget(serverID int64) {
	a.composer.ReplyTo(serverID)
	a.stopReplyWatch()
	a.thread.SetReplyPreview(serverID, a.thread.Target(serverID))
	if serverID == 0 {
		return
	}

	ctx, cancel := context.WithCancel(a.ctx)
	a.mu.Lock()
	a.replyCancel = cancel
	a.mu.Unlock()

	go func() {
		err := a.client.WatchReply(ctx, serverID, func(evt api.ReplyEvent) error {
			a.app.QueueUpdateDraw(func() {
				if ctx.Err() == nil {
					a.thread.SetReplyPreview(evt.ServerID, evt.Message)
				}
			})
			return nil
		})
		if err != nil && ctx.Err() == nil {
			a.flash("reply stream: " + errorText(err))
		}
	}()
}

func (a *App) stopReplyWatch() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.replyCancel != nil {
		a.replyCancel()
		a.replyCancel = nil
	}
}

func (a *App) resendSelected() {
	m := a.thread.Selected()
	if m == nil || m.Status != store.Failed {
		a.statusBar.Flash("Only failed messages can be resent", flashTime)
		return
	}
	id := m.LocalID
	go func() {
		if _, err := a.client.Resend(a.ctx, id); err != nil {
			a.flash("Resend failed: " + errorText(err))
		}
	}()
}

func (a *App) toggleSync() {
	syncing := a.statusBar.Syncing()
	go func() {
		var msg string
		var err error
		if syncing {
			msg, err = a.client.StopSync(a.ctx)
		} else {
			msg, err = a.client.StartSync(a.ctx)
		}
		if err != nil {
			msg = errorText(err)
		}
		a.flash(msg)
	}()
}

func (a *App) showThread() {
	a.pages.SwitchToPage(pageThread)
	a.app.SetFocus(a.thread.Table())
}

func (a *App) showSearch() {
	a.pages.SwitchToPage(pageSearch)
	a.app.SetFocus(a.search.Input())
}

func (a *App) showHelp() {
	a.pages.SwitchToPage(pageHelp)
	a.app.SetFocus(a.help)
}

// flash shows msg on the status bar from any goroutine.
func (a *App) flash(msg string) {
	a.app.QueueUpdateDraw(func() { a.statusBar.Flash(msg, flashTime) })
}

func errorText(err error) string {
	if s, ok := status.FromError(err); ok {
		return s.Message()
	}
	return err.Error()
}

// Stop shuts down the streams and the UI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
