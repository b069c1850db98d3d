package tui

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/ayonsaha2011/ipchat/internal/bus"
	"github.com/ayonsaha2011/ipchat/internal/client"
	"github.com/ayonsaha2011/ipchat/internal/conversation"
	"github.com/ayonsaha2011/ipchat/internal/store"
	"github.com/ayonsaha2011/ipchat/internal/tui/views"
)

// App is the terminal UI shell. It reads everything through the
// Session and repaints on bus events.
type App struct {
	app     *tview.Application
	pages   *tview.Pages
	session *client.Session
	bus     *bus.Bus

	convList  *views.ConversationList
	thread    *views.Thread
	composer  *views.Composer
	peerList  *views.PeerList
	statusBar *views.StatusBar

	activePeer string

	flashMu    sync.Mutex
	flashMsg   string
	flashUntil time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

func NewApp(sess *client.Session, b *bus.Bus, userName string) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		session:   sess,
		bus:       b,
		convList:  views.NewConversationList(),
		thread:    views.NewThread(sess.LocalID()),
		composer:  views.NewComposer(),
		peerList:  views.NewPeerList(),
		statusBar: views.NewStatusBar(),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetUser(userName)
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupCallbacks() {
	a.convList.SetSelectedFunc(func(row, col int) {
		if peerID := a.convList.SelectedPeer(); peerID != "" {
			a.openChat(peerID)
		}
	})

	a.peerList.SetSelectedFunc(func(row, col int) {
		if peerID := a.peerList.SelectedPeer(); peerID != "" {
			a.session.StartChat(peerID)
			a.openChat(peerID)
		}
	})

	a.composer.SetOnSend(func(text string) {
		peerID := a.activePeer
		if peerID == "" {
			return
		}
		go func() {
			var err error
			if path, ok := strings.CutPrefix(text, "/send "); ok {
				_, err = a.session.SendFile(a.ctx, peerID, strings.TrimSpace(path))
			} else {
				_, err = a.session.SendMessage(a.ctx, peerID, text)
			}
			if err != nil {
				a.flash("Send failed: " + err.Error())
			}
			a.app.QueueUpdateDraw(a.refresh)
		}()
	})
}

func (a *App) setupLayout() {
	chatFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.thread, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage("conversations", a.convList, true, true)
	a.pages.AddPage("chat", chatFlex, true, false)
	a.pages.AddPage("peers", a.peerList, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape {
			switch currentPage {
			case "chat", "peers":
				a.activePeer = ""
				a.pages.SwitchToPage("conversations")
				a.app.SetFocus(a.convList)
				return nil
			}
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
		case 'n':
			if currentPage == "conversations" {
				a.peerList.Update(a.session.Peers())
				a.pages.SwitchToPage("peers")
				a.app.SetFocus(a.peerList)
				return nil
			}
		case 'i':
			if currentPage == "chat" {
				a.app.SetFocus(a.composer.InputField)
				return nil
			}
		case 'a':
			if currentPage == "chat" {
				a.acceptLatestOffer()
				return nil
			}
		case 'x':
			if currentPage == "chat" {
				a.dismissLatestTransfer()
				return nil
			}
		}
		return event
	})
}

func (a *App) openChat(peerID string) {
	a.activePeer = peerID
	go func() {
		if err := a.session.MarkRead(a.ctx, peerID); err != nil {
			a.flash("Mark read failed: " + err.Error())
		}
		a.app.QueueUpdateDraw(func() {
			a.refresh()
			a.pages.SwitchToPage("chat")
			a.app.SetFocus(a.composer.InputField)
		})
	}()
}

// acceptLatestOffer accepts the newest pending incoming transfer in
// the open conversation, saving under the user's download directory.
func (a *App) acceptLatestOffer() {
	ft := a.findTransfer(func(t *store.FileTransfer) bool {
		return t.Status == store.StatusPending && t.RecipientID == a.session.LocalID()
	})
	if ft == nil {
		a.flash("No pending offer")
		return
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	savePath := filepath.Join(home, "Downloads", ft.FileName)
	go func() {
		if err := os.MkdirAll(filepath.Dir(savePath), 0o755); err != nil {
			a.flash("Accept failed: " + err.Error())
			return
		}
		if err := a.session.AcceptTransfer(a.ctx, ft.ID, savePath); err != nil {
			a.flash("Accept failed: " + err.Error())
		}
		a.app.QueueUpdateDraw(a.refresh)
	}()
}

// dismissLatestTransfer rejects the newest pending incoming offer, or
// cancels the newest active transfer.
func (a *App) dismissLatestTransfer() {
	localID := a.session.LocalID()
	if ft := a.findTransfer(func(t *store.FileTransfer) bool {
		return t.Status == store.StatusPending && t.RecipientID == localID
	}); ft != nil {
		go func() {
			if err := a.session.RejectTransfer(a.ctx, ft.ID); err != nil {
				a.flash("Reject failed: " + err.Error())
			}
			a.app.QueueUpdateDraw(a.refresh)
		}()
		return
	}
	if ft := a.findTransfer(func(t *store.FileTransfer) bool {
		return !t.Status.Terminal()
	}); ft != nil {
		go func() {
			if err := a.session.CancelTransfer(a.ctx, ft.ID); err != nil {
				a.flash("Cancel failed: " + err.Error())
			}
			a.app.QueueUpdateDraw(a.refresh)
		}()
		return
	}
	a.flash("No active transfer")
}

// findTransfer returns the newest transfer in the open conversation
// matching the predicate.
func (a *App) findTransfer(match func(*store.FileTransfer) bool) *store.FileTransfer {
	conv := a.activeConversation()
	if conv == nil {
		return nil
	}
	for i := len(conv.Items) - 1; i >= 0; i-- {
		item := conv.Items[i]
		if item.Kind == conversation.KindFile && match(item.Transfer) {
			return item.Transfer
		}
	}
	return nil
}

func (a *App) activeConversation() *conversation.Conversation {
	if a.activePeer == "" {
		return nil
	}
	convs, err := a.session.Conversations()
	if err != nil {
		return nil
	}
	for i := range convs {
		if convs[i].Peer.ID == a.activePeer {
			return &convs[i]
		}
	}
	return nil
}

// refresh repaints every view from the current session state. Must run
// on the UI goroutine.
func (a *App) refresh() {
	convs, err := a.session.Conversations()
	if err != nil {
		a.flash("Load failed: " + err.Error())
		return
	}
	a.convList.Update(convs)
	a.peerList.Update(a.session.Peers())
	a.statusBar.SetPeerCount(len(a.session.Peers()))

	if a.activePeer != "" {
		for i := range convs {
			if convs[i].Peer.ID == a.activePeer {
				a.thread.SetPeerName(convs[i].Peer.Name)
				a.thread.Update(&convs[i])
				break
			}
		}
	}

	a.flashMu.Lock()
	if time.Now().Before(a.flashUntil) {
		a.statusBar.SetFlash(a.flashMsg)
	} else {
		a.statusBar.SetFlash("")
	}
	a.flashMu.Unlock()
}

func (a *App) flash(msg string) {
	a.flashMu.Lock()
	a.flashMsg = msg
	a.flashUntil = time.Now().Add(5 * time.Second)
	a.flashMu.Unlock()
}

// Run paints the initial state, then repaints on every bus event until
// the user quits.
func (a *App) Run() error {
	events, unsub := a.bus.Subscribe("", 128)
	defer unsub()

	go func() {
		for {
			select {
			case <-a.ctx.Done():
				return
			case <-events:
				a.app.QueueUpdateDraw(a.refresh)
			}
		}
	}()

	a.app.QueueUpdateDraw(a.refresh)
	return a.app.Run()
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
