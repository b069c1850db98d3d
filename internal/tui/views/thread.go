package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/ayonsaha2011/ipchat/internal/conversation"
	"github.com/ayonsaha2011/ipchat/internal/store"
)

// Thread displays one conversation's merged timeline of messages and
// file transfers.
type Thread struct {
	*tview.TextView
	localID string
}

func NewThread(localID string) *Thread {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")

	return &Thread{TextView: tv, localID: localID}
}

// SetPeerName updates the title with the peer's display name.
func (t *Thread) SetPeerName(name string) {
	t.SetTitle(fmt.Sprintf(" %s ", sanitizeForTerminal(name)))
}

// Update re-renders the timeline. Items arrive in chronological order.
func (t *Thread) Update(conv *conversation.Conversation) {
	t.Clear()

	for _, item := range conv.Items {
		sender := conv.Peer.Name
		if item.SenderID == t.localID {
			sender = "You"
		}
		ts := formatTimestamp(item.Timestamp)

		switch item.Kind {
		case conversation.KindMessage:
			fmt.Fprintf(t, "[::b]%s[-:-:-] [::d]%s[-:-:-]\n%s\n\n",
				sanitizeForTerminal(sender), ts, sanitizeForTerminal(item.Message.Content))
		case conversation.KindFile:
			fmt.Fprintf(t, "[::b]%s[-:-:-] [::d]%s[-:-:-]\n%s\n\n",
				sanitizeForTerminal(sender), ts, renderTransfer(item.Transfer))
		}
	}

	t.ScrollToEnd()
}

func renderTransfer(ft *store.FileTransfer) string {
	name := sanitizeForTerminal(ft.FileName)
	size := formatSize(ft.FileSize)

	switch ft.Status {
	case store.StatusPending:
		return fmt.Sprintf("[yellow]file %s (%s) - waiting[-]", name, size)
	case store.StatusInProgress:
		return fmt.Sprintf("file %s (%s)\n%s", name, size,
			progressBar(ft.BytesTransferred, ft.FileSize, 20))
	case store.StatusCompleted:
		return fmt.Sprintf("[green]file %s (%s) - done[-]", name, size)
	case store.StatusRejected:
		return fmt.Sprintf("[red]file %s - rejected[-]", name)
	case store.StatusCancelled:
		return fmt.Sprintf("[red]file %s - cancelled[-]", name)
	case store.StatusFailed:
		msg := ft.Error
		if msg == "" {
			msg = "failed"
		}
		return fmt.Sprintf("[red]file %s - %s[-]", name, sanitizeForTerminal(msg))
	}
	return fmt.Sprintf("file %s (%s)", name, size)
}
