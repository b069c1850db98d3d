package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/ayonsaha2011/ipchat/internal/conversation"
)

// ConversationList is the main per-peer conversation table.
type ConversationList struct {
	*tview.Table
	convs []conversation.Conversation
}

func NewConversationList() *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Conversations ")

	return &ConversationList{Table: table}
}

// Update refreshes the table. Conversations arrive already sorted by
// recency; the row order mirrors them one to one.
func (cl *ConversationList) Update(convs []conversation.Conversation) {
	cl.convs = convs
	cl.Clear()

	cl.SetCell(0, 0, tview.NewTableCell(" Peer").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 1, tview.NewTableCell(" Last").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 2, tview.NewTableCell(" Time").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	for i, c := range convs {
		row := i + 1
		name := sanitizeForTerminal(c.Peer.Name)
		if c.UnreadCount > 0 {
			name = fmt.Sprintf("* %s (%d)", name, c.UnreadCount)
		}

		var preview, when string
		if c.LastItem != nil {
			when = formatTimestamp(c.LastItem.Timestamp)
			if c.LastItem.Kind == conversation.KindMessage {
				preview = sanitizeForTerminal(c.LastItem.Message.Content)
			} else {
				preview = "file: " + sanitizeForTerminal(c.LastItem.Transfer.FileName)
			}
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+name).SetMaxWidth(30).SetExpansion(1))
		cl.SetCell(row, 1, tview.NewTableCell(" "+preview).SetMaxWidth(40).SetExpansion(2))
		cl.SetCell(row, 2, tview.NewTableCell(" "+when).SetMaxWidth(12))
	}
}

// SelectedPeer returns the peer id of the highlighted row.
func (cl *ConversationList) SelectedPeer() string {
	row, _ := cl.GetSelection()
	idx := row - 1 // header
	if idx >= 0 && idx < len(cl.convs) {
		return cl.convs[idx].Peer.ID
	}
	return ""
}
