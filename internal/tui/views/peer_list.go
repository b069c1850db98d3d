package views

import (
	"github.com/rivo/tview"

	"github.com/ayonsaha2011/ipchat/internal/store"
)

// PeerList shows everyone currently visible on the network, for
// starting a new conversation.
type PeerList struct {
	*tview.Table
	peers []store.Peer
}

func NewPeerList() *PeerList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Peers on the network ")

	return &PeerList{Table: table}
}

func (pl *PeerList) Update(peers []store.Peer) {
	pl.peers = peers
	pl.Clear()

	pl.SetCell(0, 0, tview.NewTableCell(" Name").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	pl.SetCell(0, 1, tview.NewTableCell(" Address").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	pl.SetCell(0, 2, tview.NewTableCell(" Seen").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	for i, p := range peers {
		row := i + 1
		pl.SetCell(row, 0, tview.NewTableCell(" "+sanitizeForTerminal(p.Name)).SetMaxWidth(30).SetExpansion(1))
		pl.SetCell(row, 1, tview.NewTableCell(" "+p.Address).SetMaxWidth(24))
		pl.SetCell(row, 2, tview.NewTableCell(" "+formatTimestamp(p.LastSeen)).SetMaxWidth(12))
	}
}

// SelectedPeer returns the peer id of the highlighted row.
func (pl *PeerList) SelectedPeer() string {
	row, _ := pl.GetSelection()
	idx := row - 1
	if idx >= 0 && idx < len(pl.peers) {
		return pl.peers[idx].ID
	}
	return ""
}
