package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// StatusBar displays the local identity, peer count and transient
// notices.
type StatusBar struct {
	*tview.TextView
	user  string
	peers int
	flash string
}

func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv}
}

// SetUser updates the local user display.
func (sb *StatusBar) SetUser(name string) {
	sb.user = name
	sb.render()
}

// SetPeerCount updates the live peer counter.
func (sb *StatusBar) SetPeerCount(n int) {
	sb.peers = n
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	clock := time.Now().Format("15:04")
	line := fmt.Sprintf(" [::b]%s[-:-:-] | %d peers | %s", sanitizeForTerminal(sb.user), sb.peers, clock)
	if sb.flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", sanitizeForTerminal(sb.flash))
	}
	_, _ = fmt.Fprint(sb, line)
}
