package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"
)

// StatusBar displays the connection state and transient notices.
type StatusBar struct {
	*tview.TextView
	user   string
	state  string
	typing []string
	flash  string
}

// NewStatusBar creates the status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)
	return &StatusBar{TextView: tv}
}

// SetUser sets the local identity shown on the left.
func (sb *StatusBar) SetUser(user string) {
	sb.user = user
	sb.render()
}

// SetConnection updates the connection state display.
func (sb *StatusBar) SetConnection(state string) {
	sb.state = state
	sb.render()
}

// SetTyping shows who is composing in the active conversation.
func (sb *StatusBar) SetTyping(names []string) {
	sb.typing = names
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	state := sb.state
	switch state {
	case "READY":
		state = "[green]" + state + "[-]"
	case "OFFLINE", "RECONNECTING", "ERROR":
		state = "[red]" + state + "[-]"
	}

	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s | %s",
		tview.Escape(sb.user), state, time.Now().Format("15:04"))
	if len(sb.typing) > 0 {
		line += fmt.Sprintf(" | [yellow]%s typing…[-]", tview.Escape(strings.Join(sb.typing, ", ")))
	}
	if sb.flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", tview.Escape(sb.flash))
	}

	_, _ = fmt.Fprint(sb, line)
}
