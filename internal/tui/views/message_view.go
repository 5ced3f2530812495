package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/opencoach/chatsync/internal/model"
)

// MessageView displays the thread of a single conversation.
type MessageView struct {
	*tview.TextView
}

// NewMessageView creates the thread view.
func NewMessageView() *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")
	return &MessageView{TextView: tv}
}

// SetCounterpart updates the title with the counterpart's name.
func (mv *MessageView) SetCounterpart(name string) {
	mv.SetTitle(fmt.Sprintf(" %s ", name))
}

// Update re-renders the thread. Messages arrive oldest first; a typing line
// is appended when the counterpart is composing.
func (mv *MessageView) Update(msgs []model.Message, localUser, counterpartName string, counterpartTyping bool) {
	mv.Clear()

	for _, m := range msgs {
		sender := counterpartName
		if m.Sender == localUser {
			sender = "You"
		}
		ts := m.Timestamp.Local().Format("15:04")
		line := fmt.Sprintf("[::b]%s[-:-:-] [::d]%s[-:-:-]\n%s\n\n",
			tview.Escape(sender), ts, tview.Escape(m.Content))
		_, _ = fmt.Fprint(mv, line)
	}
	if counterpartTyping {
		_, _ = fmt.Fprintf(mv, "[yellow]%s is typing…[-]\n", tview.Escape(counterpartName))
	}

	mv.ScrollToEnd()
}
