package views

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Composer is the text input for writing messages. Every edit fires the
// keystroke callback so the typing debouncer can signal the remote side.
type Composer struct {
	*tview.InputField
	onSend      func(text string)
	onKeystroke func()
}

// NewComposer creates the message composer.
func NewComposer() *Composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)

	c := &Composer{InputField: input}

	input.SetChangedFunc(func(text string) {
		if text != "" && c.onKeystroke != nil {
			c.onKeystroke()
		}
	})
	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && c.onSend != nil {
			text := c.GetText()
			if text != "" {
				c.onSend(text)
				c.SetText("")
			}
		}
	})

	return c
}

// SetOnSend sets the callback fired when the user submits a message.
func (c *Composer) SetOnSend(fn func(text string)) {
	c.onSend = fn
}

// SetOnKeystroke sets the callback fired on compose activity.
func (c *Composer) SetOnKeystroke(fn func()) {
	c.onKeystroke = fn
}
