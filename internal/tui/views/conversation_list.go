package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// ConversationRow is one rendered line of the conversation list.
type ConversationRow struct {
	ID       string
	Name     string
	Online   bool
	Typing   bool
	Unread   int
	Preview  string
	LastAt   time.Time
	Archived bool
}

// ConversationList is the main conversation table.
type ConversationList struct {
	*tview.Table
	rows []ConversationRow
}

// NewConversationList creates the conversation table.
func NewConversationList() *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Conversations ")
	return &ConversationList{Table: table}
}

// Update refreshes the table with new rows, keeping the selection stable when
// the previously selected conversation is still present.
func (cl *ConversationList) Update(rows []ConversationRow) {
	selected := cl.SelectedConversation()
	cl.rows = rows
	cl.Clear()

	cl.SetCell(0, 0, tview.NewTableCell(" Contact").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 1, tview.NewTableCell(" Last Message").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 2, tview.NewTableCell(" When").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	for i, row := range rows {
		r := i + 1
		name := tview.Escape(row.Name)
		if row.Online {
			name = "[green]●[-] " + name
		} else {
			name = "  " + name
		}
		if row.Unread > 0 {
			name = fmt.Sprintf("[::b]%s (%d)[-:-:-]", name, row.Unread)
		}
		if row.Archived {
			name += " [::d](archived)[-:-:-]"
		}

		preview := tview.Escape(row.Preview)
		if row.Typing {
			preview = "[yellow]typing…[-]"
		}

		cl.SetCell(r, 0, tview.NewTableCell(" "+name).SetMaxWidth(30).SetExpansion(1))
		cl.SetCell(r, 1, tview.NewTableCell(" "+preview).SetMaxWidth(48).SetExpansion(2))
		cl.SetCell(r, 2, tview.NewTableCell(" "+formatWhen(row.LastAt)).SetMaxWidth(12))

		if row.ID == selected {
			cl.Select(r, 0)
		}
	}
}

// SelectedConversation returns the id of the selected row, if any.
func (cl *ConversationList) SelectedConversation() string {
	row, _ := cl.GetSelection()
	idx := row - 1 // header
	if idx >= 0 && idx < len(cl.rows) {
		return cl.rows[idx].ID
	}
	return ""
}

func formatWhen(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
