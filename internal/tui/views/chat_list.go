package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/matheus3301/wacrm/internal/store"
	"github.com/matheus3301/wacrm/internal/unread"
)

// ChatList is the conversation table.
type ChatList struct {
	*tview.Table
	ids []string
}

// NewChatList creates a new conversation table.
func NewChatList() *ChatList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true).SetTitle(" Conversations ")
	return &ChatList{Table: table}
}

// Update redraws the table, keeping the cursor on the same conversation.
func (cl *ChatList) Update(convs []store.Conversation, unreadOf func(id string) unread.State) {
	current := cl.SelectedConversation()
	cl.ids = cl.ids[:0]
	cl.Clear()

	header := []string{" Name", " Tag", " Last Message", " Time"}
	for col, h := range header {
		cl.SetCell(0, col, tview.NewTableCell(h).SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	}

	cursor := 1
	for i := range convs {
		c := &convs[i]
		row := i + 1
		cl.ids = append(cl.ids, c.Identity)
		if c.Identity == current {
			cursor = row
		}

		name := sanitizeForTerminal(c.Name())
		if c.Paid {
			name = "$ " + name
		}
		if u := unreadOf(c.Identity); u.Count > 0 {
			name = fmt.Sprintf("* %s (%d)", name, u.Count)
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(name)).SetMaxWidth(30).SetExpansion(1))
		cl.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(c.StatusTag)).SetMaxWidth(16))
		cl.SetCell(row, 2, tview.NewTableCell(" "+tview.Escape(preview(c.LastMessagePreview))).SetMaxWidth(40).SetExpansion(2))
		cl.SetCell(row, 3, tview.NewTableCell(" "+formatTimestamp(c.LastMessageAt)).SetMaxWidth(12))
	}
	if len(convs) > 0 {
		cl.Select(cursor, 0)
	}
}

// SelectedConversation returns the id under the cursor.
func (cl *ChatList) SelectedConversation() string {
	row, _ := cl.GetSelection()
	idx := row - 1 // account for header
	if idx >= 0 && idx < len(cl.ids) {
		return cl.ids[idx]
	}
	return ""
}

func preview(s string) string {
	s = sanitizeForTerminal(s)
	for i, r := range s {
		if r == '\n' {
			return s[:i] + " ..."
		}
	}
	return s
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.Local()
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
