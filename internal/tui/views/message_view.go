package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/matheus3301/wacrm/internal/store"
)

// MessageView displays the thread of the selected conversation.
type MessageView struct {
	*tview.TextView
	name string
}

// NewMessageView creates a new message view.
func NewMessageView() *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")

	return &MessageView{TextView: tv}
}

// SetConversation updates the title.
func (mv *MessageView) SetConversation(name, tag string) {
	mv.name = name
	title := " " + tview.Escape(sanitizeForTerminal(name)) + " "
	if tag != "" {
		title += "[" + tview.Escape(tag) + "[] "
	}
	mv.SetTitle(title)
}

// Update redraws the thread. Messages arrive in display order.
func (mv *MessageView) Update(msgs []store.Message, loading bool) {
	mv.Clear()
	if loading && len(msgs) == 0 {
		_, _ = fmt.Fprint(mv, "[::d]Loading...[-:-:-]")
		return
	}
	for i := range msgs {
		_, _ = fmt.Fprint(mv, renderMessage(&msgs[i], mv.name))
	}
	mv.ScrollToEnd()
}

func renderMessage(m *store.Message, name string) string {
	sender := name
	if m.Direction == store.Outbound {
		sender = "You"
	}
	body := tview.Escape(sanitizeForTerminal(m.Body))
	if m.Kind != "" && m.Kind != "text" && body == "" {
		body = "[::i]<" + tview.Escape(m.Kind) + ">[-:-:-]"
	}
	line := fmt.Sprintf("[::b]%s[-:-:-] [::d]%s[-:-:-]", tview.Escape(sender), formatTimestamp(m.Timestamp))
	if m.Direction == store.Outbound {
		line += " " + statusMark(m.Status)
	}
	return line + "\n" + body + "\n\n"
}

func statusMark(s store.Status) string {
	switch s {
	case store.StatusPending:
		return "[::d]...[-:-:-]"
	case store.StatusSent:
		return "✓"
	case store.StatusDelivered:
		return "✓✓"
	case store.StatusRead:
		return "[blue]✓✓[-]"
	case store.StatusFailed:
		return "[red]! not sent, /retry or /dismiss[-]"
	default:
		return ""
	}
}
