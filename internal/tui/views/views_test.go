package views

import (
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/wacrm/internal/status"
	"github.com/matheus3301/wacrm/internal/store"
	"github.com/matheus3301/wacrm/internal/unread"
)

func TestSanitizeForTerminal(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"\U0001F44D\U0001F3FB", "\U0001F44D"},
		{"a\u200Db", "ab"},
		{"line\r\n\x1b[2J", "line\n[2J"},
		{"\u2764\uFE0F", "\u2764"},
	}
	for _, tt := range tests {
		if got := sanitizeForTerminal(tt.in); got != tt.want {
			t.Errorf("sanitizeForTerminal(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestChatListUpdate(t *testing.T) {
	cl := NewChatList()
	convs := []store.Conversation{
		{Identity: "999", DisplayName: "Bob", StatusTag: "new", LastMessagePreview: "line one\nline two"},
		{Identity: "888"},
	}
	counts := map[string]unread.State{"999": {Count: 2, HasNew: true}}
	cl.Update(convs, func(id string) unread.State { return counts[id] })

	if got := cl.GetCell(1, 0).Text; got != " * Bob (2)" {
		t.Errorf("name cell = %q", got)
	}
	if got := cl.GetCell(1, 2).Text; got != " line one ..." {
		t.Errorf("preview cell = %q", got)
	}
	if got := cl.GetCell(2, 0).Text; got != " 888" {
		t.Errorf("name fallback = %q", got)
	}

	cl.Select(2, 0)
	if got := cl.SelectedConversation(); got != "888" {
		t.Errorf("SelectedConversation() = %q", got)
	}

	// The cursor follows the conversation when the order changes.
	convs[0], convs[1] = convs[1], convs[0]
	cl.Update(convs, func(string) unread.State { return unread.State{} })
	if got := cl.SelectedConversation(); got != "888" {
		t.Errorf("after reorder SelectedConversation() = %q", got)
	}
}

func TestRenderMessage(t *testing.T) {
	ts := time.Now()
	in := renderMessage(&store.Message{Body: "hi [red]", Direction: store.Inbound, Timestamp: ts}, "Bob")
	if !strings.HasPrefix(in, "[::b]Bob[-:-:-]") || !strings.Contains(in, "hi [red[]") {
		t.Errorf("inbound = %q", in)
	}

	out := renderMessage(&store.Message{Body: "x", Direction: store.Outbound, Status: store.StatusFailed}, "Bob")
	if !strings.Contains(out, "You") || !strings.Contains(out, "/retry") {
		t.Errorf("failed outbound = %q", out)
	}
	if got := statusMark(store.StatusDelivered); got != "✓✓" {
		t.Errorf("delivered mark = %q", got)
	}
}

func TestStatusBarLine(t *testing.T) {
	sb := NewStatusBar()
	sb.profile = "main"
	sb.push = status.Connected
	sb.flash = "send failed"
	sb.isError = true

	line := sb.line(time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC))
	for _, want := range []string{"main", "live", "09:30", "[red]send failed[-]"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}
