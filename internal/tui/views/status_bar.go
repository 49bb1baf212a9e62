package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"

	"github.com/matheus3301/wacrm/internal/status"
)

// StatusBar displays profile, push connectivity and the flash message.
type StatusBar struct {
	*tview.TextView
	profile string
	push    status.State
	hints   []string
	flash   string
	isError bool
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv, push: status.Idle}
}

// SetProfile updates the profile name display.
func (sb *StatusBar) SetProfile(name string) {
	sb.profile = name
	sb.render()
}

// SetPush updates the push connectivity indicator.
func (sb *StatusBar) SetPush(st status.State) {
	sb.push = st
	sb.render()
}

// SetHints sets the key hints for the current page.
func (sb *StatusBar) SetHints(hints []string) {
	sb.hints = hints
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string, isError bool) {
	sb.flash = msg
	sb.isError = isError
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()
	_, _ = fmt.Fprint(sb, sb.line(time.Now()))
}

func (sb *StatusBar) line(now time.Time) string {
	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s | %s", tview.Escape(sb.profile), pushLabel(sb.push), now.Format("15:04"))
	if len(sb.hints) > 0 {
		line += " | [::d]" + tview.Escape(strings.Join(sb.hints, " ")) + "[-:-:-]"
	}
	if sb.flash != "" {
		color := "yellow"
		if sb.isError {
			color = "red"
		}
		line += fmt.Sprintf(" | [%s]%s[-]", color, tview.Escape(sb.flash))
	}
	return line
}

func pushLabel(st status.State) string {
	switch st {
	case status.Connected:
		return "[green]live[-]"
	case status.Connecting, status.Reconnecting:
		return "[yellow]connecting[-]"
	default:
		return "[red]offline[-]"
	}
}
