package tui

import (
	"context"
	"fmt"

	"github.com/matheus3301/wacrm/internal/bus"
)

type beeper interface {
	Beep() error
}

// bell turns notify events into a terminal bell plus a status line.
type bell struct {
	screen beeper
	ring   bool
	show   func(line string)
}

// watch consumes notify events until ctx is done.
func (b *bell) watch(ctx context.Context, events <-chan bus.Event) {
	for {
		select {
		case evt := <-events:
			n, ok := evt.Payload.(bus.Notification)
			if !ok {
				continue
			}
			if b.ring && b.screen != nil {
				_ = b.screen.Beep()
			}
			if b.show != nil {
				b.show(fmt.Sprintf("%s: %s", n.Sender, n.Body))
			}
		case <-ctx.Done():
			return
		}
	}
}
