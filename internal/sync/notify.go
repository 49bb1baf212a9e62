package sync

import (
	"github.com/matheus3301/wacrm/internal/bus"
)

const notifyBodyLimit = 100

// Notifier alerts the operator about an inbound message.
type Notifier interface {
	NotifyNewMessage(conversationID, sender, body string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(conversationID, sender, body string)

func (f NotifierFunc) NotifyNewMessage(conversationID, sender, body string) {
	f(conversationID, sender, body)
}

// BusNotifier publishes notifications on the bus for the UI to render.
type BusNotifier struct {
	Bus *bus.Bus
}

func (n BusNotifier) NotifyNewMessage(conversationID, sender, body string) {
	n.Bus.Emit(bus.KindNotify, bus.Notification{
		ConversationID: conversationID,
		Sender:         sender,
		Body:           body,
	})
}

// notificationBody shortens body to the first 100 characters plus "...".
func notificationBody(body string) string {
	r := []rune(body)
	if len(r) <= notifyBodyLimit {
		return body
	}
	return string(r[:notifyBodyLimit]) + "..."
}
