package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. The payload type is noted next to each kind.
const (
	// View state; the UI re-reads the engine on any of these.
	KindConversations = "view.conversations" // nil
	KindThread        = "view.thread"        // conversation id (string)
	KindLoading       = "view.loading"       // conversation id (string)
	KindUnread        = "view.unread"        // conversation id (string)
	KindSelected      = "view.selected"      // conversation id (string), "" on deselect
	KindError         = "view.error"         // error

	// Push channel.
	KindPushStatus = "push.status_changed" // status.StatusChange

	// Send pipeline.
	KindSendQueued    = "send.queued"    // SendOutcome
	KindSendConfirmed = "send.confirmed" // SendOutcome
	KindSendFailed    = "send.failed"    // SendOutcome

	// Notifications raised for inbound messages.
	KindNotify = "notify.new_message" // Notification
)

// SendOutcome describes one step of an optimistic send.
type SendOutcome struct {
	ConversationID string
	ProvisionalID  string
	MessageID      string
	Err            error
}

// Notification is a new-message alert for the operator.
type Notification struct {
	ConversationID string
	Sender         string
	Body           string
}
