package journal

import "time"

// Send states recorded in the journal.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Entry is one journaled send attempt.
type Entry struct {
	ID               int64
	ProvisionalID    string
	ConversationID   string
	Body             string
	Status           string
	MessageID        string
	ChannelMessageID string
	ErrorMessage     string
	RetryOf          string // provisional id of the failed attempt this one retries
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
