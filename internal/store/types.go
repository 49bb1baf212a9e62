package store

import "time"

// Direction tells whether a message was written by the operator or the contact.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Conversation is one contact as shown in the conversation list.
type Conversation struct {
	Identity           string
	DisplayName        string
	StatusTag          string
	ReferredBy         string
	LastMessagePreview string
	LastMessageAt      time.Time
	Paid               bool
	ServerUnread       int
}

// Name returns the display name, falling back to the identity.
func (c *Conversation) Name() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.Identity
}

// Message is a single chat message, confirmed or provisional.
type Message struct {
	ID               string
	ProvisionalID    string
	ChannelMessageID string
	ConversationID   string
	Body             string
	Kind             string
	Direction        Direction
	Status           Status
	Timestamp        time.Time
	Read             bool

	seq uint64
}

// Confirmed reports whether the backend has assigned the message an identity.
func (m *Message) Confirmed() bool {
	return m.ID != "" || m.ChannelMessageID != ""
}

// Unconfirmed reports whether the message is an optimistic slot still waiting
// for its confirmed counterpart.
func (m *Message) Unconfirmed() bool {
	return m.ProvisionalID != "" && m.Status != StatusFailed
}

// MergeOutcome describes what InsertOrMerge did with an incoming message.
type MergeOutcome int

const (
	Inserted MergeOutcome = iota
	Duplicate
	Reconciled
)

func (o MergeOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Duplicate:
		return "duplicate"
	case Reconciled:
		return "reconciled"
	default:
		return "unknown"
	}
}
