package store

// Status is the delivery state of a message.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// rank orders the forward-moving statuses. Failed and unknown values are not ranked.
var rank = map[Status]int{
	StatusPending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// ParseStatus maps a wire status to a Status. Unknown values map to "".
func ParseStatus(s string) Status {
	switch st := Status(s); st {
	case StatusPending, StatusSent, StatusDelivered, StatusRead, StatusFailed:
		return st
	default:
		return ""
	}
}

// Advance returns the status that results from observing next while in cur.
// Statuses only move forward; failed is sticky and can never be produced here,
// only by an explicit send failure (see Thread.MarkFailed).
func Advance(cur, next Status) Status {
	if cur == StatusFailed {
		return cur
	}
	nr, ok := rank[next]
	if !ok {
		return cur
	}
	cr, ok := rank[cur]
	if !ok || nr > cr {
		return next
	}
	return cur
}

// CanFail reports whether a send failure may be recorded over cur.
func CanFail(cur Status) bool {
	return cur == StatusPending || cur == StatusSent
}
