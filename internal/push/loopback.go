package push

import (
	"encoding/json"
	"fmt"
)

// Loopback is an in-memory Channel. Deliver runs the handlers synchronously
// on the caller's goroutine, so tests control the exact interleaving of push
// events with fetches and sends.
type Loopback struct {
	registry
}

func NewLoopback() *Loopback {
	return &Loopback{}
}

// Deliver encodes payload as JSON and dispatches it as event. It returns the
// number of handlers that ran.
func (l *Loopback) Deliver(event string, payload any) (int, error) {
	raw, ok := payload.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("encode %s payload: %w", event, err)
		}
		raw = b
	}
	return l.dispatch(event, raw), nil
}
