// Package push receives real-time events from the CRM backend.
package push

import (
	"encoding/json"
	"sync"
)

// Event names emitted by the backend.
const (
	EventConnected    = "connected"
	EventNewMessage   = "new_message"
	EventStatusUpdate = "message_status_update"
	EventUserStatus   = "user_status_update"
	EventNewUser      = "new_user_created"
	EventNotesUpdated = "notes_updated"
)

// Handler receives the raw JSON payload of one event.
type Handler func(payload json.RawMessage)

// Channel is a source of push events. Handlers for one event run in
// registration order on the channel's delivery goroutine.
type Channel interface {
	// On registers h for event and returns a function that removes it.
	On(event string, h Handler) (off func())
}

type registration struct {
	id int
	h  Handler
}

// registry is the handler table shared by the Channel implementations.
type registry struct {
	mu       sync.RWMutex
	handlers map[string][]registration
	next     int
}

func (r *registry) On(event string, h Handler) func() {
	r.mu.Lock()
	if r.handlers == nil {
		r.handlers = make(map[string][]registration)
	}
	id := r.next
	r.next++
	r.handlers[event] = append(r.handlers[event], registration{id: id, h: h})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			regs := r.handlers[event]
			for i, reg := range regs {
				if reg.id == id {
					r.handlers[event] = append(regs[:i:i], regs[i+1:]...)
					break
				}
			}
		})
	}
}

// dispatch calls every handler registered for event and reports how many ran.
func (r *registry) dispatch(event string, payload json.RawMessage) int {
	r.mu.RLock()
	regs := append([]registration(nil), r.handlers[event]...)
	r.mu.RUnlock()
	for _, reg := range regs {
		reg.h(payload)
	}
	return len(regs)
}
