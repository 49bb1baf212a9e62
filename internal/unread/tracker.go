package unread

// State is the unread state of one conversation.
type State struct {
	Count  int
	HasNew bool
}

// Tracker counts unread inbound messages per conversation. It is not safe
// for concurrent use.
type Tracker struct {
	states map[string]State
}

func NewTracker() *Tracker {
	return &Tracker{states: make(map[string]State)}
}

// Increment records one new inbound message.
func (t *Tracker) Increment(id string) State {
	s := t.states[id]
	s.Count++
	s.HasNew = true
	t.states[id] = s
	return s
}

// Clear resets the conversation to {0, false}.
func (t *Tracker) Clear(id string) {
	delete(t.states, id)
}

// Get returns the state for id; unknown conversations are {0, false}.
func (t *Tracker) Get(id string) State {
	return t.states[id]
}

// Snapshot returns a copy of all non-zero states.
func (t *Tracker) Snapshot() map[string]State {
	out := make(map[string]State, len(t.states))
	for id, s := range t.states {
		out[id] = s
	}
	return out
}
