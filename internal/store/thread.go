package store

import (
	"cmp"
	"slices"
	"time"
)

// anonymousMatchWindow bounds the timestamp drift between a message pushed
// without identity and its confirmed copy from a later fetch.
const anonymousMatchWindow = time.Minute

// Thread is the ordered message collection of one conversation. It owns
// deduplication and ordering: every producer (fetch results, push events,
// optimistic sends) goes through InsertOrMerge.
//
// A Thread is not safe for concurrent use; the sync engine serializes access.
type Thread struct {
	conversationID string
	msgs           []*Message
	nextSeq        uint64
}

// NewThread creates an empty thread for a conversation.
func NewThread(conversationID string) *Thread {
	return &Thread{conversationID: conversationID}
}

// ConversationID returns the identity of the owning conversation.
func (t *Thread) ConversationID() string {
	return t.conversationID
}

// Len returns the number of messages in the thread.
func (t *Thread) Len() int {
	return len(t.msgs)
}

// Messages returns a copy of the thread in display order.
func (t *Thread) Messages() []Message {
	out := make([]Message, len(t.msgs))
	for i, m := range t.msgs {
		out[i] = *m
	}
	return out
}

// InsertOrMerge adds msg to the thread, or merges it into the entry it
// duplicates or confirms. Match priority: backend id, channel id, echoed
// provisional id, then (for confirmed outbound messages without an echo) the
// oldest unconfirmed entry with the same body. A confirmed message finally
// claims an entry that was pushed without any identity, matching on direction,
// body and a nearby timestamp.
func (t *Thread) InsertOrMerge(msg Message) MergeOutcome {
	msg.ConversationID = t.conversationID

	if existing := t.matchIdentity(&msg); existing != nil {
		t.mergeDuplicate(existing, &msg)
		return Duplicate
	}

	if msg.ProvisionalID != "" {
		if slot := t.findUnconfirmed(msg.ProvisionalID); slot != nil {
			if !msg.Confirmed() {
				return Duplicate
			}
			t.reconcile(slot, &msg)
			return Reconciled
		}
	} else if msg.Confirmed() && msg.Direction == Outbound {
		if slot := t.findSlotByBody(msg.Body); slot != nil {
			t.reconcile(slot, &msg)
			return Reconciled
		}
	}

	if msg.Confirmed() {
		if anon := t.findAnonymous(&msg); anon != nil {
			t.claim(anon, &msg)
			return Duplicate
		}
	}

	t.nextSeq++
	m := msg
	m.seq = t.nextSeq
	if m.Confirmed() {
		m.ProvisionalID = ""
	}
	t.msgs = append(t.msgs, &m)
	t.sort()
	return Inserted
}

// AdvanceStatus locates a message by backend id first, then by channel id,
// and moves its status forward. It reports whether a message was found.
func (t *Thread) AdvanceStatus(id, channelID string, st Status) bool {
	var m *Message
	if id != "" {
		m = t.find(func(m *Message) bool { return m.ID == id })
	}
	if m == nil && channelID != "" {
		m = t.find(func(m *Message) bool { return m.ChannelMessageID == channelID })
	}
	if m == nil {
		return false
	}
	m.Status = Advance(m.Status, st)
	return true
}

// MarkFailed records a send failure on the optimistic slot. The provisional id
// is kept so a retry can be correlated with the slot. It is a no-op once the
// slot has been confirmed by another path.
func (t *Thread) MarkFailed(provisionalID string) bool {
	m := t.findUnconfirmed(provisionalID)
	if m == nil || m.ID != "" || !CanFail(m.Status) {
		return false
	}
	m.Status = StatusFailed
	return true
}

// Acknowledge moves an optimistic slot to sent when the backend accepted the
// send without returning an identity. The slot keeps its provisional id until
// the confirmed message arrives.
func (t *Thread) Acknowledge(provisionalID string) bool {
	m := t.findUnconfirmed(provisionalID)
	if m == nil {
		return false
	}
	m.Status = Advance(m.Status, StatusSent)
	return true
}

// Lookup returns a copy of the message holding the given provisional id.
func (t *Thread) Lookup(provisionalID string) (Message, bool) {
	m := t.find(func(m *Message) bool { return m.ProvisionalID == provisionalID })
	if m == nil {
		return Message{}, false
	}
	return *m, true
}

// Remove drops a failed message from the thread. Messages in any other state
// cannot be removed.
func (t *Thread) Remove(provisionalID string) bool {
	for i, m := range t.msgs {
		if m.ProvisionalID == provisionalID && m.Status == StatusFailed {
			t.msgs = slices.Delete(t.msgs, i, i+1)
			return true
		}
	}
	return false
}

// Last returns the last message in display order.
func (t *Thread) Last() (Message, bool) {
	if len(t.msgs) == 0 {
		return Message{}, false
	}
	return *t.msgs[len(t.msgs)-1], true
}

func (t *Thread) matchIdentity(msg *Message) *Message {
	if msg.ID != "" {
		if m := t.find(func(m *Message) bool { return m.ID == msg.ID }); m != nil {
			return m
		}
	}
	if msg.ChannelMessageID != "" {
		if m := t.find(func(m *Message) bool { return m.ChannelMessageID == msg.ChannelMessageID }); m != nil {
			return m
		}
	}
	return nil
}

func (t *Thread) mergeDuplicate(existing, msg *Message) {
	existing.Status = Advance(existing.Status, msg.Status)
	existing.Read = existing.Read || msg.Read
	if existing.ID == "" && msg.ID != "" && t.findID(msg.ID) == nil {
		existing.ID = msg.ID
	}
	if existing.ChannelMessageID == "" && msg.ChannelMessageID != "" && t.findChannelID(msg.ChannelMessageID) == nil {
		existing.ChannelMessageID = msg.ChannelMessageID
	}
	// A confirmation that echoes a provisional id already present under its
	// confirmed identity: the leftover optimistic slot is the same message.
	if msg.ProvisionalID != "" && existing.ProvisionalID != msg.ProvisionalID {
		for i, m := range t.msgs {
			if m != existing && m.ProvisionalID == msg.ProvisionalID && m.Unconfirmed() {
				t.msgs = slices.Delete(t.msgs, i, i+1)
				break
			}
		}
	}
}

func (t *Thread) reconcile(slot, msg *Message) {
	slot.ProvisionalID = ""
	if msg.ID != "" && t.findID(msg.ID) == nil {
		slot.ID = msg.ID
	}
	if msg.ChannelMessageID != "" && t.findChannelID(msg.ChannelMessageID) == nil {
		slot.ChannelMessageID = msg.ChannelMessageID
	}
	next := msg.Status
	if next == "" || next == StatusPending {
		next = StatusSent
	}
	slot.Status = Advance(slot.Status, next)
	if !msg.Timestamp.IsZero() {
		slot.Timestamp = msg.Timestamp
	}
	t.sort()
}

// claim gives an identity-less entry the identity of its confirmed copy.
func (t *Thread) claim(anon, msg *Message) {
	if msg.ID != "" && t.findID(msg.ID) == nil {
		anon.ID = msg.ID
	}
	if msg.ChannelMessageID != "" && t.findChannelID(msg.ChannelMessageID) == nil {
		anon.ChannelMessageID = msg.ChannelMessageID
	}
	anon.Status = Advance(anon.Status, msg.Status)
	anon.Read = anon.Read || msg.Read
	if !msg.Timestamp.IsZero() {
		anon.Timestamp = msg.Timestamp
	}
	t.sort()
}

// findAnonymous returns the oldest entry without backend, channel or
// provisional identity that msg can stand for.
func (t *Thread) findAnonymous(msg *Message) *Message {
	var oldest *Message
	for _, m := range t.msgs {
		if m.Confirmed() || m.ProvisionalID != "" {
			continue
		}
		if m.Direction != msg.Direction || m.Body != msg.Body || !near(m.Timestamp, msg.Timestamp) {
			continue
		}
		if oldest == nil || m.seq < oldest.seq {
			oldest = m
		}
	}
	return oldest
}

func near(a, b time.Time) bool {
	if a.IsZero() || b.IsZero() {
		return true
	}
	d := a.Sub(b)
	return d >= -anonymousMatchWindow && d <= anonymousMatchWindow
}

func (t *Thread) findUnconfirmed(provisionalID string) *Message {
	if provisionalID == "" {
		return nil
	}
	return t.find(func(m *Message) bool { return m.ProvisionalID == provisionalID && m.Unconfirmed() })
}

// findSlotByBody returns the oldest unconfirmed outbound slot with the given body.
func (t *Thread) findSlotByBody(body string) *Message {
	var oldest *Message
	for _, m := range t.msgs {
		if m.Direction != Outbound || !m.Unconfirmed() || m.Body != body {
			continue
		}
		if oldest == nil || m.seq < oldest.seq {
			oldest = m
		}
	}
	return oldest
}

func (t *Thread) findID(id string) *Message {
	return t.find(func(m *Message) bool { return m.ID == id })
}

func (t *Thread) findChannelID(id string) *Message {
	return t.find(func(m *Message) bool { return m.ChannelMessageID == id })
}

func (t *Thread) find(pred func(*Message) bool) *Message {
	for _, m := range t.msgs {
		if pred(m) {
			return m
		}
	}
	return nil
}

func (t *Thread) sort() {
	slices.SortStableFunc(t.msgs, func(a, b *Message) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
}
