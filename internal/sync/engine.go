package sync

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	stdsync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wacrm/internal/bus"
	"github.com/matheus3301/wacrm/internal/cache"
	"github.com/matheus3301/wacrm/internal/store"
	"github.com/matheus3301/wacrm/internal/unread"
	"github.com/matheus3301/wacrm/internal/wire"
)

// API is the subset of the backend client the engine needs.
type API interface {
	ListChats(ctx context.Context) ([]wire.Chat, error)
	ListMessages(ctx context.Context, phone string) ([]wire.Message, error)
	UpdateStatus(ctx context.Context, phone, status string) error
}

// Options tune an Engine.
type Options struct {
	// RefreshInterval is how often the conversation list is re-fetched and
	// the selected thread checked for staleness. Zero disables the ticker.
	RefreshInterval time.Duration
	Cache           []cache.Option
}

// Engine owns the client-side view of conversations and messages for one
// operator session: the message cache, unread state, the conversation list
// and the current selection. All state is guarded by a single mutex; network
// calls run without it and re-acquire it to apply their results.
type Engine struct {
	api    API
	bus    *bus.Bus
	logger *zap.Logger

	mu       stdsync.Mutex
	cache    *cache.Cache
	unread   *unread.Tracker
	convs    map[string]*store.Conversation
	loading  map[string]bool
	selected string
	focused  bool

	refreshing   bool
	refreshAgain bool

	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	bg       stdsync.WaitGroup // fetches
	loop     stdsync.WaitGroup
}

// NewEngine creates an engine. It does no I/O until Start or Select.
func NewEngine(api API, b *bus.Bus, logger *zap.Logger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		api:      api,
		bus:      b,
		logger:   logger.Named("sync"),
		cache:    cache.New(opts.Cache...),
		unread:   unread.NewTracker(),
		convs:    make(map[string]*store.Conversation),
		loading:  make(map[string]bool),
		focused:  true,
		interval: opts.RefreshInterval,
		ctx:      context.Background(),
	}
}

// Start fetches the conversation list and keeps it fresh in the background.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.ctx, e.cancel = ctx, cancel
	e.mu.Unlock()

	e.RequestConversationRefresh()
	if e.interval <= 0 {
		return
	}
	e.loop.Add(1)
	go func() {
		defer e.loop.Done()
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.RequestConversationRefresh()
				e.refreshSelectedIfStale()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels background work and waits for it to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.loop.Wait()
	e.bg.Wait()
}

// Drain waits for in-flight background fetches.
func (e *Engine) Drain() {
	e.bg.Wait()
}

// Select makes id the current conversation. Unread state is cleared before
// anything else. A cached thread is shown at once and refreshed in the
// background; otherwise the thread is marked loading and fetched before
// Select returns.
func (e *Engine) Select(ctx context.Context, id string) error {
	e.mu.Lock()
	e.unread.Clear(id)
	e.bus.Emit(bus.KindUnread, id)

	e.selected = id
	e.cache.SetSelected(id)
	e.bus.Emit(bus.KindSelected, id)

	if entry, ok := e.cache.Get(id); ok && entry.Loaded {
		e.mu.Unlock()
		e.bus.Emit(bus.KindThread, id)
		e.background(func(ctx context.Context) { _ = e.fetch(ctx, id) })
		return nil
	}

	e.loading[id] = true
	e.bus.Emit(bus.KindLoading, id)
	e.mu.Unlock()

	return e.fetch(ctx, id)
}

// Deselect clears the current selection.
func (e *Engine) Deselect() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.selected = ""
	e.cache.SetSelected("")
	e.bus.Emit(bus.KindSelected, "")
}

// Selected returns the current conversation, or "".
func (e *Engine) Selected() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected
}

// SetFocused records whether the operator is looking at the console.
func (e *Engine) SetFocused(focused bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.focused = focused
}

// fetch loads the thread of id and merges it into the cache. The result is
// applied even if the selection has moved on.
func (e *Engine) fetch(ctx context.Context, id string) error {
	wms, err := e.api.ListMessages(ctx, id)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loading[id] {
		delete(e.loading, id)
		e.bus.Emit(bus.KindLoading, id)
	}
	if err != nil {
		e.logger.Warn("fetch messages failed", zap.String("conversation", id), zap.Error(err))
		err = fmt.Errorf("fetch messages for %s: %w", id, err)
		e.bus.Emit(bus.KindError, err)
		return err
	}

	msgs := make([]store.Message, 0, len(wms))
	for _, wm := range wms {
		msgs = append(msgs, wm.StoreMessage())
	}
	e.cache.Put(id, msgs)
	e.logger.Debug("thread fetched", zap.String("conversation", id), zap.Int("messages", len(msgs)))
	e.bus.Emit(bus.KindThread, id)
	return nil
}

func (e *Engine) refreshSelectedIfStale() {
	e.mu.Lock()
	id := e.selected
	entry, ok := e.cache.Get(id)
	stale := id != "" && (!ok || e.cache.IsStale(entry)) && !e.loading[id]
	e.mu.Unlock()
	if stale {
		e.background(func(ctx context.Context) { _ = e.fetch(ctx, id) })
	}
}

// RefreshConversations re-fetches the conversation list. Local previews newer
// than the server's are kept.
func (e *Engine) RefreshConversations(ctx context.Context) error {
	chats, err := e.api.ListChats(ctx)
	if err != nil {
		err = fmt.Errorf("fetch conversations: %w", err)
		e.logger.Warn("conversation refresh failed", zap.Error(err))
		e.bus.Emit(bus.KindError, err)
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range chats {
		conv := c.Conversation()
		if conv.Identity == "" {
			continue
		}
		if cur, ok := e.convs[conv.Identity]; ok && cur.LastMessageAt.After(conv.LastMessageAt) {
			conv.LastMessagePreview = cur.LastMessagePreview
			conv.LastMessageAt = cur.LastMessageAt
		}
		e.convs[conv.Identity] = &conv
	}
	e.bus.Emit(bus.KindConversations, nil)
	return nil
}

// RequestConversationRefresh schedules a background list refresh. Requests
// made while one is running collapse into a single follow-up refresh.
func (e *Engine) RequestConversationRefresh() {
	e.mu.Lock()
	if e.refreshing {
		e.refreshAgain = true
		e.mu.Unlock()
		return
	}
	e.refreshing = true
	e.mu.Unlock()

	scheduled := e.background(func(ctx context.Context) {
		for {
			_ = e.RefreshConversations(ctx)
			e.mu.Lock()
			if !e.refreshAgain || ctx.Err() != nil {
				e.refreshing, e.refreshAgain = false, false
				e.mu.Unlock()
				return
			}
			e.refreshAgain = false
			e.mu.Unlock()
		}
	})
	if !scheduled {
		e.mu.Lock()
		e.refreshing, e.refreshAgain = false, false
		e.mu.Unlock()
	}
}

// Messages returns the cached thread of id in display order.
func (e *Engine) Messages(id string) []store.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.cache.Get(id)
	if !ok {
		return nil
	}
	return entry.Thread.Messages()
}

// Conversations returns the conversation list, most recent activity first.
func (e *Engine) Conversations() []store.Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]store.Conversation, 0, len(e.convs))
	for _, c := range e.convs {
		out = append(out, *c)
	}
	slices.SortFunc(out, func(a, b store.Conversation) int {
		if c := b.LastMessageAt.Compare(a.LastMessageAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Identity, b.Identity)
	})
	return out
}

// Conversation returns one conversation from the list.
func (e *Engine) Conversation(id string) (store.Conversation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.convs[id]
	if !ok {
		return store.Conversation{}, false
	}
	return *c, true
}

// Loading reports whether a blocking fetch of id is in flight.
func (e *Engine) Loading(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loading[id]
}

// Unread returns the unread state of id.
func (e *Engine) Unread(id string) unread.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unread.Get(id)
}

// CachedConversations returns the ids with a cached thread.
func (e *Engine) CachedConversations() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.Keys()
}

// UpdateStatusTag changes the status tag of a conversation on the backend and
// patches the local list once it is accepted.
func (e *Engine) UpdateStatusTag(ctx context.Context, id, tag string) error {
	if err := e.api.UpdateStatus(ctx, id, tag); err != nil {
		err = fmt.Errorf("update status of %s: %w", id, err)
		e.bus.Emit(bus.KindError, err)
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setStatusTagLocked(id, tag)
	return nil
}

func (e *Engine) setStatusTagLocked(id, tag string) {
	c, ok := e.convs[id]
	if !ok {
		c = &store.Conversation{Identity: id}
		e.convs[id] = c
	}
	c.StatusTag = tag
	e.bus.Emit(bus.KindConversations, nil)
}

// Merge inserts or merges msg into the thread of id and patches the
// conversation preview.
func (e *Engine) Merge(id string, msg store.Message) store.MergeOutcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mergeLocked(id, msg)
}

func (e *Engine) mergeLocked(id string, msg store.Message) store.MergeOutcome {
	entry := e.cache.Ensure(id)
	outcome := entry.Thread.InsertOrMerge(msg)
	if outcome != store.Duplicate {
		if last, ok := entry.Thread.Last(); ok {
			e.patchPreviewLocked(id, last)
		}
	}
	e.logger.Debug("merged message",
		zap.String("conversation", id),
		zap.Stringer("outcome", outcome),
	)
	e.bus.Emit(bus.KindThread, id)
	return outcome
}

func (e *Engine) patchPreviewLocked(id string, m store.Message) {
	c, ok := e.convs[id]
	if !ok {
		c = &store.Conversation{Identity: id}
		e.convs[id] = c
	}
	if m.Timestamp.Before(c.LastMessageAt) {
		return
	}
	c.LastMessagePreview = m.Body
	c.LastMessageAt = m.Timestamp
	e.bus.Emit(bus.KindConversations, nil)
}

// Confirm applies a successful send response to the optimistic slot. A
// response without any identity only moves the slot to sent.
func (e *Engine) Confirm(id, provisionalID, messageID, channelID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry := e.cache.Ensure(id)
	slot, ok := entry.Thread.Lookup(provisionalID)
	if !ok || slot.Status == store.StatusFailed {
		// A push echo got there first.
		return false
	}
	if messageID == "" && channelID == "" {
		ok = entry.Thread.Acknowledge(provisionalID)
		e.bus.Emit(bus.KindThread, id)
		return ok
	}
	return e.mergeLocked(id, store.Message{
		ID:               messageID,
		ChannelMessageID: channelID,
		ProvisionalID:    provisionalID,
		Body:             slot.Body,
		Kind:             slot.Kind,
		Direction:        store.Outbound,
		Status:           store.StatusSent,
	}) == store.Reconciled
}

// MarkFailed records a send failure on the optimistic slot.
func (e *Engine) MarkFailed(id, provisionalID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.cache.Get(id)
	if !ok || !entry.Thread.MarkFailed(provisionalID) {
		return false
	}
	e.bus.Emit(bus.KindThread, id)
	return true
}

// Lookup returns the message of id holding provisionalID.
func (e *Engine) Lookup(id, provisionalID string) (store.Message, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.cache.Get(id)
	if !ok {
		return store.Message{}, false
	}
	return entry.Thread.Lookup(provisionalID)
}

// Dismiss removes a failed message from view.
func (e *Engine) Dismiss(id, provisionalID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.cache.Get(id)
	if !ok || !entry.Thread.Remove(provisionalID) {
		return false
	}
	e.bus.Emit(bus.KindThread, id)
	return true
}

// background runs fn on its own goroutine, tracked by Stop and Drain. It
// reports false when the engine is stopped and fn was not started.
func (e *Engine) background(fn func(ctx context.Context)) bool {
	e.mu.Lock()
	ctx := e.ctx
	e.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		fn(ctx)
	}()
	return true
}
