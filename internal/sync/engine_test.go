package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wacrm/internal/bus"
	"github.com/matheus3301/wacrm/internal/cache"
	"github.com/matheus3301/wacrm/internal/store"
	"github.com/matheus3301/wacrm/internal/wire"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func ts(sec int) wire.Time {
	return wire.Time{Time: t0.Add(time.Duration(sec) * time.Second)}
}

// fakeAPI serves canned chats and messages and records calls. When gate is
// set, ListMessages and ListChats wait on it before answering.
type fakeAPI struct {
	mu        stdsync.Mutex
	chats     []wire.Chat
	messages  map[string][]wire.Message
	msgErr    error
	chatCalls int
	msgCalls  map[string]int
	statuses  []wire.UpdateStatusRequest
	gate      chan struct{}
	entered   chan string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		messages: make(map[string][]wire.Message),
		msgCalls: make(map[string]int),
	}
}

func (f *fakeAPI) wait(what string) {
	f.mu.Lock()
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	if entered != nil {
		entered <- what
	}
	if gate != nil {
		<-gate
	}
}

func (f *fakeAPI) ListChats(ctx context.Context) ([]wire.Chat, error) {
	f.wait("chats")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatCalls++
	return append([]wire.Chat(nil), f.chats...), nil
}

func (f *fakeAPI) ListMessages(ctx context.Context, phone string) ([]wire.Message, error) {
	f.wait(phone)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgCalls[phone]++
	if f.msgErr != nil {
		return nil, f.msgErr
	}
	return append([]wire.Message(nil), f.messages[phone]...), nil
}

func (f *fakeAPI) UpdateStatus(ctx context.Context, phone, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, wire.UpdateStatusRequest{Phone: phone, Status: status})
	return nil
}

func (f *fakeAPI) calls(phone string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msgCalls[phone]
}

func (f *fakeAPI) listCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chatCalls
}

func (f *fakeAPI) hold() {
	f.mu.Lock()
	f.gate = make(chan struct{})
	f.entered = make(chan string, 16)
	f.mu.Unlock()
}

func (f *fakeAPI) release() {
	f.mu.Lock()
	gate := f.gate
	f.gate, f.entered = nil, nil
	f.mu.Unlock()
	close(gate)
}

func newTestEngine(t *testing.T, api *fakeAPI, opts ...cache.Option) (*Engine, *bus.Bus) {
	t.Helper()
	b := bus.New()
	logger, _ := zap.NewDevelopment()
	e := NewEngine(api, b, logger, Options{Cache: opts})
	t.Cleanup(e.Stop)
	return e, b
}

func TestSelectMissFetchesBeforeReturning(t *testing.T) {
	api := newFakeAPI()
	api.messages["999"] = []wire.Message{
		{ID: "m2", Message: "second", Direction: "inbound", Timestamp: ts(2)},
		{ID: "m1", Message: "first", Direction: "inbound", Timestamp: ts(1)},
	}
	e, b := newTestEngine(t, api)
	loading, unsub := b.Subscribe(bus.KindLoading, 10)
	defer unsub()

	if err := e.Select(context.Background(), "999"); err != nil {
		t.Fatal(err)
	}

	msgs := e.Messages("999")
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("messages = %+v, want [m1 m2]", msgs)
	}
	if e.Loading("999") {
		t.Error("still loading after fetch")
	}
	// One event when loading starts, one when it ends.
	for i := 0; i < 2; i++ {
		select {
		case <-loading:
		case <-time.After(time.Second):
			t.Fatalf("got %d loading events, want 2", i)
		}
	}
}

func TestSelectShowsLoadingWhileFetching(t *testing.T) {
	api := newFakeAPI()
	e, _ := newTestEngine(t, api)
	api.hold()
	entered := api.entered

	done := make(chan error, 1)
	go func() { done <- e.Select(context.Background(), "999") }()

	<-entered
	if !e.Loading("999") {
		t.Error("Loading() = false during a blocking fetch")
	}
	api.release()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if e.Loading("999") {
		t.Error("Loading() = true after fetch")
	}
}

func TestSelectHitRendersImmediatelyAndRefreshes(t *testing.T) {
	api := newFakeAPI()
	api.messages["999"] = []wire.Message{{ID: "m1", Message: "hi", Direction: "inbound", Timestamp: ts(1)}}
	e, _ := newTestEngine(t, api)

	if err := e.Select(context.Background(), "999"); err != nil {
		t.Fatal(err)
	}
	e.Deselect()

	api.hold()
	entered := api.entered
	if err := e.Select(context.Background(), "999"); err != nil {
		t.Fatal(err)
	}
	// Select returned while the refresh is still parked in the API.
	if e.Loading("999") {
		t.Error("cache hit should not show a loading indicator")
	}
	if len(e.Messages("999")) != 1 {
		t.Error("cached thread not available on hit")
	}
	<-entered
	api.release()
	e.Drain()

	if n := api.calls("999"); n != 2 {
		t.Errorf("fetches = %d, want 2 (initial + unconditional refresh)", n)
	}
}

func TestUnreadClearedBeforeFetch(t *testing.T) {
	api := newFakeAPI()
	e, _ := newTestEngine(t, api)
	e.unread.Increment("999")
	e.unread.Increment("999")

	api.hold()
	entered := api.entered
	done := make(chan error, 1)
	go func() { done <- e.Select(context.Background(), "999") }()

	<-entered
	if s := e.Unread("999"); s.Count != 0 || s.HasNew {
		t.Errorf("unread during fetch = %+v, want zero", s)
	}
	api.release()
	<-done
}

func TestFetchFailureClearsLoading(t *testing.T) {
	api := newFakeAPI()
	api.msgErr = errors.New("connection refused")
	e, b := newTestEngine(t, api)
	errs, unsub := b.Subscribe(bus.KindError, 1)
	defer unsub()

	err := e.Select(context.Background(), "999")
	if err == nil || !errors.Is(err, api.msgErr) {
		t.Fatalf("err = %v, want wrapped connection refused", err)
	}
	if e.Loading("999") {
		t.Error("loading left set after failure")
	}
	if len(e.Messages("999")) != 0 {
		t.Error("expected empty thread after failed fetch")
	}
	select {
	case <-errs:
	case <-time.After(time.Second):
		t.Error("no view.error event")
	}
}

func TestFetchKeepsOptimisticMessages(t *testing.T) {
	api := newFakeAPI()
	api.messages["999"] = []wire.Message{{ID: "m0", Message: "old", Direction: "inbound", Timestamp: ts(1)}}
	e, _ := newTestEngine(t, api)

	e.Merge("999", store.Message{ProvisionalID: "p1", Body: "draft", Direction: store.Outbound, Status: store.StatusPending, Timestamp: t0.Add(5 * time.Second)})

	// The entry exists but was never fetched, so this is a blocking miss.
	if err := e.Select(context.Background(), "999"); err != nil {
		t.Fatal(err)
	}
	if api.calls("999") != 1 {
		t.Errorf("fetches = %d, want 1", api.calls("999"))
	}
	msgs := e.Messages("999")
	if len(msgs) != 2 || msgs[1].ProvisionalID != "p1" {
		t.Errorf("messages = %+v, want fetched + optimistic", msgs)
	}
}

func TestInFlightFetchAppliedAfterSwitch(t *testing.T) {
	api := newFakeAPI()
	api.messages["a"] = []wire.Message{{ID: "a1", Message: "x", Direction: "inbound", Timestamp: ts(1)}}
	e, _ := newTestEngine(t, api)

	api.hold()
	entered := api.entered
	done := make(chan error, 1)
	go func() { done <- e.Select(context.Background(), "a") }()
	<-entered

	// The operator moves on before the fetch of a completes.
	doneB := make(chan error, 1)
	go func() { doneB <- e.Select(context.Background(), "b") }()
	<-entered
	api.release()
	<-done
	<-doneB

	if len(e.Messages("a")) != 1 {
		t.Error("result for a was dropped after switching to b")
	}
	if e.Selected() != "b" {
		t.Errorf("selected = %q, want b", e.Selected())
	}
}

func TestSelectedNeverEvicted(t *testing.T) {
	api := newFakeAPI()
	e, _ := newTestEngine(t, api, cache.WithCapacity(2))

	if err := e.Select(context.Background(), "sel"); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"x", "y", "z"} {
		e.Merge(id, store.Message{ID: id + "1", Body: "hi", Direction: store.Inbound, Timestamp: t0})
	}

	cached := e.CachedConversations()
	if len(cached) != 2 {
		t.Fatalf("cached = %v, want 2 entries", cached)
	}
	var hasSel bool
	for _, id := range cached {
		hasSel = hasSel || id == "sel"
	}
	if !hasSel {
		t.Errorf("cached = %v, selected conversation evicted", cached)
	}
}

func TestConversationRefreshCoalesces(t *testing.T) {
	api := newFakeAPI()
	api.chats = []wire.Chat{{Phone: "999", Name: "Bob", LastMessageTime: ts(1)}}
	e, _ := newTestEngine(t, api)

	api.hold()
	entered := api.entered
	e.RequestConversationRefresh()
	<-entered
	e.RequestConversationRefresh()
	e.RequestConversationRefresh()
	e.RequestConversationRefresh()
	api.release()
	e.Drain()

	if n := api.listCalls(); n != 2 {
		t.Errorf("list fetches = %d, want 2 (running + one follow-up)", n)
	}
	if c, ok := e.Conversation("999"); !ok || c.Name() != "Bob" {
		t.Errorf("conversation = %+v", c)
	}
}

func TestRefreshRequestAfterStopDoesNotWedge(t *testing.T) {
	api := newFakeAPI()
	e, _ := newTestEngine(t, api)

	e.Start(context.Background())
	e.Drain()
	e.Stop()
	e.RequestConversationRefresh()
	if n := api.listCalls(); n != 1 {
		t.Fatalf("list fetches after stop = %d, want 1", n)
	}

	e.Start(context.Background())
	e.Drain()
	if n := api.listCalls(); n != 2 {
		t.Errorf("list fetches after restart = %d, want 2", n)
	}
}

func TestRefreshKeepsNewerLocalPreview(t *testing.T) {
	api := newFakeAPI()
	api.chats = []wire.Chat{{Phone: "999", Name: "Bob", LastMessage: "stale", LastMessageTime: ts(1), Status: "priority"}}
	e, _ := newTestEngine(t, api)

	e.Merge("999", store.Message{ID: "m9", Body: "fresh", Direction: store.Inbound, Timestamp: t0.Add(10 * time.Second)})
	if err := e.RefreshConversations(context.Background()); err != nil {
		t.Fatal(err)
	}

	c, _ := e.Conversation("999")
	if c.LastMessagePreview != "fresh" || c.StatusTag != "priority" || c.DisplayName != "Bob" {
		t.Errorf("conversation = %+v, want fresh preview with server metadata", c)
	}
}

func TestConversationsOrderedByActivity(t *testing.T) {
	api := newFakeAPI()
	api.chats = []wire.Chat{
		{Phone: "old", LastMessageTime: ts(1)},
		{Phone: "new", LastMessageTime: ts(9)},
		{Phone: "mid", LastMessageTime: ts(5)},
	}
	e, _ := newTestEngine(t, api)
	if err := e.RefreshConversations(context.Background()); err != nil {
		t.Fatal(err)
	}
	convs := e.Conversations()
	if len(convs) != 3 || convs[0].Identity != "new" || convs[2].Identity != "old" {
		t.Errorf("order = %+v", convs)
	}
}

func TestUpdateStatusTag(t *testing.T) {
	api := newFakeAPI()
	api.chats = []wire.Chat{{Phone: "999", Status: "new"}}
	e, _ := newTestEngine(t, api)
	_ = e.RefreshConversations(context.Background())

	if err := e.UpdateStatusTag(context.Background(), "999", "waitlisted"); err != nil {
		t.Fatal(err)
	}
	if c, _ := e.Conversation("999"); c.StatusTag != "waitlisted" {
		t.Errorf("status tag = %q, want waitlisted", c.StatusTag)
	}
	if len(api.statuses) != 1 || api.statuses[0].Status != "waitlisted" {
		t.Errorf("api calls = %+v", api.statuses)
	}
}

func TestConfirmWithoutIdentityAcknowledges(t *testing.T) {
	api := newFakeAPI()
	e, _ := newTestEngine(t, api)
	e.Merge("999", store.Message{ProvisionalID: "p1", Body: "x", Direction: store.Outbound, Status: store.StatusPending, Timestamp: t0})

	if !e.Confirm("999", "p1", "", "") {
		t.Fatal("Confirm() = false")
	}
	m, ok := e.Lookup("999", "p1")
	if !ok || m.Status != store.StatusSent {
		t.Errorf("slot = %+v, want sent and still provisional", m)
	}
}

func TestDismissFailed(t *testing.T) {
	api := newFakeAPI()
	e, _ := newTestEngine(t, api)
	e.Merge("999", store.Message{ProvisionalID: "p1", Body: "x", Direction: store.Outbound, Status: store.StatusPending, Timestamp: t0})

	if e.Dismiss("999", "p1") {
		t.Error("Dismiss removed a pending message")
	}
	if !e.MarkFailed("999", "p1") {
		t.Fatal("MarkFailed() = false")
	}
	if !e.Dismiss("999", "p1") {
		t.Error("Dismiss did not remove the failed message")
	}
	if len(e.Messages("999")) != 0 {
		t.Error("thread not empty after dismiss")
	}
}

func TestStartLoadsConversations(t *testing.T) {
	api := newFakeAPI()
	api.chats = []wire.Chat{{Phone: "999"}}
	b := bus.New()
	e := NewEngine(api, b, nil, Options{RefreshInterval: 20 * time.Millisecond})

	e.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	e.Stop()

	if n := api.listCalls(); n < 2 {
		t.Errorf("list fetches = %d, want the initial one plus periodic refreshes", n)
	}
	if len(e.Conversations()) != 1 {
		t.Error("conversation list not loaded")
	}
}

func TestDrainDoesNotWaitForTicker(t *testing.T) {
	api := newFakeAPI()
	e := NewEngine(api, bus.New(), nil, Options{RefreshInterval: time.Hour})
	e.Start(context.Background())
	defer e.Stop()

	done := make(chan struct{})
	go func() {
		e.Drain()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Drain blocked on the refresh ticker")
	}
}
