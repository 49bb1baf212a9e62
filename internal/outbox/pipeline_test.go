package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wacrm/internal/bus"
	"github.com/matheus3301/wacrm/internal/journal"
	"github.com/matheus3301/wacrm/internal/store"
	wsync "github.com/matheus3301/wacrm/internal/sync"
	"github.com/matheus3301/wacrm/internal/wire"
)

// countingAPI fails the test if the pipeline causes any fetch.
type countingAPI struct {
	mu    sync.Mutex
	calls int
}

func (a *countingAPI) ListChats(context.Context) ([]wire.Chat, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return nil, nil
}

func (a *countingAPI) ListMessages(context.Context, string) ([]wire.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return nil, nil
}

func (a *countingAPI) UpdateStatus(context.Context, string, string) error { return nil }

type mockBackend struct {
	mu     sync.Mutex
	calls  []string
	resp   *wire.SendResponse
	err    error
	during func(tempID string)
}

func (m *mockBackend) SendMessage(_ context.Context, phone, body, tempID string) (*wire.SendResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, phone+":"+body)
	during := m.during
	m.mu.Unlock()
	if during != nil {
		during(tempID)
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}

type fixture struct {
	engine  *wsync.Engine
	api     *countingAPI
	backend *mockBackend
	journal *journal.DB
	bus     *bus.Bus
	p       *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, _ := zap.NewDevelopment()

	db, err := journal.OpenMigrated(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	b := bus.New()
	api := &countingAPI{}
	e := wsync.NewEngine(api, b, logger, wsync.Options{})
	backend := &mockBackend{resp: &wire.SendResponse{}}
	return &fixture{
		engine:  e,
		api:     api,
		backend: backend,
		journal: db,
		bus:     b,
		p:       NewPipeline(e, backend, db, b, logger),
	}
}

func TestSendConfirmed(t *testing.T) {
	f := newFixture(t)
	f.backend.resp = &wire.SendResponse{MessageID: "m1"}

	var seen []store.Message
	f.backend.during = func(string) { seen = f.engine.Messages("999") }

	events, unsub := f.bus.Subscribe("send.", 8)
	defer unsub()

	pid, err := f.p.Send(context.Background(), "999", "Hi")
	if err != nil {
		t.Fatal(err)
	}

	if len(seen) != 1 || seen[0].Status != store.StatusPending || seen[0].ProvisionalID != pid {
		t.Errorf("during send thread = %+v, want one pending slot", seen)
	}

	msgs := f.engine.Messages("999")
	if len(msgs) != 1 {
		t.Fatalf("messages = %+v, want one", msgs)
	}
	if msgs[0].ID != "m1" || msgs[0].Status != store.StatusSent || msgs[0].Body != "Hi" {
		t.Errorf("message = %+v", msgs[0])
	}
	if c, _ := f.engine.Conversation("999"); c.LastMessagePreview != "Hi" {
		t.Errorf("preview = %q", c.LastMessagePreview)
	}
	if f.api.calls != 0 {
		t.Errorf("send triggered %d fetches", f.api.calls)
	}

	entry, err := f.journal.GetOutbox(pid)
	if err != nil || entry == nil {
		t.Fatalf("journal entry: %v %v", entry, err)
	}
	if entry.Status != journal.StatusSent || entry.MessageID != "m1" {
		t.Errorf("journal entry = %+v", entry)
	}

	var kinds []string
	for len(kinds) < 2 {
		select {
		case evt := <-events:
			kinds = append(kinds, evt.Kind)
		case <-time.After(time.Second):
			t.Fatalf("timeout, got %v", kinds)
		}
	}
	if kinds[0] != bus.KindSendQueued || kinds[1] != bus.KindSendConfirmed {
		t.Errorf("events = %v", kinds)
	}
}

func TestSendWithoutIdentity(t *testing.T) {
	f := newFixture(t)

	pid, err := f.p.Send(context.Background(), "999", "Hi")
	if err != nil {
		t.Fatal(err)
	}
	msgs := f.engine.Messages("999")
	if len(msgs) != 1 || msgs[0].Status != store.StatusSent || msgs[0].ProvisionalID != pid {
		t.Errorf("messages = %+v, want the slot acknowledged as sent", msgs)
	}
}

func TestSendFailed(t *testing.T) {
	f := newFixture(t)
	f.backend.err = errors.New("connection refused")

	events, unsub := f.bus.Subscribe(bus.KindSendFailed, 1)
	defer unsub()

	pid, err := f.p.Send(context.Background(), "999", "Hi")
	if err == nil {
		t.Fatal("expected error")
	}

	msgs := f.engine.Messages("999")
	if len(msgs) != 1 || msgs[0].Status != store.StatusFailed || msgs[0].ProvisionalID != pid {
		t.Errorf("messages = %+v, want one failed slot", msgs)
	}

	failed, err := f.journal.ListFailed(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].ProvisionalID != pid || failed[0].ErrorMessage == "" {
		t.Errorf("failed entries = %+v", failed)
	}

	select {
	case evt := <-events:
		out, ok := evt.Payload.(bus.SendOutcome)
		if !ok || out.ProvisionalID != pid || out.Err == nil {
			t.Errorf("payload = %+v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for send.failed")
	}
}

func TestRetry(t *testing.T) {
	f := newFixture(t)
	f.backend.err = errors.New("timeout")

	first, _ := f.p.Send(context.Background(), "999", "Hi")

	f.backend.err = nil
	f.backend.resp = &wire.SendResponse{MessageID: "m2"}
	second, err := f.p.Retry(context.Background(), "999", first)
	if err != nil {
		t.Fatal(err)
	}
	if second == first {
		t.Fatal("retry reused the provisional id")
	}

	msgs := f.engine.Messages("999")
	if len(msgs) != 2 {
		t.Fatalf("messages = %+v, want failed slot plus retry", msgs)
	}
	if m, _ := f.engine.Lookup("999", first); m.Status != store.StatusFailed {
		t.Errorf("original status = %s, want failed", m.Status)
	}

	failed, err := f.journal.ListFailed(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 0 {
		t.Errorf("retried entry still listed as failed: %+v", failed)
	}
	entry, _ := f.journal.GetOutbox(second)
	if entry == nil || entry.RetryOf != first {
		t.Errorf("retry entry = %+v", entry)
	}
	if len(f.backend.calls) != 2 || f.backend.calls[1] != "999:Hi" {
		t.Errorf("backend calls = %v", f.backend.calls)
	}
}

func TestRetryRejectsNonFailed(t *testing.T) {
	f := newFixture(t)
	pid, err := f.p.Send(context.Background(), "999", "Hi")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.p.Retry(context.Background(), "999", pid); !errors.Is(err, ErrNotFailed) {
		t.Errorf("err = %v, want ErrNotFailed", err)
	}
	if _, err := f.p.Retry(context.Background(), "999", "missing"); !errors.Is(err, ErrNotFailed) {
		t.Errorf("err = %v, want ErrNotFailed", err)
	}
}

func TestSendRejectsEmptyBody(t *testing.T) {
	f := newFixture(t)
	if _, err := f.p.Send(context.Background(), "999", "  "); !errors.Is(err, ErrEmptyBody) {
		t.Errorf("err = %v, want ErrEmptyBody", err)
	}
	if len(f.backend.calls) != 0 || len(f.engine.Messages("999")) != 0 {
		t.Error("empty body reached the backend or the thread")
	}
}

func TestSendWithoutJournal(t *testing.T) {
	f := newFixture(t)
	p := NewPipeline(f.engine, f.backend, nil, f.bus, nil)
	if _, err := p.Send(context.Background(), "999", "Hi"); err != nil {
		t.Fatal(err)
	}
}
