package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/matheus3301/wacrm/internal/store"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache() (*Cache, *fakeClock) {
	clk := &fakeClock{t: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	return New(WithClock(clk.Now)), clk
}

func TestStaleness(t *testing.T) {
	tests := []struct {
		name  string
		age   time.Duration
		stale bool
	}{
		{"fresh", 29 * time.Second, false},
		{"boundary", 30 * time.Second, false},
		{"stale", 31 * time.Second, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, clk := newTestCache()
			e := c.Put("999", nil)
			clk.Advance(tt.age)
			if got := c.IsStale(e); got != tt.stale {
				t.Errorf("IsStale after %v = %v, want %v", tt.age, got, tt.stale)
			}
		})
	}
}

func TestInvalidateKeepsContent(t *testing.T) {
	c, _ := newTestCache()
	c.Put("999", []store.Message{{ID: "m1", Body: "x", Direction: store.Inbound}})

	c.Invalidate("999")

	e, ok := c.Get("999")
	if !ok {
		t.Fatal("entry dropped by Invalidate")
	}
	if !c.IsStale(e) {
		t.Error("entry not stale after Invalidate")
	}
	if e.Thread.Len() != 1 {
		t.Errorf("thread len = %d, want 1", e.Thread.Len())
	}
}

func TestPutPreservesOptimisticEntries(t *testing.T) {
	c, _ := newTestCache()
	e := c.Ensure("999")
	e.Thread.InsertOrMerge(store.Message{ProvisionalID: "p1", Body: "hi", Direction: store.Outbound, Status: store.StatusPending})

	c.Put("999", []store.Message{{ID: "m0", Body: "older", Direction: store.Inbound}})

	if _, ok := e.Thread.Lookup("p1"); !ok {
		t.Error("optimistic message lost on Put")
	}
	if !e.Loaded {
		t.Error("entry not marked loaded after Put")
	}
}

func TestEvictionSkipsSelected(t *testing.T) {
	c, _ := newTestCache()
	for i := 0; i < 10; i++ {
		c.Put(fmt.Sprintf("c%d", i), nil)
	}
	c.SetSelected("c0")

	c.Put("c10", nil)

	if c.Len() != 10 {
		t.Fatalf("len = %d, want 10", c.Len())
	}
	if _, ok := c.Get("c0"); !ok {
		t.Error("selected entry was evicted")
	}
	if _, ok := c.Get("c1"); ok {
		t.Error("c1 should have been evicted as the oldest non-selected entry")
	}
	if _, ok := c.Get("c10"); !ok {
		t.Error("new entry missing")
	}
}

func TestEvictionOrderFollowsLastPut(t *testing.T) {
	c, _ := newTestCache()
	for i := 0; i < 10; i++ {
		c.Put(fmt.Sprintf("c%d", i), nil)
	}
	// Refreshing c0 makes it the most recent.
	c.Put("c0", nil)
	c.Ensure("new")

	if _, ok := c.Get("c0"); !ok {
		t.Error("refreshed entry evicted")
	}
	if _, ok := c.Get("c1"); ok {
		t.Error("c1 should have been evicted")
	}
}

func TestWithCapacity(t *testing.T) {
	c := New(WithCapacity(2))
	c.Put("a", nil)
	c.Put("b", nil)
	evicted := c.TouchEviction()
	if len(evicted) != 0 {
		t.Errorf("evicted %v within capacity", evicted)
	}
	c.Put("c", nil)
	if got := c.Keys(); len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("keys = %v, want [b c]", got)
	}
}

func TestStoredEntrySurvivesTinyCapacity(t *testing.T) {
	c := New(WithCapacity(1))
	c.Put("a", nil)
	c.SetSelected("a")

	e := c.Ensure("b")
	e.Thread.InsertOrMerge(store.Message{ID: "m1", Body: "hi", Direction: store.Inbound})
	if got, ok := c.Get("b"); !ok || got != e {
		t.Fatal("ensured entry evicted on insert")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("selected entry evicted")
	}

	c.Put("d", nil)
	if _, ok := c.Get("d"); !ok {
		t.Error("put entry evicted on insert")
	}
	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted by the next store")
	}
}
