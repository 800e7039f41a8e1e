package pool

import (
	"testing"
	"time"
)

func newTestStickinessTable(t *testing.T, ttl time.Duration) (*StickinessTable, *fakeClock) {
	t.Helper()

	st := NewStickinessTable(ttl, time.Hour) // cleanup driven manually in tests
	clock := newFakeClock()
	st.now = clock.Now
	t.Cleanup(st.Stop)

	return st, clock
}

func TestStickinessTableGetSet(t *testing.T) {
	st, _ := newTestStickinessTable(t, time.Minute)

	if _, ok := st.Get("client-1"); ok {
		t.Error("Get() on empty table returned a mapping")
	}

	st.Set("client-1", "ep-a")

	got, ok := st.Get("client-1")
	if !ok || got != "ep-a" {
		t.Errorf("Get() = %q, %v; want ep-a, true", got, ok)
	}

	// Reassignment overwrites.
	st.Set("client-1", "ep-b")
	if got, _ := st.Get("client-1"); got != "ep-b" {
		t.Errorf("Get() after reassignment = %q, want ep-b", got)
	}
}

func TestStickinessTableExpiry(t *testing.T) {
	st, clock := newTestStickinessTable(t, time.Minute)

	st.Set("client-1", "ep-a")

	clock.Advance(30 * time.Second)
	if _, ok := st.Get("client-1"); !ok {
		t.Fatal("entry expired before its TTL")
	}

	// A refresh restarts the window from now.
	st.Set("client-1", "ep-a")
	clock.Advance(45 * time.Second)
	if _, ok := st.Get("client-1"); !ok {
		t.Fatal("refreshed entry expired early")
	}

	clock.Advance(30 * time.Second)
	if _, ok := st.Get("client-1"); ok {
		t.Error("entry survived past its TTL")
	}
}

func TestStickinessTableCleanup(t *testing.T) {
	st, clock := newTestStickinessTable(t, time.Minute)

	st.Set("client-1", "ep-a")
	st.Set("client-2", "ep-b")
	clock.Advance(2 * time.Minute)
	st.Set("client-3", "ep-c")

	if st.Len() != 3 {
		t.Fatalf("Len() = %d, want 3 before cleanup", st.Len())
	}

	st.cleanup()

	if st.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after cleanup", st.Len())
	}
	if _, ok := st.Get("client-3"); !ok {
		t.Error("live entry removed by cleanup")
	}
}

func TestStickinessTableDelete(t *testing.T) {
	st, _ := newTestStickinessTable(t, time.Minute)

	st.Set("client-1", "ep-a")
	st.Delete("client-1")

	if _, ok := st.Get("client-1"); ok {
		t.Error("Get() returned a deleted mapping")
	}

	// Deleting a missing key is a no-op.
	st.Delete("client-1")
}

func TestStickinessTableStats(t *testing.T) {
	st, clock := newTestStickinessTable(t, time.Minute)

	st.Set("stale", "ep-a")
	clock.Advance(2 * time.Minute)
	st.Set("live", "ep-b")

	stats := st.Stats()
	if stats["total_entries"] != 2 {
		t.Errorf("total_entries = %v, want 2", stats["total_entries"])
	}
	if stats["live_entries"] != 1 {
		t.Errorf("live_entries = %v, want 1", stats["live_entries"])
	}
}
