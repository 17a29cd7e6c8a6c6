package store

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func snap(id string, failures int) Snapshot {
	return Snapshot{
		ID:        id,
		Name:      "probe-" + id,
		URL:       "https://example.com/" + id,
		Kind:      "success",
		Health:    "up",
		Failures:  failures,
		CheckedAt: time.Now(),
	}
}

// TestMemoryStore_UpdateReplaces verifies updates are keyed by id and
// replace previous values.
func TestMemoryStore_UpdateReplaces(t *testing.T) {
	m := NewMemoryStore()

	m.Update(snap("a", 0))
	m.Update(snap("b", 0))
	m.Update(snap("a", 3))

	all := m.GetAll()
	if len(all) != 2 {
		t.Fatalf("GetAll returned %d snapshots, want 2", len(all))
	}
	for _, s := range all {
		if s.ID == "a" && s.Failures != 3 {
			t.Errorf("snapshot a has Failures = %d, want 3 (latest)", s.Failures)
		}
	}
}

// TestMemoryStore_Delete verifies deleted snapshots disappear and unknown
// ids are a no-op.
func TestMemoryStore_Delete(t *testing.T) {
	m := NewMemoryStore()
	m.Update(snap("a", 0))

	m.Delete("a")
	m.Delete("never-existed")

	if got := len(m.GetAll()); got != 0 {
		t.Errorf("GetAll returned %d snapshots after delete, want 0", got)
	}
}

// TestMemoryStore_GetAllIsACopy verifies mutating the returned slice does
// not affect the store.
func TestMemoryStore_GetAllIsACopy(t *testing.T) {
	m := NewMemoryStore()
	m.Update(snap("a", 0))

	all := m.GetAll()
	all[0].Health = "down"

	if m.GetAll()[0].Health != "up" {
		t.Error("mutating the GetAll result leaked into the store")
	}
}

// TestMemoryStore_Subscribe verifies subscribers receive updates and that
// Unsubscribe closes the channel.
func TestMemoryStore_Subscribe(t *testing.T) {
	m := NewMemoryStore()
	ch := m.Subscribe()

	m.Update(snap("a", 0))

	select {
	case got := <-ch:
		if got.ID != "a" {
			t.Errorf("received snapshot %q, want a", got.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the update")
	}

	m.Unsubscribe(ch)
	m.Unsubscribe(ch) // idempotent

	if _, ok := <-ch; ok {
		t.Error("channel still open after Unsubscribe")
	}
}

// TestMemoryStore_SlowSubscriberDrops verifies a full subscriber buffer
// drops updates instead of blocking Update.
func TestMemoryStore_SlowSubscriberDrops(t *testing.T) {
	m := NewMemoryStore()
	ch := m.Subscribe()
	defer m.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 250; i++ { // more than the buffer of 100
			m.Update(snap(fmt.Sprintf("p%d", i), 0))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Update blocked on a slow subscriber")
	}
}

// TestMemoryStore_ConcurrentAccess exercises readers, writers, and
// subscribers together. Run with -race.
func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	m := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.Update(snap(fmt.Sprintf("p%d", n), j))
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = m.GetAll()
			}
		}()
	}

	ch := m.Subscribe()
	go func() {
		for range ch {
		}
	}()

	wg.Wait()
	m.Unsubscribe(ch)
}
