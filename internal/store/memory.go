package store

import (
	"sync"
)

// MemoryStore is an in-memory implementation of [Store].
//
// Snapshots are keyed by probe id; updates replace previous values.
// Subscribers receive updates via buffered channels (buffer size 100) with
// non-blocking sends, so a slow subscriber drops updates instead of stalling
// the engine.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot

	subMu       sync.RWMutex
	subscribers map[chan Snapshot]struct{}
}

// NewMemoryStore creates an empty [MemoryStore], immediately ready for use.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots:   make(map[string]Snapshot),
		subscribers: make(map[chan Snapshot]struct{}),
	}
}

// Update stores a snapshot and notifies all subscribers.
func (m *MemoryStore) Update(s Snapshot) {
	m.mu.Lock()
	m.snapshots[s.ID] = s
	m.mu.Unlock()

	m.notifySubscribers(s)
}

// Delete removes a probe's snapshot. Unknown ids are a no-op.
func (m *MemoryStore) Delete(id string) {
	m.mu.Lock()
	delete(m.snapshots, id)
	m.mu.Unlock()
}

// GetAll returns a copy of all current snapshots. Order is not guaranteed.
func (m *MemoryStore) GetAll() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Snapshot, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		out = append(out, s)
	}
	return out
}

// Subscribe creates a new subscription.
//
// The returned channel buffers 100 updates; when full, further updates are
// dropped for that subscriber. Callers must [MemoryStore.Unsubscribe] when
// done to prevent leaks.
func (m *MemoryStore) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, 100)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel. Safe to call
// multiple times or with an unknown channel.
func (m *MemoryStore) Unsubscribe(ch <-chan Snapshot) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// notifySubscribers fans an update out non-blocking; full buffers drop.
func (m *MemoryStore) notifySubscribers(s Snapshot) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- s:
		default:
			// subscriber is slow, drop the update
		}
	}
}
