package store

import "time"

// Snapshot is the stored view of a probe's most recent firing.
//
// Snapshot is optimized for JSON serialization by the status API and SSE
// stream; it is decoupled from the scheduler's result type so the two can
// evolve independently.
type Snapshot struct {
	// ID is the probe's task id.
	ID string `json:"id"`

	// Name is the probe's display name.
	Name string `json:"name"`

	// URL is the fired URL.
	URL string `json:"url"`

	// Kind is the outcome classification of the latest firing.
	Kind string `json:"kind"`

	// Health is the derived probe health ("up", "degraded", "down").
	Health string `json:"health"`

	// Labels contains key-value metadata for grouping and filtering.
	Labels map[string]string `json:"labels"`

	// StatusCode is the latest HTTP status, zero when none arrived.
	StatusCode int `json:"status_code"`

	// LatencyMs is the latest firing latency in milliseconds.
	LatencyMs int64 `json:"latency_ms"`

	// Failures is the probe's consecutive-failure count.
	Failures int `json:"failures"`

	// CheckedAt is the timestamp of the latest firing.
	CheckedAt time.Time `json:"checked_at"`

	// Error is the latest firing's error message, nil when it had none.
	Error *string `json:"error"`
}

// Store holds the latest Snapshot per probe and lets consumers subscribe to
// updates. Implementations must be safe for concurrent use; the pub/sub side
// feeds the SSE stream.
type Store interface {
	// Update stores a snapshot, keyed by ID, and notifies subscribers.
	Update(s Snapshot)

	// Delete removes a probe's snapshot (after deregistration).
	Delete(id string)

	// GetAll returns a copy of all current snapshots.
	GetAll() []Snapshot

	// Subscribe returns a buffered channel of updates. Slow consumers may
	// miss updates. Callers must Unsubscribe when done.
	Subscribe() <-chan Snapshot

	// Unsubscribe removes a subscription and closes its channel. Safe to
	// call with an already-removed channel.
	Unsubscribe(ch <-chan Snapshot)
}
