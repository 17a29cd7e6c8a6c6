package pingmill

import (
	"time"

	"github.com/pingmill/pingmill/classify"
)

// Health is the derived state of a probe, computed from its consecutive
// failure count against its configured threshold.
type Health string

const (
	// HealthUp means the probe's latest firing succeeded.
	HealthUp Health = "up"

	// HealthDegraded means the probe is failing but has not yet reached its
	// max-failures threshold.
	HealthDegraded Health = "degraded"

	// HealthDown means the probe reached its max-failures threshold, or has
	// no threshold configured and failed at all.
	HealthDown Health = "down"
)

// String implements fmt.Stringer.
func (h Health) String() string { return string(h) }

// healthFor derives a probe's health from its consecutive-failure count.
func healthFor(failures, maxFailures int) Health {
	switch {
	case failures == 0:
		return HealthUp
	case maxFailures > 0 && failures < maxFailures:
		return HealthDegraded
	default:
		return HealthDown
	}
}

// Outcome is the classified result of one probe firing.
//
// Outcome is immutable once created. Exactly one Outcome is produced per
// firing attempt, and outcomes for a single probe are delivered to callbacks
// in firing order.
type Outcome struct {
	// ProbeID identifies the probe the firing belongs to.
	ProbeID string

	// Name is the probe's display name.
	Name string

	// URL is the fired URL.
	URL string

	// Kind is the outcome classification.
	Kind classify.Kind

	// Transport narrows a transport error to the failing layer; empty for
	// other kinds.
	Transport classify.TransportKind

	// Reason is a short machine-readable explanation, e.g. "http_503".
	Reason string

	// StatusCode is the received HTTP status, zero when none arrived.
	StatusCode int

	// Labels is the probe's key-value metadata.
	Labels map[string]string

	// Latency measures from request start to classification.
	Latency time.Duration

	// CheckedAt is when the firing completed.
	CheckedAt time.Time

	// Err carries the transport or validation error, if any.
	Err error

	// Body is the response body, capped at 1MB by the transport layer.
	Body []byte

	// Failures is the probe's consecutive-failure count after this firing.
	Failures int

	// Health is the probe's derived state after this firing.
	Health Health
}

// Callback consumes outcomes. Callbacks are invoked from the dispatch
// worker goroutine and must not assume ordering across different probes;
// per-probe ordering follows firing order. Panics are recovered and logged,
// and one callback's failure never affects the others.
type Callback func(Outcome)
