package scheduler

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/pingmill/pingmill/backoff"
	"github.com/pingmill/pingmill/classify"
	"github.com/pingmill/pingmill/internal/transport"
)

// ErrInvalidTask marks task parameters rejected by Register. Callers can
// test for it with errors.Is.
var ErrInvalidTask = errors.New("invalid task configuration")

// Validator inspects a 2xx response body and reports whether it actually
// represents a healthy answer. A non-nil return classifies the firing as a
// bad response.
type Validator func(body []byte, statusCode int) error

// Task is the per-probe configuration handed to [Scheduler.Register].
// It is copied on registration and never mutated by the scheduler; all
// mutable scheduling state lives in the scheduler's own bookkeeping.
type Task struct {
	// Name is the display name used in results and logs.
	Name string

	// Request is the immutable template fired on each attempt.
	Request transport.Request

	// Timeout bounds each individual firing.
	Timeout time.Duration

	// Policy yields the delay until the next firing from the consecutive
	// failure count.
	Policy backoff.Policy

	// MaxFailures is the consecutive-failure threshold at which the probe
	// is considered down rather than degraded. Zero disables the derived
	// health levels (any failure is down).
	MaxFailures int

	// Validator optionally vets 2xx response bodies.
	Validator Validator

	// Labels is key-value metadata carried through to results.
	Labels map[string]string
}

// validate checks the timing config and request template, mirroring what the
// engine promises: a task that registers cleanly can always be fired.
func (t Task) validate() error {
	if t.Request.URL == "" {
		return fmt.Errorf("%w: URL is required", ErrInvalidTask)
	}
	u, err := url.Parse(t.Request.URL)
	if err != nil {
		return fmt.Errorf("%w: malformed URL %q: %v", ErrInvalidTask, t.Request.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: URL %q must use http or https", ErrInvalidTask, t.Request.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: URL %q has no host", ErrInvalidTask, t.Request.URL)
	}
	if t.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidTask)
	}
	if t.Policy.Base <= 0 {
		return fmt.Errorf("%w: base interval must be positive", ErrInvalidTask)
	}
	if t.Policy.Cap < 0 {
		return fmt.Errorf("%w: backoff cap must not be negative", ErrInvalidTask)
	}
	if t.Policy.Jitter < 0 || t.Policy.Jitter >= 1 {
		return fmt.Errorf("%w: jitter fraction must be in [0, 1)", ErrInvalidTask)
	}
	if t.MaxFailures < 0 {
		return fmt.Errorf("%w: max failures must not be negative", ErrInvalidTask)
	}
	return nil
}

// Result is the scheduler-internal outcome of one firing.
//
// This is the internal mirror of the public outcome type, decoupled from the
// root package to avoid an import cycle.
type Result struct {
	// TaskID identifies the task the firing belongs to.
	TaskID string

	// Name is the task's display name.
	Name string

	// URL is the fired URL.
	URL string

	// Labels is the task's metadata.
	Labels map[string]string

	// Class is the typed classification of the firing.
	Class classify.Classification

	// StatusCode is the received HTTP status, zero when none arrived.
	StatusCode int

	// Body is the response body (capped by the transport layer).
	Body []byte

	// Latency measures request start to classification.
	Latency time.Duration

	// CheckedAt is when the firing completed.
	CheckedAt time.Time

	// Err carries the transport or validation error, if any.
	Err error

	// Failures is the task's consecutive-failure count after this firing.
	Failures int

	// MaxFailures echoes the task's configured threshold so consumers can
	// derive health without a registry lookup.
	MaxFailures int
}

// taskState is the scheduler's mutable bookkeeping for one registered task.
// All fields are guarded by the scheduler mutex except the embedded config,
// which is immutable after registration.
type taskState struct {
	Task

	id  string
	seq int64 // registration order, ties broken in favor of earlier tasks

	inFlight     bool
	failures     int
	deregistered bool
}
