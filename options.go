package pingmill

import (
	"errors"
	"log/slog"
	"net/http"
)

// engineConfig holds mutable state during Engine construction.
type engineConfig struct {
	probes            []Probe
	maxConcurrency    int
	dispatchQueueSize int
	statusPort        int
	logger            *slog.Logger
	httpClient        *http.Client
	callbacks         []Callback
}

// Option configures an [Engine] during construction.
//
// Option implements the functional options pattern; options return an error
// if validation fails, which [New] propagates.
//
// Built-in options: [WithProbe], [WithProbes], [WithMaxConcurrency],
// [WithLogger], [WithCallback], [WithStatusServer], [WithHTTPClient],
// [WithDispatchQueueSize].
type Option func(*engineConfig) error

// WithProbe registers a single [Probe] at construction time.
//
// Can be called multiple times. Probes may also be added later with
// [Engine.Register]; an engine with no initial probes is valid.
func WithProbe(p Probe) Option {
	return func(cfg *engineConfig) error {
		cfg.probes = append(cfg.probes, p)
		return nil
	}
}

// WithProbes registers multiple [Probe] values at construction time.
// Equivalent to calling [WithProbe] for each.
func WithProbes(probes ...Probe) Option {
	return func(cfg *engineConfig) error {
		cfg.probes = append(cfg.probes, probes...)
		return nil
	}
}

// WithMaxConcurrency bounds the number of simultaneously in-flight firings
// across all probes. Due probes blocked by the bound fire as soon as a slot
// frees; firing is delayed, never skipped. Defaults to 10.
//
// Returns an error if the value is zero or negative.
func WithMaxConcurrency(n int) Option {
	return func(cfg *engineConfig) error {
		if n <= 0 {
			return errors.New("max concurrency must be positive")
		}
		cfg.maxConcurrency = n
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the engine.
//
// If not specified, [slog.Default] is used.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
//	engine, err := pingmill.New(pingmill.WithLogger(logger))
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *engineConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithCallback registers a function invoked for every [Outcome], across all
// probes. To listen to specific probes only, use [Engine.Subscribe] with the
// ids returned by [Engine.Register].
//
// Callbacks are invoked from a dedicated dispatch goroutine, decoupled from
// scheduling through a bounded queue: a slow callback delays other
// callbacks, never the firing of probes. Outcomes for one probe arrive in
// firing order. Panics are recovered and logged.
//
// Nil callbacks are silently ignored.
func WithCallback(cb Callback) Option {
	return func(cfg *engineConfig) error {
		if cb == nil {
			return nil
		}
		cfg.callbacks = append(cfg.callbacks, cb)
		return nil
	}
}

// WithStatusServer enables the HTTP status API on the given port.
//
// The server exposes GET /api/status (JSON snapshot of all probes),
// GET /api/sse (live update stream), and GET /healthz. Disabled by default.
//
// Returns an error if the port is outside 1-65535.
func WithStatusServer(port int) Option {
	return func(cfg *engineConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.statusPort = port
		return nil
	}
}

// WithHTTPClient injects the HTTP client used for all firings, for callers
// who need custom proxies, TLS configuration, or test doubles. By default
// the engine builds a pooled client tuned for large probe fleets.
//
// The engine treats the client as read-only and shares it across firings.
//
// Returns an error if the client is nil.
func WithHTTPClient(hc *http.Client) Option {
	return func(cfg *engineConfig) error {
		if hc == nil {
			return errors.New("http client cannot be nil")
		}
		cfg.httpClient = hc
		return nil
	}
}

// WithDispatchQueueSize sets the depth of the outcome dispatch queue.
// Defaults to 1024. When the queue overflows, the oldest queued outcome is
// dropped and logged; this is the documented last resort that keeps dispatch
// latency from ever blocking scheduling.
//
// Returns an error if the value is zero or negative.
func WithDispatchQueueSize(n int) Option {
	return func(cfg *engineConfig) error {
		if n <= 0 {
			return errors.New("dispatch queue size must be positive")
		}
		cfg.dispatchQueueSize = n
		return nil
	}
}
