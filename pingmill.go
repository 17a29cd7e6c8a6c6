package pingmill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pingmill/pingmill/backoff"
	"github.com/pingmill/pingmill/internal/dispatch"
	"github.com/pingmill/pingmill/internal/scheduler"
	"github.com/pingmill/pingmill/internal/server"
	"github.com/pingmill/pingmill/internal/store"
	"github.com/pingmill/pingmill/internal/transport"
)

const (
	defaultMaxConcurrency    = 10
	defaultDispatchQueueSize = 1024
)

// ErrInvalidProbe is returned by [Engine.Register] when a probe fails
// registration-time validation. Check for it with [errors.Is].
var ErrInvalidProbe = errors.New("invalid probe")

// Engine is the main orchestrator for recurring HTTP probing.
//
// Engine fires registered probes on their intervals, classifies each firing
// into a typed outcome, backs failing probes off exponentially, and delivers
// outcomes to callbacks in firing order. It is created with [New] using
// functional options and started with [Engine.Run].
//
// The typical lifecycle is:
//
//	engine, err := pingmill.New(pingmill.WithProbe(p))
//	if err != nil {
//	    slog.Error("failed to create engine", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	engine.Run(ctx) // blocks until context cancelled
//
// The caller controls the lifecycle via the context. Cancelling it triggers
// graceful shutdown: in-flight firings finish within their timeouts and
// their outcomes are still delivered. [Engine.Shutdown] with graceful=false
// forces shutdown by cancelling in-flight firings instead.
type Engine struct {
	logger     *slog.Logger
	statusPort int

	client     *transport.Client
	store      store.Store
	dispatcher *dispatch.Dispatcher
	scheduler  *scheduler.Scheduler

	shutdownCh   chan bool
	shutdownOnce sync.Once

	mu    sync.Mutex
	names map[string]string // probe name -> id, for duplicate detection and lookup
}

// New creates an [Engine] with the given options.
//
// Probes may be supplied up front via [WithProbe] or [WithProbes], or added
// later with [Engine.Register]; an engine with no probes is valid and idles
// until one is registered. Defaults:
//   - Max concurrency: 10
//   - Dispatch queue size: 1024
//   - Status server: disabled
//
// Returns an error if any option is invalid, if two probes share a name, or
// if an initial probe fails registration.
//
// Example:
//
//	engine, err := pingmill.New(
//	    pingmill.WithProbes(api, website),
//	    pingmill.WithMaxConcurrency(20),
//	    pingmill.WithCallback(func(o pingmill.Outcome) {
//	        fmt.Println(o.Name, o.Kind)
//	    }),
//	)
func New(opts ...Option) (*Engine, error) {
	cfg := &engineConfig{
		maxConcurrency:    defaultMaxConcurrency,
		dispatchQueueSize: defaultDispatchQueueSize,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	client := transport.NewClient()
	if cfg.httpClient != nil {
		client = transport.NewClientWith(cfg.httpClient)
	}

	e := &Engine{
		logger:     logger,
		statusPort: cfg.statusPort,
		client:     client,
		store:      store.NewMemoryStore(),
		shutdownCh: make(chan bool, 1),
		names:      make(map[string]string),
	}

	e.dispatcher = dispatch.New(cfg.dispatchQueueSize, e.record, logger)
	e.scheduler = scheduler.New(client, cfg.maxConcurrency, e.dispatcher.Enqueue, logger)

	for _, cb := range cfg.callbacks {
		e.Subscribe(cb)
	}

	for _, p := range cfg.probes {
		if _, err := e.Register(p); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// Run fires probes and serves the status API until shutdown.
//
// Run is a blocking call. It returns when the context is cancelled or
// [Engine.Shutdown] is called; context cancellation shuts down gracefully.
// During execution:
//
//   - Every registered probe fires immediately, then on its interval,
//     stretched by backoff while it fails
//   - Outcomes flow to callbacks in per-probe firing order
//   - If configured, the status API serves on the configured port
//
// Returns nil on shutdown. Returns an error if the status server fails to
// bind its port.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("pingmill starting", "probe_count", e.scheduler.Len())

	if ctx.Err() != nil {
		return nil
	}

	// derived context so Shutdown also stops the status server
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.dispatcher.Start()
	e.scheduler.Start(runCtx)

	if e.statusPort > 0 {
		srv := server.NewServer(e.store, e.statusPort, e.logger)
		if err := srv.Start(runCtx); err != nil {
			e.scheduler.Stop(true)
			e.dispatcher.Stop()
			return fmt.Errorf("failed to start status server: %w", err)
		}
		e.logger.Info("status server listening", "addr", srv.Addr())
	}

	graceful := true
	select {
	case <-ctx.Done():
	case g := <-e.shutdownCh:
		graceful = g
	}

	// stop scheduling first so no new firings start, then drain the
	// dispatch queue so every produced outcome reaches its callbacks
	e.scheduler.Stop(graceful)
	e.dispatcher.Stop()

	e.logger.Info("pingmill stopped", "graceful", graceful, "dropped_outcomes", e.dispatcher.Dropped())
	return nil
}

// Shutdown stops a running engine.
//
// With graceful=true, in-flight firings finish within their timeouts and
// their outcomes are delivered before Run returns. With graceful=false,
// in-flight firings are cancelled immediately; each still produces exactly
// one outcome, classified as cancelled.
//
// Shutdown is safe to call concurrently and more than once; only the first
// call takes effect. Cancelling the context passed to [Engine.Run] is
// equivalent to a graceful Shutdown.
func (e *Engine) Shutdown(graceful bool) {
	e.shutdownOnce.Do(func() { e.shutdownCh <- graceful })
}

// Register adds a probe to a constructed engine and returns its unique id.
//
// The id identifies the probe in outcomes and for [Engine.Deregister] and
// [Engine.Subscribe]. Ids are unique per registration and never reused, so
// a probe deregistered and registered again gets a fresh id.
//
// Works before or after [Engine.Run]: probes registered while running fire
// immediately. Returns an error wrapping [ErrInvalidProbe] if the probe is
// invalid, or if another registered probe already uses the name.
func (e *Engine) Register(p Probe) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.names[p.Name()]; ok {
		return "", fmt.Errorf("%w: duplicate probe name %q", ErrInvalidProbe, p.Name())
	}

	policy, err := backoff.New(p.Interval(), p.BackoffCap(), p.Jitter())
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidProbe, err)
	}

	var validator scheduler.Validator
	if v := p.Validator(); v != nil {
		validator = scheduler.Validator(v)
	}

	id, err := e.scheduler.Register(scheduler.Task{
		Name: p.Name(),
		Request: transport.Request{
			Method:  p.Method(),
			URL:     p.URL(),
			Headers: p.Headers(),
			Body:    p.Body(),
		},
		Timeout:     p.Timeout(),
		Policy:      policy,
		MaxFailures: p.MaxFailures(),
		Validator:   validator,
		Labels:      p.Labels(),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidProbe, err)
	}

	e.names[p.Name()] = id
	e.logger.Debug("probe registered", "probe", p.Name(), "id", id, "url", p.URL())
	return id, nil
}

// Deregister removes a probe by id.
//
// The probe stops firing and is removed from the status API. If a firing is
// in flight its outcome is still delivered; no outcome after that one is.
// Unknown ids are a no-op.
func (e *Engine) Deregister(id string) {
	e.mu.Lock()
	for name, taskID := range e.names {
		if taskID == id {
			delete(e.names, name)
			break
		}
	}
	// delete under the same lock record updates under, so a concurrent
	// trailing outcome cannot re-insert the snapshot
	e.store.Delete(id)
	e.mu.Unlock()

	e.scheduler.Deregister(id)
}

// ProbeID returns the id of the registered probe with the given name, and
// whether one exists.
func (e *Engine) ProbeID(name string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.names[name]
	return id, ok
}

// Subscribe registers a callback for outcomes.
//
// With no ids, the callback receives every outcome; with ids, only outcomes
// of those probes. Callbacks run on a dedicated dispatch goroutine in
// per-probe firing order; a panicking callback is recovered and logged
// without affecting others. Subscribe may be called before or during
// [Engine.Run]. Nil callbacks are ignored.
func (e *Engine) Subscribe(cb Callback, ids ...string) {
	if cb == nil {
		return
	}
	e.dispatcher.Register(func(r scheduler.Result) {
		cb(outcomeOf(r))
	}, ids...)
}

// record is the dispatch hook: it persists the snapshot before any callback
// sees the outcome, and logs the firing.
//
// A probe deregistered while its final firing was in flight is already gone
// from the store; its trailing outcome must not re-insert a snapshot, so
// record only persists outcomes of currently registered ids.
func (e *Engine) record(r scheduler.Result) {
	e.mu.Lock()
	if e.names[r.Name] == r.TaskID {
		e.store.Update(snapshotOf(r))
	}
	e.mu.Unlock()

	attrs := []any{
		"probe", r.Name,
		"url", r.URL,
		"kind", string(r.Class.Kind),
		"status", r.StatusCode,
		"latency_ms", r.Latency.Milliseconds(),
		"failures", r.Failures,
	}
	if r.Err != nil {
		e.logger.Warn("firing failed", append(attrs, "error", r.Err.Error())...)
	} else if r.Class.Kind.Failure() {
		e.logger.Warn("firing failed", append(attrs, "reason", r.Class.Reason)...)
	} else {
		e.logger.Debug("firing completed", attrs...)
	}
}

// outcomeOf converts an internal scheduler result to the public Outcome.
func outcomeOf(r scheduler.Result) Outcome {
	return Outcome{
		ProbeID:    r.TaskID,
		Name:       r.Name,
		URL:        r.URL,
		Kind:       r.Class.Kind,
		Transport:  r.Class.Transport,
		Reason:     r.Class.Reason,
		StatusCode: r.StatusCode,
		Labels:     copyMap(r.Labels),
		Latency:    r.Latency,
		CheckedAt:  r.CheckedAt,
		Err:        r.Err,
		Body:       r.Body,
		Failures:   r.Failures,
		Health:     healthFor(r.Failures, r.MaxFailures),
	}
}

// snapshotOf converts an internal scheduler result to a store snapshot.
func snapshotOf(r scheduler.Result) store.Snapshot {
	var errStr *string
	if r.Err != nil {
		s := r.Err.Error()
		errStr = &s
	}
	return store.Snapshot{
		ID:         r.TaskID,
		Name:       r.Name,
		URL:        r.URL,
		Kind:       string(r.Class.Kind),
		Health:     string(healthFor(r.Failures, r.MaxFailures)),
		Labels:     r.Labels,
		StatusCode: r.StatusCode,
		LatencyMs:  r.Latency.Milliseconds(),
		Failures:   r.Failures,
		CheckedAt:  r.CheckedAt,
		Error:      errStr,
	}
}
