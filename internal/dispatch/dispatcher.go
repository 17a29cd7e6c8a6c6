// Package dispatch delivers firing results to registered callbacks.
//
// Delivery is decoupled from scheduling through a bounded queue consumed by
// a single worker goroutine, so a slow callback can never stall the firing
// of other probes. When the queue overflows, the oldest queued result is
// dropped and the drop is logged; enqueueing never blocks. Failures inside
// one callback (including panics) are isolated from the others.
package dispatch

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/pingmill/pingmill/internal/scheduler"
)

const defaultQueueSize = 1024

// Handler consumes one firing result. Handlers run on the dispatch worker
// goroutine and must tolerate being invoked from that context.
type Handler func(scheduler.Result)

// registration pairs a handler with its task-id filter. A nil ids set means
// the handler listens to all tasks.
type registration struct {
	handler Handler
	ids     map[string]struct{}
}

func (r registration) matches(taskID string) bool {
	if r.ids == nil {
		return true
	}
	_, ok := r.ids[taskID]
	return ok
}

// Dispatcher fans firing results out to matching registrations.
//
// Register may be called at any time, including while the dispatcher runs.
// Each registration is invoked at most once per result; ordering among
// registrations for one result is unspecified, but each registration sees
// one task's results in enqueue order.
type Dispatcher struct {
	queue  chan scheduler.Result
	logger *slog.Logger

	// hook runs before the registrations for every result; the engine uses
	// it to persist the snapshot store ahead of callback delivery.
	hook Handler

	mu      sync.RWMutex
	regs    []registration
	stopped bool

	dropped atomic.Int64
	wg      sync.WaitGroup
	once    sync.Once
}

// New creates a Dispatcher with the given queue depth (<=0 uses the
// default of 1024). hook, when non-nil, runs before registered handlers for
// every delivered result.
func New(queueSize int, hook Handler, logger *slog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queue:  make(chan scheduler.Result, queueSize),
		logger: logger,
		hook:   hook,
	}
}

// Register adds a handler. With no ids the handler receives every result;
// otherwise only results for the listed task ids. Nil handlers are ignored.
func (d *Dispatcher) Register(h Handler, ids ...string) {
	if h == nil {
		return
	}
	var filter map[string]struct{}
	if len(ids) > 0 {
		filter = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			filter[id] = struct{}{}
		}
	}
	d.mu.Lock()
	d.regs = append(d.regs, registration{handler: h, ids: filter})
	d.mu.Unlock()
}

// Start launches the delivery worker. Idempotent.
func (d *Dispatcher) Start() {
	d.once.Do(func() {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for r := range d.queue {
				d.deliver(r)
			}
		}()
	})
}

// Enqueue hands a result to the dispatch worker without blocking. If the
// queue is full the oldest queued result is dropped to make room; the drop
// is counted and logged as a dispatch error.
func (d *Dispatcher) Enqueue(r scheduler.Result) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return
	}

	for {
		select {
		case d.queue <- r:
			return
		default:
		}
		// queue full: shed the oldest entry, last resort by contract
		select {
		case old := <-d.queue:
			d.dropped.Add(1)
			d.logger.Error("dispatch queue overflow, dropping oldest result",
				"dropped_task", old.TaskID,
				"dropped_name", old.Name,
			)
		default:
		}
	}
}

// Stop drains the queue, delivers what remains, and waits for the worker to
// exit. Enqueue becomes a no-op. Idempotent.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.wg.Wait()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	d.Start() // ensure the worker exists so the queue drains
	close(d.queue)
	d.wg.Wait()
}

// Dropped reports how many results were shed on queue overflow.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// deliver invokes the hook and every matching registration for one result.
func (d *Dispatcher) deliver(r scheduler.Result) {
	if d.hook != nil {
		d.invokeSafe(d.hook, r)
	}

	d.mu.RLock()
	regs := make([]registration, len(d.regs))
	copy(regs, d.regs)
	d.mu.RUnlock()

	for _, reg := range regs {
		if reg.matches(r.TaskID) {
			d.invokeSafe(reg.handler, r)
		}
	}
}

// invokeSafe calls a handler with panic recovery. Panics are logged with a
// correlation id and do not affect other registrations or the worker.
func (d *Dispatcher) invokeSafe(h Handler, r scheduler.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("callback panicked",
				"correlation_id", uuid.NewString(),
				"task", r.Name,
				"panic", fmt.Sprintf("%v", rec),
			)
		}
	}()
	h(r)
}
