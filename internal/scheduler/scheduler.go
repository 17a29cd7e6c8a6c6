// Package scheduler owns the set of live probe tasks and decides when each
// one fires.
//
// The design is a single owner goroutine driving a min-heap of schedule
// entries with one re-armed timer. Firings run on their own goroutines,
// bounded globally by a semaphore; the owner goroutine only ever holds the
// bookkeeping lock, never across a network call. A task is never fired
// twice concurrently: its schedule entry is removed when it fires and a new
// entry is only pushed once the firing's result has been emitted.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pingmill/pingmill/classify"
	"github.com/pingmill/pingmill/internal/transport"
)

// entry is one (task, due time) pair in the schedule heap.
type entry struct {
	at  time.Time
	seq int64
	id  string
}

// scheduleHeap is a min-heap ordered by due time, then registration order.
type scheduleHeap []entry

func (h scheduleHeap) Len() int { return len(h) }
func (h scheduleHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h scheduleHeap) Swap(i, j int)  { h[i], h[j] = h[j], h[i] }
func (h *scheduleHeap) Push(x any)    { *h = append(*h, x.(entry)) }
func (h *scheduleHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Emit receives the result of every firing. Implementations must not block;
// the engine wires this to a bounded dispatch queue.
type Emit func(Result)

// Scheduler drives recurring firings for a dynamic set of tasks.
//
// Tasks may be registered and deregistered at any time, before or after
// Start. All methods are safe for concurrent use.
type Scheduler struct {
	client         *transport.Client
	maxConcurrency int
	emit           Emit
	logger         *slog.Logger

	mu      sync.Mutex
	tasks   map[string]*taskState
	pending scheduleHeap
	nextSeq int64
	started bool
	stopped bool

	sem  chan struct{}
	wake chan struct{}

	// loopCtx stops the scheduling loop; fireCtx additionally aborts
	// in-flight firings and is only cancelled on a forced stop, so a graceful
	// stop lets firings finish within their own timeouts.
	loopCtx    context.Context
	loopCancel context.CancelFunc
	fireCtx    context.Context
	fireCancel context.CancelFunc

	loopWG   sync.WaitGroup
	firingWG sync.WaitGroup
}

// New creates a Scheduler.
//
// maxConcurrency bounds the number of simultaneously in-flight firings
// across all tasks; values below one are raised to one. emit receives every
// firing's result and must not block.
func New(client *transport.Client, maxConcurrency int, emit Emit, logger *slog.Logger) *Scheduler {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		client:         client,
		maxConcurrency: maxConcurrency,
		emit:           emit,
		logger:         logger,
		tasks:          make(map[string]*taskState),
		sem:            make(chan struct{}, maxConcurrency),
		wake:           make(chan struct{}, 1),
	}
}

// Register validates the task and inserts it with an immediate due time.
// It returns the new task's id, which is never reused. Registration is
// allowed both before Start and while the scheduler is running.
func (s *Scheduler) Register(t Task) (string, error) {
	if err := t.validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: scheduler is stopped", ErrInvalidTask)
	}
	s.nextSeq++
	st := &taskState{
		Task: t,
		id:   uuid.NewString(),
		seq:  s.nextSeq,
	}
	s.tasks[st.id] = st
	heap.Push(&s.pending, entry{at: time.Now(), seq: st.seq, id: st.id})
	s.mu.Unlock()

	s.poke()
	return st.id, nil
}

// Deregister removes a task. An in-flight firing still completes and its
// result is still emitted, but nothing further is scheduled. Deregistering
// an unknown id is a no-op.
func (s *Scheduler) Deregister(id string) {
	s.mu.Lock()
	if st, ok := s.tasks[id]; ok {
		st.deregistered = true
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	// wake the loop so a timer armed for the removed entry is re-evaluated
	s.poke()
}

// Len reports the number of live tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Start launches the scheduling loop. It is non-blocking and idempotent;
// starting after Stop is a no-op. A nil ctx falls back to
// context.Background().
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	if ctx == nil {
		ctx = context.Background()
	}
	s.loopCtx, s.loopCancel = context.WithCancel(ctx)
	// firings are deliberately not children of loopCtx
	s.fireCtx, s.fireCancel = context.WithCancel(context.Background())
	loopCtx := s.loopCtx // capture under lock to avoid a race with Stop
	s.loopWG.Add(1)
	s.mu.Unlock()

	go s.run(loopCtx)
}

// Stop halts scheduling and blocks until the loop and all firings have
// finished. With graceful set, in-flight firings run to completion within
// their own timeouts; otherwise they are cancelled immediately. Results of
// finishing firings are still emitted either way. Stop is idempotent.
func (s *Scheduler) Stop(graceful bool) {
	s.mu.Lock()
	alreadyStopped := s.stopped
	s.stopped = true
	loopCancel := s.loopCancel
	fireCancel := s.fireCancel
	s.mu.Unlock()

	if loopCancel != nil {
		loopCancel()
	}
	if !graceful && fireCancel != nil {
		fireCancel()
	}

	s.loopWG.Wait()
	s.firingWG.Wait()

	if !alreadyStopped && s.client != nil {
		s.client.Close()
	}
}

// run is the owner goroutine: it repeatedly launches every due task that
// the concurrency bound admits, then sleeps until the next due time or the
// next wake-up. Due tasks blocked by the bound stay at the head of the heap
// and are retried on the next pass; firing is delayed, never skipped.
func (s *Scheduler) run(ctx context.Context) {
	defer s.loopWG.Done()

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		next, blocked := s.launchDue()

		var deadline <-chan time.Time
		if !blocked && !next.IsZero() {
			d := time.Until(next)
			if d < 0 {
				d = 0
			}
			resetTimer(timer, d)
			deadline = timer.C
		}
		// when blocked on the concurrency bound, a firing completion pokes
		// the wake channel, so no timer is needed

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-deadline:
		}
	}
}

// launchDue fires every due, unblocked task. It returns the due time of the
// earliest remaining entry (zero if the heap is empty) and whether a due
// task is currently blocked by the concurrency bound.
func (s *Scheduler) launchDue() (next time.Time, blocked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return time.Time{}, false
	}

	now := time.Now()
	for len(s.pending) > 0 {
		head := s.pending[0]
		if head.at.After(now) {
			return head.at, false
		}

		st, ok := s.tasks[head.id]
		if !ok {
			heap.Pop(&s.pending) // deregistered, drop the stale entry
			continue
		}
		if st.inFlight {
			// late overlapping entry: coalesce, completion reschedules
			heap.Pop(&s.pending)
			continue
		}

		select {
		case s.sem <- struct{}{}:
		default:
			// concurrency bound reached; the task stays due
			return head.at, true
		}

		heap.Pop(&s.pending)
		st.inFlight = true
		s.firingWG.Add(1)
		go s.fire(st)
	}
	return time.Time{}, false
}

// fire executes one firing: transport, classification, body validation,
// failure accounting, emission, and rescheduling, in that order. The result
// is emitted before the task becomes schedulable again, which is what keeps
// per-task delivery in firing order.
func (s *Scheduler) fire(st *taskState) {
	defer s.firingWG.Done()
	defer func() {
		<-s.sem
		s.poke()
	}()

	raw := s.client.Send(s.fireCtx, st.Request, st.Timeout, uuid.NewString())
	class := classify.Result(raw.StatusCode, raw.Err)
	err := raw.Err
	if class.Kind == classify.KindSuccess && st.Validator != nil {
		if verr := s.safeValidate(st, raw.Body, raw.StatusCode); verr != nil {
			class = classify.Classification{Kind: classify.KindBadResponse, Reason: "bad_response"}
			err = verr
		}
	}

	s.mu.Lock()
	st.inFlight = false
	if class.Kind.Failure() {
		st.failures++
	} else {
		st.failures = 0
	}
	failures := st.failures
	s.mu.Unlock()

	s.emit(Result{
		TaskID:      st.id,
		Name:        st.Name,
		URL:         st.Request.URL,
		Labels:      st.Labels,
		Class:       class,
		StatusCode:  raw.StatusCode,
		Body:        raw.Body,
		Latency:     raw.Latency,
		CheckedAt:   time.Now(),
		Err:         err,
		Failures:    failures,
		MaxFailures: st.MaxFailures,
	})

	delay := st.Policy.Next(failures)

	s.mu.Lock()
	if !st.deregistered && !s.stopped {
		heap.Push(&s.pending, entry{at: time.Now().Add(delay), seq: st.seq, id: st.id})
	}
	s.mu.Unlock()
}

// safeValidate runs the task's validator inside a panic boundary. A panic is
// logged with a correlation id and reported as a validation failure rather
// than crashing the firing goroutine.
func (s *Scheduler) safeValidate(st *taskState, body []byte, statusCode int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			s.logger.Error("validator panic",
				"correlation_id", correlationID,
				"task", st.Name,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("validator panic (correlation_id: %s)", correlationID)
		}
	}()
	return st.Validator(body, statusCode)
}

// poke nudges the run loop without blocking.
func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// resetTimer re-arms a stopped-or-fired timer for d.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
