package dispatch

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pingmill/pingmill/classify"
	"github.com/pingmill/pingmill/internal/scheduler"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func result(taskID string, seq int) scheduler.Result {
	return scheduler.Result{
		TaskID:     taskID,
		Name:       taskID,
		StatusCode: 200 + seq,
		Class:      classify.Classification{Kind: classify.KindSuccess},
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

// TestDispatcher_DeliversToAll verifies an unfiltered registration receives
// every result, in enqueue order for a single task.
func TestDispatcher_DeliversToAll(t *testing.T) {
	var mu sync.Mutex
	var got []int

	d := New(16, nil, testLogger())
	d.Register(func(r scheduler.Result) {
		mu.Lock()
		got = append(got, r.StatusCode)
		mu.Unlock()
	})
	d.Start()

	for i := 0; i < 5; i++ {
		d.Enqueue(result("a", i))
	}
	d.Stop()

	if len(got) != 5 {
		t.Fatalf("delivered %d results, want 5", len(got))
	}
	for i, code := range got {
		if code != 200+i {
			t.Errorf("position %d: got status %d, want %d (order violated)", i, code, 200+i)
		}
	}
}

// TestDispatcher_Filter verifies id-filtered registrations only see their
// tasks while unfiltered ones see everything.
func TestDispatcher_Filter(t *testing.T) {
	var mu sync.Mutex
	counts := map[string]int{}

	d := New(16, nil, testLogger())
	d.Register(func(r scheduler.Result) {
		mu.Lock()
		counts["only-a"]++
		mu.Unlock()
	}, "a")
	d.Register(func(r scheduler.Result) {
		mu.Lock()
		counts["all"]++
		mu.Unlock()
	})
	d.Start()

	d.Enqueue(result("a", 0))
	d.Enqueue(result("b", 0))
	d.Enqueue(result("b", 1))
	d.Stop()

	if counts["only-a"] != 1 {
		t.Errorf("filtered registration saw %d results, want 1", counts["only-a"])
	}
	if counts["all"] != 3 {
		t.Errorf("unfiltered registration saw %d results, want 3", counts["all"])
	}
}

// TestDispatcher_PanicIsolation verifies a panicking callback does not
// prevent delivery to the remaining registrations or kill the worker.
func TestDispatcher_PanicIsolation(t *testing.T) {
	var mu sync.Mutex
	var surviving int

	d := New(16, nil, testLogger())
	d.Register(func(r scheduler.Result) {
		panic("bad callback")
	})
	d.Register(func(r scheduler.Result) {
		mu.Lock()
		surviving++
		mu.Unlock()
	})
	d.Start()

	d.Enqueue(result("a", 0))
	d.Enqueue(result("a", 1))
	d.Stop()

	if surviving != 2 {
		t.Errorf("surviving callback saw %d results, want 2", surviving)
	}
}

// TestDispatcher_HookRunsFirst verifies the pre-delivery hook observes each
// result before any registration does.
func TestDispatcher_HookRunsFirst(t *testing.T) {
	var mu sync.Mutex
	var order []string

	d := New(16, func(r scheduler.Result) {
		mu.Lock()
		order = append(order, "hook")
		mu.Unlock()
	}, testLogger())
	d.Register(func(r scheduler.Result) {
		mu.Lock()
		order = append(order, "callback")
		mu.Unlock()
	})
	d.Start()

	d.Enqueue(result("a", 0))
	d.Stop()

	if len(order) != 2 || order[0] != "hook" || order[1] != "callback" {
		t.Errorf("delivery order = %v, want [hook callback]", order)
	}
}

// TestDispatcher_OverflowDropsOldest fills the queue past capacity with the
// worker stalled and verifies the oldest results are shed and counted while
// the newest survive.
func TestDispatcher_OverflowDropsOldest(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var got []int

	d := New(4, nil, testLogger())
	d.Register(func(r scheduler.Result) {
		<-release
		mu.Lock()
		got = append(got, r.StatusCode)
		mu.Unlock()
	})
	d.Start()

	// first enqueue is picked up by the worker and stalls on release;
	// the next 4 fill the queue, the rest force drops
	for i := 0; i < 8; i++ {
		d.Enqueue(result("a", i))
		if i == 0 {
			waitFor(t, time.Second, func() bool { return len(d.queue) == 0 }, "worker never picked up first result")
		}
	}

	if d.Dropped() == 0 {
		t.Error("expected overflow drops to be counted")
	}

	close(release)
	d.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(got) == 0 {
		t.Fatal("nothing delivered")
	}
	// the newest result must have survived the shedding
	if got[len(got)-1] != 207 {
		t.Errorf("last delivered status = %d, want 207 (newest)", got[len(got)-1])
	}
}

// TestDispatcher_EnqueueAfterStop verifies Enqueue after Stop is a no-op.
func TestDispatcher_EnqueueAfterStop(t *testing.T) {
	d := New(4, nil, testLogger())
	d.Start()
	d.Stop()
	d.Enqueue(result("a", 0)) // must not panic on the closed queue
}

// TestDispatcher_StopWithoutStart verifies Stop drains a never-started
// dispatcher cleanly.
func TestDispatcher_StopWithoutStart(t *testing.T) {
	var mu sync.Mutex
	var n int

	d := New(4, nil, testLogger())
	d.Register(func(r scheduler.Result) {
		mu.Lock()
		n++
		mu.Unlock()
	})
	d.Enqueue(result("a", 0))
	d.Stop()

	if n != 1 {
		t.Errorf("delivered %d results on Stop-drain, want 1", n)
	}
}

// TestDispatcher_ConcurrentEnqueue hammers Enqueue from many goroutines.
// Run with -race.
func TestDispatcher_ConcurrentEnqueue(t *testing.T) {
	d := New(8, nil, testLogger())
	d.Register(func(r scheduler.Result) {})
	d.Start()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				d.Enqueue(result("a", j))
			}
		}()
	}
	wg.Wait()
	d.Stop()
}
