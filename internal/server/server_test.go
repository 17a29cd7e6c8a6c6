package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/pingmill/pingmill/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// freePort asks the kernel for an unused TCP port.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to find a free port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func startServer(t *testing.T, st store.Store) (base string, cancel context.CancelFunc) {
	t.Helper()
	port := freePort(t)
	ctx, cancelFn := context.WithCancel(context.Background())

	srv := NewServer(st, port, testLogger())
	if err := srv.Start(ctx); err != nil {
		cancelFn()
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(cancelFn)
	return fmt.Sprintf("http://127.0.0.1:%d", port), cancelFn
}

// TestServer_Status verifies /api/status serves the store's snapshots.
func TestServer_Status(t *testing.T) {
	st := store.NewMemoryStore()
	st.Update(store.Snapshot{ID: "p1", Name: "api", Health: "up", Kind: "success"})
	st.Update(store.Snapshot{ID: "p2", Name: "web", Health: "down", Kind: "timeout"})

	base, _ := startServer(t, st)

	resp, err := http.Get(base + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var got []store.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d snapshots, want 2", len(got))
	}
}

// TestServer_StatusMethodNotAllowed verifies non-GET requests are rejected.
func TestServer_StatusMethodNotAllowed(t *testing.T) {
	base, _ := startServer(t, store.NewMemoryStore())

	resp, err := http.Post(base+"/api/status", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

// TestServer_Healthz verifies the liveness endpoint.
func TestServer_Healthz(t *testing.T) {
	base, _ := startServer(t, store.NewMemoryStore())

	resp, err := http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "ok") {
		t.Errorf("healthz body = %q, want ok", body)
	}
}

// TestServer_SSE verifies the stream sends the initial snapshots and then
// live updates.
func TestServer_SSE(t *testing.T) {
	st := store.NewMemoryStore()
	st.Update(store.Snapshot{ID: "p1", Name: "api", Health: "up"})

	base, _ := startServer(t, st)

	req, _ := http.NewRequest(http.MethodGet, base+"/api/sse", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/sse failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	reader := bufio.NewReader(resp.Body)

	readEvent := func() store.Snapshot {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("failed reading SSE stream: %v", err)
			}
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var s store.Snapshot
			if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &s); err != nil {
				t.Fatalf("bad SSE payload %q: %v", line, err)
			}
			return s
		}
		t.Fatal("timed out waiting for SSE event")
		return store.Snapshot{}
	}

	if got := readEvent(); got.ID != "p1" {
		t.Errorf("initial event ID = %q, want p1", got.ID)
	}

	st.Update(store.Snapshot{ID: "p2", Name: "web", Health: "down"})
	if got := readEvent(); got.ID != "p2" {
		t.Errorf("live event ID = %q, want p2", got.ID)
	}
}

// TestServer_PortConflict verifies a bind failure surfaces synchronously
// from Start.
func TestServer_PortConflict(t *testing.T) {
	port := freePort(t)
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		t.Fatalf("failed to occupy port: %v", err)
	}
	defer ln.Close()

	srv := NewServer(store.NewMemoryStore(), port, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err == nil {
		t.Error("expected bind error, got nil")
	}
}
