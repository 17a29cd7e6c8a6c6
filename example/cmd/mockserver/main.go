// Standalone mock target for testing the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/pingmill run -c example/config.yaml
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"
)

func main() {
	fmt.Println("Mock target starting on :9999")
	fmt.Println("Services cycle through: ok → broken body → 503")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	var (
		states = make(map[string]*mockState)
		mu     sync.Mutex
		phases = []string{"ok", "broken", "unavailable"}
	)

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		svc := r.URL.Query().Get("svc")
		env := r.URL.Query().Get("env")
		key := svc + "-" + env

		time.Sleep(time.Duration(20+rand.Intn(80)) * time.Millisecond)

		mu.Lock()
		state, exists := states[key]
		if !exists {
			state = &mockState{
				phaseIdx:     0,
				nextChangeAt: time.Now().Add(time.Duration(15+rand.Intn(26)) * time.Second),
			}
			states[key] = state
		}

		if time.Now().After(state.nextChangeAt) {
			oldPhase := phases[state.phaseIdx]
			state.phaseIdx = (state.phaseIdx + 1) % len(phases)
			state.nextChangeAt = time.Now().Add(time.Duration(15+rand.Intn(26)) * time.Second)
			slog.Info("phase change", "service", key, "from", oldPhase, "to", phases[state.phaseIdx])
		}
		phase := phases[state.phaseIdx]
		mu.Unlock()

		switch phase {
		case "unavailable":
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		case "broken":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{
				"svc":    svc,
				"env":    env,
				"status": "maintenance",
			})
		default:
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{
				"svc":    svc,
				"env":    env,
				"status": "ok",
			})
		}
	})

	if err := http.ListenAndServe(":9999", nil); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

type mockState struct {
	phaseIdx     int
	nextChangeAt time.Time
}
