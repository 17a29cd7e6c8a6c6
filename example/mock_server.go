package main

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// mockState tracks the phase and next change time for a single service.
type mockState struct {
	phaseIdx     int
	nextChangeAt time.Time
}

// StartMockTarget runs a mock health endpoint whose services cycle through
// phases: healthy JSON, broken JSON body (trips validators), and HTTP 503.
// Each service changes phase every 15-40 seconds.
// Call this in a goroutine before creating probes.
func StartMockTarget(addr string) {
	var (
		states = make(map[string]*mockState)
		mu     sync.Mutex
	)
	phases := []string{"ok", "broken", "unavailable"}

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		svc := r.URL.Query().Get("svc")

		// simulate small latency variance
		time.Sleep(time.Duration(20+rand.Intn(80)) * time.Millisecond)

		mu.Lock()
		state, exists := states[svc]
		if !exists {
			// first change in 15-40 seconds
			state = &mockState{
				phaseIdx:     0,
				nextChangeAt: time.Now().Add(time.Duration(15+rand.Intn(26)) * time.Second),
			}
			states[svc] = state
		}

		// change phase when scheduled time is reached
		if time.Now().After(state.nextChangeAt) {
			oldPhase := phases[state.phaseIdx]
			state.phaseIdx = (state.phaseIdx + 1) % len(phases)
			state.nextChangeAt = time.Now().Add(time.Duration(15+rand.Intn(26)) * time.Second)
			slog.Info("phase change", "service", svc, "from", oldPhase, "to", phases[state.phaseIdx])
		}
		phase := phases[state.phaseIdx]
		mu.Unlock()

		switch phase {
		case "unavailable":
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		case "broken":
			// 200 with a body a validator rejects
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{
				"svc":    svc,
				"status": "maintenance",
			})
		default:
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{
				"svc":    svc,
				"status": "ok",
			})
		}
	})

	if err := http.ListenAndServe(addr, nil); err != nil {
		slog.Error("mock target error", "error", err)
	}
}
