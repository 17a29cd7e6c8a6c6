// Package server exposes the engine's read-only status surface over HTTP.
//
// This is an operational convenience around the snapshot store, not part of
// the probe engine itself: the engine defines no wire protocol of its own
// beyond the outbound requests it fires.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/pingmill/pingmill/internal/store"
)

// sseWriteTimeout bounds a single SSE write so slow or vanished clients
// cannot leak handler goroutines. Must stay <= the shutdown timeout.
const sseWriteTimeout = 5 * time.Second

// Server serves the probe status API.
//
// Endpoints:
//   - GET /healthz: liveness of the server itself
//   - GET /api/status: all current probe snapshots as JSON
//   - GET /api/sse: Server-Sent Events stream of snapshot updates
type Server struct {
	store      store.Store
	port       int
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a status [Server] over the given store. The server does
// not listen until [Server.Start].
func NewServer(st store.Store, port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:  st,
		port:   port,
		logger: logger,
	}
}

// Start begins serving in a background goroutine.
//
// The listener is created synchronously so a port conflict surfaces as an
// error here rather than later in a goroutine. The server shuts down
// gracefully, with a 5 second deadline, when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/sse", s.handleSSE)

	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	s.httpServer = &http.Server{
		Addr:    ln.Addr().String(),
		Handler: mux,
		// request contexts derive from the server context, so cancelling ctx
		// also unblocks long-running handlers like SSE
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("status server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("status server shutdown error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or empty before Start.
func (s *Server) Addr() string {
	if s.httpServer == nil {
		return ""
	}
	return s.httpServer.Addr
}

// handleHealthz reports the server's own liveness.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleStatus returns all current probe snapshots as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshots := s.store.GetAll()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")

	if err := json.NewEncoder(w).Encode(snapshots); err != nil {
		s.logger.Error("failed to encode status response", "error", err)
	}
}

// handleSSE streams snapshot updates via Server-Sent Events.
//
// Writes carry deadlines so a blocked client cannot pin the handler past
// shutdown: a timed-out write drops the client instead of blocking forever.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)

	// some ResponseWriter implementations cannot set write deadlines; fall
	// back to deadline-less writes after the first failure
	deadlinesSupported := true

	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}

		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	ch := s.store.Subscribe()
	defer s.store.Unsubscribe(ch)

	// send current snapshots first so clients start from a full picture
	for _, snap := range s.store.GetAll() {
		data, err := json.Marshal(snap)
		if err != nil {
			continue
		}
		if err := writeAndFlush(data); err != nil {
			return
		}
	}

	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(snap)
			if err != nil {
				continue
			}
			if err := writeAndFlush(data); err != nil {
				return
			}

		case <-r.Context().Done():
			// fires on both client disconnect and server shutdown via
			// BaseContext
			return
		}
	}
}
