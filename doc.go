// Package pingmill provides a recurring HTTP probe engine with typed
// outcome classification, exponential backoff, and ordered callback
// delivery.
//
// Pingmill is designed as an SDK-first library: applications register
// probes describing the HTTP requests to fire and the engine runs them on
// their intervals, bounds global concurrency, classifies every firing into
// a typed outcome, and backs failing probes off exponentially. Types are
// immutable and configured via the functional options pattern.
//
// # Quick Start
//
// Create probes and run the engine with graceful shutdown:
//
//	p, _ := pingmill.NewProbe("API", "https://api.example.com/health")
//	engine, _ := pingmill.New(
//	    pingmill.WithProbe(p),
//	    pingmill.WithCallback(func(o pingmill.Outcome) {
//	        fmt.Println(o.Name, o.Kind, o.Health)
//	    }),
//	)
//
//	// Shut down gracefully on SIGINT/SIGTERM
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	engine.Run(ctx) // blocks until context is cancelled
//
// # Probes
//
// A probe is an immutable request template plus scheduling parameters:
//
//	p, err := pingmill.NewProbe("API", "https://api.example.com/health",
//	    pingmill.WithInterval(30 * time.Second),
//	    pingmill.WithTimeout(5 * time.Second),
//	    pingmill.WithLabels("env", "production", "team", "platform"),
//	    pingmill.WithCredentials("svc-name", "svc-key"),
//	    pingmill.WithMaxFailures(3),
//	    pingmill.WithValidator(pingmill.JSONFieldValidator("status", "ok")),
//	)
//
// Probes can be registered and deregistered while the engine runs; see
// [Engine.Register] and [Engine.Deregister].
//
// # Outcomes
//
// Every firing produces exactly one [Outcome], classified by [classify.Kind]:
// success, HTTP error, timeout, transport error, or bad response (when a
// validator rejects the body). Outcomes for one probe always arrive in
// firing order, and consecutive failures stretch the probe's interval per
// the [backoff] package until the next success resets it.
//
// # Architecture
//
// Pingmill consists of two public leaf packages and several internal ones:
//
//   - classify: Pure outcome classification from status code and error
//   - backoff: Capped exponential backoff with optional jitter
//   - internal/transport: Pooled HTTP client and request templating
//   - internal/scheduler: Timer-ordered firing loop with bounded concurrency
//   - internal/dispatch: Ordered, queue-decoupled callback delivery
//   - internal/store: In-memory snapshots with pub/sub for live updates
//   - internal/server: Optional status API with Server-Sent Events
//
// The internal packages are not part of the public API and may change
// without notice.
package pingmill
