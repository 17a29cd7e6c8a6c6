// Demo of the pingmill SDK against a local mock target.
//
// Usage:
//
//	go run ./example
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pingmill/pingmill"
)

func main() {
	// start mock target (see mock_server.go)
	go StartMockTarget(":9999")
	time.Sleep(100 * time.Millisecond)

	// a healthy probe with a body validator
	users, err := pingmill.NewProbe("users", "http://localhost:9999/health?svc=users",
		pingmill.WithInterval(3*time.Second),
		pingmill.WithTimeout(2*time.Second),
		pingmill.WithMaxFailures(3),
		pingmill.WithValidator(pingmill.JSONFieldValidator("status", "ok")),
		pingmill.WithLabels("env", "demo"),
	)
	if err != nil {
		slog.Error("failed to create probe", "error", err)
		os.Exit(1)
	}

	// a probe against a target that degrades over time, demonstrating
	// backoff: watch the gaps between its outcomes stretch while it fails
	orders, err := pingmill.NewProbe("orders", "http://localhost:9999/health?svc=orders",
		pingmill.WithInterval(2*time.Second),
		pingmill.WithBackoffCap(30*time.Second),
		pingmill.WithJitter(0.1),
		pingmill.WithMaxFailures(3),
		pingmill.WithValidator(pingmill.JSONFieldValidator("status", "ok")),
		pingmill.WithLabels("env", "demo"),
	)
	if err != nil {
		slog.Error("failed to create probe", "error", err)
		os.Exit(1)
	}

	engine, err := pingmill.New(
		pingmill.WithProbes(users, orders),
		pingmill.WithStatusServer(8080),
		pingmill.WithCallback(func(o pingmill.Outcome) {
			fmt.Printf("%-8s %-10s %-10s status=%d failures=%d latency=%s\n",
				o.Name, o.Kind, o.Health, o.StatusCode, o.Failures, o.Latency.Round(time.Millisecond))
		}),
	)
	if err != nil {
		slog.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("pingmill demo")
	fmt.Println("  probes:  users (validator), orders (degrades, shows backoff)")
	fmt.Println("  status:  http://localhost:8080/api/status")
	fmt.Println("  stream:  http://localhost:8080/api/sse")
	fmt.Println("  press Ctrl+C to stop")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := engine.Run(ctx); err != nil {
		slog.Error("engine error", "error", err)
		os.Exit(1)
	}
}
