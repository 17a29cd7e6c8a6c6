// Package main is the entry point for the pingmill CLI.
//
// Pingmill can be run either as a library (SDK) or as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	pingmill run -c config.yaml      # Start the probe engine
//	pingmill validate -c config.yaml # Validate configuration
//	pingmill version                 # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "pingmill",
	Short: "A recurring HTTP probe engine",
	Long: `Pingmill fires HTTP probes on configurable intervals, classifies every
firing into a typed outcome, and backs failing probes off exponentially.

Quick start:
  1. Create a config file (pingmill.yaml)
  2. Run: pingmill run -c pingmill.yaml
  3. Optionally watch http://localhost:8080/api/status

Example config:
  port: 8080
  interval: 15s
  probes:
    - name: GitHub API
      url: https://api.github.com
      validator: json:status=ok`,
	// No Run/RunE means this just shows help when called without subcommands
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this pingmill binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pingmill %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Register subcommands with root
	rootCmd.AddCommand(versionCmd)
}
