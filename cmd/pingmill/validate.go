package main

import (
	"fmt"

	"github.com/pingmill/pingmill/config"
	"github.com/spf13/cobra"
)

// validateCmd validates a config file without starting the engine.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a pingmill configuration file without starting the engine.

This command parses the YAML, expands environment variables, and validates
all fields. It's useful for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  pingmill validate -c config.yaml
  pingmill validate --config /etc/pingmill/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Count total probes (direct + from fleets)
	directProbes := len(cfg.Probes)
	fleetProbes := 0
	for _, f := range cfg.Fleets {
		// Calculate cartesian product size
		size := 1
		for _, vals := range f.Dimensions {
			size *= len(vals)
		}
		fleetProbes += size
	}

	fmt.Printf("Config is valid!\n")
	fmt.Printf("  Interval:        %s\n", cfg.Interval.Duration())
	fmt.Printf("  Max concurrency: %d\n", cfg.MaxConcurrency)
	if cfg.Port != 0 {
		fmt.Printf("  Status port:     %d\n", cfg.Port)
	}
	fmt.Printf("  Probes:          %d direct + %d from fleets = %d total\n",
		directProbes, fleetProbes, directProbes+fleetProbes)

	return nil
}
