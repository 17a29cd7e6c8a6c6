package config

import (
	"bytes"
	"fmt"
	"sort"
	"text/template"
	"time"

	"github.com/pingmill/pingmill"
)

// BuildProbes converts parsed configuration into SDK Probe objects.
//
// It processes both direct probes and fleets, returning a combined slice.
// Fleet dimensions are expanded via cartesian product.
func BuildProbes(cfg *Config) ([]pingmill.Probe, error) {
	var probes []pingmill.Probe

	// convert direct probes
	for _, pc := range cfg.Probes {
		p, err := buildProbe(cfg, pc)
		if err != nil {
			return nil, err
		}
		probes = append(probes, p)
	}

	// convert fleets (cartesian product expansion)
	for _, fc := range cfg.Fleets {
		fleetProbes, err := buildFleetProbes(cfg, fc)
		if err != nil {
			return nil, err
		}
		probes = append(probes, fleetProbes...)
	}

	return probes, nil
}

// buildProbe converts a single ProbeConfig to an SDK Probe.
func buildProbe(cfg *Config, pc ProbeConfig) (pingmill.Probe, error) {
	var opts []pingmill.ProbeOption

	if pc.Method != "" {
		opts = append(opts, pingmill.WithMethod(pc.Method))
	}

	if pc.Body != "" {
		opts = append(opts, pingmill.WithBody([]byte(pc.Body)))
	}

	opts = append(opts, pingmill.WithTimeout(resolveTimeout(cfg, pc.Timeout, pc.TimeoutClass)))

	interval := pc.Interval
	if interval == 0 {
		interval = cfg.Interval
	}
	opts = append(opts, pingmill.WithInterval(interval.Duration()))

	if pc.BackoffCap != 0 {
		opts = append(opts, pingmill.WithBackoffCap(pc.BackoffCap.Duration()))
	}

	if pc.Jitter != 0 {
		opts = append(opts, pingmill.WithJitter(pc.Jitter))
	}

	if pc.MaxFailures != 0 {
		opts = append(opts, pingmill.WithMaxFailures(pc.MaxFailures))
	}

	if len(pc.Headers) > 0 {
		opts = append(opts, pingmill.WithHeaders(mapToKeyValuePairs(pc.Headers)...))
	}

	if len(pc.Labels) > 0 {
		opts = append(opts, pingmill.WithLabels(mapToKeyValuePairs(pc.Labels)...))
	}

	if pc.Credentials != nil {
		opts = append(opts, pingmill.WithCredentials(pc.Credentials.Name, pc.Credentials.Key))
	}

	if v := buildValidator(pc.Validator); v != nil {
		opts = append(opts, pingmill.WithValidator(v))
	}

	return pingmill.NewProbe(pc.Name, pc.URL, opts...)
}

// resolveTimeout picks a probe's effective timeout: an explicit timeout
// wins, then a named class, then the default class.
func resolveTimeout(cfg *Config, timeout Duration, class string) time.Duration {
	if timeout != 0 {
		return timeout.Duration()
	}
	if class != "" {
		return cfg.Timeouts[class].Duration()
	}
	return cfg.DefaultTimeout()
}

// mapToKeyValuePairs converts a map to a sorted slice of key-value pairs.
func mapToKeyValuePairs(m map[string]string) []string {
	// sort keys for deterministic ordering
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(m)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return pairs
}

// buildFleetProbes expands a FleetConfig into multiple probes via cartesian product.
func buildFleetProbes(cfg *Config, fc FleetConfig) ([]pingmill.Probe, error) {
	// use missingkey=error to fail fast on missing template variables
	tmpl, err := template.New("url").Option("missingkey=error").Parse(fc.URLTemplate)
	if err != nil {
		return nil, err
	}

	// generate all dimension combinations
	combinations := cartesianProduct(fc.Dimensions)

	var probes []pingmill.Probe
	for _, combo := range combinations {
		// execute template with this combination
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, combo); err != nil {
			return nil, fmt.Errorf("fleet (%s) with dimensions %v: template execution failed: %w", fc.Name, combo, err)
		}
		url := buf.String()

		// build name from combination values
		name := buildFleetName(fc.Name, combo)

		// merge fleet labels with dimension labels
		labels := make(map[string]string)
		for k, v := range fc.Labels {
			labels[k] = v
		}
		for k, v := range combo {
			labels[k] = v
		}

		// build probe config for this combination
		pc := ProbeConfig{
			Name:         name,
			URL:          url,
			Method:       fc.Method,
			Timeout:      fc.Timeout,
			TimeoutClass: fc.TimeoutClass,
			Interval:     fc.Interval,
			BackoffCap:   fc.BackoffCap,
			Jitter:       fc.Jitter,
			MaxFailures:  fc.MaxFailures,
			Headers:      fc.Headers,
			Labels:       labels,
			Credentials:  fc.Credentials,
			Validator:    fc.Validator,
		}

		p, err := buildProbe(cfg, pc)
		if err != nil {
			return nil, err
		}
		probes = append(probes, p)
	}

	return probes, nil
}

// buildFleetName creates a display name for a fleet probe.
func buildFleetName(baseName string, combo map[string]string) string {
	// sort keys for deterministic ordering
	keys := make([]string, 0, len(combo))
	for k := range combo {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	name := baseName
	for _, k := range keys {
		name += " " + combo[k]
	}
	return name
}

// cartesianProduct generates all combinations of dimension values.
func cartesianProduct(dimensions map[string][]string) []map[string]string {
	if len(dimensions) == 0 {
		return nil
	}

	// sort dimension keys for deterministic ordering
	keys := make([]string, 0, len(dimensions))
	for k := range dimensions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// start with single empty combination
	result := []map[string]string{{}}

	for _, key := range keys {
		values := dimensions[key]
		var newResult []map[string]string

		for _, combo := range result {
			for _, val := range values {
				// copy existing combo and add new dimension
				newCombo := make(map[string]string)
				for k, v := range combo {
					newCombo[k] = v
				}
				newCombo[key] = val
				newResult = append(newResult, newCombo)
			}
		}
		result = newResult
	}

	return result
}

// buildValidator converts ValidatorConfig to a Validator function.
// Returns nil when no validator is configured.
func buildValidator(vc ValidatorConfig) pingmill.Validator {
	switch vc.Type {
	case "json":
		return pingmill.JSONFieldValidator(vc.Path, vc.Want)
	case "contains":
		return pingmill.ContainsValidator(vc.Text)
	default:
		// validation catches unknown types; empty means none
		return nil
	}
}
