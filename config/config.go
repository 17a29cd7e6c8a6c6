// Package config provides YAML configuration parsing for pingmill.
//
// This package enables running pingmill as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	port: 8080
//	interval: 15s
//
//	timeouts:
//	  default: 10s
//	  fast: 2s
//
//	probes:
//	  - name: GitHub API
//	    url: https://api.github.com
//	    timeout_class: fast
//	    validator: json:status=ok
//
//	fleets:
//	  - name: Platform
//	    url_template: "https://{{.env}}.example.com/health"
//	    dimensions:
//	      env: [prod, staging]
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"
)

// minInterval is the minimum allowed firing interval for production configs.
// This prevents accidental DoS of targets with overly aggressive probing.
const minInterval = 1 * time.Second

// Config is the root configuration structure for pingmill.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Port is the status server port. Zero disables the status server.
	Port int `yaml:"port"`

	// MaxConcurrency bounds simultaneously in-flight firings across all
	// probes. Defaults to 10.
	MaxConcurrency int `yaml:"max_concurrency"`

	// Interval is the default firing interval for probes that do not set
	// their own. Accepts duration strings like "10s", "1m", "500ms".
	// Defaults to 15s.
	Interval Duration `yaml:"interval"`

	// DispatchQueue is the outcome dispatch queue depth. Defaults to 1024.
	DispatchQueue int `yaml:"dispatch_queue"`

	// Timeouts maps timeout class names to durations. The "default" class
	// applies to probes that set neither timeout nor timeout_class.
	Timeouts map[string]Duration `yaml:"timeouts"`

	// Probes defines individual probes.
	Probes []ProbeConfig `yaml:"probes"`

	// Fleets defines probe fleets that expand via cartesian product.
	Fleets []FleetConfig `yaml:"fleets"`
}

// ProbeConfig defines a single probe.
type ProbeConfig struct {
	// Name is the display name used in outcomes and the status API.
	Name string `yaml:"name"`

	// URL is the full URL to fire. Mutually exclusive with Target.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	URL string `yaml:"url"`

	// Target is a host:port pair; the URL is built as
	// scheme://host:port/path. Mutually exclusive with URL.
	Target string `yaml:"target"`

	// Scheme is the URL scheme used with Target. Defaults to https.
	Scheme string `yaml:"scheme"`

	// Path is the URL path used with Target. Defaults to empty.
	Path string `yaml:"path"`

	// Method is the HTTP method (GET, HEAD, POST). Defaults to GET.
	Method string `yaml:"method"`

	// Body is the request body sent with POST firings.
	Body string `yaml:"body"`

	// Timeout is the per-firing timeout. Overrides TimeoutClass.
	Timeout Duration `yaml:"timeout"`

	// TimeoutClass names an entry of the top-level timeouts map.
	TimeoutClass string `yaml:"timeout_class"`

	// Interval is this probe's base firing interval. If not specified,
	// the global interval applies. Must be between 1s and 1h.
	Interval Duration `yaml:"interval"`

	// BackoffCap bounds the backed-off interval while the probe fails.
	// Defaults to 8x the interval.
	BackoffCap Duration `yaml:"backoff_cap"`

	// Jitter is the uniform jitter fraction in [0, 1) applied to every
	// scheduled delay.
	Jitter float64 `yaml:"jitter"`

	// MaxFailures is the consecutive-failure threshold at which the probe
	// is reported down. Zero means any failure is down.
	MaxFailures int `yaml:"max_failures"`

	// Headers are custom HTTP headers sent with each firing.
	// Values support environment variable substitution.
	Headers map[string]string `yaml:"headers"`

	// Labels are metadata key-value pairs for grouping/filtering.
	Labels map[string]string `yaml:"labels"`

	// Credentials are rendered as X-API-Name / X-API-Key headers.
	Credentials *CredentialsConfig `yaml:"credentials"`

	// Validator vets 2xx response bodies. Shorthand ("json:status=ok",
	// "contains:ok") or structured.
	Validator ValidatorConfig `yaml:"validator"`
}

// CredentialsConfig carries per-probe API credentials.
//
// Both values support environment variable substitution, which is the
// recommended way to keep keys out of config files:
//
//	credentials:
//	  name: billing-service
//	  key: ${BILLING_API_KEY}
type CredentialsConfig struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

// FleetConfig defines a probe fleet that expands via cartesian product.
//
// For example, with dimensions {env: [prod, staging], svc: [api, web]},
// the fleet expands to 4 probes: prod/api, prod/web, staging/api, staging/web.
type FleetConfig struct {
	// Name is the base name for generated probes.
	Name string `yaml:"name"`

	// URLTemplate is a Go template for generating probe URLs.
	// Dimension keys are available as template variables: {{.env}}, {{.svc}}
	// Supports environment variable substitution in the template.
	URLTemplate string `yaml:"url_template"`

	// Dimensions maps dimension names to their possible values.
	// The cartesian product of all dimensions generates the probes.
	Dimensions map[string][]string `yaml:"dimensions"`

	// Method is the HTTP method for all generated probes.
	Method string `yaml:"method"`

	// Timeout is the per-firing timeout for all generated probes.
	Timeout Duration `yaml:"timeout"`

	// TimeoutClass names an entry of the top-level timeouts map.
	TimeoutClass string `yaml:"timeout_class"`

	// Interval is the base firing interval for all generated probes.
	// If not specified, the global interval applies.
	Interval Duration `yaml:"interval"`

	// BackoffCap bounds the backed-off interval for all generated probes.
	BackoffCap Duration `yaml:"backoff_cap"`

	// Jitter is the jitter fraction for all generated probes. Fleets
	// usually want some jitter so expanded probes do not fire in lockstep.
	Jitter float64 `yaml:"jitter"`

	// MaxFailures is the down threshold for all generated probes.
	MaxFailures int `yaml:"max_failures"`

	// Headers are custom HTTP headers for all generated probes.
	Headers map[string]string `yaml:"headers"`

	// Labels are additional labels applied to all generated probes.
	// These are merged with auto-generated dimension labels.
	Labels map[string]string `yaml:"labels"`

	// Credentials are rendered as X-API-Name / X-API-Key headers.
	Credentials *CredentialsConfig `yaml:"credentials"`

	// Validator vets 2xx response bodies for all generated probes.
	Validator ValidatorConfig `yaml:"validator"`
}

// ValidatorConfig specifies how to vet a 2xx response body.
//
// It supports two formats in YAML:
//
// Shorthand string:
//
//	validator: json:status=ok
//	validator: json:data.health.status=healthy
//	validator: contains:ok
//
// Structured object:
//
//	validator:
//	  type: json
//	  path: data.health.status
//	  want: healthy
type ValidatorConfig struct {
	// Type is the validator type: "json" or "contains".
	Type string

	// Path is the JSON field path (for type: json).
	Path string

	// Want is the expected JSON field value (for type: json).
	Want string

	// Text is the substring to search for (for type: contains).
	Text string
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler for ValidatorConfig.
func (v *ValidatorConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		return v.parseShorthand(s)
	}

	if node.Kind == yaml.MappingNode {
		// temporary struct to avoid infinite recursion
		var raw struct {
			Type string `yaml:"type"`
			Path string `yaml:"path"`
			Want string `yaml:"want"`
			Text string `yaml:"text"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		v.Type = raw.Type
		v.Path = raw.Path
		v.Want = raw.Want
		v.Text = raw.Text
		return nil
	}

	return fmt.Errorf("validator must be a string or object, got %v", node.Kind)
}

// parseShorthand parses validator shorthand syntax.
//
// Supported formats:
//   - "json:path=want" → JSON field at path must equal want
//   - "contains:text" → body must contain text
func (v *ValidatorConfig) parseShorthand(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	idx := strings.Index(s, ":")
	if idx == -1 {
		return fmt.Errorf("unknown validator %q (expected 'json:path=want' or 'contains:text')", s)
	}

	v.Type = s[:idx]
	value := s[idx+1:]

	switch v.Type {
	case "json":
		eq := strings.Index(value, "=")
		if eq == -1 {
			return fmt.Errorf("json validator %q must be 'json:path=want'", s)
		}
		v.Path = value[:eq]
		v.Want = value[eq+1:]
	case "contains":
		v.Text = value
	default:
		return fmt.Errorf("unknown validator type %q", v.Type)
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// already have an error, skip processing
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		// submatches[2] is ":-..." (non-empty if default syntax was used)
		// submatches[3] is the actual default value (may be empty for ${VAR:-})
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before parsing.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in URL, Target, URLTemplate, Header,
// and Credentials values. Defaults are applied for Interval (15s),
// MaxConcurrency (10), and the default timeout class (10s).
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Interval == 0 {
		cfg.Interval = Duration(15 * time.Second)
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = 10
	}
	if cfg.Timeouts == nil {
		cfg.Timeouts = map[string]Duration{}
	}
	if _, ok := cfg.Timeouts["default"]; !ok {
		cfg.Timeouts["default"] = Duration(10 * time.Second)
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DefaultTimeout returns the duration of the "default" timeout class.
func (c *Config) DefaultTimeout() time.Duration {
	return c.Timeouts["default"].Duration()
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.Interval.Duration() < minInterval {
		return fmt.Errorf("interval must be at least %s, got %s", minInterval, c.Interval.Duration())
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be positive, got %d", c.MaxConcurrency)
	}
	if c.DispatchQueue < 0 {
		return fmt.Errorf("dispatch_queue cannot be negative, got %d", c.DispatchQueue)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", c.Port)
	}

	for class, d := range c.Timeouts {
		if d.Duration() < time.Second {
			return fmt.Errorf("timeouts[%s]: must be at least 1s, got %s", class, d.Duration())
		}
	}

	for i := range c.Probes {
		p := &c.Probes[i]

		if p.Name == "" {
			return fmt.Errorf("probes[%d]: name is required", i)
		}

		if err := c.expandAndValidateProbe(p, fmt.Sprintf("probes[%d] (%s)", i, p.Name)); err != nil {
			return err
		}
	}

	for i := range c.Fleets {
		f := &c.Fleets[i]

		if f.Name == "" {
			return fmt.Errorf("fleets[%d]: name is required", i)
		}
		context := fmt.Sprintf("fleets[%d] (%s)", i, f.Name)

		if f.URLTemplate == "" {
			return fmt.Errorf("%s: url_template is required", context)
		}
		expanded, err := expandEnvVars(f.URLTemplate)
		if err != nil {
			return fmt.Errorf("%s: url_template: %w", context, err)
		}
		f.URLTemplate = expanded

		// fail fast before the SDK tries to use an invalid template
		if _, err := template.New("").Parse(f.URLTemplate); err != nil {
			return fmt.Errorf("%s: invalid url_template: %w", context, err)
		}

		if len(f.Dimensions) == 0 {
			return fmt.Errorf("%s: at least one dimension is required", context)
		}
		for dimName, dimValues := range f.Dimensions {
			if len(dimValues) == 0 {
				return fmt.Errorf("%s: dimension %q has no values", context, dimName)
			}
			seen := make(map[string]struct{}, len(dimValues))
			for _, v := range dimValues {
				if _, exists := seen[v]; exists {
					return fmt.Errorf("%s: dimension %q has duplicate value %q", context, dimName, v)
				}
				seen[v] = struct{}{}
			}
		}

		if err := c.expandAndValidateShared(
			f.Headers, f.Credentials, f.Method, f.Timeout, f.TimeoutClass,
			f.Interval, f.BackoffCap, f.Jitter, f.MaxFailures, &f.Validator, context,
		); err != nil {
			return err
		}
	}

	if len(c.Probes) == 0 && len(c.Fleets) == 0 {
		return errors.New("at least one probe or fleet must be defined")
	}

	return nil
}

// expandAndValidateProbe resolves a probe's address and shared fields.
func (c *Config) expandAndValidateProbe(p *ProbeConfig, context string) error {
	switch {
	case p.URL != "" && p.Target != "":
		return fmt.Errorf("%s: url and target are mutually exclusive", context)

	case p.URL != "":
		if p.Scheme != "" || p.Path != "" {
			return fmt.Errorf("%s: scheme and path apply only with target", context)
		}
		expanded, err := expandEnvVars(p.URL)
		if err != nil {
			return fmt.Errorf("%s: url: %w", context, err)
		}
		p.URL = expanded

	case p.Target != "":
		expanded, err := expandEnvVars(p.Target)
		if err != nil {
			return fmt.Errorf("%s: target: %w", context, err)
		}
		p.Target = expanded

		scheme := p.Scheme
		if scheme == "" {
			scheme = "https"
		}
		if scheme != "http" && scheme != "https" {
			return fmt.Errorf("%s: scheme must be http or https, got %q", context, scheme)
		}
		path := p.Path
		if path != "" && !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		p.URL = scheme + "://" + p.Target + path

	default:
		return fmt.Errorf("%s: url or target is required", context)
	}

	parsedURL, err := url.Parse(p.URL)
	if err != nil {
		return fmt.Errorf("%s: invalid url: %w", context, err)
	}
	if parsedURL.Scheme == "" {
		return fmt.Errorf("%s: url must have a scheme (http:// or https://)", context)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%s: url scheme must be http or https, got %q", context, parsedURL.Scheme)
	}

	return c.expandAndValidateShared(
		p.Headers, p.Credentials, p.Method, p.Timeout, p.TimeoutClass,
		p.Interval, p.BackoffCap, p.Jitter, p.MaxFailures, &p.Validator, context,
	)
}

// expandAndValidateShared covers the fields probes and fleets have in common.
func (c *Config) expandAndValidateShared(
	headers map[string]string, creds *CredentialsConfig, method string,
	timeout Duration, timeoutClass string, interval, backoffCap Duration,
	jitter float64, maxFailures int, validator *ValidatorConfig, context string,
) error {
	for k, v := range headers {
		expanded, err := expandEnvVars(v)
		if err != nil {
			return fmt.Errorf("%s: headers[%s]: %w", context, k, err)
		}
		headers[k] = expanded
	}

	if creds != nil {
		if creds.Name == "" || creds.Key == "" {
			return fmt.Errorf("%s: credentials require both name and key", context)
		}
		expanded, err := expandEnvVars(creds.Name)
		if err != nil {
			return fmt.Errorf("%s: credentials.name: %w", context, err)
		}
		creds.Name = expanded
		expanded, err = expandEnvVars(creds.Key)
		if err != nil {
			return fmt.Errorf("%s: credentials.key: %w", context, err)
		}
		creds.Key = expanded
	}

	if method != "" && method != "GET" && method != "HEAD" && method != "POST" {
		return fmt.Errorf("%s: method must be GET, HEAD, or POST", context)
	}

	if timeout != 0 && timeoutClass != "" {
		return fmt.Errorf("%s: timeout and timeout_class are mutually exclusive", context)
	}
	if timeout != 0 && timeout.Duration() < time.Second {
		return fmt.Errorf("%s: timeout must be at least 1s if specified, got %s",
			context, timeout.Duration())
	}
	if timeoutClass != "" {
		if _, ok := c.Timeouts[timeoutClass]; !ok {
			return fmt.Errorf("%s: unknown timeout_class %q", context, timeoutClass)
		}
	}

	if interval != 0 {
		if interval.Duration() < minInterval {
			return fmt.Errorf("%s: interval must be at least 1s, got %s",
				context, interval.Duration())
		}
		if interval.Duration() > time.Hour {
			return fmt.Errorf("%s: interval must not exceed 1h, got %s",
				context, interval.Duration())
		}
	}

	if backoffCap != 0 && backoffCap.Duration() < time.Second {
		return fmt.Errorf("%s: backoff_cap must be at least 1s, got %s",
			context, backoffCap.Duration())
	}

	if jitter < 0 || jitter >= 1 {
		return fmt.Errorf("%s: jitter must be in [0, 1), got %g", context, jitter)
	}

	if maxFailures < 0 {
		return fmt.Errorf("%s: max_failures cannot be negative, got %d", context, maxFailures)
	}

	return validateValidator(validator, context)
}

// validateValidator validates a validator configuration.
func validateValidator(v *ValidatorConfig, context string) error {
	if v.Type == "" {
		return nil // no validator, status codes alone decide
	}

	switch v.Type {
	case "json":
		if v.Path == "" {
			return fmt.Errorf("%s: validator type 'json' requires a path", context)
		}
		if v.Want == "" {
			return fmt.Errorf("%s: validator type 'json' requires a want value", context)
		}
	case "contains":
		if v.Text == "" {
			return fmt.Errorf("%s: validator type 'contains' requires text", context)
		}
	default:
		return fmt.Errorf("%s: unknown validator type %q", context, v.Type)
	}

	return nil
}
