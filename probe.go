package pingmill

import (
	"errors"
	"net/url"
	"time"
)

const (
	defaultProbeTimeout  = 10 * time.Second
	defaultProbeInterval = 15 * time.Second
)

// Probe describes one recurring HTTP(S) check.
//
// Probe is immutable after creation via [NewProbe]. All fields are private
// with getters that return copies of mutable data (maps, byte slices), so a
// probe can never change underneath an in-flight firing. To change a probe's
// target or timing, deregister it and register a replacement; ids are never
// reused, so the two can never be confused.
//
// Probes are configured with the functional options pattern using
// [ProbeOption] functions such as [WithInterval], [WithTimeout],
// [WithBackoffCap], [WithJitter], [WithMaxFailures], [WithHeaders],
// [WithMethod], [WithBody], [WithLabels], and [WithValidator].
type Probe struct {
	name        string
	url         string
	method      string
	headers     map[string]string
	body        []byte
	labels      map[string]string
	timeout     time.Duration
	interval    time.Duration
	backoffCap  time.Duration
	jitter      float64
	maxFailures int
	validator   Validator
}

// Name returns the probe's display name.
func (p Probe) Name() string { return p.name }

// URL returns the probe's target URL.
func (p Probe) URL() string { return p.url }

// Method returns the HTTP method, empty meaning GET.
func (p Probe) Method() string { return p.method }

// Headers returns a copy of the probe's custom HTTP headers, nil when none
// are set.
func (p Probe) Headers() map[string]string { return copyMap(p.headers) }

// Body returns a copy of the request body, nil when none is set.
func (p Probe) Body() []byte {
	if p.body == nil {
		return nil
	}
	return append([]byte(nil), p.body...)
}

// Labels returns a copy of the probe's metadata labels, nil when none are
// set.
func (p Probe) Labels() map[string]string { return copyMap(p.labels) }

// Timeout returns the per-firing timeout. Defaults to 10 seconds.
func (p Probe) Timeout() time.Duration { return p.timeout }

// Interval returns the base firing interval. Defaults to 15 seconds.
func (p Probe) Interval() time.Duration { return p.interval }

// BackoffCap returns the upper bound on backed-off intervals. Defaults to
// 8x the interval.
func (p Probe) BackoffCap() time.Duration { return p.backoffCap }

// Jitter returns the jitter fraction in [0, 1). Defaults to 0 (no jitter).
func (p Probe) Jitter() float64 { return p.jitter }

// MaxFailures returns the consecutive-failure threshold at which the probe
// is considered down rather than degraded. Zero means any failure is down.
func (p Probe) MaxFailures() int { return p.maxFailures }

// Validator returns the probe's body validator, nil when none is set.
func (p Probe) Validator() Validator { return p.validator }

// NewProbe creates a [Probe] with the given name, URL, and options.
//
// The name is a human-readable identifier used in outcomes and logs. The
// rawURL must be an absolute http:// or https:// URL.
//
// Example:
//
//	p, err := pingmill.NewProbe("API Health", "https://api.example.com/health",
//	    pingmill.WithInterval(30*time.Second),
//	    pingmill.WithTimeout(5*time.Second),
//	    pingmill.WithMaxFailures(3),
//	)
func NewProbe(name, rawURL string, opts ...ProbeOption) (Probe, error) {
	if name == "" {
		return Probe{}, errors.New("probe name cannot be empty")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Probe{}, errors.New("invalid URL: " + err.Error())
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Probe{}, errors.New("URL must use http:// or https://")
	}
	if parsed.Host == "" {
		return Probe{}, errors.New("URL must have a host")
	}

	cfg := &probeConfig{
		labels:   make(map[string]string),
		headers:  make(map[string]string),
		timeout:  defaultProbeTimeout,
		interval: defaultProbeInterval,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return Probe{}, err
		}
	}

	backoffCap := cfg.backoffCap
	if backoffCap == 0 {
		backoffCap = 8 * cfg.interval
	}

	return Probe{
		name:        name,
		url:         rawURL,
		method:      cfg.method,
		headers:     cfg.headers,
		body:        cfg.body,
		labels:      cfg.labels,
		timeout:     cfg.timeout,
		interval:    cfg.interval,
		backoffCap:  backoffCap,
		jitter:      cfg.jitter,
		maxFailures: cfg.maxFailures,
		validator:   cfg.validator,
	}, nil
}

// copyMap returns a shallow copy of the map.
func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
