package pingmill

import (
	"errors"
	"net/http"
	"time"
)

// probeConfig holds mutable state during probe construction.
type probeConfig struct {
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

// ProbeOption configures a [Probe] during construction.
//
// ProbeOption implements the functional options pattern; options return an
// error if validation fails, which [NewProbe] propagates.
type ProbeOption func(*probeConfig) error

// WithLabels adds metadata labels to the probe for grouping and filtering.
//
// Accepts variadic key-value pairs; the number of arguments must be even.
//
// Example:
//
//	p, err := pingmill.NewProbe("API", url,
//	    pingmill.WithLabels("env", "production", "team", "platform"),
//	)
func WithLabels(keyValues ...string) ProbeOption {
	return func(cfg *probeConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithLabels requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.labels[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithHeaders adds custom HTTP headers sent with every firing of this probe.
//
// Accepts variadic key-value pairs; the number of arguments must be even.
//
// Example:
//
//	p, err := pingmill.NewProbe("API", url,
//	    pingmill.WithHeaders("Authorization", "Bearer token123"),
//	)
func WithHeaders(keyValues ...string) ProbeOption {
	return func(cfg *probeConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithHeaders requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.headers[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithCredentials sets API credentials sent as X-API-Name and X-API-Key
// headers on every firing of this probe.
func WithCredentials(name, key string) ProbeOption {
	return func(cfg *probeConfig) error {
		if name == "" && key == "" {
			return errors.New("credentials require a name or a key")
		}
		cfg.headers["X-API-Name"] = name
		cfg.headers["X-API-Key"] = key
		return nil
	}
}

// WithMethod sets the HTTP method for this probe's firings.
//
// Supported methods are GET (default), HEAD, and POST. Use HEAD when only
// reachability matters and the body is irrelevant.
func WithMethod(method string) ProbeOption {
	return func(cfg *probeConfig) error {
		switch method {
		case http.MethodGet, http.MethodHead, http.MethodPost:
			cfg.method = method
			return nil
		default:
			return errors.New("method must be GET, HEAD, or POST")
		}
	}
}

// WithBody sets a request body sent verbatim with every firing. Only
// meaningful together with [WithMethod]("POST").
func WithBody(body []byte) ProbeOption {
	return func(cfg *probeConfig) error {
		cfg.body = append([]byte(nil), body...)
		return nil
	}
}

// WithTimeout sets the per-firing timeout for this probe.
//
// A firing that does not complete within this duration is classified as a
// timeout. Defaults to 10 seconds. A timeout shorter than the interval is
// recommended; if it is longer, late firings are coalesced, never doubled.
func WithTimeout(d time.Duration) ProbeOption {
	return func(cfg *probeConfig) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		cfg.timeout = d
		return nil
	}
}

// WithInterval sets the probe's base firing interval.
//
// The interval is the delay between a firing's completion and the next
// firing while the probe is healthy; after failures the delay grows per the
// backoff policy. Defaults to 15 seconds.
func WithInterval(d time.Duration) ProbeOption {
	return func(cfg *probeConfig) error {
		if d <= 0 {
			return errors.New("interval must be positive")
		}
		cfg.interval = d
		return nil
	}
}

// WithBackoffCap bounds how far consecutive failures can stretch the firing
// interval. Defaults to 8x the base interval.
func WithBackoffCap(d time.Duration) ProbeOption {
	return func(cfg *probeConfig) error {
		if d <= 0 {
			return errors.New("backoff cap must be positive")
		}
		cfg.backoffCap = d
		return nil
	}
}

// WithJitter spreads each computed delay uniformly over
// [delay*(1-j), delay*(1+j)], desynchronizing fleets of probes that share a
// base interval. j must be in [0, 1). Defaults to 0.
func WithJitter(j float64) ProbeOption {
	return func(cfg *probeConfig) error {
		if j < 0 || j >= 1 {
			return errors.New("jitter fraction must be in [0, 1)")
		}
		cfg.jitter = j
		return nil
	}
}

// WithMaxFailures sets the consecutive-failure threshold at which the probe
// is reported down rather than degraded. Zero (the default) reports any
// failure as down.
func WithMaxFailures(n int) ProbeOption {
	return func(cfg *probeConfig) error {
		if n < 0 {
			return errors.New("max failures must not be negative")
		}
		cfg.maxFailures = n
		return nil
	}
}

// WithValidator sets a body validator for this probe.
//
// The validator runs on 2xx responses only; a non-nil return classifies the
// firing as a bad response, which counts as a failure. Validators run inside
// a panic boundary, so a misbehaving validator cannot crash the engine.
//
// Example:
//
//	p, err := pingmill.NewProbe("API", url,
//	    pingmill.WithValidator(pingmill.JSONFieldValidator("status", "ok")),
//	)
func WithValidator(v Validator) ProbeOption {
	return func(cfg *probeConfig) error {
		cfg.validator = v
		return nil
	}
}
