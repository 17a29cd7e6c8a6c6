package pingmill

import (
	"strings"
	"testing"
	"time"
)

func TestNewProbe_Defaults(t *testing.T) {
	p, err := NewProbe("API", "https://api.example.com/health")
	if err != nil {
		t.Fatalf("NewProbe() error = %v", err)
	}

	if p.Name() != "API" {
		t.Errorf("Name() = %q, want %q", p.Name(), "API")
	}
	if p.URL() != "https://api.example.com/health" {
		t.Errorf("URL() = %q, want %q", p.URL(), "https://api.example.com/health")
	}
	if p.Method() != "GET" {
		t.Errorf("Method() = %q, want GET", p.Method())
	}
	if p.Timeout() != 10*time.Second {
		t.Errorf("Timeout() = %v, want 10s", p.Timeout())
	}
	if p.Interval() != 15*time.Second {
		t.Errorf("Interval() = %v, want 15s", p.Interval())
	}
	if p.BackoffCap() != 8*15*time.Second {
		t.Errorf("BackoffCap() = %v, want 120s", p.BackoffCap())
	}
	if p.Jitter() != 0 {
		t.Errorf("Jitter() = %v, want 0", p.Jitter())
	}
	if p.MaxFailures() != 0 {
		t.Errorf("MaxFailures() = %d, want 0", p.MaxFailures())
	}
	if p.Validator() != nil {
		t.Error("Validator() should be nil by default")
	}
}

func TestNewProbe_Validation(t *testing.T) {
	tests := []struct {
		name      string
		probeName string
		url       string
		wantErr   string
	}{
		{"empty name", "", "https://example.com", "name cannot be empty"},
		{"empty url", "API", "", "URL"},
		{"bad scheme", "API", "ftp://example.com", "http:// or https://"},
		{"no host", "API", "https://", "host"},
		{"not a url", "API", "://nope", "invalid URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProbe(tt.probeName, tt.url)
			if err == nil {
				t.Fatal("NewProbe() should have returned an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestNewProbe_WithOptions(t *testing.T) {
	p, err := NewProbe("API", "https://api.example.com",
		WithMethod("POST"),
		WithBody([]byte(`{"ping":true}`)),
		WithTimeout(5*time.Second),
		WithInterval(30*time.Second),
		WithBackoffCap(10*time.Minute),
		WithJitter(0.2),
		WithMaxFailures(3),
		WithLabels("env", "prod", "team", "platform"),
		WithHeaders("Accept", "application/json"),
	)
	if err != nil {
		t.Fatalf("NewProbe() error = %v", err)
	}

	if p.Method() != "POST" {
		t.Errorf("Method() = %q, want POST", p.Method())
	}
	if string(p.Body()) != `{"ping":true}` {
		t.Errorf("Body() = %q", p.Body())
	}
	if p.Timeout() != 5*time.Second {
		t.Errorf("Timeout() = %v, want 5s", p.Timeout())
	}
	if p.Interval() != 30*time.Second {
		t.Errorf("Interval() = %v, want 30s", p.Interval())
	}
	if p.BackoffCap() != 10*time.Minute {
		t.Errorf("BackoffCap() = %v, want 10m", p.BackoffCap())
	}
	if p.Jitter() != 0.2 {
		t.Errorf("Jitter() = %v, want 0.2", p.Jitter())
	}
	if p.MaxFailures() != 3 {
		t.Errorf("MaxFailures() = %d, want 3", p.MaxFailures())
	}
	if p.Labels()["env"] != "prod" || p.Labels()["team"] != "platform" {
		t.Errorf("Labels() = %v", p.Labels())
	}
	if p.Headers()["Accept"] != "application/json" {
		t.Errorf("Headers() = %v", p.Headers())
	}
}

func TestNewProbe_OptionErrors(t *testing.T) {
	tests := []struct {
		name string
		opt  ProbeOption
	}{
		{"odd labels", WithLabels("env")},
		{"odd headers", WithHeaders("Accept")},
		{"bad method", WithMethod("TRACE")},
		{"zero timeout", WithTimeout(0)},
		{"negative timeout", WithTimeout(-time.Second)},
		{"zero interval", WithInterval(0)},
		{"zero backoff cap", WithBackoffCap(0)},
		{"negative jitter", WithJitter(-0.1)},
		{"jitter of one", WithJitter(1)},
		{"negative max failures", WithMaxFailures(-1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewProbe("API", "https://example.com", tt.opt); err == nil {
				t.Error("NewProbe() should have returned an error")
			}
		})
	}
}

func TestWithCredentials_SetsHeaders(t *testing.T) {
	p, err := NewProbe("API", "https://api.example.com",
		WithCredentials("svc-name", "svc-key"),
	)
	if err != nil {
		t.Fatalf("NewProbe() error = %v", err)
	}

	headers := p.Headers()
	if headers["X-API-Name"] != "svc-name" {
		t.Errorf("X-API-Name = %q, want %q", headers["X-API-Name"], "svc-name")
	}
	if headers["X-API-Key"] != "svc-key" {
		t.Errorf("X-API-Key = %q, want %q", headers["X-API-Key"], "svc-key")
	}
}

func TestProbe_BackoffCapFollowsInterval(t *testing.T) {
	p, err := NewProbe("API", "https://example.com", WithInterval(time.Minute))
	if err != nil {
		t.Fatalf("NewProbe() error = %v", err)
	}
	if p.BackoffCap() != 8*time.Minute {
		t.Errorf("BackoffCap() = %v, want 8m", p.BackoffCap())
	}
}

func TestProbe_GettersReturnCopies(t *testing.T) {
	p, err := NewProbe("API", "https://example.com",
		WithLabels("env", "prod"),
		WithHeaders("Accept", "text/plain"),
		WithMethod("POST"),
		WithBody([]byte("payload")),
	)
	if err != nil {
		t.Fatalf("NewProbe() error = %v", err)
	}

	p.Labels()["env"] = "hacked"
	p.Headers()["Accept"] = "hacked"
	p.Body()[0] = 'X'

	if p.Labels()["env"] != "prod" {
		t.Error("Labels() should return a copy")
	}
	if p.Headers()["Accept"] != "text/plain" {
		t.Error("Headers() should return a copy")
	}
	if string(p.Body()) != "payload" {
		t.Error("Body() should return a copy")
	}
}

func TestNewProbe_FirstOptionErrorWins(t *testing.T) {
	_, err := NewProbe("API", "https://example.com",
		WithTimeout(-1),
		WithJitter(2),
	)
	if err == nil {
		t.Fatal("NewProbe() should have returned an error")
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Errorf("error = %q, want the first option's error", err.Error())
	}
}

func TestNewProbe_ErrorsDoNotPanicOnZeroValue(t *testing.T) {
	p, err := NewProbe("", "https://example.com")
	if err == nil {
		t.Fatal("NewProbe() should have returned an error")
	}
	// zero-value Probe getters must be safe
	_ = p.Name()
	_ = p.Labels()
	_ = p.Headers()
}

func TestNewProbe_ValidatorKept(t *testing.T) {
	called := false
	v := func(body []byte, statusCode int) error {
		called = true
		return nil
	}
	p, err := NewProbe("API", "https://example.com", WithValidator(v))
	if err != nil {
		t.Fatalf("NewProbe() error = %v", err)
	}
	if p.Validator() == nil {
		t.Fatal("Validator() should not be nil")
	}
	if err := p.Validator()([]byte("ok"), 200); err != nil {
		t.Errorf("validator error = %v", err)
	}
	if !called {
		t.Error("validator should have been invoked")
	}
}
