package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/http/httptrace"
	"strings"
	"testing"
	"time"
)

// TestClient_ConnectionReuse verifies that the client reuses connections when
// firing sequentially at the same host, validating that keep-alives and
// pooling are active.
func TestClient_ConnectionReuse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := NewClient()

	var reusedCount int
	trace := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			if info.Reused {
				reusedCount++
			}
		},
	}

	const numRequests = 5

	for i := 0; i < numRequests; i++ {
		ctx := httptrace.WithClientTrace(context.Background(), trace)
		res := client.Send(ctx, Request{URL: server.URL}, 5*time.Second, "")
		if res.Err != nil {
			t.Fatalf("firing %d failed: %v", i, res.Err)
		}
	}

	expectedMinReuse := numRequests - 2 // allow some tolerance
	if reusedCount < expectedMinReuse {
		t.Errorf("expected at least %d reused connections, got %d out of %d firings",
			expectedMinReuse, reusedCount, numRequests)
	}
}

// TestClient_SendHeaders verifies the request template's headers, the
// User-Agent, and the per-firing X-Request-Id all reach the wire.
func TestClient_SendHeaders(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient()
	tpl := Request{
		URL:     server.URL,
		Headers: map[string]string{"X-API-Name": "login", "X-API-Key": "pass"},
	}

	res := client.Send(context.Background(), tpl, time.Second, "req-123")
	if res.Err != nil {
		t.Fatalf("Send failed: %v", res.Err)
	}

	if got.Get("X-API-Name") != "login" || got.Get("X-API-Key") != "pass" {
		t.Errorf("credential headers not sent, got %v", got)
	}
	if got.Get("X-Request-Id") != "req-123" {
		t.Errorf("X-Request-Id = %q, want req-123", got.Get("X-Request-Id"))
	}
	if !strings.HasPrefix(got.Get("User-Agent"), "pingmill/") {
		t.Errorf("User-Agent = %q, want pingmill/ prefix", got.Get("User-Agent"))
	}
}

// TestClient_SendBody verifies the template body is sent with the configured
// method.
func TestClient_SendBody(t *testing.T) {
	var gotMethod, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient()
	tpl := Request{Method: http.MethodPost, URL: server.URL, Body: []byte(`{"q":1}`)}

	res := client.Send(context.Background(), tpl, time.Second, "")
	if res.Err != nil {
		t.Fatalf("Send failed: %v", res.Err)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method = %q, want POST", gotMethod)
	}
	if gotBody != `{"q":1}` {
		t.Errorf("body = %q, want {\"q\":1}", gotBody)
	}
}

// TestClient_SendTimeout verifies a slow endpoint surfaces as an Err rather
// than blocking past the configured timeout.
func TestClient_SendTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	client := NewClient()
	start := time.Now()
	res := client.Send(context.Background(), Request{URL: server.URL}, 50*time.Millisecond, "")
	if res.Err == nil {
		t.Fatal("expected timeout error, got nil")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Send took %v, should have aborted around 50ms", elapsed)
	}
}

// TestClient_Close verifies Close is idempotent, nil-safe, and leaves the
// client usable.
func TestClient_Close(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var nilClient *Client
	nilClient.Close() // must not panic

	client := NewClient()
	if res := client.Send(context.Background(), Request{URL: server.URL}, time.Second, ""); res.Err != nil {
		t.Fatalf("firing failed: %v", res.Err)
	}

	client.Close()
	client.Close()

	res := client.Send(context.Background(), Request{URL: server.URL}, time.Second, "")
	if res.Err != nil {
		t.Errorf("firing after Close failed: %v", res.Err)
	}
	if res.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", res.StatusCode)
	}
}

// TestClient_InjectedClient verifies NewClientWith uses the supplied client.
func TestClient_InjectedClient(t *testing.T) {
	called := false
	hc := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			called = true
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       http.NoBody,
				Header:     make(http.Header),
			}, nil
		}),
	}

	client := NewClientWith(hc)
	res := client.Send(context.Background(), Request{URL: "http://example.invalid/health"}, time.Second, "")
	if res.Err != nil {
		t.Fatalf("Send failed: %v", res.Err)
	}
	if !called {
		t.Error("injected transport was not used")
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
