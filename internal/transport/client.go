// Package transport issues the engine's outbound HTTP requests.
//
// The engine never inspects connection-level details: it hands a request
// template and a timeout to [Client.Send] and gets back a RawResult with
// the status, body, latency, and any error. Classification of that result
// happens elsewhere.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxResponseBodySize = 1 << 20 // 1MB

// connection pooling limits to prevent resource exhaustion when a fleet of
// probes shares the client
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second
)

const userAgent = "pingmill/1"

// Request is the immutable template for one probe's firings.
type Request struct {
	// Method is the HTTP method. Empty defaults to GET.
	Method string

	// URL is the full target URL.
	URL string

	// Headers are sent with every firing of the probe.
	Headers map[string]string

	// Body is the optional request body, reused verbatim per firing.
	Body []byte
}

// RawResult holds the transport-level result of a single firing.
//
// RawResult always comes back from Send; failures are captured in Err rather
// than returned separately, which keeps the firing pipeline uniform.
type RawResult struct {
	// StatusCode is the received HTTP status, zero if the request failed
	// before a response arrived.
	StatusCode int

	// Body is the response body, capped at 1MB.
	Body []byte

	// Latency measures from request start to body read completion (or to
	// the failure).
	Latency time.Duration

	// Err is the transport error, if any. A non-2xx status is not an error
	// at this layer.
	Err error
}

// Client is an HTTP client wrapper tuned for firing many recurring probes.
//
// Timeouts are applied per firing via context, not as a global client
// timeout, so probes with different timeout configs can share the pool.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a Client with pooled connections.
//
// Pool limits: 100 idle connections total, 10 idle and 10 concurrent per
// host, 60s idle timeout.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			// no global timeout; per-firing timeouts come in via context
			Transport: &http.Transport{
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
				DisableKeepAlives:   false,
			},
		},
	}
}

// NewClientWith wraps an injected *http.Client, letting callers supply their
// own transport (proxies, TLS config, test doubles). A nil client falls back
// to the tuned default.
func NewClientWith(hc *http.Client) *Client {
	if hc == nil {
		return NewClient()
	}
	return &Client{httpClient: hc}
}

// Send fires one request from the template and returns its RawResult.
//
// The timeout is enforced through context cancellation. requestID, when
// non-empty, is sent as the X-Request-Id header so individual firings can be
// correlated on the remote side.
func (c *Client) Send(ctx context.Context, tpl Request, timeout time.Duration, requestID string) RawResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	method := tpl.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(tpl.Body) > 0 {
		body = bytes.NewReader(tpl.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, tpl.URL, body)
	if err != nil {
		return RawResult{
			Latency: time.Since(start),
			Err:     fmt.Errorf("failed to create request: %w", err),
		}
	}

	req.Header.Set("User-Agent", userAgent)
	for key, value := range tpl.Headers {
		req.Header.Set(key, value)
	}
	if requestID != "" {
		req.Header.Set("X-Request-Id", requestID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return RawResult{
			Latency: time.Since(start),
			Err:     fmt.Errorf("request failed: %w", err),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	limitedReader := io.LimitReader(resp.Body, maxResponseBodySize)
	respBody, err := io.ReadAll(limitedReader)
	if err != nil {
		return RawResult{
			StatusCode: resp.StatusCode,
			Latency:    time.Since(start),
			Err:        fmt.Errorf("failed to read response body: %w", err),
		}
	}

	return RawResult{
		StatusCode: resp.StatusCode,
		Body:       respBody,
		Latency:    time.Since(start),
	}
}

// Close releases idle pooled connections. The client stays usable; new
// connections are established on demand. Safe to call multiple times.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
