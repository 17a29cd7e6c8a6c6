// Package classify maps raw transport results onto the probe outcome
// taxonomy.
//
// Classification is a pure function with no side effects: it inspects only
// the status code and the error chain handed to it, never throws, and maps
// anything it cannot recognize to a transport error of kind "unknown".
// It is usable on its own, without the scheduling engine.
package classify

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"strconv"
)

// Kind is the top-level classification of a single firing.
type Kind string

const (
	// KindSuccess is a received response with a 2xx status.
	KindSuccess Kind = "success"

	// KindHTTPError is a received response with any non-2xx status.
	KindHTTPError Kind = "http_error"

	// KindTimeout is a firing that hit its request timeout.
	KindTimeout Kind = "timeout"

	// KindTransportError is a connection or protocol level failure.
	KindTransportError Kind = "transport_error"

	// KindBadResponse is a 2xx response rejected by a probe's body validator.
	KindBadResponse Kind = "bad_response"

	// KindConfigError marks parameters rejected before any firing. It never
	// flows through the dispatch path; it exists so the taxonomy is closed.
	KindConfigError Kind = "config_error"
)

// String implements fmt.Stringer.
func (k Kind) String() string { return string(k) }

// Failure reports whether the kind counts against a probe's consecutive
// failure streak.
func (k Kind) Failure() bool { return k != KindSuccess }

// TransportKind narrows a KindTransportError to the failing layer.
type TransportKind string

const (
	TransportDNS      TransportKind = "dns"
	TransportConnect  TransportKind = "connect"
	TransportTLS      TransportKind = "tls"
	TransportCanceled TransportKind = "canceled"
	TransportUnknown  TransportKind = "unknown"
)

// Classification is the typed result of classifying one firing attempt.
type Classification struct {
	Kind Kind

	// Transport is set when Kind is KindTransportError.
	Transport TransportKind

	// Reason is a short machine-readable explanation, e.g. "http_503".
	Reason string
}

// Result classifies one firing attempt.
//
// err is the transport error, if any; statusCode is the received HTTP status
// when err is nil. A nil err with a 2xx status is a success; any other
// received status is an HTTP error. Timeouts are recognized from the error
// chain (context deadline or net.Error timeout).
func Result(statusCode int, err error) Classification {
	if err == nil {
		if statusCode >= 200 && statusCode < 300 {
			return Classification{Kind: KindSuccess, Reason: "success"}
		}
		return Classification{Kind: KindHTTPError, Reason: "http_" + strconv.Itoa(statusCode)}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{Kind: KindTimeout, Reason: "deadline_exceeded"}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Classification{Kind: KindTimeout, Reason: "net_timeout"}
	}

	return Classification{
		Kind:      KindTransportError,
		Transport: transportKind(err),
		Reason:    "transport_" + string(transportKind(err)),
	}
}

// transportKind walks the error chain to name the failing transport layer.
func transportKind(err error) TransportKind {
	if errors.Is(err, context.Canceled) {
		return TransportCanceled
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return TransportDNS
	}

	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return TransportTLS
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return TransportTLS
	}
	var unknownAuthErr x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthErr) {
		return TransportTLS
	}
	var hostErr x509.HostnameError
	if errors.As(err, &hostErr) {
		return TransportTLS
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return TransportConnect
	}

	return TransportUnknown
}
