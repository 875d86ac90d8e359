// Package gwerrors defines the error taxonomy the gateway core uses to
// decide propagation policy: which errors trigger Worker reconnect,
// which trigger federated failover, and which are terminal per service.
package gwerrors

import (
	"errors"
	"fmt"
	"time"
)

// NotFoundError is an authoritative absence: the upstream server
// reported that the article or group does not exist. Terminal per
// service; does not trigger failover.
type NotFoundError struct {
	Kind string // "article", "group", "thread"
	Key  string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

// NewNotFound constructs a NotFoundError.
func NewNotFound(kind, key string) error {
	return NotFoundError{Kind: kind, Key: key}
}

// IsNotFound reports whether err (or something it wraps) is a NotFoundError.
func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

// UpstreamProtocolError is a well-formed upstream failure that isn't an
// absence: a rejected POST, a command invalid in the connection's
// current state. Returned to the caller as-is; not failed over.
type UpstreamProtocolError struct {
	Command string
	Code    int
	Message string
}

func (e UpstreamProtocolError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("upstream protocol error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("upstream protocol error on %s: %d %s", e.Command, e.Code, e.Message)
}

// NewUpstreamProtocol constructs an UpstreamProtocolError.
func NewUpstreamProtocol(command string, code int, message string) error {
	return UpstreamProtocolError{Command: command, Code: code, Message: message}
}

// IsUpstreamProtocol reports whether err is an UpstreamProtocolError.
func IsUpstreamProtocol(err error) bool {
	var target UpstreamProtocolError
	return errors.As(err, &target)
}

// TransportError is a socket/TLS failure, unexpected EOF, or malformed
// wire response. Triggers Worker reconnect and federated failover to
// the next service.
type TransportError struct {
	Server string
	Cause  error
}

func (e TransportError) Error() string {
	if e.Server == "" {
		return fmt.Sprintf("transport error: %v", e.Cause)
	}
	return fmt.Sprintf("transport error on %s: %v", e.Server, e.Cause)
}

func (e TransportError) Unwrap() error { return e.Cause }

// NewTransport constructs a TransportError.
func NewTransport(server string, cause error) error {
	return TransportError{Server: server, Cause: cause}
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var target TransportError
	return errors.As(err, &target)
}

// SaturationError indicates a service's priority queue stayed full past
// queue_send_timeout. Surfaced to the caller as a 503-equivalent;
// retryable, and triggers federated failover.
type SaturationError struct {
	Server string
	Queue  string
}

func (e SaturationError) Error() string {
	return fmt.Sprintf("service %s queue %s saturated", e.Server, e.Queue)
}

// NewSaturation constructs a SaturationError.
func NewSaturation(server, queue string) error {
	return SaturationError{Server: server, Queue: queue}
}

// IsSaturation reports whether err is a SaturationError.
func IsSaturation(err error) bool {
	var target SaturationError
	return errors.As(err, &target)
}

// TimeoutError indicates a request exceeded request_timeout waiting for
// its reply. Caller-visible; every coalesced waiter sharing the
// in-flight call gets its own TimeoutError independent of the others.
type TimeoutError struct {
	Server  string
	Elapsed time.Duration
}

func (e TimeoutError) Error() string {
	return fmt.Sprintf("request to %s timed out after %s", e.Server, e.Elapsed)
}

// NewTimeout constructs a TimeoutError.
func NewTimeout(server string, elapsed time.Duration) error {
	return TimeoutError{Server: server, Elapsed: elapsed}
}

// IsTimeout reports whether err is a TimeoutError.
func IsTimeout(err error) bool {
	var target TimeoutError
	return errors.As(err, &target)
}

// CancelledError indicates shutdown was in progress when the request
// would otherwise have been served.
type CancelledError struct{}

func (CancelledError) Error() string { return "cancelled: shutdown in progress" }

// NewCancelled constructs a CancelledError.
func NewCancelled() error { return CancelledError{} }

// IsCancelled reports whether err is a CancelledError.
func IsCancelled(err error) bool {
	var target CancelledError
	return errors.As(err, &target)
}

// Failover reports whether err should advance a federated request to
// the next candidate service. Transport, Saturation and Timeout are
// retryable elsewhere; NotFound and UpstreamProtocol are authoritative for the
// service that produced them and must not trigger failover.
func Failover(err error) bool {
	return IsTransport(err) || IsSaturation(err) || IsTimeout(err)
}
