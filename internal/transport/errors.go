package transport

import (
	"errors"
	"fmt"
)

// ErrorKind classifies session-level failures.
type ErrorKind string

const (
	// KindTransportUnavailable: discovery or physical connect failed. Fatal to
	// the connect attempt; the session stays disconnected.
	KindTransportUnavailable ErrorKind = "transport_unavailable"
	// KindChannelBindingFailed: one channel could not be established during
	// connect. Aborts the whole connect.
	KindChannelBindingFailed ErrorKind = "channel_binding_failed"
	// KindWriteFailed: a command write was rejected by the transport.
	KindWriteFailed ErrorKind = "write_failed"
	// KindChannelUnavailable: an operation was issued while not connected.
	KindChannelUnavailable ErrorKind = "channel_unavailable"
	// KindResponseStreamClosed: a pending correlated-response wait lost its
	// source because the session disconnected.
	KindResponseStreamClosed ErrorKind = "response_stream_closed"
	// KindMalformedPacket: a decoder rejected a payload. Isolated to the
	// offending event, never terminates a stream.
	KindMalformedPacket ErrorKind = "malformed_packet"
	// KindTimeout: a bounded wait expired before a matching response arrived.
	KindTimeout ErrorKind = "timeout"
)

// Error represents any session or transport level problem, comparable by Kind
// through errors.Is.
type Error struct {
	Kind ErrorKind
	Msg  string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is allows errors.Is to compare Error values by Kind.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors for each failure kind.
var (
	ErrTransportUnavailable = &Error{Kind: KindTransportUnavailable}
	ErrChannelBindingFailed = &Error{Kind: KindChannelBindingFailed}
	ErrWriteFailed          = &Error{Kind: KindWriteFailed}
	ErrChannelUnavailable   = &Error{Kind: KindChannelUnavailable}
	ErrResponseStreamClosed = &Error{Kind: KindResponseStreamClosed}
	ErrMalformedPacket      = &Error{Kind: KindMalformedPacket}
	ErrTimeout              = &Error{Kind: KindTimeout}
)

// IsKind reports whether err is a transport Error with the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Kind == kind
	}
	return false
}
