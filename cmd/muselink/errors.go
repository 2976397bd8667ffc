package main

import (
	"errors"

	"github.com/eegkit/muselink/internal/transport"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the headband connection dropped mid-operation,
	// as opposed to an operation attempted while never connected.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError maps internal errors to messages meant for the terminal.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, ErrConnectionLost):
		return "connection to the headband was lost - check that it is powered on and in range"
	case transport.IsKind(err, transport.KindTransportUnavailable):
		return "no headband found - make sure Bluetooth is enabled and the headband is on"
	case transport.IsKind(err, transport.KindChannelBindingFailed):
		return "the device does not expose the expected streaming channels - is this a Muse-compatible headband?"
	case transport.IsKind(err, transport.KindTimeout):
		return "the headband did not respond in time"
	case transport.IsKind(err, transport.KindWriteFailed):
		return "failed to send a command to the headband"
	default:
		return err.Error()
	}
}
