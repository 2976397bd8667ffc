// Package transport defines the abstract notification transport the session
// layer is written against. A concrete implementation (see the goble
// subpackage) maps logical channels onto GATT characteristics; tests supply
// in-memory fakes. The session layer never sees raw transport handles beyond
// these interfaces.
package transport

import (
	"context"
	"fmt"
)

// ChannelID identifies one logical notification source on the device.
type ChannelID int

const (
	Control ChannelID = iota
	Telemetry
	Gyroscope
	Accelerometer
	Electrode0
	Electrode1
	Electrode2
	Electrode3
	Electrode4
)

// ElectrodeCount is the maximum number of electrode channels a device exposes
// (four scalp electrodes plus the optional auxiliary electrode).
const ElectrodeCount = 5

func (c ChannelID) String() string {
	switch c {
	case Control:
		return "control"
	case Telemetry:
		return "telemetry"
	case Gyroscope:
		return "gyroscope"
	case Accelerometer:
		return "accelerometer"
	case Electrode0, Electrode1, Electrode2, Electrode3, Electrode4:
		return fmt.Sprintf("electrode%d", int(c-Electrode0))
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// ElectrodeChannel returns the ChannelID for electrode index 0..4.
func ElectrodeChannel(index int) ChannelID {
	if index < 0 || index >= ElectrodeCount {
		panic(fmt.Sprintf("transport: electrode index %d out of range", index))
	}
	return Electrode0 + ChannelID(index)
}

// ElectrodeIndex reports the electrode index for electrode channels.
// ok is false for non-electrode channels.
func (c ChannelID) ElectrodeIndex() (int, bool) {
	if c >= Electrode0 && c <= Electrode4 {
		return int(c - Electrode0), true
	}
	return 0, false
}

// Binding is an established association between a logical channel and its
// transport-level notification stream plus writer. Bindings are created during
// connection setup, immutable for the session lifetime, and released on
// disconnect via Close.
type Binding interface {
	// Notifications returns the channel's inbound notification stream. The
	// channel is closed when the binding is closed or the connection drops.
	// Payload slices are owned by the receiver and must not be retained by
	// the transport after delivery.
	Notifications() <-chan []byte

	// Write sends a payload to the channel. Implementations serialize writes
	// and return only after the payload has been handed to the transport.
	Write(data []byte) error

	// Close releases the binding. Idempotent.
	Close() error
}

// Handle is a live, connected device exposing channel binding.
type Handle interface {
	// Name returns the device display name, empty if unknown.
	Name() string

	// Bind establishes the notification stream and writer for one logical
	// channel. Binding a channel the device does not expose fails.
	Bind(ctx context.Context, channel ChannelID) (Binding, error)

	// Disconnected is closed when the transport loses the connection
	// asynchronously (out-of-range, power-off, remote teardown).
	Disconnected() <-chan struct{}

	// Close tears the connection down. Idempotent.
	Close() error
}

// Transport discovers and connects devices advertising a service.
type Transport interface {
	DiscoverAndConnect(ctx context.Context, serviceUUID string) (Handle, error)
}
