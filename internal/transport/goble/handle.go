package goble

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/eegkit/muselink/internal/muse"
	"github.com/eegkit/muselink/internal/stream"
	"github.com/eegkit/muselink/internal/transport"
)

const bindingBuffer = 128

// bleHandle is a live go-ble connection exposing logical channel binding.
type bleHandle struct {
	client  ble.Client
	profile *ble.Profile
	name    string
	logger  *logrus.Logger

	writeMutex sync.Mutex // serializes all characteristic writes
	closed     atomic.Bool
}

func newHandle(client ble.Client, profile *ble.Profile, name string, logger *logrus.Logger) *bleHandle {
	return &bleHandle{
		client:  client,
		profile: profile,
		name:    name,
		logger:  logger,
	}
}

func (h *bleHandle) Name() string {
	return h.name
}

// Bind subscribes to the characteristic backing the logical channel and
// returns its notification stream plus writer.
func (h *bleHandle) Bind(_ context.Context, channel transport.ChannelID) (transport.Binding, error) {
	uuid, err := muse.CharacteristicUUID(channel)
	if err != nil {
		return nil, err
	}
	char := findCharacteristic(h.profile, uuid)
	if char == nil {
		return nil, fmt.Errorf("characteristic %s (%s) not found on device", uuid, channel)
	}
	if char.Property&ble.CharNotify == 0 && char.Property&ble.CharIndicate == 0 {
		return nil, fmt.Errorf("characteristic %s (%s) does not support notifications", uuid, channel)
	}

	binding := &bleBinding{
		handle:  h,
		channel: channel,
		char:    char,
		ring:    stream.NewRingChannel[[]byte](bindingBuffer),
	}

	if err := h.client.Subscribe(char, false, func(data []byte) {
		if binding.closed.Load() {
			return
		}
		// go-ble reuses the notification buffer; hand the consumer its own copy.
		cp := make([]byte, len(data))
		copy(cp, data)
		binding.ring.Send(cp)
	}); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	h.logger.WithFields(logrus.Fields{
		"channel": channel.String(),
		"uuid":    uuid,
	}).Debug("Channel bound")
	return binding, nil
}

func (h *bleHandle) Disconnected() <-chan struct{} {
	return h.client.Disconnected()
}

func (h *bleHandle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	return h.client.CancelConnection()
}

// bleBinding is one subscribed characteristic: a drop-oldest notification ring
// plus a chunked writer.
type bleBinding struct {
	handle  *bleHandle
	channel transport.ChannelID
	char    *ble.Characteristic
	ring    *stream.RingChannel[[]byte]
	closed  atomic.Bool
}

func (b *bleBinding) Notifications() <-chan []byte {
	return b.ring.C()
}

// Write sends data in MTU-sized chunks with a short delay between chunks.
func (b *bleBinding) Write(data []byte) error {
	if b.closed.Load() {
		return fmt.Errorf("binding %s is closed", b.channel)
	}

	b.handle.writeMutex.Lock()
	defer b.handle.writeMutex.Unlock()

	for len(data) > 0 {
		n := len(data)
		if n > DefaultWriteChunkSize {
			n = DefaultWriteChunkSize
		}
		if err := b.handle.client.WriteCharacteristic(b.char, data[:n], false); err != nil {
			return fmt.Errorf("failed to write to %s: %w", b.channel, err)
		}
		data = data[n:]
		if len(data) > 0 {
			time.Sleep(DefaultWriteDelay)
		}
	}
	return nil
}

// Close unsubscribes and closes the notification stream. Idempotent.
func (b *bleBinding) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	// Try both notify and indicate; only report failure if both fail.
	err1 := b.handle.client.Unsubscribe(b.char, false)
	err2 := b.handle.client.Unsubscribe(b.char, true)

	b.ring.Close()

	if err1 != nil && err2 != nil {
		b.handle.logger.WithFields(logrus.Fields{
			"channel":     b.channel.String(),
			"notifyErr":   err1,
			"indicateErr": err2,
		}).Warn("Failed to unsubscribe from characteristic notifications")
		return fmt.Errorf("%s: notify=%v, indicate=%v", b.channel, err1, err2)
	}
	return nil
}
