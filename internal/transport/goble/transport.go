// Package goble implements the abstract notification transport on top of
// go-ble: discovery by advertised service, characteristic binding with
// notification subscription, and chunked control writes.
package goble

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/eegkit/muselink/internal/muse"
	"github.com/eegkit/muselink/internal/transport"
)

const (
	// DefaultWriteChunkSize is the maximum number of bytes per write. BLE
	// 4.0/4.1 ATT_MTU is 23 bytes (20 bytes payload after ATT header), so
	// 20-byte chunks work against every peripheral.
	DefaultWriteChunkSize = 20

	// DefaultWriteDelay spaces consecutive chunks so the peripheral's receive
	// buffer is never overrun.
	DefaultWriteDelay = 10 * time.Millisecond

	// DefaultScanTimeout bounds discovery when the caller's context has no
	// earlier deadline.
	DefaultScanTimeout = 30 * time.Second
)

// Transport discovers headbands and dials them over go-ble.
type Transport struct {
	logger *logrus.Logger
}

// New creates a go-ble backed transport.
func New(logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{logger: logger}
}

// DiscoverAndConnect scans for the first connectable device advertising
// serviceUUID, dials it, and discovers its GATT profile.
func (t *Transport) DiscoverAndConnect(ctx context.Context, serviceUUID string) (transport.Handle, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)

	target, err := ble.Parse(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", serviceUUID, err)
	}

	scanCtx, cancel := context.WithTimeout(ctx, DefaultScanTimeout)
	defer cancel()

	seen := hashmap.New[string, ble.Advertisement]()
	var found ble.Advertisement

	t.logger.WithField("service", serviceUUID).Info("Scanning for headband...")
	err = dev.Scan(scanCtx, false, func(adv ble.Advertisement) {
		addr := adv.Addr().String()
		seen.Set(addr, adv)
		if found == nil && adv.Connectable() && advertisesService(adv, target) {
			found = adv
			cancel()
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	if found == nil {
		return nil, fmt.Errorf("no device advertising service %s found among %d seen", serviceUUID, seen.Len())
	}

	t.logger.WithFields(logrus.Fields{
		"device":  found.LocalName(),
		"address": found.Addr().String(),
		"rssi":    found.RSSI(),
	}).Info("Headband found, connecting...")

	client, err := ble.Dial(ctx, found.Addr())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", found.Addr(), err)
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		_ = client.CancelConnection()
		return nil, fmt.Errorf("failed to discover profile: %w", err)
	}

	return newHandle(client, profile, found.LocalName(), t.logger), nil
}

// Connect dials a device at a known address, skipping discovery.
func (t *Transport) Connect(ctx context.Context, address string) (transport.Handle, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)

	client, err := ble.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %q: %w", address, err)
	}
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		_ = client.CancelConnection()
		return nil, fmt.Errorf("failed to discover profile: %w", err)
	}
	return newHandle(client, profile, client.Name(), t.logger), nil
}

func advertisesService(adv ble.Advertisement, target ble.UUID) bool {
	for _, u := range adv.Services() {
		if u.Equal(target) {
			return true
		}
	}
	return false
}

// findCharacteristic locates a characteristic by normalized UUID anywhere in
// the discovered profile.
func findCharacteristic(profile *ble.Profile, uuid string) *ble.Characteristic {
	for _, svc := range profile.Services {
		for _, char := range svc.Characteristics {
			if muse.NormalizeUUID(char.UUID.String()) == uuid {
				return char
			}
		}
	}
	return nil
}
