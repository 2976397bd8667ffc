package goble

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"

	"github.com/eegkit/muselink/internal/muse"
)

// DeviceEntry is one device observed while scanning.
type DeviceEntry struct {
	Name     string    `json:"name" yaml:"name"`
	Address  string    `json:"address" yaml:"address"`
	RSSI     int       `json:"rssi" yaml:"rssi"`
	Services []string  `json:"services,omitempty" yaml:"services,omitempty"`
	Headband bool      `json:"headband" yaml:"headband"`
	LastSeen time.Time `json:"last_seen" yaml:"last_seen"`
}

// Scan collects advertisements until ctx expires or is cancelled and returns
// the devices seen, keyed by address. Devices advertising the headband service
// are flagged.
func (t *Transport) Scan(ctx context.Context, duration time.Duration) (map[string]DeviceEntry, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)

	target, err := ble.Parse(muse.ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", muse.ServiceUUID, err)
	}

	if duration <= 0 {
		duration = DefaultScanTimeout
	}
	scanCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	seen := hashmap.New[string, DeviceEntry]()
	err = dev.Scan(scanCtx, true, func(adv ble.Advertisement) {
		services := make([]string, 0, len(adv.Services()))
		for _, u := range adv.Services() {
			services = append(services, muse.NormalizeUUID(u.String()))
		}
		seen.Set(adv.Addr().String(), DeviceEntry{
			Name:     adv.LocalName(),
			Address:  adv.Addr().String(),
			RSSI:     adv.RSSI(),
			Services: services,
			Headband: advertisesService(adv, target),
			LastSeen: time.Now(),
		})
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	devices := make(map[string]DeviceEntry, seen.Len())
	seen.Range(func(addr string, entry DeviceEntry) bool {
		devices[addr] = entry
		return true
	})
	return devices, nil
}
