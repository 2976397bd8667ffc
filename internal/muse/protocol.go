// Package muse holds the wire protocol of Muse-compatible biosignal headbands:
// the GATT identifiers, the fixed packet layouts for each measurement kind,
// and the command encoding. Everything here is stateless byte plumbing except
// ResponseAccumulator, which reassembles control responses split across
// notification-sized fragments.
package muse

import (
	"fmt"
	"strings"

	"github.com/eegkit/muselink/internal/transport"
)

// ServiceUUID is the primary GATT service advertised by the headband.
const ServiceUUID = "fe8d"

// Characteristic UUIDs, normalized form (lowercase, no dashes).
const (
	controlCharUUID       = "273e00014c4d454d96bef03bac821358"
	gyroscopeCharUUID     = "273e00094c4d454d96bef03bac821358"
	accelerometerCharUUID = "273e000a4c4d454d96bef03bac821358"
	telemetryCharUUID     = "273e000b4c4d454d96bef03bac821358"
	electrode0CharUUID    = "273e00034c4d454d96bef03bac821358" // TP9
	electrode1CharUUID    = "273e00044c4d454d96bef03bac821358" // AF7
	electrode2CharUUID    = "273e00054c4d454d96bef03bac821358" // AF8
	electrode3CharUUID    = "273e00064c4d454d96bef03bac821358" // TP10
	electrode4CharUUID    = "273e00074c4d454d96bef03bac821358" // AUX
)

// Sampling characteristics of the electrode channels.
const (
	EEGSamplesPerGroup = 12
	EEGSampleRateHz    = 256.0

	// EEGScaleMicrovolts converts a raw 12-bit sample (midpoint 0x800) to uV.
	EEGScaleMicrovolts = 0.48828125
)

// Motion sensor scale factors applied to raw int16 readings.
const (
	AccelerometerScale = 0.0000610352 // g per lsb
	GyroscopeScale     = 0.0074768    // deg/s per lsb
)

// Device commands. Each is encoded on the wire by EncodeCommand.
const (
	CmdPause      = "h" // halt streaming
	CmdResume     = "d" // deliver data
	CmdStart      = "s"
	CmdDeviceInfo = "v1"

	PresetAux   = "p20" // five electrode channels
	PresetNoAux = "p21" // four electrode channels
)

// ElectrodeNames maps electrode index to its 10-20 placement label.
var ElectrodeNames = [transport.ElectrodeCount]string{"TP9", "AF7", "AF8", "TP10", "AUX"}

var channelCharacteristics = map[transport.ChannelID]string{
	transport.Control:       controlCharUUID,
	transport.Telemetry:     telemetryCharUUID,
	transport.Gyroscope:     gyroscopeCharUUID,
	transport.Accelerometer: accelerometerCharUUID,
	transport.Electrode0:    electrode0CharUUID,
	transport.Electrode1:    electrode1CharUUID,
	transport.Electrode2:    electrode2CharUUID,
	transport.Electrode3:    electrode3CharUUID,
	transport.Electrode4:    electrode4CharUUID,
}

// CharacteristicUUID returns the normalized characteristic UUID backing a
// logical channel.
func CharacteristicUUID(channel transport.ChannelID) (string, error) {
	uuid, ok := channelCharacteristics[channel]
	if !ok {
		return "", fmt.Errorf("no characteristic mapped for channel %s", channel)
	}
	return uuid, nil
}

// ElectrodeChannels returns the electrode channels a session binds, in order.
// The auxiliary electrode is included only when enabled.
func ElectrodeChannels(enableAux bool) []transport.ChannelID {
	count := transport.ElectrodeCount - 1
	if enableAux {
		count = transport.ElectrodeCount
	}
	channels := make([]transport.ChannelID, 0, count)
	for i := 0; i < count; i++ {
		channels = append(channels, transport.ElectrodeChannel(i))
	}
	return channels
}

// NormalizeUUID converts a UUID string to the form used for characteristic
// lookups (lowercase, no dashes).
func NormalizeUUID(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}
