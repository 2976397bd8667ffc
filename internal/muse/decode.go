package muse

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/eegkit/muselink/internal/transport"
)

const (
	eegPacketLen    = 2 + EEGSamplesPerGroup*3/2 // u16 index + 12 packed 12-bit samples
	motionPacketLen = 2 + 3*3*2                  // u16 seq + 3 xyz triplets of int16
	telePacketLen   = 2 + 3*2                    // u16 seq + battery, voltage, temperature
	eegMidpoint     = 0x800
)

// EEGPacket is one decoded electrode notification: a wrapping group index and
// a fixed run of consecutive samples in microvolts.
type EEGPacket struct {
	GroupIndex uint16
	Samples    []float64
}

// Telemetry is one decoded power snapshot.
type Telemetry struct {
	Seq            uint16  `yaml:"seq" json:"seq"`
	BatteryPercent float64 `yaml:"battery_percent" json:"battery_percent"`
	FuelGaugeMV    float64 `yaml:"fuel_gauge_mv" json:"fuel_gauge_mv"`
	TemperatureC   float64 `yaml:"temperature_c" json:"temperature_c"`
}

// Vector is a single motion sample.
type Vector struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
	Z float64 `yaml:"z" json:"z"`
}

// Motion is one decoded motion notification: three consecutive xyz samples.
type Motion struct {
	Seq     uint16    `yaml:"seq" json:"seq"`
	Samples [3]Vector `yaml:"samples" json:"samples"`
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", transport.ErrMalformedPacket, fmt.Sprintf(format, args...))
}

// DecodeEEG unpacks an electrode notification: a big-endian u16 group index
// followed by twelve 12-bit unsigned samples packed two per three bytes.
func DecodeEEG(data []byte) (EEGPacket, error) {
	if len(data) != eegPacketLen {
		return EEGPacket{}, malformed("eeg packet length %d, want %d", len(data), eegPacketLen)
	}

	pkt := EEGPacket{
		GroupIndex: binary.BigEndian.Uint16(data[0:2]),
		Samples:    make([]float64, 0, EEGSamplesPerGroup),
	}
	for off := 2; off < len(data); off += 3 {
		b0, b1, b2 := data[off], data[off+1], data[off+2]
		first := uint16(b0)<<4 | uint16(b1)>>4
		second := uint16(b1&0x0f)<<8 | uint16(b2)
		pkt.Samples = append(pkt.Samples,
			EEGScaleMicrovolts*(float64(first)-eegMidpoint),
			EEGScaleMicrovolts*(float64(second)-eegMidpoint),
		)
	}
	return pkt, nil
}

// DecodeTelemetry unpacks a power telemetry notification.
func DecodeTelemetry(data []byte) (Telemetry, error) {
	if len(data) < telePacketLen {
		return Telemetry{}, malformed("telemetry packet length %d, want >= %d", len(data), telePacketLen)
	}
	return Telemetry{
		Seq:            binary.BigEndian.Uint16(data[0:2]),
		BatteryPercent: float64(binary.BigEndian.Uint16(data[2:4])) / 512.0,
		FuelGaugeMV:    float64(binary.BigEndian.Uint16(data[4:6])) * 2.2,
		TemperatureC:   float64(binary.BigEndian.Uint16(data[6:8])),
	}, nil
}

// DecodeAccelerometer unpacks an accelerometer notification into g units.
func DecodeAccelerometer(data []byte) (Motion, error) {
	return decodeMotion(data, AccelerometerScale)
}

// DecodeGyroscope unpacks a gyroscope notification into deg/s.
func DecodeGyroscope(data []byte) (Motion, error) {
	return decodeMotion(data, GyroscopeScale)
}

func decodeMotion(data []byte, scale float64) (Motion, error) {
	if len(data) != motionPacketLen {
		return Motion{}, malformed("motion packet length %d, want %d", len(data), motionPacketLen)
	}

	m := Motion{Seq: binary.BigEndian.Uint16(data[0:2])}
	for i := 0; i < 3; i++ {
		off := 2 + i*6
		m.Samples[i] = Vector{
			X: scale * float64(int16(binary.BigEndian.Uint16(data[off:off+2]))),
			Y: scale * float64(int16(binary.BigEndian.Uint16(data[off+2:off+4]))),
			Z: scale * float64(int16(binary.BigEndian.Uint16(data[off+4:off+6]))),
		}
	}
	return m, nil
}

// EncodeCommand frames a device command for a control-channel write: a length
// prefix covering the command plus terminator, the ASCII command, and a
// trailing newline.
func EncodeCommand(cmd string) []byte {
	encoded := make([]byte, 0, len(cmd)+2)
	encoded = append(encoded, byte(len(cmd)+1))
	encoded = append(encoded, cmd...)
	return append(encoded, '\n')
}

// ResponseAccumulator reassembles control responses. The device streams each
// JSON response as length-prefixed ASCII fragments sized to the notification
// MTU; a response is complete once the accumulated text ends with '}'.
//
// Not safe for concurrent use: one accumulator belongs to one control-channel
// delivery path.
type ResponseAccumulator struct {
	buf bytes.Buffer
}

// Push consumes one control-channel fragment. When the fragment completes a
// response, the decoded JSON object is returned with done=true and the
// accumulator resets for the next response.
func (a *ResponseAccumulator) Push(fragment []byte) (map[string]interface{}, bool, error) {
	if len(fragment) == 0 {
		return nil, false, malformed("empty control fragment")
	}
	n := int(fragment[0])
	if n > len(fragment)-1 {
		return nil, false, malformed("control fragment claims %d bytes, has %d", n, len(fragment)-1)
	}
	a.buf.Write(fragment[1 : 1+n])

	text := bytes.TrimRight(a.buf.Bytes(), "\x00 \n\r")
	if len(text) == 0 || text[len(text)-1] != '}' {
		return nil, false, nil
	}

	var resp map[string]interface{}
	err := json.Unmarshal(text, &resp)
	a.buf.Reset()
	if err != nil {
		return nil, false, malformed("control response is not valid JSON: %v", err)
	}
	return resp, true, nil
}

// Reset discards any partially accumulated response.
func (a *ResponseAccumulator) Reset() {
	a.buf.Reset()
}
