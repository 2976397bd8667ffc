package testutils

import (
	"encoding/binary"
	"fmt"
)

// EEGPacket packs a wrapping group index plus twelve raw 12-bit samples into
// the electrode notification layout (two samples per three bytes).
func EEGPacket(index uint16, raw []uint16) []byte {
	if len(raw) != 12 {
		panic(fmt.Sprintf("EEGPacket needs exactly 12 samples, got %d", len(raw)))
	}
	pkt := make([]byte, 0, 20)
	pkt = binary.BigEndian.AppendUint16(pkt, index)
	for i := 0; i < len(raw); i += 2 {
		a, b := raw[i]&0x0fff, raw[i+1]&0x0fff
		pkt = append(pkt,
			byte(a>>4),
			byte(a&0x0f)<<4|byte(b>>8),
			byte(b),
		)
	}
	return pkt
}

// FlatEEGPacket builds an electrode packet whose twelve samples all carry the
// same raw value. Handy when a test only cares about indices and timestamps.
func FlatEEGPacket(index uint16, raw uint16) []byte {
	samples := make([]uint16, 12)
	for i := range samples {
		samples[i] = raw
	}
	return EEGPacket(index, samples)
}

// TelemetryPacket packs a power telemetry notification from raw field values.
func TelemetryPacket(seq, battery, voltage, temperature uint16) []byte {
	pkt := make([]byte, 0, 8)
	pkt = binary.BigEndian.AppendUint16(pkt, seq)
	pkt = binary.BigEndian.AppendUint16(pkt, battery)
	pkt = binary.BigEndian.AppendUint16(pkt, voltage)
	return binary.BigEndian.AppendUint16(pkt, temperature)
}

// MotionPacket packs a motion notification: sequence plus three raw xyz
// triplets.
func MotionPacket(seq uint16, samples [3][3]int16) []byte {
	pkt := make([]byte, 0, 20)
	pkt = binary.BigEndian.AppendUint16(pkt, seq)
	for _, s := range samples {
		for _, v := range s {
			pkt = binary.BigEndian.AppendUint16(pkt, uint16(v))
		}
	}
	return pkt
}

// ControlFrames splits a control response into length-prefixed notification
// fragments of at most chunk payload bytes, the way the device streams JSON
// across the notification MTU.
func ControlFrames(response string, chunk int) [][]byte {
	if chunk <= 0 {
		chunk = 19
	}
	var frames [][]byte
	for len(response) > 0 {
		n := len(response)
		if n > chunk {
			n = chunk
		}
		frame := make([]byte, 0, n+1)
		frame = append(frame, byte(n))
		frame = append(frame, response[:n]...)
		frames = append(frames, frame)
		response = response[n:]
	}
	return frames
}
