package session

import "time"

const (
	// indexReorderTolerance is how far behind the forward clock a group index
	// may fall before a backwards jump is treated as a counter wrap instead of
	// late delivery.
	indexReorderTolerance = 0x1000
	// indexWrapSpan is the range of the 16-bit hardware group counter.
	indexWrapSpan = 0x10000
)

// nowMillis is the default wall clock, milliseconds since epoch.
func nowMillis() float64 {
	return float64(time.Now().UnixNano()) / 1e6
}

// readingDeltaMS is the wall-clock time covered by one sample group.
func readingDeltaMS(samplesPerGroup int, sampleRateHz float64) float64 {
	return 1000.0 * float64(samplesPerGroup) / sampleRateHz
}

// sequenceState reconstructs a monotonic wall-clock timestamp for one
// electrode channel from its wrapping 16-bit group counter. The zero value is
// the uninitialized state; index 0 arriving first is handled like any other
// first group, never confused with "unset".
//
// One instance belongs to exactly one channel's delivery path and is never
// shared, so no locking is needed (see the session concurrency model).
type sequenceState struct {
	lastIndex     uint32  // unwrapped: grows past 0xFFFF across counter wraps
	lastTimestamp float64 // ms since epoch, non-decreasing
	seen          bool
}

// timestampFor maps a group index to a wall-clock timestamp in milliseconds.
//
// The first group seeds the clock at now minus one group interval. After that
// the clock only moves forward: equal indices (retransmits) return the same
// timestamp, forward jumps advance it by the index delta, and late arrivals
// within the reorder tolerance get an interpolated past timestamp without
// touching state. A backwards jump beyond the tolerance is a counter wrap and
// is unwrapped into forward progress.
func (s *sequenceState) timestampFor(groupIndex uint16, deltaMS, nowMS float64) float64 {
	idx := uint32(groupIndex)

	if !s.seen {
		s.seen = true
		s.lastIndex = idx
		s.lastTimestamp = nowMS - deltaMS
		return s.lastTimestamp
	}

	for s.lastIndex > idx && s.lastIndex-idx > indexReorderTolerance {
		idx += indexWrapSpan
	}

	switch {
	case idx == s.lastIndex:
		return s.lastTimestamp
	case idx > s.lastIndex:
		s.lastTimestamp += deltaMS * float64(idx-s.lastIndex)
		s.lastIndex = idx
		return s.lastTimestamp
	default:
		// Late arrival inside the tolerance window: interpolate backwards,
		// do not regress the channel clock.
		return s.lastTimestamp - deltaMS*float64(s.lastIndex-idx)
	}
}

// reset returns the state to uninitialized, as on disconnect.
func (s *sequenceState) reset() {
	s.seen = false
	s.lastIndex = 0
	s.lastTimestamp = 0
}
