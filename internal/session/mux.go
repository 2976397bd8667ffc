package session

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/eegkit/muselink/internal/muse"
	"github.com/eegkit/muselink/internal/stream"
)

// EEGReading is one timestamped sample group from one electrode, as emitted on
// the merged electrode stream.
type EEGReading struct {
	Electrode  int       `yaml:"electrode" json:"electrode"`
	Label      string    `yaml:"label" json:"label"`
	GroupIndex uint16    `yaml:"group_index" json:"group_index"`
	Timestamp  float64   `yaml:"timestamp" json:"timestamp"` // ms since epoch
	Samples    []float64 `yaml:"samples" json:"samples"`
}

// electrodeMux merges the independently-clocked electrode notification
// streams into one broadcast of EEGReading values.
//
// Each electrode gets its own sequenceState and its own delivery goroutine, so
// per-channel timestamp reconstruction never contends across channels. The mux
// does O(1) work per notification and buffers nothing beyond the event in
// flight; a lagging consumer sheds load in its own broadcast subscription, not
// here. No ordering is imposed across electrodes - the merged stream
// interleaves sources as notifications actually arrive.
type electrodeMux struct {
	deltaMS float64
	now     func() float64
	out     *stream.Broadcast[EEGReading]
	logger  *logrus.Logger

	states []sequenceState // index = electrode, touched only by that electrode's goroutine
	wg     sync.WaitGroup
}

func newElectrodeMux(electrodes int, deltaMS float64, now func() float64, out *stream.Broadcast[EEGReading], logger *logrus.Logger) *electrodeMux {
	if now == nil {
		now = nowMillis
	}
	return &electrodeMux{
		deltaMS: deltaMS,
		now:     now,
		out:     out,
		logger:  logger,
		states:  make([]sequenceState, electrodes),
	}
}

// attach starts the delivery goroutine for one electrode. The goroutine exits
// when the notification channel closes or ctx is cancelled.
func (m *electrodeMux) attach(ctx context.Context, electrode int, notifications <-chan []byte) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.pump(ctx, electrode, notifications)
	}()
}

func (m *electrodeMux) pump(ctx context.Context, electrode int, notifications <-chan []byte) {
	state := &m.states[electrode]
	label := muse.ElectrodeNames[electrode]

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-notifications:
			if !ok {
				return
			}
			pkt, err := muse.DecodeEEG(data)
			if err != nil {
				// Isolated to this event: the stream keeps going.
				m.logger.WithFields(logrus.Fields{
					"electrode": label,
					"error":     err,
				}).Warn("Dropping undecodable electrode packet")
				continue
			}
			m.out.Publish(EEGReading{
				Electrode:  electrode,
				Label:      label,
				GroupIndex: pkt.GroupIndex,
				Timestamp:  state.timestampFor(pkt.GroupIndex, m.deltaMS, m.now()),
				Samples:    pkt.Samples,
			})
		}
	}
}

// wait blocks until every electrode goroutine has exited.
func (m *electrodeMux) wait() {
	m.wg.Wait()
}
