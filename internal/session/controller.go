// Package session implements the orchestration layer for a Muse-compatible
// biosignal headband: the connect/command/disconnect lifecycle against an
// abstract notification transport, wall-clock timestamp reconstruction for the
// electrode streams, multiplexing of the per-electrode channels into one
// merged reading stream, and correlation of fire-and-forget command writes
// with their asynchronous control responses.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/eegkit/muselink/internal/muse"
	"github.com/eegkit/muselink/internal/stream"
	"github.com/eegkit/muselink/internal/transport"
)

// State is the session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configure a session at creation time. The auxiliary-electrode flag
// is fixed per session and cannot change while connected.
type Options struct {
	EnableAux       bool          `default:"false"`
	SamplesPerGroup int           `default:"12"`
	SampleRateHz    float64       `default:"256"`
	StreamBuffer    int           `default:"64"`
	ResponseTimeout time.Duration `default:"5s"`
}

// DefaultOptions returns the options for a standard four-electrode headband.
func DefaultOptions() *Options {
	opts := &Options{}
	defaults.SetDefaults(opts)
	return opts
}

// Session is the single live connection to one headband. All mutation happens
// either on the caller's command path or on per-channel delivery goroutines;
// callers are expected to serialize connect/disconnect/command calls against
// the same session, while notification delivery is safe concurrently because
// each channel's sequencing state is touched only by that channel's own
// delivery goroutine.
type Session struct {
	opts   Options
	tr     transport.Transport
	logger *logrus.Logger
	now    func() float64 // wall clock in ms, overridable in tests

	mu       sync.Mutex
	state    State
	name     string
	handle   transport.Handle
	bindings *orderedmap.OrderedMap[transport.ChannelID, transport.Binding]
	mux      *electrodeMux
	cancel   context.CancelFunc
	done     chan struct{} // closed at teardown, fails pending response waits
	wg       sync.WaitGroup

	connState *stream.Broadcast[bool]
	eeg       *stream.Broadcast[EEGReading]
	telemetry *stream.Broadcast[muse.Telemetry]
	accel     *stream.Broadcast[muse.Motion]
	gyro      *stream.Broadcast[muse.Motion]
	frames    *stream.Broadcast[[]byte]
	responses *stream.Broadcast[ControlResponse]
}

// New creates a session bound to a transport. The session starts Idle; no
// transport activity happens until Connect.
func New(tr transport.Transport, opts *Options, logger *logrus.Logger) *Session {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Session{
		opts:      *opts,
		tr:        tr,
		logger:    logger,
		now:       nowMillis,
		state:     StateIdle,
		connState: stream.NewStateBroadcast(4, false),
		eeg:       stream.NewBroadcast[EEGReading](opts.StreamBuffer),
		telemetry: stream.NewBroadcast[muse.Telemetry](opts.StreamBuffer),
		accel:     stream.NewBroadcast[muse.Motion](opts.StreamBuffer),
		gyro:      stream.NewBroadcast[muse.Motion](opts.StreamBuffer),
		frames:    stream.NewBroadcast[[]byte](opts.StreamBuffer),
		responses: stream.NewBroadcast[ControlResponse](opts.StreamBuffer),
	}
}

// requiredChannels lists every binding a session establishes, in bind order.
func (s *Session) requiredChannels() []transport.ChannelID {
	channels := []transport.ChannelID{
		transport.Control,
		transport.Telemetry,
		transport.Gyroscope,
		transport.Accelerometer,
	}
	return append(channels, muse.ElectrodeChannels(s.opts.EnableAux)...)
}

// ElectrodeCount reports how many electrode channels this session streams.
func (s *Session) ElectrodeCount() int {
	return len(muse.ElectrodeChannels(s.opts.EnableAux))
}

// Connect establishes the session. With a nil handle the transport discovers
// and connects a device advertising the headband service; a non-nil handle
// binds a pre-established connection instead.
//
// All channels are bound in a fixed order: Control, Telemetry, Gyroscope,
// Accelerometer, then each electrode. Failure at any step unwinds everything
// already established and leaves the session Disconnected; callers never
// observe a partially connected session.
func (s *Session) Connect(ctx context.Context, handle transport.Handle) error {
	s.mu.Lock()
	switch s.state {
	case StateConnecting:
		s.mu.Unlock()
		return fmt.Errorf("connect already in progress")
	case StateConnected:
		s.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	s.state = StateConnecting
	s.mu.Unlock()

	discovered := false
	if handle == nil {
		s.logger.WithField("service", muse.ServiceUUID).Info("Discovering headband...")
		h, err := s.tr.DiscoverAndConnect(ctx, muse.ServiceUUID)
		if err != nil {
			s.setState(StateDisconnected)
			return fmt.Errorf("%w: %v", transport.ErrTransportUnavailable, err)
		}
		handle = h
		discovered = true
	}

	bindings := orderedmap.New[transport.ChannelID, transport.Binding]()
	for _, channel := range s.requiredChannels() {
		binding, err := handle.Bind(ctx, channel)
		if err != nil {
			for pair := bindings.Oldest(); pair != nil; pair = pair.Next() {
				_ = pair.Value.Close()
			}
			if discovered {
				_ = handle.Close()
			}
			s.setState(StateDisconnected)
			return fmt.Errorf("%w: %s: %v", transport.ErrChannelBindingFailed, channel, err)
		}
		bindings.Set(channel, binding)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	mux := newElectrodeMux(s.ElectrodeCount(), readingDeltaMS(s.opts.SamplesPerGroup, s.opts.SampleRateHz), s.now, s.eeg, s.logger)

	s.mu.Lock()
	s.handle = handle
	s.name = handle.Name()
	s.bindings = bindings
	s.mux = mux
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = StateConnected
	s.mu.Unlock()

	for pair := bindings.Oldest(); pair != nil; pair = pair.Next() {
		channel, binding := pair.Key, pair.Value
		if electrode, ok := channel.ElectrodeIndex(); ok {
			mux.attach(sessCtx, electrode, binding.Notifications())
			continue
		}
		switch channel {
		case transport.Control:
			s.wg.Add(1)
			go s.pumpControl(sessCtx, binding.Notifications())
		case transport.Telemetry:
			startPump(sessCtx, &s.wg, binding.Notifications(), muse.DecodeTelemetry, s.telemetry, s.logger, channel.String())
		case transport.Gyroscope:
			startPump(sessCtx, &s.wg, binding.Notifications(), muse.DecodeGyroscope, s.gyro, s.logger, channel.String())
		case transport.Accelerometer:
			startPump(sessCtx, &s.wg, binding.Notifications(), muse.DecodeAccelerometer, s.accel, s.logger, channel.String())
		}
	}

	// Transport-initiated disconnects cascade into the same teardown as an
	// explicit Disconnect. Untracked on purpose: teardown waits on s.wg.
	go func() {
		select {
		case <-sessCtx.Done():
		case <-handle.Disconnected():
			s.logger.Warn("Transport reported disconnection")
			_ = s.teardown("transport disconnect")
		}
	}()

	s.logger.WithFields(logrus.Fields{
		"device":     s.name,
		"electrodes": s.ElectrodeCount(),
	}).Info("Headband connected")
	s.connState.Publish(true)
	return nil
}

// Disconnect tears the session down: cancels delivery, releases every channel
// binding, drops the transport connection, and emits the false
// connection-state notification exactly once. No-op if already disconnected.
func (s *Session) Disconnect() error {
	return s.teardown("requested")
}

func (s *Session) teardown(reason string) error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return nil
	}
	handle := s.handle
	bindings := s.bindings
	mux := s.mux
	cancel := s.cancel
	done := s.done
	s.handle = nil
	s.bindings = nil
	s.mux = nil
	s.cancel = nil
	s.done = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	s.logger.WithField("reason", reason).Info("Disconnecting headband...")

	cancel()
	close(done)

	var firstErr error
	for pair := bindings.Oldest(); pair != nil; pair = pair.Next() {
		if err := pair.Value.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.wg.Wait()
	mux.wait()

	if err := handle.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	s.connState.Publish(false)
	s.logger.Info("Headband disconnected")
	return firstErr
}

// SendCommand encodes and writes a device command on the control channel.
// Fire-and-forget: any response arrives later on the control stream.
func (s *Session) SendCommand(cmd string) error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot send %q while %s", transport.ErrChannelUnavailable, cmd, s.state)
	}
	binding, _ := s.bindings.Get(transport.Control)
	s.mu.Unlock()

	if err := binding.Write(muse.EncodeCommand(cmd)); err != nil {
		return fmt.Errorf("%w: %q: %v", transport.ErrWriteFailed, cmd, err)
	}
	return nil
}

// Pause halts streaming without dropping the connection.
func (s *Session) Pause() error {
	return s.SendCommand(muse.CmdPause)
}

// Resume restarts streaming after Pause.
func (s *Session) Resume() error {
	return s.SendCommand(muse.CmdResume)
}

// Start begins data streaming: pause, select the electrode preset matching
// the auxiliary flag, start, resume. The device firmware processes commands in
// order and later commands assume earlier state, so each write completes
// before the next is issued.
func (s *Session) Start() error {
	if err := s.Pause(); err != nil {
		return err
	}
	preset := muse.PresetNoAux
	if s.opts.EnableAux {
		preset = muse.PresetAux
	}
	if err := s.SendCommand(preset); err != nil {
		return err
	}
	if err := s.SendCommand(muse.CmdStart); err != nil {
		return err
	}
	return s.Resume()
}

// DeviceInfo requests device information and waits for the first control
// response carrying a firmware version, bounded by ctx and the session's
// ResponseTimeout.
func (s *Session) DeviceInfo(ctx context.Context) (ControlResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ResponseTimeout)
	defer cancel()
	return s.awaitResponse(ctx, func(r ControlResponse) bool {
		_, ok := r.FirmwareVersion()
		return ok
	}, muse.CmdDeviceInfo)
}

// AwaitResponse resolves with the first control response satisfying match,
// observing responses only from the moment of the call onward. Multiple
// concurrent calls are independent. Bounded by ctx; fails with
// ErrResponseStreamClosed if the session disconnects first.
func (s *Session) AwaitResponse(ctx context.Context, match func(ControlResponse) bool) (ControlResponse, error) {
	return s.awaitResponse(ctx, match, "")
}

// awaitResponse subscribes before optionally issuing cmd, so the matching
// response cannot slip between the write and the wait.
func (s *Session) awaitResponse(ctx context.Context, match func(ControlResponse) bool, cmd string) (ControlResponse, error) {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: session is %s", transport.ErrChannelUnavailable, s.state)
	}
	done := s.done
	s.mu.Unlock()

	sub := s.responses.Subscribe()
	defer sub.Cancel()

	if cmd != "" {
		if err := s.SendCommand(cmd); err != nil {
			return nil, err
		}
	}
	return waitMatch(ctx, done, sub, match)
}

// pumpControl reassembles control fragments and publishes both the raw frames
// and the decoded response objects.
func (s *Session) pumpControl(ctx context.Context, notifications <-chan []byte) {
	defer s.wg.Done()

	var acc muse.ResponseAccumulator
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-notifications:
			if !ok {
				return
			}
			s.frames.Publish(data)
			resp, complete, err := acc.Push(data)
			if err != nil {
				s.logger.WithField("error", err).Warn("Dropping undecodable control fragment")
				continue
			}
			if complete {
				s.responses.Publish(resp)
			}
		}
	}
}

// startPump runs a decode-and-publish loop for one stateless channel.
func startPump[T any](ctx context.Context, wg *sync.WaitGroup, notifications <-chan []byte, decode func([]byte) (T, error), out *stream.Broadcast[T], logger *logrus.Logger, name string) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-notifications:
				if !ok {
					return
				}
				v, err := decode(data)
				if err != nil {
					logger.WithFields(logrus.Fields{
						"channel": name,
						"error":   err,
					}).Warn("Dropping undecodable packet")
					continue
				}
				out.Publish(v)
			}
		}
	}()
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Name returns the device display name, empty before the first connect.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// ConnectionState is the boolean connection-state stream. Replay-last: a new
// subscriber immediately receives the current state.
func (s *Session) ConnectionState() *stream.Broadcast[bool] {
	return s.connState
}

// EEG is the merged, timestamped electrode reading stream.
func (s *Session) EEG() *stream.Broadcast[EEGReading] {
	return s.eeg
}

// Telemetry is the power telemetry stream.
func (s *Session) Telemetry() *stream.Broadcast[muse.Telemetry] {
	return s.telemetry
}

// Accelerometer is the accelerometer motion stream.
func (s *Session) Accelerometer() *stream.Broadcast[muse.Motion] {
	return s.accel
}

// Gyroscope is the gyroscope motion stream.
func (s *Session) Gyroscope() *stream.Broadcast[muse.Motion] {
	return s.gyro
}

// ControlFrames is the raw (undecoded) control notification stream.
func (s *Session) ControlFrames() *stream.Broadcast[[]byte] {
	return s.frames
}

// Responses is the decoded control response stream. Live only: late
// subscribers see future responses.
func (s *Session) Responses() *stream.Broadcast[ControlResponse] {
	return s.responses
}
