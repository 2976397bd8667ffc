package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/eegkit/muselink/internal/testutils"
	"github.com/eegkit/muselink/internal/transport"
)

type SessionTestSuite struct {
	suite.Suite
	logger *logrus.Logger
}

func TestSessionSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}

func (suite *SessionTestSuite) SetupTest() {
	suite.logger = logrus.New()
	suite.logger.SetLevel(logrus.ErrorLevel)
}

// newSession builds a session over fake handles with a frozen wall clock.
func (suite *SessionTestSuite) newSession(opts *Options, handles ...*testutils.FakeHandle) *Session {
	sess := New(testutils.NewFakeTransport(handles...), opts, suite.logger)
	sess.now = func() float64 { return 100000 }
	return sess
}

func (suite *SessionTestSuite) connect(sess *Session) {
	suite.Require().NoError(sess.Connect(context.Background(), nil), "connect MUST succeed")
}

// respondTo waits for cmd to be written on the control channel, then streams
// payload back as fragmented control notifications.
func respondTo(h *testutils.FakeHandle, cmd, payload string) {
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			binding := h.Binding(transport.Control)
			if binding != nil {
				for _, written := range binding.Commands() {
					if written == cmd {
						for _, frame := range testutils.ControlFrames(payload, 19) {
							binding.Notify(frame)
						}
						return
					}
				}
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()
}

func awaitBool(suite *SessionTestSuite, ch <-chan bool, want bool, msg string) {
	select {
	case got, ok := <-ch:
		suite.Require().True(ok, "connection state stream MUST stay open")
		suite.Assert().Equal(want, got, msg)
	case <-time.After(2 * time.Second):
		suite.FailNow("timed out waiting for connection state", msg)
	}
}

func (suite *SessionTestSuite) TestConnectLifecycle() {
	// GOAL: Verify the connect path binds every channel and reports state correctly
	//
	// TEST SCENARIO: Connect over a fake transport → all channels bound in fixed order → state and name exposed → connection stream emits true

	handle := testutils.NewFakeHandle("Muse-ABCD")
	sess := suite.newSession(nil, handle)

	connSub := sess.ConnectionState().Subscribe()
	defer connSub.Cancel()
	awaitBool(suite, connSub.C(), false, "initial replayed state MUST be false")

	suite.connect(sess)
	defer func() { _ = sess.Disconnect() }()

	suite.Assert().Equal(StateConnected, sess.State(), "session MUST be connected")
	suite.Assert().Equal("Muse-ABCD", sess.Name(), "device name MUST come from the handle")
	suite.Assert().Equal(4, sess.ElectrodeCount(), "default options MUST stream four electrodes")

	suite.Assert().Equal([]transport.ChannelID{
		transport.Control, transport.Telemetry, transport.Gyroscope, transport.Accelerometer,
		transport.Electrode0, transport.Electrode1, transport.Electrode2, transport.Electrode3,
	}, handle.BindOrder(), "channels MUST bind in the fixed order")

	awaitBool(suite, connSub.C(), true, "connect MUST publish true")

	suite.Run("replay-last for late subscriber", func() {
		// GOAL: Verify the connection stream replays the current state on subscribe
		//
		// TEST SCENARIO: Subscribe while connected → immediately receive true

		late := sess.ConnectionState().Subscribe()
		defer late.Cancel()
		awaitBool(suite, late.C(), true, "late subscriber MUST immediately see the current state")
	})

	suite.Run("double connect is rejected", func() {
		err := sess.Connect(context.Background(), nil)
		suite.Assert().Error(err, "second connect MUST fail while connected")
	})
}

func (suite *SessionTestSuite) TestConnectFailures() {
	// GOAL: Verify connect failures unwind cleanly and never leave a partial session
	//
	// TEST SCENARIO: Discovery and binding failures → typed errors → earlier bindings released → state Disconnected

	suite.Run("discovery failure", func() {
		sess := suite.newSession(nil)
		sess.tr = testutils.NewFakeTransport().FailWith(fmt.Errorf("adapter powered off"))

		err := sess.Connect(context.Background(), nil)

		suite.Require().Error(err)
		suite.Assert().True(errors.Is(err, transport.ErrTransportUnavailable), "discovery failure MUST wrap ErrTransportUnavailable")
		suite.Assert().Equal(StateDisconnected, sess.State())
	})

	suite.Run("binding failure unwinds prior bindings", func() {
		handle := testutils.NewFakeHandle("Muse-ABCD").
			FailBinding(transport.Accelerometer, fmt.Errorf("subscribe rejected"))
		sess := suite.newSession(nil, handle)

		err := sess.Connect(context.Background(), nil)

		suite.Require().Error(err)
		suite.Assert().True(errors.Is(err, transport.ErrChannelBindingFailed), "bind failure MUST wrap ErrChannelBindingFailed")
		suite.Assert().Equal(StateDisconnected, sess.State())

		suite.Assert().True(handle.Binding(transport.Control).Closed(), "control binding MUST be released on unwind")
		suite.Assert().True(handle.Binding(transport.Gyroscope).Closed(), "gyroscope binding MUST be released on unwind")
		suite.Assert().True(handle.Closed(), "a discovered handle MUST be closed on unwind")
	})

	suite.Run("caller-supplied handle survives bind failure", func() {
		handle := testutils.NewFakeHandle("Muse-ABCD").
			FailBinding(transport.Telemetry, fmt.Errorf("subscribe rejected"))
		sess := suite.newSession(nil)

		err := sess.Connect(context.Background(), handle)

		suite.Require().Error(err)
		suite.Assert().False(handle.Closed(), "the session MUST NOT close a handle it did not discover")
	})
}

func (suite *SessionTestSuite) TestStartCommandSequence() {
	// GOAL: Verify Start issues the streaming command sequence in strict order
	//
	// TEST SCENARIO: Start with and without aux → pause, preset, start, resume written in order

	suite.Run("default preset", func() {
		handle := testutils.NewFakeHandle("Muse-ABCD")
		sess := suite.newSession(nil, handle)
		suite.connect(sess)
		defer func() { _ = sess.Disconnect() }()

		suite.Require().NoError(sess.Start())

		suite.Assert().Equal([]string{"h", "p21", "s", "d"}, handle.Binding(transport.Control).Commands(),
			"Start MUST write pause, no-aux preset, start, resume in order")
	})

	suite.Run("aux preset binds a fifth electrode", func() {
		handle := testutils.NewFakeHandle("Muse-ABCD")
		opts := DefaultOptions()
		opts.EnableAux = true
		sess := suite.newSession(opts, handle)
		suite.connect(sess)
		defer func() { _ = sess.Disconnect() }()

		suite.Assert().Equal(5, sess.ElectrodeCount())
		suite.Assert().NotNil(handle.Binding(transport.Electrode4), "aux electrode MUST be bound")

		suite.Require().NoError(sess.Start())
		suite.Assert().Equal([]string{"h", "p20", "s", "d"}, handle.Binding(transport.Control).Commands(),
			"aux sessions MUST select the five-electrode preset")
	})
}

func (suite *SessionTestSuite) TestSendCommandErrors() {
	// GOAL: Verify command writes fail with typed errors outside a live session
	//
	// TEST SCENARIO: Command while idle → ErrChannelUnavailable; write failure → ErrWriteFailed

	suite.Run("not connected", func() {
		sess := suite.newSession(nil)
		err := sess.Pause()
		suite.Assert().True(errors.Is(err, transport.ErrChannelUnavailable), "command while idle MUST wrap ErrChannelUnavailable")
	})

	suite.Run("write failure", func() {
		handle := testutils.NewFakeHandle("Muse-ABCD")
		sess := suite.newSession(nil, handle)
		suite.connect(sess)
		defer func() { _ = sess.Disconnect() }()

		handle.Binding(transport.Control).FailWrites(fmt.Errorf("gatt write rejected"))

		err := sess.Resume()
		suite.Assert().True(errors.Is(err, transport.ErrWriteFailed), "failed write MUST wrap ErrWriteFailed")
	})
}

func (suite *SessionTestSuite) TestDisconnectExactlyOnce() {
	// GOAL: Verify teardown is idempotent and the false notification fires exactly once
	//
	// TEST SCENARIO: Disconnect twice → bindings and handle released → a single false on the connection stream

	handle := testutils.NewFakeHandle("Muse-ABCD")
	sess := suite.newSession(nil, handle)
	suite.connect(sess)

	connSub := sess.ConnectionState().Subscribe()
	defer connSub.Cancel()
	awaitBool(suite, connSub.C(), true, "replayed state MUST be true while connected")

	suite.Require().NoError(sess.Disconnect())
	suite.Require().NoError(sess.Disconnect(), "second disconnect MUST be a no-op")

	suite.Assert().Equal(StateDisconnected, sess.State())
	suite.Assert().True(handle.Binding(transport.Control).Closed(), "bindings MUST be released")
	suite.Assert().True(handle.Closed(), "handle MUST be released")

	awaitBool(suite, connSub.C(), false, "teardown MUST publish false")
	select {
	case extra := <-connSub.C():
		suite.FailNow("unexpected connection state", "got %v after the single false", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func (suite *SessionTestSuite) TestTransportDropTriggersTeardown() {
	// GOAL: Verify a transport-initiated disconnect cascades into full teardown
	//
	// TEST SCENARIO: DropConnection on the handle → session tears down → false published → explicit Disconnect is then a no-op

	handle := testutils.NewFakeHandle("Muse-ABCD")
	sess := suite.newSession(nil, handle)
	suite.connect(sess)

	connSub := sess.ConnectionState().Subscribe()
	defer connSub.Cancel()
	awaitBool(suite, connSub.C(), true, "replayed state MUST be true")

	handle.DropConnection()

	awaitBool(suite, connSub.C(), false, "transport drop MUST publish false")
	suite.Assert().Equal(StateDisconnected, sess.State())
	suite.Assert().NoError(sess.Disconnect(), "explicit disconnect after a drop MUST be a no-op")
}

func (suite *SessionTestSuite) TestDeviceInfo() {
	// GOAL: Verify the info command correlates with the firmware-bearing response
	//
	// TEST SCENARIO: DeviceInfo → v1 written → fragmented response reassembled → firmware version exposed

	suite.Run("response within deadline", func() {
		handle := testutils.NewFakeHandle("Muse-ABCD")
		sess := suite.newSession(nil, handle)
		suite.connect(sess)
		defer func() { _ = sess.Disconnect() }()

		respondTo(handle, "v1", `{"ap":"headset","hw":"3.1","fw":"1.2.13","bn":27,"rc":0}`)

		resp, err := sess.DeviceInfo(context.Background())

		suite.Require().NoError(err, "info request MUST resolve")
		fw, ok := resp.FirmwareVersion()
		suite.Require().True(ok, "response MUST carry a firmware version")
		suite.Assert().Equal("1.2.13", fw)
	})

	suite.Run("deadline expires without response", func() {
		handle := testutils.NewFakeHandle("Muse-ABCD")
		opts := DefaultOptions()
		opts.ResponseTimeout = 50 * time.Millisecond
		sess := suite.newSession(opts, handle)
		suite.connect(sess)
		defer func() { _ = sess.Disconnect() }()

		_, err := sess.DeviceInfo(context.Background())

		suite.Assert().True(errors.Is(err, transport.ErrTimeout), "silent device MUST produce ErrTimeout")
	})

	suite.Run("not connected", func() {
		sess := suite.newSession(nil)
		_, err := sess.DeviceInfo(context.Background())
		suite.Assert().True(errors.Is(err, transport.ErrChannelUnavailable))
	})
}

func (suite *SessionTestSuite) TestAwaitResponseCorrelation() {
	// GOAL: Verify concurrent response waits resolve independently by predicate
	//
	// TEST SCENARIO: Two pending waits with disjoint predicates → responses arrive in either order → each wait gets its own match

	handle := testutils.NewFakeHandle("Muse-ABCD")
	sess := suite.newSession(nil, handle)
	suite.connect(sess)
	defer func() { _ = sess.Disconnect() }()

	type result struct {
		resp ControlResponse
		err  error
	}
	await := func(want float64) chan result {
		out := make(chan result, 1)
		go func() {
			resp, err := sess.AwaitResponse(context.Background(), func(r ControlResponse) bool {
				return r["rc"] == want
			})
			out <- result{resp, err}
		}()
		return out
	}

	waitTwo := await(2.0)
	waitOne := await(1.0)
	time.Sleep(20 * time.Millisecond) // let both subscribe

	control := handle.Binding(transport.Control)
	for _, frame := range testutils.ControlFrames(`{"rc":2,"id":"a"}`, 19) {
		control.Notify(frame)
	}
	for _, frame := range testutils.ControlFrames(`{"rc":1,"id":"b"}`, 19) {
		control.Notify(frame)
	}

	for want, ch := range map[string]chan result{"a": waitTwo, "b": waitOne} {
		select {
		case res := <-ch:
			suite.Require().NoError(res.err)
			suite.Assert().Equal(want, res.resp["id"], "each wait MUST resolve with its own matching response")
		case <-time.After(2 * time.Second):
			suite.FailNow("correlation wait did not resolve")
		}
	}
}

func (suite *SessionTestSuite) TestAwaitResponseIsLiveOnly() {
	// GOAL: Verify a wait never resolves with a response delivered before it began
	//
	// TEST SCENARIO: Response arrives → wait started afterwards with a matching predicate → wait times out

	handle := testutils.NewFakeHandle("Muse-ABCD")
	sess := suite.newSession(nil, handle)
	suite.connect(sess)
	defer func() { _ = sess.Disconnect() }()

	// Observe the response landing on the live stream before starting the wait.
	seen := sess.Responses().Subscribe()
	defer seen.Cancel()
	for _, frame := range testutils.ControlFrames(`{"rc":0}`, 19) {
		handle.Binding(transport.Control).Notify(frame)
	}
	select {
	case <-seen.C():
	case <-time.After(2 * time.Second):
		suite.FailNow("response never reached the stream")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := sess.AwaitResponse(ctx, func(r ControlResponse) bool { return r["rc"] == 0.0 })

	suite.Assert().True(errors.Is(err, transport.ErrTimeout), "past responses MUST never resolve a later wait")
}

func (suite *SessionTestSuite) TestPendingWaitFailsOnDisconnect() {
	// GOAL: Verify disconnect fails pending correlation waits instead of hanging them
	//
	// TEST SCENARIO: Wait pending → disconnect → ErrResponseStreamClosed

	handle := testutils.NewFakeHandle("Muse-ABCD")
	sess := suite.newSession(nil, handle)
	suite.connect(sess)

	errCh := make(chan error, 1)
	go func() {
		_, err := sess.AwaitResponse(context.Background(), func(ControlResponse) bool { return true })
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)

	suite.Require().NoError(sess.Disconnect())

	select {
	case err := <-errCh:
		suite.Assert().True(errors.Is(err, transport.ErrResponseStreamClosed), "disconnect MUST fail pending waits with ErrResponseStreamClosed")
	case <-time.After(2 * time.Second):
		suite.FailNow("pending wait hung across disconnect")
	}
}

func (suite *SessionTestSuite) TestDataStreams() {
	// GOAL: Verify notifications flow decoded onto their streams
	//
	// TEST SCENARIO: Inject electrode and telemetry packets → decoded readings on the session streams

	handle := testutils.NewFakeHandle("Muse-ABCD")
	sess := suite.newSession(nil, handle)

	eegSub := sess.EEG().Subscribe()
	defer eegSub.Cancel()
	teleSub := sess.Telemetry().Subscribe()
	defer teleSub.Cancel()

	suite.connect(sess)
	defer func() { _ = sess.Disconnect() }()

	handle.Binding(transport.Electrode1).Notify(testutils.FlatEEGPacket(300, 0x800))
	handle.Binding(transport.Telemetry).Notify(testutils.TelemetryPacket(1, 512*90, 1500, 22))

	select {
	case r := <-eegSub.C():
		suite.Assert().Equal(1, r.Electrode)
		suite.Assert().Equal("AF7", r.Label)
		suite.Assert().InDelta(100000-testDeltaMS, r.Timestamp, 1e-9, "first group MUST seed at now minus one interval")
	case <-time.After(2 * time.Second):
		suite.FailNow("no electrode reading arrived")
	}

	select {
	case t := <-teleSub.C():
		suite.Assert().InDelta(90.0, t.BatteryPercent, 1e-9, "telemetry MUST decode on its stream")
	case <-time.After(2 * time.Second):
		suite.FailNow("no telemetry arrived")
	}
}

func (suite *SessionTestSuite) TestReconnectResetsChannelClocks() {
	// GOAL: Verify a reconnect starts timestamp reconstruction from scratch
	//
	// TEST SCENARIO: Stream on first connection → disconnect → reconnect → first group seeds fresh instead of continuing the old clock

	first := testutils.NewFakeHandle("Muse-ABCD")
	second := testutils.NewFakeHandle("Muse-ABCD")
	sess := suite.newSession(nil, first, second)

	eegSub := sess.EEG().Subscribe()
	defer eegSub.Cancel()

	suite.connect(sess)
	first.Binding(transport.Electrode0).Notify(testutils.FlatEEGPacket(4000, 0x800))
	var before EEGReading
	select {
	case before = <-eegSub.C():
	case <-time.After(2 * time.Second):
		suite.FailNow("no reading on first connection")
	}
	suite.Require().NoError(sess.Disconnect())

	suite.connect(sess)
	defer func() { _ = sess.Disconnect() }()
	second.Binding(transport.Electrode0).Notify(testutils.FlatEEGPacket(4123, 0x800))

	select {
	case after := <-eegSub.C():
		suite.Assert().InDelta(before.Timestamp, after.Timestamp, 1e-9,
			"with a frozen clock a fresh seed MUST land at the same now-minus-interval, not 123 intervals later")
	case <-time.After(2 * time.Second):
		suite.FailNow("no reading on second connection")
	}
}
