package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/eegkit/muselink/internal/transport"
)

const fakeNotificationBuffer = 256

// FakeBinding is an in-memory channel binding. Tests inject inbound
// notifications with Notify and inspect outbound writes with Writes/Commands.
type FakeBinding struct {
	channel transport.ChannelID
	notif   chan []byte

	mu       sync.Mutex
	writes   [][]byte
	writeErr error
	closed   bool
}

func newFakeBinding(channel transport.ChannelID) *FakeBinding {
	return &FakeBinding{
		channel: channel,
		notif:   make(chan []byte, fakeNotificationBuffer),
	}
}

func (b *FakeBinding) Notifications() <-chan []byte {
	return b.notif
}

func (b *FakeBinding) Write(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("binding %s is closed", b.channel)
	}
	if b.writeErr != nil {
		return b.writeErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	b.writes = append(b.writes, cp)
	return nil
}

func (b *FakeBinding) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.notif)
	return nil
}

// Notify injects one inbound notification. Ignored after Close, mirroring a
// transport whose callbacks stop once unsubscribed.
func (b *FakeBinding) Notify(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.notif <- data
}

// FailWrites makes every subsequent Write return err.
func (b *FakeBinding) FailWrites(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeErr = err
}

// Writes returns a snapshot of every payload written so far, in order.
func (b *FakeBinding) Writes() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.writes))
	copy(out, b.writes)
	return out
}

// Commands decodes the written payloads back into command strings, assuming
// the length-prefix-plus-newline framing of the control channel.
func (b *FakeBinding) Commands() []string {
	writes := b.Writes()
	cmds := make([]string, 0, len(writes))
	for _, w := range writes {
		if len(w) < 2 {
			continue
		}
		n := int(w[0])
		if n < 1 || 1+n > len(w) {
			continue
		}
		cmds = append(cmds, string(w[1:n])) // strip length prefix and '\n'
	}
	return cmds
}

// Closed reports whether the binding has been released.
func (b *FakeBinding) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// FakeHandle is an in-memory connected device. Bindings are created on
// demand; individual channels can be made to fail binding, and DropConnection
// simulates a transport-initiated disconnect.
type FakeHandle struct {
	name string

	mu        sync.Mutex
	bindings  map[transport.ChannelID]*FakeBinding
	bindOrder []transport.ChannelID
	bindErrs  map[transport.ChannelID]error
	closed    bool

	disc     chan struct{}
	discOnce sync.Once
}

func NewFakeHandle(name string) *FakeHandle {
	return &FakeHandle{
		name:     name,
		bindings: make(map[transport.ChannelID]*FakeBinding),
		bindErrs: make(map[transport.ChannelID]error),
		disc:     make(chan struct{}),
	}
}

// FailBinding makes Bind fail for one channel, for connect-abort tests.
func (h *FakeHandle) FailBinding(channel transport.ChannelID, err error) *FakeHandle {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bindErrs[channel] = err
	return h
}

func (h *FakeHandle) Name() string {
	return h.name
}

func (h *FakeHandle) Bind(_ context.Context, channel transport.ChannelID) (transport.Binding, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err, ok := h.bindErrs[channel]; ok {
		return nil, err
	}
	binding := newFakeBinding(channel)
	h.bindings[channel] = binding
	h.bindOrder = append(h.bindOrder, channel)
	return binding, nil
}

func (h *FakeHandle) Disconnected() <-chan struct{} {
	return h.disc
}

func (h *FakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// Binding returns the established binding for a channel, nil if never bound.
func (h *FakeHandle) Binding(channel transport.ChannelID) *FakeBinding {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bindings[channel]
}

// BindOrder returns the channels in the order they were bound.
func (h *FakeHandle) BindOrder() []transport.ChannelID {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]transport.ChannelID, len(h.bindOrder))
	copy(out, h.bindOrder)
	return out
}

// Closed reports whether the session released the handle.
func (h *FakeHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// DropConnection simulates an asynchronous transport-level disconnect.
func (h *FakeHandle) DropConnection() {
	h.discOnce.Do(func() { close(h.disc) })
}

// FakeTransport hands out pre-built handles, one per DiscoverAndConnect call.
type FakeTransport struct {
	mu      sync.Mutex
	handles []*FakeHandle
	next    int
	err     error
}

func NewFakeTransport(handles ...*FakeHandle) *FakeTransport {
	return &FakeTransport{handles: handles}
}

// FailWith makes discovery fail with err.
func (t *FakeTransport) FailWith(err error) *FakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
	return t
}

func (t *FakeTransport) DiscoverAndConnect(_ context.Context, _ string) (transport.Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	if t.next >= len(t.handles) {
		return nil, fmt.Errorf("no more fake handles (asked for handle %d of %d)", t.next+1, len(t.handles))
	}
	h := t.handles[t.next]
	t.next++
	return h, nil
}
