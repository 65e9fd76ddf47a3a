package transfer

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

// fakeChannel is an in-memory data channel. Frames sent on one end of a
// pipe are delivered synchronously to the other end.
type fakeChannel struct {
	buffered atomic.Uint64

	mu        sync.Mutex
	state     webrtc.DataChannelState
	peer      *fakeChannel
	frames    []webrtc.DataChannelMessage
	threshold uint64
	onOpen    func()
	onClose   func()
	onLow     func()
	onMessage func(webrtc.DataChannelMessage)
}

func newFakeChannel(state webrtc.DataChannelState) *fakeChannel {
	return &fakeChannel{state: state}
}

func pipe() (*fakeChannel, *fakeChannel) {
	a := newFakeChannel(webrtc.DataChannelStateOpen)
	b := newFakeChannel(webrtc.DataChannelStateOpen)
	a.peer, b.peer = b, a
	return a, b
}

func (f *fakeChannel) Label() string { return ChannelLabel }

func (f *fakeChannel) Send(b []byte) error {
	return f.send(webrtc.DataChannelMessage{Data: append([]byte(nil), b...)})
}

func (f *fakeChannel) SendText(s string) error {
	return f.send(webrtc.DataChannelMessage{IsString: true, Data: []byte(s)})
}

func (f *fakeChannel) send(m webrtc.DataChannelMessage) error {
	f.mu.Lock()
	if f.state != webrtc.DataChannelStateOpen {
		f.mu.Unlock()
		return errors.New("channel not open")
	}
	f.frames = append(f.frames, m)
	peer := f.peer
	f.mu.Unlock()
	if peer != nil {
		peer.mu.Lock()
		fn := peer.onMessage
		peer.mu.Unlock()
		if fn != nil {
			fn(m)
		}
	}
	return nil
}

func (f *fakeChannel) Frames() []webrtc.DataChannelMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webrtc.DataChannelMessage(nil), f.frames...)
}

func (f *fakeChannel) BufferedAmount() uint64 { return f.buffered.Load() }

func (f *fakeChannel) SetBufferedAmountLowThreshold(th uint64) {
	f.mu.Lock()
	f.threshold = th
	f.mu.Unlock()
}

func (f *fakeChannel) OnBufferedAmountLow(fn func()) {
	f.mu.Lock()
	f.onLow = fn
	f.mu.Unlock()
}

func (f *fakeChannel) OnOpen(fn func()) {
	f.mu.Lock()
	f.onOpen = fn
	f.mu.Unlock()
}

func (f *fakeChannel) OnClose(fn func()) {
	f.mu.Lock()
	f.onClose = fn
	f.mu.Unlock()
}

func (f *fakeChannel) OnMessage(fn func(webrtc.DataChannelMessage)) {
	f.mu.Lock()
	f.onMessage = fn
	f.mu.Unlock()
}

func (f *fakeChannel) ReadyState() webrtc.DataChannelState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// drain empties the buffer and fires the low-water callback.
func (f *fakeChannel) drain() {
	f.buffered.Store(0)
	f.mu.Lock()
	fn := f.onLow
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *fakeChannel) open() {
	f.mu.Lock()
	f.state = webrtc.DataChannelStateOpen
	fn := f.onOpen
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	if f.state == webrtc.DataChannelStateClosed {
		f.mu.Unlock()
		return nil
	}
	f.state = webrtc.DataChannelStateClosed
	fn := f.onClose
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}
