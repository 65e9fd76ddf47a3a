package mesh

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/pion/webrtc/v4"
)

type fakeChannel struct {
	label string

	mu        sync.Mutex
	state     webrtc.DataChannelState
	frames    []webrtc.DataChannelMessage
	onOpen    func()
	onClose   func()
	onMessage func(webrtc.DataChannelMessage)
}

func newFakeChannel(label string) *fakeChannel {
	return &fakeChannel{label: label, state: webrtc.DataChannelStateOpen}
}

func (f *fakeChannel) Label() string { return f.label }

func (f *fakeChannel) Send(b []byte) error {
	return f.record(webrtc.DataChannelMessage{Data: append([]byte(nil), b...)})
}

func (f *fakeChannel) SendText(s string) error {
	return f.record(webrtc.DataChannelMessage{IsString: true, Data: []byte(s)})
}

func (f *fakeChannel) record(m webrtc.DataChannelMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != webrtc.DataChannelStateOpen {
		return errors.New("channel not open")
	}
	f.frames = append(f.frames, m)
	return nil
}

func (f *fakeChannel) Frames() []webrtc.DataChannelMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webrtc.DataChannelMessage(nil), f.frames...)
}

func (f *fakeChannel) deliver(m webrtc.DataChannelMessage) {
	f.mu.Lock()
	fn := f.onMessage
	f.mu.Unlock()
	if fn != nil {
		fn(m)
	}
}

func (f *fakeChannel) BufferedAmount() uint64 { return 0 }

func (f *fakeChannel) SetBufferedAmountLowThreshold(uint64) {}

func (f *fakeChannel) OnBufferedAmountLow(func()) {}

func (f *fakeChannel) OnOpen(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onOpen = fn
}

func (f *fakeChannel) OnClose(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onClose = fn
}

func (f *fakeChannel) OnMessage(fn func(webrtc.DataChannelMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onMessage = fn
}

func (f *fakeChannel) ReadyState() webrtc.DataChannelState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
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

type fakeConn struct {
	remote core.SessionID

	mu           sync.Mutex
	started      bool
	closed       bool
	channels     []*fakeChannel
	tracks       []webrtc.TrackLocal
	remoteOffer  string
	remoteAnswer string
	candidates   []webrtc.ICECandidateInit
	offerErr     error
	onICE        func(webrtc.ICECandidateInit)
	onDC         func(core.DataChannel)
	onState      func(webrtc.PeerConnectionState)
}

var _ core.MediaConnection = (*fakeConn)(nil)

func (f *fakeConn) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) CreateDataChannel(label string) (core.DataChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := newFakeChannel(label)
	f.channels = append(f.channels, ch)
	return ch, nil
}

func (f *fakeConn) OnDataChannel(fn func(core.DataChannel)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDC = fn
}

func (f *fakeConn) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offerErr != nil {
		return nil, f.offerErr
	}
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer:" + string(f.remote)}, nil
}

func (f *fakeConn) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteOffer = offer.SDP
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer:" + string(f.remote)}, nil
}

func (f *fakeConn) ApplyAnswer(answer webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteAnswer = answer.SDP
	return nil
}

func (f *fakeConn) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onICE = fn
}

func (f *fakeConn) OnTrack(func(context.Context, *webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (f *fakeConn) AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks = append(f.tracks, track)
	return nil, nil
}

func (f *fakeConn) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = fn
}

func (f *fakeConn) fireState(s webrtc.PeerConnectionState) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	fn(s)
}

func (f *fakeConn) fireDataChannel(ch core.DataChannel) {
	f.mu.Lock()
	fn := f.onDC
	f.mu.Unlock()
	fn(ch)
}

func (f *fakeConn) fireICE(c webrtc.ICECandidateInit) {
	f.mu.Lock()
	fn := f.onICE
	f.mu.Unlock()
	fn(c)
}

func (f *fakeConn) Candidates() []webrtc.ICECandidateInit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), f.candidates...)
}

// fakeFactory remembers every connection it made, per remote.
type fakeFactory struct {
	mu    sync.Mutex
	conns map[core.SessionID][]*fakeConn
	err   error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{conns: make(map[core.SessionID][]*fakeConn)}
}

func (f *fakeFactory) New(remote core.SessionID) (core.MediaConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeConn{remote: remote}
	f.conns[remote] = append(f.conns[remote], c)
	return c, nil
}

func (f *fakeFactory) Conns(remote core.SessionID) []*fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeConn(nil), f.conns[remote]...)
}

type sent struct {
	Kind string
	To   core.SessionID
	SDP  string
	Cand webrtc.ICECandidateInit
}

type fakeSignaler struct {
	mu   sync.Mutex
	sent []sent
}

func (s *fakeSignaler) Offer(to core.SessionID, sdp string) error {
	return s.add(sent{Kind: "offer", To: to, SDP: sdp})
}

func (s *fakeSignaler) Answer(to core.SessionID, sdp string) error {
	return s.add(sent{Kind: "answer", To: to, SDP: sdp})
}

func (s *fakeSignaler) Candidate(to core.SessionID, c webrtc.ICECandidateInit) error {
	return s.add(sent{Kind: "candidate", To: to, Cand: c})
}

func (s *fakeSignaler) add(m sent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, m)
	return nil
}

func (s *fakeSignaler) Sent() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sent(nil), s.sent...)
}
