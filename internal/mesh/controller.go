// Package mesh keeps one peer connection per room mate and sequences the
// offer, answer and candidate exchange for each of them.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/media"
	"github.com/dkeye/Huddle/internal/transfer"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrPeerConnectionFailure = errors.New("peer connection failed")
	ErrUnknownPeer           = errors.New("unknown peer")
	ErrProtocolViolation     = errors.New("signaling protocol violation")
)

// Signaler sends negotiation messages to one remote session through the
// coordinator.
type Signaler interface {
	Offer(to core.SessionID, sdp string) error
	Answer(to core.SessionID, sdp string) error
	Candidate(to core.SessionID, c webrtc.ICECandidateInit) error
}

type PeerFactory func(remote core.SessionID) (core.MediaConnection, error)

type Options struct {
	// Codec used for outbound file frames. Inbound frames are decoded
	// whatever codec the peer picked.
	Codec transfer.Codec

	OnFile      func(transfer.File)
	OnAbort     func(peer core.SessionID, id string, err error)
	OnProgress  func(transfer.Progress)
	Sink        media.Sink
	OnLinkState func(remote core.SessionID, state LinkState)
}

// Controller is the client side of the mesh. Negotiations with different
// peers only share the link table; each link guards its own state.
type Controller struct {
	self    core.SessionID
	sig     Signaler
	factory PeerFactory
	media   *media.Provider
	opts    Options
	recv    *transfer.Receiver

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	links  map[core.SessionID]*PeerLink
	closed bool
}

func NewController(ctx context.Context, self core.SessionID, sig Signaler, factory PeerFactory, provider *media.Provider, opts Options) *Controller {
	if opts.Codec == nil {
		opts.Codec = transfer.JSONCodec
	}
	if provider == nil {
		provider = media.NewProvider(media.Unavailable(errors.New("no media source")))
	}
	ctx, cancel := context.WithCancel(ctx)
	recv := transfer.NewReceiver(opts.OnFile, opts.OnAbort)
	recv.OnProgress = opts.OnProgress
	return &Controller{
		self:    self,
		sig:     sig,
		factory: factory,
		media:   provider,
		opts:    opts,
		recv:    recv,
		ctx:     ctx,
		cancel:  cancel,
		links:   make(map[core.SessionID]*PeerLink),
	}
}

func (c *Controller) Self() core.SessionID { return c.self }

// OnRoomUsers is called with the members already present in the room just
// joined. The newcomer offers to each of them.
func (c *Controller) OnRoomUsers(ctx context.Context, members []core.SessionID) error {
	var errs []error
	for _, remote := range members {
		if remote == c.self || remote == "" {
			continue
		}
		if _, ok := c.link(remote); ok {
			continue
		}
		if err := c.offer(ctx, remote); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) offer(ctx context.Context, remote core.SessionID) error {
	l, err := c.newLink(ctx, remote, RoleOfferer)
	if err != nil {
		return err
	}
	dc, err := l.conn.CreateDataChannel(transfer.ChannelLabel)
	if err != nil {
		return c.fail(l, fmt.Errorf("create data channel: %w", err))
	}
	c.attachFiles(l, dc)

	sdp, err := l.conn.CreateAndSetOffer()
	if err != nil {
		return c.fail(l, fmt.Errorf("create offer: %w", err))
	}
	if err := c.sig.Offer(remote, sdp.SDP); err != nil {
		return c.fail(l, fmt.Errorf("send offer: %w", err))
	}
	l.logger.Info().Msg("offer sent")
	return nil
}

func (c *Controller) OnOffer(ctx context.Context, from core.SessionID, sdp string) error {
	l, ok := c.link(from)
	if ok {
		info := l.Info()
		if info.Role == RoleOfferer && info.State == LinkNegotiating {
			if c.self < from {
				l.logger.Info().Msg("offer collision, keeping offerer role")
				return nil
			}
			l.logger.Info().Msg("offer collision, yielding to remote offer")
			c.drop(l, nil)
			ok = false
		}
	}
	if !ok {
		var err error
		if l, err = c.newLink(ctx, from, RoleAnswerer); err != nil {
			return err
		}
	}

	answer, err := l.conn.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp})
	if err != nil {
		return c.fail(l, fmt.Errorf("apply offer: %w", err))
	}
	for _, cand := range l.remoteApplied() {
		l.applyCandidate(cand)
	}
	c.notify(l)
	if err := c.sig.Answer(from, answer.SDP); err != nil {
		return c.fail(l, fmt.Errorf("send answer: %w", err))
	}
	l.logger.Info().Msg("answer sent")
	return nil
}

func (c *Controller) OnAnswer(from core.SessionID, sdp string) error {
	l, ok := c.link(from)
	if !ok {
		log.Warn().Str("module", "mesh").Str("peer", string(from)).Msg("answer for unknown peer dropped")
		return fmt.Errorf("answer from %s: %w", from, ErrProtocolViolation)
	}
	if info := l.Info(); info.Role != RoleOfferer || info.State != LinkNegotiating {
		l.logger.Warn().Str("role", info.Role.String()).Str("state", info.State.String()).Msg("unexpected answer dropped")
		return fmt.Errorf("answer from %s in state %s: %w", from, info.State, ErrProtocolViolation)
	}
	if err := l.conn.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return c.fail(l, fmt.Errorf("apply answer: %w", err))
	}
	for _, cand := range l.remoteApplied() {
		l.applyCandidate(cand)
	}
	c.notify(l)
	l.logger.Info().Msg("answer applied")
	return nil
}

// OnCandidate applies a remote candidate. Candidates for unknown or closed
// links are late or duplicate and are dropped.
func (c *Controller) OnCandidate(from core.SessionID, cand webrtc.ICECandidateInit) {
	l, ok := c.link(from)
	if !ok {
		log.Debug().Str("module", "mesh").Str("peer", string(from)).Msg("candidate for unknown peer dropped")
		return
	}
	l.addCandidate(cand)
}

// RemovePeer closes and forgets the link to remote.
func (c *Controller) RemovePeer(remote core.SessionID) {
	c.mu.Lock()
	l, ok := c.links[remote]
	delete(c.links, remote)
	c.mu.Unlock()
	if ok && l.close(nil) {
		c.notify(l)
	}
}

// Reset closes every link but keeps the controller usable, e.g. on leaving
// a room.
func (c *Controller) Reset() {
	c.mu.Lock()
	links := c.links
	c.links = make(map[core.SessionID]*PeerLink)
	c.mu.Unlock()
	for _, l := range links {
		if l.close(nil) {
			c.notify(l)
		}
	}
}

func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Reset()
	c.cancel()
}

// SetMediaEnabled mutes or unmutes the shared local track of kind. Every
// link carries the same track, so no renegotiation happens.
func (c *Controller) SetMediaEnabled(kind domain.MediaKind, enabled bool) bool {
	ok := c.media.Current().SetEnabled(kind, enabled)
	log.Info().Str("module", "mesh").Str("kind", string(kind)).Bool("enabled", enabled).Bool("has_track", ok).Msg("local media toggled")
	return ok
}

// SendFile streams out to every peer whose file channel is open.
func (c *Controller) SendFile(ctx context.Context, out transfer.Outgoing, progress transfer.ProgressFunc) error {
	var conns []*transfer.Conn
	for _, l := range c.snapshot() {
		if fc := l.fileConn(); fc != nil && fc.IsOpen() {
			conns = append(conns, fc)
		}
	}
	return transfer.Broadcast(ctx, conns, out, progress)
}

func (c *Controller) Link(remote core.SessionID) (LinkInfo, error) {
	l, ok := c.link(remote)
	if !ok {
		return LinkInfo{}, fmt.Errorf("link to %s: %w", remote, ErrUnknownPeer)
	}
	return l.Info(), nil
}

// Links lists the current links ordered by remote id.
func (c *Controller) Links() []LinkInfo {
	links := c.snapshot()
	out := make([]LinkInfo, 0, len(links))
	for _, l := range links {
		out = append(out, l.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Remote < out[j].Remote })
	return out
}

func (c *Controller) snapshot() []*PeerLink {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*PeerLink, 0, len(c.links))
	for _, l := range c.links {
		out = append(out, l)
	}
	return out
}

func (c *Controller) link(remote core.SessionID) (*PeerLink, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.links[remote]
	return l, ok
}

func (c *Controller) newLink(ctx context.Context, remote core.SessionID, role Role) (*PeerLink, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("link to %s: controller closed", remote)
	}

	local, err := c.media.Acquire(ctx)
	if err != nil && ctx.Err() != nil {
		return nil, err
	}

	conn, err := c.factory(remote)
	if err != nil {
		return nil, fmt.Errorf("link to %s: %w: %w", remote, ErrPeerConnectionFailure, err)
	}
	linkCtx, cancel := context.WithCancel(c.ctx)
	l := &PeerLink{
		Remote: remote,
		conn:   conn,
		cancel: cancel,
		role:   role,
		state:  LinkNegotiating,
		logger: log.With().
			Str("module", "mesh").
			Str("peer", string(remote)).
			Str("role", role.String()).
			Logger(),
	}

	conn.OnICECandidate(func(cand webrtc.ICECandidateInit) {
		if err := c.sig.Candidate(remote, cand); err != nil {
			l.logger.Warn().Err(err).Msg("send candidate")
		}
	})
	conn.OnDataChannel(func(dc core.DataChannel) {
		if dc.Label() != transfer.ChannelLabel {
			l.logger.Warn().Str("label", dc.Label()).Msg("unexpected data channel")
			return
		}
		c.attachFiles(l, dc)
	})
	conn.OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind, err := domain.ParseMediaKind(track.Kind().String())
		if err != nil {
			l.logger.Warn().Err(err).Msg("remote track ignored")
			return
		}
		read := func() (*rtp.Packet, error) {
			pkt, _, err := track.ReadRTP()
			return pkt, err
		}
		s := media.StartRemoteStream(ctx, remote, kind, read, c.opts.Sink)
		if !l.addStream(s) {
			s.Stop()
		}
	})
	conn.OnStateChange(func(s webrtc.PeerConnectionState) {
		c.onConnState(l, s)
	})

	if err := conn.Start(linkCtx); err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("link to %s: %w: %w", remote, ErrPeerConnectionFailure, err)
	}

	for _, t := range local.Tracks() {
		sender, err := conn.AddLocalTrack(t.Track)
		if err != nil {
			l.logger.Warn().Err(err).Str("kind", string(t.Kind)).Msg("add local track")
			continue
		}
		if sender != nil {
			go drainRTCP(sender)
		}
	}

	c.mu.Lock()
	prev := c.links[remote]
	c.links[remote] = l
	c.mu.Unlock()
	if prev != nil && prev.close(nil) {
		c.notify(prev)
	}
	l.logger.Info().Msg("peer link created")
	c.notify(l)
	return l, nil
}

func (c *Controller) attachFiles(l *PeerLink, dc core.DataChannel) {
	fc := transfer.NewConn(l.Remote, dc, c.opts.Codec)
	if !l.setFiles(fc) {
		return
	}
	c.recv.Attach(fc)
}

func (c *Controller) onConnState(l *PeerLink, s webrtc.PeerConnectionState) {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		if l.setState(LinkConnected) {
			c.notify(l)
		}
	case webrtc.PeerConnectionStateFailed:
		c.drop(l, ErrPeerConnectionFailure)
	}
}

// fail closes l after a negotiation error and returns the error.
func (c *Controller) fail(l *PeerLink, err error) error {
	err = fmt.Errorf("link to %s: %w", l.Remote, err)
	c.drop(l, err)
	return err
}

// drop forgets l if it is still the current link for its remote, then
// closes it.
func (c *Controller) drop(l *PeerLink, cause error) {
	c.mu.Lock()
	if c.links[l.Remote] == l {
		delete(c.links, l.Remote)
	}
	c.mu.Unlock()
	if l.close(cause) {
		c.notify(l)
	}
}

func (c *Controller) notify(l *PeerLink) {
	if c.opts.OnLinkState != nil {
		c.opts.OnLinkState(l.Remote, l.State())
	}
}

// drainRTCP keeps the sender's RTCP reader moving so interceptors work.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
