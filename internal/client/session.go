// Package client is a headless room participant: it keeps the signaling
// connection, the peer mesh and file transfers together and reports what
// happens as a stream of events.
package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dkeye/Huddle/internal/adapters/rtc"
	"github.com/dkeye/Huddle/internal/adapters/signalclient"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/media"
	"github.com/dkeye/Huddle/internal/mesh"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/dkeye/Huddle/internal/transfer"
	"github.com/rs/zerolog/log"
)

const eventBuffer = 256

var ErrJoinPending = errors.New("another create or join is pending")

type Options struct {
	Server   string
	Username string
	Codec    transfer.Codec
	Source   media.Source
	Peers    mesh.PeerFactory
	Sink     media.Sink
}

func OptionsFromConfig(cfg *config.ClientConfig) (Options, error) {
	codec, err := transfer.CodecByName(cfg.Codec)
	if err != nil {
		return Options{}, err
	}
	var src media.Source
	if cfg.Video || cfg.Audio {
		src = media.StaticSource(cfg.Video, cfg.Audio)
	} else {
		src = media.Unavailable(errors.New("capture disabled"))
	}
	return Options{
		Server:   cfg.Server,
		Username: cfg.Username,
		Codec:    codec,
		Source:   src,
		Peers:    rtc.Factory(rtc.ConfigWithSTUN(cfg.STUN)),
	}, nil
}

type joinResult struct {
	room domain.RoomName
	err  error
}

type Session struct {
	sig      *signalclient.Client
	mesh     *mesh.Controller
	provider *media.Provider
	self     core.SessionID
	username string
	backlog  []protocol.Envelope

	events   chan Event
	done     chan struct{}
	doneOnce sync.Once
	evMu     sync.RWMutex
	evClosed bool

	mu      sync.Mutex
	room    domain.RoomName
	pending *pendingJoin
	members map[core.SessionID]protocol.RoomUser
	rooms   []protocol.RoomInfo
}

type pendingJoin struct {
	room  domain.RoomName
	reply chan joinResult
}

// Dial connects to the coordinator and waits for the welcome that carries
// this session's id.
func Dial(ctx context.Context, opts Options) (*Session, error) {
	sig, err := signalclient.Dial(ctx, opts.Server, signalclient.Options{Username: opts.Username})
	if err != nil {
		return nil, err
	}

	var welcome protocol.Welcome
	var backlog []protocol.Envelope
wait:
	for {
		select {
		case env, ok := <-sig.Incoming():
			if !ok {
				return nil, fmt.Errorf("waiting for welcome: %w", signalclient.ErrClosed)
			}
			if env.Type != protocol.TypeWelcome {
				backlog = append(backlog, env)
				continue
			}
			if err := env.Into(&welcome); err != nil {
				_ = sig.Close()
				return nil, err
			}
			break wait
		case <-ctx.Done():
			_ = sig.Close()
			return nil, ctx.Err()
		}
	}

	s := &Session{
		sig:      sig,
		self:     core.SessionID(welcome.ID),
		username: welcome.Username,
		backlog:  backlog,
		events:   make(chan Event, eventBuffer),
		done:     make(chan struct{}),
		members:  make(map[core.SessionID]protocol.RoomUser),
	}
	src := opts.Source
	if src == nil {
		src = media.Unavailable(errors.New("no capture source"))
	}
	s.provider = media.NewProvider(src)
	peers := opts.Peers
	if peers == nil {
		peers = rtc.Factory(rtc.DefaultWebRTCConfig())
	}
	s.mesh = mesh.NewController(context.Background(), s.self, sig, peers, s.provider, mesh.Options{
		Codec: opts.Codec,
		Sink:  opts.Sink,
		OnFile: func(f transfer.File) {
			s.emit(FileReceived{File: f})
		},
		OnAbort: func(peer core.SessionID, id string, err error) {
			s.emit(TransferFailed{Peer: peer, ID: id, Err: err})
		},
		OnProgress: func(p transfer.Progress) {
			s.emit(TransferProgress{Progress: p})
		},
		OnLinkState: func(peer core.SessionID, state mesh.LinkState) {
			s.emit(LinkChanged{Peer: peer, State: state})
		},
	})
	log.Info().Str("module", "client").Str("sid", welcome.ID).Str("username", welcome.Username).Msg("session ready")
	return s, nil
}

func (s *Session) Self() core.SessionID { return s.self }

func (s *Session) Username() string { return s.username }

func (s *Session) Events() <-chan Event { return s.events }

func (s *Session) Room() domain.RoomName {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

func (s *Session) Rooms() []protocol.RoomInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.RoomInfo(nil), s.rooms...)
}

// Members returns the other members of the current room ordered by id.
func (s *Session) Members() []protocol.RoomUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.RoomUser, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Session) Links() []mesh.LinkInfo { return s.mesh.Links() }

// Run dispatches inbound signaling until the connection ends or ctx is
// cancelled. CreateRoom and JoinRoom only complete while Run is active.
func (s *Session) Run(ctx context.Context) error {
	defer s.finish()
	for _, env := range s.backlog {
		s.dispatch(ctx, env)
	}
	s.backlog = nil

	for {
		select {
		case env, ok := <-s.sig.Incoming():
			if !ok {
				err := s.sig.Err()
				s.emit(Disconnected{Err: err})
				return err
			}
			s.dispatch(ctx, env)
		case <-ctx.Done():
			s.emit(Disconnected{})
			return ctx.Err()
		}
	}
}

func (s *Session) finish() {
	s.doneOnce.Do(func() { close(s.done) })
	s.mesh.Close()
	s.provider.Close()
	_ = s.sig.Close()

	s.mu.Lock()
	if s.pending != nil {
		s.pending.reply <- joinResult{room: s.pending.room, err: signalclient.ErrClosed}
		s.pending = nil
	}
	s.mu.Unlock()

	s.evMu.Lock()
	s.evClosed = true
	close(s.events)
	s.evMu.Unlock()
}

// emit blocks while the events buffer is full; the session owner is
// expected to keep reading.
func (s *Session) emit(ev Event) {
	s.evMu.RLock()
	defer s.evMu.RUnlock()
	if s.evClosed {
		return
	}
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Close ends the session; Run returns once the socket is down.
func (s *Session) Close() error {
	s.doneOnce.Do(func() { close(s.done) })
	return s.sig.Close()
}

// CreateRoom creates name with password and enters it. Creating a room that
// already exists replaces its password.
func (s *Session) CreateRoom(ctx context.Context, name domain.RoomName, password string) error {
	return s.enter(ctx, name, func() error { return s.sig.CreateRoom(string(name), password) })
}

// JoinRoom enters an existing room. Password errors come back as the domain
// sentinels, so errors.Is works.
func (s *Session) JoinRoom(ctx context.Context, name domain.RoomName, password string) error {
	return s.enter(ctx, name, func() error { return s.sig.JoinRoom(string(name), password) })
}

// enter sends a create or join and waits for the reply. The current room and
// its links stay up until the coordinator accepts the new room.
func (s *Session) enter(ctx context.Context, name domain.RoomName, send func() error) error {
	if name == "" {
		return domain.ErrRoomNameEmpty
	}
	reply := make(chan joinResult, 1)
	s.mu.Lock()
	if s.pending != nil {
		s.mu.Unlock()
		return ErrJoinPending
	}
	s.pending = &pendingJoin{room: name, reply: reply}
	s.mu.Unlock()

	if err := send(); err != nil {
		s.clearPending(reply)
		return err
	}

	select {
	case res := <-reply:
		return res.err
	case <-ctx.Done():
		s.clearPending(reply)
		return ctx.Err()
	case <-s.done:
		return signalclient.ErrClosed
	}
}

func (s *Session) clearPending(reply chan joinResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil && s.pending.reply == reply {
		s.pending = nil
	}
}

// resetRoom drops every peer link and the member table. The coordinator
// handles the membership side.
func (s *Session) resetRoom() {
	s.mesh.Reset()
	s.mu.Lock()
	s.room = ""
	s.members = make(map[core.SessionID]protocol.RoomUser)
	s.mu.Unlock()
}

func (s *Session) LeaveRoom() error {
	room := s.Room()
	if room == "" {
		return domain.ErrNotInRoom
	}
	s.resetRoom()
	return s.sig.LeaveRoom(string(room))
}

// SetMedia mutes or unmutes the local track of kind towards every peer and
// tells the room about it.
func (s *Session) SetMedia(kind domain.MediaKind, enabled bool) error {
	s.mesh.SetMediaEnabled(kind, enabled)
	room := s.Room()
	if room == "" {
		return nil
	}
	return s.sig.MediaState(string(room), string(kind), enabled)
}

func (s *Session) SendChat(text string) error {
	room := s.Room()
	if room == "" {
		return domain.ErrNotInRoom
	}
	if text == "" {
		return nil
	}
	return s.sig.Chat(string(room), text)
}

// SendFile streams the file at path to every connected peer.
func (s *Session) SendFile(ctx context.Context, path string, progress transfer.ProgressFunc) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	out := transfer.NewOutgoing(filepath.Base(path), f, info.Size())
	return s.mesh.SendFile(ctx, out, progress)
}
