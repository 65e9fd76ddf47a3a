package orch

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/rs/zerolog/log"
)

var ErrStopped = errors.New("orchestrator stopped")

// Orchestrator is the signaling router. A single goroutine (Run) owns every
// mutation of the room registry and session directory; handlers turn one
// event into the outbound messages it causes, which are delivered before the
// next event is dequeued.
type Orchestrator struct {
	Sessions core.SessionDirectory
	Rooms    core.RoomRegistry
	Secrets  app.SecretHasher
	Limiter  *app.JoinRateLimiter
	Policy   app.Policy
	Now      func() time.Time

	events   chan Event
	stopped  chan struct{}
	notified map[core.SessionID]map[core.SessionID]struct{} // removal recipients per disconnecting session
}

func New(sessions core.SessionDirectory, rooms core.RoomRegistry, secrets app.SecretHasher, queueSize int) *Orchestrator {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Orchestrator{
		Sessions: sessions,
		Rooms:    rooms,
		Secrets:  secrets,
		Policy:   app.SimplePolicy{},
		Now:      time.Now,
		events:   make(chan Event, queueSize),
		stopped:  make(chan struct{}),
		notified: make(map[core.SessionID]map[core.SessionID]struct{}),
	}
}

// Run processes events until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) {
	defer close(o.stopped)
	log.Info().Str("module", "orch").Msg("event loop started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "orch").Msg("event loop stopped")
			return
		case ev := <-o.events:
			o.deliver(o.Handle(ev))
		}
	}
}

// Submit enqueues ev. It blocks while the queue is full.
func (o *Orchestrator) Submit(ctx context.Context, ev Event) error {
	select {
	case o.events <- ev:
		return nil
	case <-o.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RoomList returns the current non-empty room list, computed inside the loop.
func (o *Orchestrator) RoomList(ctx context.Context) ([]protocol.RoomInfo, error) {
	q := roomsQuery{reply: make(chan []protocol.RoomInfo, 1)}
	if err := o.Submit(ctx, q); err != nil {
		return nil, err
	}
	select {
	case rooms := <-q.reply:
		return rooms, nil
	case <-o.stopped:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Prepare does the bcrypt work for create and join on the caller's goroutine,
// so the loop only compares strings. Handle still verifies in the loop when
// the room secret changed in between.
func (o *Orchestrator) Prepare(ctx context.Context, ev Event) Event {
	switch e := ev.(type) {
	case CreateRoom:
		if e.Password != "" && e.Secret == "" {
			if secret, err := o.Secrets.Hash(e.Password); err == nil {
				e.Secret = secret
			}
		}
		return e
	case JoinRoom:
		secret, err := o.roomSecret(ctx, e.Room)
		if err == nil && secret != "" && o.Secrets.Verify(secret, e.Password) {
			e.Verified = secret
		}
		return e
	}
	return ev
}

func (o *Orchestrator) roomSecret(ctx context.Context, room domain.RoomName) (string, error) {
	q := secretQuery{room: room, reply: make(chan string, 1)}
	if err := o.Submit(ctx, q); err != nil {
		return "", err
	}
	select {
	case secret := <-q.reply:
		return secret, nil
	case <-o.stopped:
		return "", ErrStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Handle applies one event to the registries and returns what must be sent.
// It is only safe to call from the loop goroutine (or from tests that do not run it).
func (o *Orchestrator) Handle(ev Event) []Outbound {
	switch e := ev.(type) {
	case Connect:
		return o.handleConnect(e)
	case CreateRoom:
		return o.handleCreateRoom(e)
	case JoinRoom:
		return o.handleJoinRoom(e)
	case LeaveRoom:
		return o.handleLeaveRoom(e)
	case MediaStateChange:
		return o.handleMediaStateChange(e)
	case Relay:
		return o.handleRelay(e)
	case Chat:
		return o.handleChat(e)
	case Ping:
		return []Outbound{{To: e.SID, Type: protocol.TypePong}}
	case Disconnecting:
		return o.handleDisconnecting(e)
	case Disconnect:
		return o.handleDisconnect(e)
	case roomsQuery:
		e.reply <- o.roomList()
		return nil
	case secretQuery:
		secret, _ := o.Rooms.LookupSecret(e.room)
		e.reply <- secret
		return nil
	default:
		log.Warn().Str("module", "orch").Type("event", ev).Msg("unknown event")
		return nil
	}
}

func (o *Orchestrator) deliver(outs []Outbound) {
	for _, out := range outs {
		conn, ok := o.Sessions.Conn(out.To)
		if !ok {
			continue
		}
		frame, err := protocol.Encode(out.Type, out.Payload)
		if err != nil {
			log.Error().Err(err).Str("module", "orch").Str("type", out.Type).Msg("encode outbound")
			continue
		}
		err = conn.TrySend(frame)
		switch {
		case err == nil:
		case errors.Is(err, core.ErrBackpressure):
			o.onBackpressure(out)
		default:
			log.Debug().Err(err).Str("module", "orch").Str("sid", string(out.To)).Str("type", out.Type).Msg("send dropped")
		}
	}
}

func (o *Orchestrator) onBackpressure(out Outbound) {
	info, ok := o.Sessions.Get(out.To)
	if !ok || o.Policy == nil {
		return
	}
	switch o.Policy.OnBackPressure(info) {
	case app.KickMember:
		log.Warn().Str("module", "orch").Str("sid", string(out.To)).Msg("outbound queue full, kicking session")
		o.Sessions.Cancel(out.To)
	case app.DropFrame:
		log.Warn().Str("module", "orch").Str("sid", string(out.To)).Str("type", out.Type).Msg("outbound queue full, frame dropped")
	case app.NoAction:
	}
}
