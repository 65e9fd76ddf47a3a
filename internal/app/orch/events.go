package orch

import (
	"context"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
)

// Event is one inbound signaling event. Events are processed strictly one at
// a time by the orchestrator loop.
type Event interface {
	Session() core.SessionID
}

type Connect struct {
	SID      core.SessionID
	Username string
	Conn     core.SignalConnection
	Cancel   context.CancelFunc
}

type CreateRoom struct {
	SID      core.SessionID
	Room     domain.RoomName
	Password string

	// Secret is the hashed Password, set by Prepare.
	Secret string
}

type JoinRoom struct {
	SID      core.SessionID
	Room     domain.RoomName
	Password string

	// Verified is the stored secret Password matched in Prepare.
	Verified string
}

// LeaveRoom with an empty Room leaves whatever room the session is in.
type LeaveRoom struct {
	SID  core.SessionID
	Room domain.RoomName
}

type MediaStateChange struct {
	SID     core.SessionID
	Kind    domain.MediaKind
	Enabled bool
}

// Relay forwards an offer, answer or candidate to Signal.To.
type Relay struct {
	SID    core.SessionID
	Type   string
	Signal protocol.Signal
}

type Chat struct {
	SID  core.SessionID
	Room domain.RoomName
	Text string
}

type Ping struct {
	SID core.SessionID
}

// Disconnecting fires before the transport is torn down.
type Disconnecting struct {
	SID core.SessionID
}

// Disconnect fires after the transport is gone.
type Disconnect struct {
	SID core.SessionID
}

type roomsQuery struct {
	reply chan []protocol.RoomInfo
}

type secretQuery struct {
	room  domain.RoomName
	reply chan string
}

func (e Connect) Session() core.SessionID          { return e.SID }
func (e CreateRoom) Session() core.SessionID       { return e.SID }
func (e JoinRoom) Session() core.SessionID         { return e.SID }
func (e LeaveRoom) Session() core.SessionID        { return e.SID }
func (e MediaStateChange) Session() core.SessionID { return e.SID }
func (e Relay) Session() core.SessionID            { return e.SID }
func (e Chat) Session() core.SessionID             { return e.SID }
func (e Ping) Session() core.SessionID             { return e.SID }
func (e Disconnecting) Session() core.SessionID    { return e.SID }
func (e Disconnect) Session() core.SessionID       { return e.SID }
func (roomsQuery) Session() core.SessionID         { return "" }
func (secretQuery) Session() core.SessionID        { return "" }

// Outbound is a message computed by a handler, addressed to one session.
type Outbound struct {
	To      core.SessionID
	Type    string
	Payload any
}
