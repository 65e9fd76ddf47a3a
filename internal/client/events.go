package client

import (
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/mesh"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/dkeye/Huddle/internal/transfer"
)

// Event is anything the session reports to its owner.
type Event interface {
	isEvent()
}

type RoomsUpdated struct {
	Rooms []protocol.RoomInfo
}

// Joined is emitted with the members that were already in the room.
type Joined struct {
	Room    domain.RoomName
	Members []protocol.RoomUser
}

type JoinFailed struct {
	Room domain.RoomName
	Err  error
}

type UserJoined struct {
	User protocol.RoomUser
}

type UserLeft struct {
	ID       core.SessionID
	Username string
}

type MediaChanged struct {
	UserID  core.SessionID
	Kind    domain.MediaKind
	Enabled bool
}

type ChatReceived struct {
	Message protocol.ChatOut
}

type FileReceived struct {
	File transfer.File
}

type TransferFailed struct {
	Peer core.SessionID
	ID   string
	Err  error
}

type TransferProgress struct {
	Progress transfer.Progress
}

type LinkChanged struct {
	Peer  core.SessionID
	State mesh.LinkState
}

type ServerError struct {
	Message string
}

// Disconnected is the last event before the channel closes.
type Disconnected struct {
	Err error
}

func (RoomsUpdated) isEvent()     {}
func (Joined) isEvent()           {}
func (JoinFailed) isEvent()       {}
func (UserJoined) isEvent()       {}
func (UserLeft) isEvent()         {}
func (MediaChanged) isEvent()     {}
func (ChatReceived) isEvent()     {}
func (FileReceived) isEvent()     {}
func (TransferFailed) isEvent()   {}
func (TransferProgress) isEvent() {}
func (LinkChanged) isEvent()      {}
func (ServerError) isEvent()      {}
func (Disconnected) isEvent()     {}
