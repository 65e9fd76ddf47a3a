package core

import (
	"context"

	"github.com/dkeye/Huddle/internal/domain"
)

// SessionDirectory owns connection id -> {username, room, media flags, transport}.
type SessionDirectory interface {
	Register(sid SessionID, username string, conn SignalConnection, cancel context.CancelFunc)
	Unregister(sid SessionID) bool
	Get(sid SessionID) (SessionInfo, bool)
	SetRoom(sid SessionID, name domain.RoomName) bool
	SetMediaFlag(sid SessionID, kind domain.MediaKind, enabled bool) bool

	Conn(sid SessionID) (SignalConnection, bool)
	All() []SessionID
	// Cancel tears down the session's transport; disconnect handling follows.
	Cancel(sid SessionID) bool
}
