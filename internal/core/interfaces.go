package core

import "github.com/dkeye/Huddle/internal/domain"

// SessionID identifies one live signaling connection. Ids are never reused
// within a process lifetime.
type SessionID string

// SessionInfo is a read-only copy of a directory entry.
type SessionInfo struct {
	ID       SessionID
	Username string
	Room     domain.RoomName
	Media    domain.MediaState
}

// InRoom reports whether the session currently belongs to a room.
func (s SessionInfo) InRoom() bool { return s.Room != "" }

// RoomSnapshot is a room as seen by listings. Members are sorted.
type RoomSnapshot struct {
	Room    domain.Room
	Members []SessionID
}
