package core

import "github.com/dkeye/Huddle/internal/domain"

// RoomRegistry owns room name -> {secret, members}. A room whose member set
// becomes empty is deleted together with its secret.
type RoomRegistry interface {
	// CreateRoom stores secret for name, overwriting any previous one.
	CreateRoom(name domain.RoomName, secret string) (existed bool, err error)
	LookupSecret(name domain.RoomName) (string, bool)
	Room(name domain.RoomName) (domain.Room, bool)

	AddMember(name domain.RoomName, sid SessionID) error
	RemoveMember(name domain.RoomName, sid SessionID) (removed, deleted bool)
	Members(name domain.RoomName) []SessionID

	ListNonEmpty() []RoomSnapshot
}
