package domain

import (
	"strings"

	"github.com/google/uuid"
)

type (
	RoomName string
	RoomID   string
)

// Room is the public identity of a room. The secret and member set are
// owned by the room registry and never leave it.
type Room struct {
	ID   RoomID
	Name RoomName
}

func NewRoom(name string) (*Room, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrRoomNameEmpty
	}
	return &Room{ID: RoomID(uuid.NewString()), Name: RoomName(name)}, nil
}
