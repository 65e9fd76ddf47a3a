// Package protocol holds the signaling wire format shared by the coordinator
// and the room client.
package protocol

import "encoding/json"

const (
	TypeWelcome          = "welcome"
	TypeCreateRoom       = "create_room"
	TypeJoinRoom         = "join_room"
	TypeJoinRoomError    = "join_room_error"
	TypeFetchActiveRooms = "fetch_active_rooms"
	TypeAddNewRoomUser   = "add_new_room_user"
	TypeFetchRoomUsers   = "fetch_room_users"
	TypeMediaStateChange = "media_state_change"
	TypeOffer            = "offer"
	TypeAnswer           = "answer"
	TypeCandidate        = "candidate"
	TypeChatMessage      = "chat_message"
	TypeLeaveRoom        = "leave_room"
	TypeRemoveRoomUser   = "remove_room_user"
	TypePing             = "ping"
	TypePong             = "pong"
	TypeError            = "error"
)

type Welcome struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// RoomRequest is the payload of create_room and join_room.
type RoomRequest struct {
	RoomName string `json:"roomName"`
	Password string `json:"password"`
}

type JoinRoomError struct {
	Message string `json:"message"`
}

type ActiveUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type RoomInfo struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	ActiveUsers []ActiveUser `json:"activeUsers"`
}

// RoomUser is sent in add_new_room_user and as an element of fetch_room_users.
type RoomUser struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	IsVideoEnabled bool   `json:"isVideoEnabled"`
	IsAudioEnabled bool   `json:"isAudioEnabled"`
}

type MediaState struct {
	RoomName string `json:"roomName,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Kind     string `json:"kind"`
	Enabled  bool   `json:"enabled"`
}

// Signal carries offer, answer and candidate payloads. Clients fill To, the
// coordinator replaces it with From. Candidate is relayed untouched.
type Signal struct {
	To        string          `json:"to,omitempty"`
	From      string          `json:"from,omitempty"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

type ChatIn struct {
	RoomName string `json:"roomName"`
	Text     string `json:"text"`
}

type ChatOut struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Text     string `json:"text"`
	TS       int64  `json:"ts"`
}

type LeaveRoom struct {
	RoomName string `json:"roomName"`
}

type RemoveRoomUser struct {
	ID string `json:"id"`
}

type Error struct {
	Error string `json:"error"`
}
