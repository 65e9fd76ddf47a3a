package orch

import (
	"slices"
	"strings"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) handleConnect(e Connect) []Outbound {
	username := domain.NormalizeUsername(e.Username)
	o.Sessions.Register(e.SID, username, e.Conn, e.Cancel)
	return []Outbound{
		{To: e.SID, Type: protocol.TypeWelcome, Payload: protocol.Welcome{ID: string(e.SID), Username: username}},
		{To: e.SID, Type: protocol.TypeFetchActiveRooms, Payload: o.roomList()},
	}
}

func (o *Orchestrator) handleCreateRoom(e CreateRoom) []Outbound {
	info, ok := o.Sessions.Get(e.SID)
	if !ok {
		return nil
	}
	if !o.Limiter.Allow(e.SID) {
		return joinError(e.SID, domain.ErrTooManyAttempts)
	}
	if strings.TrimSpace(string(e.Room)) == "" {
		return joinError(e.SID, domain.ErrRoomNameEmpty)
	}
	if e.Password == "" {
		return joinError(e.SID, domain.ErrPasswordRequired)
	}
	secret := e.Secret
	if secret == "" {
		var err error
		if secret, err = o.Secrets.Hash(e.Password); err != nil {
			log.Error().Err(err).Str("module", "orch").Str("sid", string(e.SID)).Msg("hash room secret")
			return joinError(e.SID, err)
		}
	}

	var outs []Outbound
	if info.InRoom() && info.Room != e.Room {
		outs = append(outs, o.leave(info)...)
	}

	if _, err := o.Rooms.CreateRoom(e.Room, secret); err != nil {
		return append(outs, joinError(e.SID, err)...)
	}
	if err := o.Rooms.AddMember(e.Room, e.SID); err != nil {
		return append(outs, joinError(e.SID, err)...)
	}
	o.Sessions.SetRoom(e.SID, e.Room)
	log.Info().Str("module", "orch").Str("sid", string(e.SID)).Str("room", string(e.Room)).Msg("room created")

	members := o.Rooms.Members(e.Room)
	rooms := o.roomList()
	for _, sid := range o.Sessions.All() {
		if sid == e.SID || !slices.Contains(members, sid) {
			outs = append(outs, Outbound{To: sid, Type: protocol.TypeFetchActiveRooms, Payload: rooms})
		}
	}
	if info.Room != e.Room {
		outs = append(outs, o.announce(e.SID, e.Room)...)
	}
	return append(outs, o.roomUsers(e.SID, e.Room))
}

func (o *Orchestrator) handleJoinRoom(e JoinRoom) []Outbound {
	info, ok := o.Sessions.Get(e.SID)
	if !ok {
		return nil
	}
	if !o.Limiter.Allow(e.SID) {
		return joinError(e.SID, domain.ErrTooManyAttempts)
	}
	secret, ok := o.Rooms.LookupSecret(e.Room)
	if !ok {
		return joinError(e.SID, domain.ErrRoomNotFound)
	}
	if e.Verified != secret && !o.Secrets.Verify(secret, e.Password) {
		log.Info().Str("module", "orch").Str("sid", string(e.SID)).Str("room", string(e.Room)).Msg("join rejected: incorrect password")
		return joinError(e.SID, domain.ErrIncorrectPassword)
	}
	if info.Room == e.Room {
		return []Outbound{o.roomUsers(e.SID, e.Room)}
	}

	var outs []Outbound
	if info.InRoom() {
		outs = append(outs, o.leave(info)...)
	}
	if err := o.Rooms.AddMember(e.Room, e.SID); err != nil {
		return append(outs, joinError(e.SID, err)...)
	}
	o.Sessions.SetRoom(e.SID, e.Room)
	log.Info().Str("module", "orch").Str("sid", string(e.SID)).Str("room", string(e.Room)).Msg("joined room")

	members := o.Rooms.Members(e.Room)
	rooms := o.roomList()
	for _, sid := range o.Sessions.All() {
		if !slices.Contains(members, sid) {
			outs = append(outs, Outbound{To: sid, Type: protocol.TypeFetchActiveRooms, Payload: rooms})
		}
	}
	outs = append(outs, o.announce(e.SID, e.Room)...)
	return append(outs, o.roomUsers(e.SID, e.Room))
}

func (o *Orchestrator) handleLeaveRoom(e LeaveRoom) []Outbound {
	info, ok := o.Sessions.Get(e.SID)
	if !ok || !info.InRoom() {
		return nil
	}
	if e.Room != "" && e.Room != info.Room {
		log.Debug().Str("module", "orch").Str("sid", string(e.SID)).Str("room", string(e.Room)).Msg("leave: not a member")
		return nil
	}
	return o.leave(info)
}

// leave notifies room mates, drops the membership and broadcasts the room list.
func (o *Orchestrator) leave(info core.SessionInfo) []Outbound {
	outs := o.notifyRemoved(info, nil)
	o.Rooms.RemoveMember(info.Room, info.ID)
	o.Sessions.SetRoom(info.ID, "")
	log.Info().Str("module", "orch").Str("sid", string(info.ID)).Str("room", string(info.Room)).Msg("left room")
	return append(outs, o.broadcastRooms()...)
}

func (o *Orchestrator) handleDisconnecting(e Disconnecting) []Outbound {
	info, ok := o.Sessions.Get(e.SID)
	if !ok || !info.InRoom() {
		return nil
	}
	outs := o.notifyRemoved(info, nil)
	told := make(map[core.SessionID]struct{}, len(outs))
	for _, out := range outs {
		told[out.To] = struct{}{}
	}
	o.notified[e.SID] = told
	return outs
}

func (o *Orchestrator) handleDisconnect(e Disconnect) []Outbound {
	info, ok := o.Sessions.Get(e.SID)
	if !ok {
		return nil
	}
	var outs []Outbound
	if info.InRoom() {
		// Members that joined after Disconnecting still need the removal.
		outs = o.notifyRemoved(info, o.notified[e.SID])
		o.Rooms.RemoveMember(info.Room, e.SID)
	}
	delete(o.notified, e.SID)
	o.Sessions.Unregister(e.SID)
	o.Limiter.Forget(e.SID)
	log.Info().Str("module", "orch").Str("sid", string(e.SID)).Msg("session disconnected")

	if info.InRoom() {
		outs = append(outs, o.broadcastRooms()...)
	}
	return outs
}

// notifyRemoved sends remove_room_user for info to its room mates, except
// those in skip.
func (o *Orchestrator) notifyRemoved(info core.SessionInfo, skip map[core.SessionID]struct{}) []Outbound {
	var outs []Outbound
	for _, sid := range o.Rooms.Members(info.Room) {
		if sid == info.ID {
			continue
		}
		if _, ok := skip[sid]; ok {
			continue
		}
		outs = append(outs, Outbound{
			To:      sid,
			Type:    protocol.TypeRemoveRoomUser,
			Payload: protocol.RemoveRoomUser{ID: string(info.ID)},
		})
	}
	return outs
}

// announce sends add_new_room_user for sid to the other members of room.
func (o *Orchestrator) announce(sid core.SessionID, room domain.RoomName) []Outbound {
	info, ok := o.Sessions.Get(sid)
	if !ok {
		return nil
	}
	user := roomUser(info)
	var outs []Outbound
	for _, member := range o.Rooms.Members(room) {
		if member == sid {
			continue
		}
		outs = append(outs, Outbound{To: member, Type: protocol.TypeAddNewRoomUser, Payload: user})
	}
	return outs
}

// roomUsers replies to sid with every other member of room and their media flags.
func (o *Orchestrator) roomUsers(sid core.SessionID, room domain.RoomName) Outbound {
	users := make([]protocol.RoomUser, 0)
	for _, member := range o.Rooms.Members(room) {
		if member == sid {
			continue
		}
		if info, ok := o.Sessions.Get(member); ok {
			users = append(users, roomUser(info))
		}
	}
	return Outbound{To: sid, Type: protocol.TypeFetchRoomUsers, Payload: users}
}

func (o *Orchestrator) broadcastRooms() []Outbound {
	rooms := o.roomList()
	all := o.Sessions.All()
	outs := make([]Outbound, 0, len(all))
	for _, sid := range all {
		outs = append(outs, Outbound{To: sid, Type: protocol.TypeFetchActiveRooms, Payload: rooms})
	}
	return outs
}

func (o *Orchestrator) roomList() []protocol.RoomInfo {
	snaps := o.Rooms.ListNonEmpty()
	out := make([]protocol.RoomInfo, 0, len(snaps))
	for _, snap := range snaps {
		users := make([]protocol.ActiveUser, 0, len(snap.Members))
		for _, sid := range snap.Members {
			username := ""
			if info, ok := o.Sessions.Get(sid); ok {
				username = info.Username
			}
			users = append(users, protocol.ActiveUser{ID: string(sid), Username: username})
		}
		out = append(out, protocol.RoomInfo{
			ID:          string(snap.Room.ID),
			Name:        string(snap.Room.Name),
			ActiveUsers: users,
		})
	}
	return out
}

func roomUser(info core.SessionInfo) protocol.RoomUser {
	return protocol.RoomUser{
		ID:             string(info.ID),
		Username:       info.Username,
		IsVideoEnabled: info.Media.VideoEnabled,
		IsAudioEnabled: info.Media.AudioEnabled,
	}
}

func joinError(sid core.SessionID, err error) []Outbound {
	return []Outbound{{
		To:      sid,
		Type:    protocol.TypeJoinRoomError,
		Payload: protocol.JoinRoomError{Message: err.Error()},
	}}
}
