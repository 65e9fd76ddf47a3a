package client

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func (s *Session) dispatch(ctx context.Context, env protocol.Envelope) {
	logger := log.With().Str("module", "client").Str("type", env.Type).Logger()

	switch env.Type {
	case protocol.TypeFetchActiveRooms:
		var rooms []protocol.RoomInfo
		if err := env.Into(&rooms); err != nil {
			logger.Warn().Err(err).Msg("bad room list")
			return
		}
		s.mu.Lock()
		s.rooms = rooms
		s.mu.Unlock()
		s.emit(RoomsUpdated{Rooms: rooms})

	case protocol.TypeFetchRoomUsers:
		var users []protocol.RoomUser
		if len(env.Payload) > 0 {
			if err := env.Into(&users); err != nil {
				logger.Warn().Err(err).Msg("bad room users")
				return
			}
		}
		s.onRoomUsers(ctx, users)

	case protocol.TypeJoinRoomError:
		var p protocol.JoinRoomError
		if err := env.Into(&p); err != nil {
			logger.Warn().Err(err).Msg("bad join error")
			return
		}
		err := domain.ParseJoinError(p.Message)
		s.mu.Lock()
		pending := s.pending
		s.pending = nil
		s.mu.Unlock()
		var room domain.RoomName
		if pending != nil {
			room = pending.room
			pending.reply <- joinResult{room: room, err: err}
		}
		logger.Info().Err(err).Str("room", string(room)).Msg("join refused")
		s.emit(JoinFailed{Room: room, Err: err})

	case protocol.TypeAddNewRoomUser:
		var u protocol.RoomUser
		if err := env.Into(&u); err != nil {
			logger.Warn().Err(err).Msg("bad new user")
			return
		}
		s.mu.Lock()
		s.members[core.SessionID(u.ID)] = u
		s.mu.Unlock()
		s.emit(UserJoined{User: u})

	case protocol.TypeRemoveRoomUser:
		var p protocol.RemoveRoomUser
		if err := env.Into(&p); err != nil {
			logger.Warn().Err(err).Msg("bad removed user")
			return
		}
		id := core.SessionID(p.ID)
		s.mesh.RemovePeer(id)
		s.mu.Lock()
		u, ok := s.members[id]
		delete(s.members, id)
		s.mu.Unlock()
		if ok {
			s.emit(UserLeft{ID: id, Username: u.Username})
		}

	case protocol.TypeMediaStateChange:
		var p protocol.MediaState
		if err := env.Into(&p); err != nil {
			logger.Warn().Err(err).Msg("bad media state")
			return
		}
		kind, err := domain.ParseMediaKind(p.Kind)
		if err != nil {
			logger.Warn().Err(err).Msg("bad media state")
			return
		}
		id := core.SessionID(p.UserID)
		s.mu.Lock()
		if u, ok := s.members[id]; ok {
			if kind == domain.MediaVideo {
				u.IsVideoEnabled = p.Enabled
			} else {
				u.IsAudioEnabled = p.Enabled
			}
			s.members[id] = u
		}
		s.mu.Unlock()
		s.emit(MediaChanged{UserID: id, Kind: kind, Enabled: p.Enabled})

	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeCandidate:
		var p protocol.Signal
		if err := env.Into(&p); err != nil {
			logger.Warn().Err(err).Msg("bad signal")
			return
		}
		s.onSignal(ctx, env.Type, p)

	case protocol.TypeChatMessage:
		var msg protocol.ChatOut
		if err := env.Into(&msg); err != nil {
			logger.Warn().Err(err).Msg("bad chat message")
			return
		}
		s.emit(ChatReceived{Message: msg})

	case protocol.TypeError:
		var p protocol.Error
		_ = env.Into(&p)
		logger.Warn().Str("error", p.Error).Msg("server error")
		s.emit(ServerError{Message: p.Error})

	case protocol.TypePong, protocol.TypeWelcome:

	default:
		logger.Debug().Msg("unhandled message")
	}
}

// onRoomUsers completes a create or join. Entering a different room drops
// the links of the old one first. The newcomer offers to everyone already
// present.
func (s *Session) onRoomUsers(ctx context.Context, users []protocol.RoomUser) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	room := s.room
	if pending != nil {
		room = pending.room
	}
	switched := s.room != "" && s.room != room
	s.room = room
	s.members = make(map[core.SessionID]protocol.RoomUser, len(users))
	ids := make([]core.SessionID, 0, len(users))
	for _, u := range users {
		id := core.SessionID(u.ID)
		if id == s.self {
			continue
		}
		s.members[id] = u
		ids = append(ids, id)
	}
	s.mu.Unlock()

	if switched {
		s.mesh.Reset()
	}
	log.Info().Str("module", "client").Str("room", string(room)).Int("members", len(ids)).Msg("entered room")
	if err := s.mesh.OnRoomUsers(ctx, ids); err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("some peer links failed")
	}
	if pending != nil {
		pending.reply <- joinResult{room: room}
	}
	s.emit(Joined{Room: room, Members: users})
}

func (s *Session) onSignal(ctx context.Context, typ string, p protocol.Signal) {
	from := core.SessionID(p.From)
	logger := log.With().Str("module", "client").Str("type", typ).Str("peer", p.From).Logger()
	if from == "" {
		logger.Warn().Msg("signal without sender dropped")
		return
	}

	var err error
	switch typ {
	case protocol.TypeOffer:
		err = s.mesh.OnOffer(ctx, from, p.SDP)
	case protocol.TypeAnswer:
		err = s.mesh.OnAnswer(from, p.SDP)
	case protocol.TypeCandidate:
		var cand webrtc.ICECandidateInit
		if err = json.Unmarshal(p.Candidate, &cand); err == nil {
			s.mesh.OnCandidate(from, cand)
		}
	}
	if err != nil {
		logger.Warn().Err(err).Msg("signal not applied")
	}
}
