package signal

import (
	"errors"
	"fmt"

	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
)

var ErrUnknownType = errors.New("unknown signal type")

// decodeEvent turns one client frame into an orchestrator event.
func decodeEvent(sid core.SessionID, data []byte) (orch.Event, error) {
	env, err := protocol.Decode(data)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case protocol.TypeCreateRoom, protocol.TypeJoinRoom:
		var p protocol.RoomRequest
		if err := env.Into(&p); err != nil {
			return nil, err
		}
		if env.Type == protocol.TypeCreateRoom {
			return orch.CreateRoom{SID: sid, Room: domain.RoomName(p.RoomName), Password: p.Password}, nil
		}
		return orch.JoinRoom{SID: sid, Room: domain.RoomName(p.RoomName), Password: p.Password}, nil

	case protocol.TypeLeaveRoom:
		var p protocol.LeaveRoom
		if len(env.Payload) > 0 {
			if err := env.Into(&p); err != nil {
				return nil, err
			}
		}
		return orch.LeaveRoom{SID: sid, Room: domain.RoomName(p.RoomName)}, nil

	case protocol.TypeMediaStateChange:
		var p protocol.MediaState
		if err := env.Into(&p); err != nil {
			return nil, err
		}
		kind, err := domain.ParseMediaKind(p.Kind)
		if err != nil {
			return nil, err
		}
		return orch.MediaStateChange{SID: sid, Kind: kind, Enabled: p.Enabled}, nil

	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeCandidate:
		var p protocol.Signal
		if err := env.Into(&p); err != nil {
			return nil, err
		}
		if p.To == "" {
			return nil, fmt.Errorf("%s: missing target", env.Type)
		}
		if env.Type == protocol.TypeCandidate && len(p.Candidate) == 0 {
			return nil, fmt.Errorf("candidate: missing candidate")
		}
		if env.Type != protocol.TypeCandidate && p.SDP == "" {
			return nil, fmt.Errorf("%s: missing sdp", env.Type)
		}
		return orch.Relay{SID: sid, Type: env.Type, Signal: p}, nil

	case protocol.TypeChatMessage:
		var p protocol.ChatIn
		if err := env.Into(&p); err != nil {
			return nil, err
		}
		return orch.Chat{SID: sid, Room: domain.RoomName(p.RoomName), Text: p.Text}, nil

	case protocol.TypePing:
		return orch.Ping{SID: sid}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
}
