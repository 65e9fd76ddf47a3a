package orch

import (
	"strings"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) handleMediaStateChange(e MediaStateChange) []Outbound {
	if !o.Sessions.SetMediaFlag(e.SID, e.Kind, e.Enabled) {
		return nil
	}
	info, _ := o.Sessions.Get(e.SID)
	if !info.InRoom() {
		return nil
	}
	msg := protocol.MediaState{
		RoomName: string(info.Room),
		UserID:   string(e.SID),
		Kind:     string(e.Kind),
		Enabled:  e.Enabled,
	}
	var outs []Outbound
	for _, sid := range o.Rooms.Members(info.Room) {
		if sid == e.SID {
			continue
		}
		outs = append(outs, Outbound{To: sid, Type: protocol.TypeMediaStateChange, Payload: msg})
	}
	return outs
}

// handleRelay forwards offer/answer/candidate to the target session, tagged
// with the sender. Unknown targets are dropped.
func (o *Orchestrator) handleRelay(e Relay) []Outbound {
	to := core.SessionID(e.Signal.To)
	if _, ok := o.Sessions.Get(to); !ok {
		log.Warn().
			Str("module", "orch").
			Str("sid", string(e.SID)).
			Str("to", string(to)).
			Str("type", e.Type).
			Msg("relay target not found, dropped")
		return nil
	}
	msg := e.Signal
	msg.To = ""
	msg.From = string(e.SID)
	return []Outbound{{To: to, Type: e.Type, Payload: msg}}
}

func (o *Orchestrator) handleChat(e Chat) []Outbound {
	if strings.TrimSpace(e.Text) == "" {
		return nil
	}
	info, ok := o.Sessions.Get(e.SID)
	if !ok {
		return nil
	}
	room := e.Room
	if room == "" {
		room = info.Room
	}
	if room == "" || info.Room != room {
		log.Warn().Str("module", "orch").Str("sid", string(e.SID)).Str("room", string(room)).Msg("chat: sender not in room, dropped")
		return nil
	}
	msg := protocol.ChatOut{
		ID:       string(e.SID),
		Username: info.Username,
		Text:     e.Text,
		TS:       o.Now().UnixMilli(),
	}
	var outs []Outbound
	for _, sid := range o.Rooms.Members(room) {
		outs = append(outs, Outbound{To: sid, Type: protocol.TypeChatMessage, Payload: msg})
	}
	return outs
}
