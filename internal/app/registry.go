package app

import (
	"context"
	"slices"
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Username string
	RoomName domain.RoomName
	Media    domain.MediaState
	Conn     core.SignalConnection
	Cancel   context.CancelFunc
}

// Registry is the in-memory core.SessionDirectory.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
	}
}

var _ core.SessionDirectory = (*Registry)(nil)

func (r *Registry) Register(sid core.SessionID, username string, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{
		Username: username,
		Media:    domain.DefaultMediaState(),
		Conn:     conn,
		Cancel:   cancel,
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("username", username).Msg("registered session")
}

func (r *Registry) Unregister(sid core.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sid]; !ok {
		return false
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unregistered session")
	return true
}

func (r *Registry) Get(sid core.SessionID) (core.SessionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return core.SessionInfo{}, false
	}
	return core.SessionInfo{
		ID:       sid,
		Username: e.Username,
		Room:     e.RoomName,
		Media:    e.Media,
	}, true
}

// SetRoom records the session's current room; an empty name means none.
func (r *Registry) SetRoom(sid core.SessionID, name domain.RoomName) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	e.RoomName = name
	log.Debug().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(name)).Msg("updated room")
	return true
}

func (r *Registry) SetMediaFlag(sid core.SessionID, kind domain.MediaKind, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	e.Media.Set(kind, enabled)
	return true
}

func (r *Registry) Conn(sid core.SessionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.Conn == nil {
		return nil, false
	}
	return e.Conn, true
}

// All returns every registered session id, sorted.
func (r *Registry) All() []core.SessionID {
	r.mu.RLock()
	out := make([]core.SessionID, 0, len(r.sessions))
	for sid := range r.sessions {
		out = append(out, sid)
	}
	r.mu.RUnlock()
	slices.Sort(out)
	return out
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
