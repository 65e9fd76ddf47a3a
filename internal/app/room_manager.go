package app

import (
	"slices"
	"strings"
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

type roomEntry struct {
	room    domain.Room
	secret  string
	members map[core.SessionID]struct{}
}

func (e *roomEntry) snapshot() core.RoomSnapshot {
	members := make([]core.SessionID, 0, len(e.members))
	for sid := range e.members {
		members = append(members, sid)
	}
	slices.Sort(members)
	return core.RoomSnapshot{Room: e.room, Members: members}
}

// RoomManager is the in-memory core.RoomRegistry.
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[domain.RoomName]*roomEntry
}

func NewRoomManager() *RoomManager {
	return &RoomManager{rooms: make(map[domain.RoomName]*roomEntry)}
}

var _ core.RoomRegistry = (*RoomManager)(nil)

func (m *RoomManager) CreateRoom(name domain.RoomName, secret string) (bool, error) {
	if strings.TrimSpace(string(name)) == "" {
		return false, domain.ErrRoomNameEmpty
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.rooms[name]; ok {
		e.secret = secret
		log.Warn().Str("module", "app.rooms").Str("room", string(name)).Int("members", len(e.members)).Msg("room secret overwritten")
		return true, nil
	}
	room, err := domain.NewRoom(string(name))
	if err != nil {
		return false, err
	}
	m.rooms[name] = &roomEntry{
		room:    *room,
		secret:  secret,
		members: make(map[core.SessionID]struct{}),
	}
	log.Info().Str("module", "app.rooms").Str("room", string(name)).Str("room_id", string(room.ID)).Msg("room created")
	return false, nil
}

// LookupSecret returns the stored secret. A room without one counts as absent.
func (m *RoomManager) LookupSecret(name domain.RoomName) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.rooms[name]
	if !ok || e.secret == "" {
		return "", false
	}
	return e.secret, true
}

func (m *RoomManager) Room(name domain.RoomName) (domain.Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.rooms[name]
	if !ok {
		return domain.Room{}, false
	}
	return e.room, true
}

func (m *RoomManager) AddMember(name domain.RoomName, sid core.SessionID) error {
	if name == "" {
		return domain.ErrRoomNameEmpty
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rooms[name]
	if !ok {
		return domain.ErrRoomNotFound
	}
	e.members[sid] = struct{}{}
	return nil
}

// RemoveMember drops sid from the room. Emptying the room deletes it and its
// secret. Removing an absent member is a no-op.
func (m *RoomManager) RemoveMember(name domain.RoomName, sid core.SessionID) (removed, deleted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rooms[name]
	if !ok {
		return false, false
	}
	if _, ok := e.members[sid]; ok {
		delete(e.members, sid)
		removed = true
	}
	if len(e.members) == 0 {
		delete(m.rooms, name)
		deleted = true
		log.Info().Str("module", "app.rooms").Str("room", string(name)).Msg("room deleted")
	}
	return removed, deleted
}

func (m *RoomManager) Members(name domain.RoomName) []core.SessionID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.rooms[name]
	if !ok {
		return nil
	}
	return e.snapshot().Members
}

// ListNonEmpty returns rooms sorted by name. Empty rooms found on the way are pruned.
func (m *RoomManager) ListNonEmpty() []core.RoomSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.RoomSnapshot, 0, len(m.rooms))
	for name, e := range m.rooms {
		if len(e.members) == 0 {
			delete(m.rooms, name)
			continue
		}
		out = append(out, e.snapshot())
	}
	slices.SortFunc(out, func(a, b core.RoomSnapshot) int {
		return strings.Compare(string(a.Room.Name), string(b.Room.Name))
	})
	return out
}
