package orch

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type recConn struct {
	mu     sync.Mutex
	frames []core.Frame
	err    error
}

func (c *recConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *recConn) Close() {}

func (c *recConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		env, _ := protocol.Decode(f)
		out = append(out, env.Type)
	}
	return out
}

type harness struct {
	o        *Orchestrator
	rooms    *app.RoomManager
	sessions *app.Registry
}

func newHarness() *harness {
	rooms := app.NewRoomManager()
	sessions := app.NewRegistry()
	o := New(sessions, rooms, app.NewBcryptHasher(bcrypt.MinCost), 16)
	o.Now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return &harness{o: o, rooms: rooms, sessions: sessions}
}

func (h *harness) connect(sid core.SessionID, name string) {
	h.o.Handle(Connect{SID: sid, Username: name, Conn: &recConn{}})
}

func pick(outs []Outbound, to core.SessionID, typ string) []Outbound {
	var res []Outbound
	for _, o := range outs {
		if o.To == to && o.Type == typ {
			res = append(res, o)
		}
	}
	return res
}

func ofType(outs []Outbound, typ string) []Outbound {
	var res []Outbound
	for _, o := range outs {
		if o.Type == typ {
			res = append(res, o)
		}
	}
	return res
}

func joinErr(t *testing.T, outs []Outbound, to core.SessionID) string {
	t.Helper()
	require.Len(t, outs, 1)
	require.Equal(t, to, outs[0].To)
	require.Equal(t, protocol.TypeJoinRoomError, outs[0].Type)
	return outs[0].Payload.(protocol.JoinRoomError).Message
}

func TestConnectSendsWelcomeAndRooms(t *testing.T) {
	h := newHarness()
	outs := h.o.Handle(Connect{SID: "a", Username: "  ", Conn: &recConn{}})

	require.Len(t, outs, 2)
	require.Equal(t, protocol.TypeWelcome, outs[0].Type)
	require.Equal(t, protocol.Welcome{ID: "a", Username: domain.DefaultUsername}, outs[0].Payload)
	require.Equal(t, protocol.TypeFetchActiveRooms, outs[1].Type)
	require.Empty(t, outs[1].Payload.([]protocol.RoomInfo))
}

func TestStandupScenario(t *testing.T) {
	h := newHarness()
	h.connect("a", "alice")
	h.connect("b", "bob")
	h.connect("c", "carol")

	outs := h.o.Handle(CreateRoom{SID: "a", Room: "standup", Password: "p1"})
	require.Len(t, pick(outs, "a", protocol.TypeFetchActiveRooms), 1, "creator receives the room list")
	require.Len(t, pick(outs, "b", protocol.TypeFetchActiveRooms), 1)
	require.Len(t, pick(outs, "c", protocol.TypeFetchActiveRooms), 1)
	require.Empty(t, ofType(outs, protocol.TypeAddNewRoomUser))
	users := pick(outs, "a", protocol.TypeFetchRoomUsers)
	require.Len(t, users, 1)
	require.Empty(t, users[0].Payload.([]protocol.RoomUser))

	outs = h.o.Handle(JoinRoom{SID: "b", Room: "standup", Password: "wrong"})
	require.Equal(t, domain.ErrIncorrectPassword.Error(), joinErr(t, outs, "b"))
	require.Len(t, h.rooms.Members("standup"), 1)

	outs = h.o.Handle(JoinRoom{SID: "b", Room: "standup", Password: "p1"})
	require.Len(t, h.rooms.Members("standup"), 2)

	added := pick(outs, "a", protocol.TypeAddNewRoomUser)
	require.Len(t, added, 1)
	require.Equal(t, protocol.RoomUser{ID: "b", Username: "bob", IsVideoEnabled: true, IsAudioEnabled: true}, added[0].Payload)

	users = pick(outs, "b", protocol.TypeFetchRoomUsers)
	require.Len(t, users, 1)
	require.Equal(t, []protocol.RoomUser{{ID: "a", Username: "alice", IsVideoEnabled: true, IsAudioEnabled: true}}, users[0].Payload)

	require.Empty(t, pick(outs, "a", protocol.TypeFetchActiveRooms), "members already know")
	require.Empty(t, pick(outs, "b", protocol.TypeFetchActiveRooms))
	lobby := pick(outs, "c", protocol.TypeFetchActiveRooms)
	require.Len(t, lobby, 1)
	rooms := lobby[0].Payload.([]protocol.RoomInfo)
	require.Len(t, rooms, 1)
	require.Equal(t, []protocol.ActiveUser{{ID: "a", Username: "alice"}, {ID: "b", Username: "bob"}}, rooms[0].ActiveUsers)
}

func TestDisconnectScenario(t *testing.T) {
	h := newHarness()
	h.connect("a", "alice")
	h.connect("b", "bob")
	h.o.Handle(CreateRoom{SID: "a", Room: "standup", Password: "p1"})
	h.o.Handle(JoinRoom{SID: "b", Room: "standup", Password: "p1"})

	var all []Outbound
	all = append(all, h.o.Handle(Disconnecting{SID: "a"})...)
	require.Len(t, h.rooms.Members("standup"), 2, "disconnecting notifies before removal")
	all = append(all, h.o.Handle(Disconnect{SID: "a"})...)

	removed := pick(all, "b", protocol.TypeRemoveRoomUser)
	require.Len(t, removed, 1)
	require.Equal(t, protocol.RemoveRoomUser{ID: "a"}, removed[0].Payload)

	lists := pick(all, "b", protocol.TypeFetchActiveRooms)
	require.Len(t, lists, 1)
	rooms := lists[0].Payload.([]protocol.RoomInfo)
	require.Len(t, rooms, 1)
	require.Len(t, rooms[0].ActiveUsers, 1)
	require.Empty(t, pick(all, "a", protocol.TypeFetchActiveRooms))

	_, ok := h.sessions.Get("a")
	require.False(t, ok)

	outs := h.o.Handle(LeaveRoom{SID: "b", Room: "standup"})
	lists = pick(outs, "b", protocol.TypeFetchActiveRooms)
	require.Len(t, lists, 1)
	require.Empty(t, lists[0].Payload.([]protocol.RoomInfo))
	_, ok = h.rooms.LookupSecret("standup")
	require.False(t, ok)
}

func TestDisconnectWithoutDisconnectingStillNotifiesOnce(t *testing.T) {
	h := newHarness()
	h.connect("a", "alice")
	h.connect("b", "bob")
	h.o.Handle(CreateRoom{SID: "a", Room: "r", Password: "p"})
	h.o.Handle(JoinRoom{SID: "b", Room: "r", Password: "p"})

	outs := h.o.Handle(Disconnect{SID: "a"})
	require.Len(t, pick(outs, "b", protocol.TypeRemoveRoomUser), 1)
	require.Nil(t, h.o.Handle(Disconnect{SID: "a"}))
}

// A session that joins while a peer is between Disconnecting and Disconnect
// is told about the peer in fetch_room_users, so it must also get the removal.
func TestJoinDuringDisconnectGetsRemoval(t *testing.T) {
	h := newHarness()
	h.connect("a", "alice")
	h.connect("b", "bob")
	h.connect("c", "carol")
	h.o.Handle(CreateRoom{SID: "a", Room: "r", Password: "p"})
	h.o.Handle(JoinRoom{SID: "b", Room: "r", Password: "p"})

	outs := h.o.Handle(Disconnecting{SID: "a"})
	require.Len(t, pick(outs, "b", protocol.TypeRemoveRoomUser), 1)

	outs = h.o.Handle(JoinRoom{SID: "c", Room: "r", Password: "p"})
	users := pick(outs, "c", protocol.TypeFetchRoomUsers)
	require.Len(t, users, 1)
	var ids []string
	for _, u := range users[0].Payload.([]protocol.RoomUser) {
		ids = append(ids, u.ID)
	}
	require.Equal(t, []string{"a", "b"}, ids)

	outs = h.o.Handle(Disconnect{SID: "a"})
	removed := pick(outs, "c", protocol.TypeRemoveRoomUser)
	require.Len(t, removed, 1)
	require.Equal(t, protocol.RemoveRoomUser{ID: "a"}, removed[0].Payload)
	require.Empty(t, pick(outs, "b", protocol.TypeRemoveRoomUser), "b was told on disconnecting")
	require.Empty(t, h.o.notified)
}

func TestLobbyDisconnectIsQuiet(t *testing.T) {
	h := newHarness()
	h.connect("a", "alice")
	h.connect("b", "bob")
	require.Empty(t, h.o.Handle(Disconnecting{SID: "a"}))
	require.Empty(t, h.o.Handle(Disconnect{SID: "a"}))
}

func TestJoinUnknownRoom(t *testing.T) {
	h := newHarness()
	h.connect("a", "alice")
	outs := h.o.Handle(JoinRoom{SID: "a", Room: "nope", Password: "x"})
	require.Equal(t, domain.ErrRoomNotFound.Error(), joinErr(t, outs, "a"))
}

func TestCreateRequiresPassword(t *testing.T) {
	h := newHarness()
	h.connect("a", "alice")
	outs := h.o.Handle(CreateRoom{SID: "a", Room: "r", Password: ""})
	require.Equal(t, domain.ErrPasswordRequired.Error(), joinErr(t, outs, "a"))
	require.Empty(t, h.rooms.ListNonEmpty())

	outs = h.o.Handle(CreateRoom{SID: "a", Room: " ", Password: "p"})
	require.Equal(t, domain.ErrRoomNameEmpty.Error(), joinErr(t, outs, "a"))
}

func TestCreateOverwritesExistingPassword(t *testing.T) {
	h := newHarness()
	h.connect("a", "alice")
	h.connect("b", "bob")
	h.connect("c", "carol")
	h.o.Handle(CreateRoom{SID: "a", Room: "standup", Password: "p1"})

	outs := h.o.Handle(CreateRoom{SID: "b", Room: "standup", Password: "p2"})
	require.Len(t, pick(outs, "a", protocol.TypeAddNewRoomUser), 1)
	require.Len(t, h.rooms.Members("standup"), 2)

	outs = h.o.Handle(JoinRoom{SID: "c", Room: "standup", Password: "p1"})
	require.Equal(t, domain.ErrIncorrectPassword.Error(), joinErr(t, outs, "c"))

	outs = h.o.Handle(JoinRoom{SID: "c", Room: "standup", Password: "p2"})
	require.Len(t, pick(outs, "c", protocol.TypeFetchRoomUsers), 1)
	require.Len(t, h.rooms.Members("standup"), 3)
}

func TestLeaveIsIdempotent(t *testing.T) {
	h := newHarness()
	h.connect("a", "alice")
	h.connect("b", "bob")

	require.Empty(t, h.o.Handle(LeaveRoom{SID: "a", Room: "r"}))
	require.Empty(t, h.o.Handle(LeaveRoom{SID: "a", Room: "r"}))

	h.o.Handle(CreateRoom{SID: "a", Room: "r", Password: "p"})
	outs := h.o.Handle(LeaveRoom{SID: "a", Room: "r"})
	require.Len(t, ofType(outs, protocol.TypeFetchActiveRooms), 2)
	require.Empty(t, h.o.Handle(LeaveRoom{SID: "a", Room: "r"}))
}

func TestLeaveOtherRoomIsNoop(t *testing.T) {
	h := newHarness()
	h.connect("a", "alice")
	h.o.Handle(CreateRoom{SID: "a", Room: "r", Password: "p"})
	require.Empty(t, h.o.Handle(LeaveRoom{SID: "a", Room: "elsewhere"}))
	require.Len(t, h.rooms.Members("r"), 1)
}

func TestSwitchingRoomsLeavesThePreviousOne(t *testing.T) {
	h := newHarness()
	h.connect("a", "alice")
	h.connect("b", "bob")
	h.o.Handle(CreateRoom{SID: "a", Room: "r1", Password: "p"})
	h.o.Handle(JoinRoom{SID: "b", Room: "r1", Password: "p"})

	outs := h.o.Handle(CreateRoom{SID: "a", Room: "r2", Password: "p"})
	require.Len(t, pick(outs, "b", protocol.TypeRemoveRoomUser), 1)
	require.Equal(t, []core.SessionID{"b"}, h.rooms.Members("r1"))
	require.Equal(t, []core.SessionID{"a"}, h.rooms.Members("r2"))

	info, _ := h.sessions.Get("a")
	require.Equal(t, domain.RoomName("r2"), info.Room)
}

func TestMediaStateChangeRelaysToRoomMates(t *testing.T) {
	h := newHarness()
	h.connect("a", "alice")
	h.connect("b", "bob")
	h.connect("c", "carol")
	h.o.Handle(CreateRoom{SID: "a", Room: "r", Password: "p"})
	h.o.Handle(JoinRoom{SID: "b", Room: "r", Password: "p"})

	outs := h.o.Handle(MediaStateChange{SID: "b", Kind: domain.MediaVideo, Enabled: false})
	require.Len(t, outs, 1)
	require.Equal(t, core.SessionID("a"), outs[0].To)
	require.Equal(t, protocol.MediaState{RoomName: "r", UserID: "b", Kind: "video", Enabled: false}, outs[0].Payload)

	outs = h.o.Handle(JoinRoom{SID: "c", Room: "r", Password: "p"})
	users := pick(outs, "c", protocol.TypeFetchRoomUsers)[0].Payload.([]protocol.RoomUser)
	require.Len(t, users, 2)
	require.Equal(t, "b", users[1].ID)
	require.False(t, users[1].IsVideoEnabled)
	require.True(t, users[1].IsAudioEnabled)
}

func TestMediaStateChangeOutsideRoom(t *testing.T) {
	h := newHarness()
	h.connect("a", "alice")
	require.Empty(t, h.o.Handle(MediaStateChange{SID: "a", Kind: domain.MediaAudio, Enabled: false}))
	info, _ := h.sessions.Get("a")
	require.False(t, info.Media.AudioEnabled)
}

func TestRelay(t *testing.T) {
	h := newHarness()
	h.connect("a", "alice")
	h.connect("b", "bob")

	cand := json.RawMessage(`{"candidate":"c1"}`)
	outs := h.o.Handle(Relay{SID: "a", Type: protocol.TypeCandidate, Signal: protocol.Signal{To: "b", Candidate: cand}})
	require.Len(t, outs, 1)
	require.Equal(t, core.SessionID("b"), outs[0].To)
	require.Equal(t, protocol.TypeCandidate, outs[0].Type)
	require.Equal(t, protocol.Signal{From: "a", Candidate: cand}, outs[0].Payload)

	require.Empty(t, h.o.Handle(Relay{SID: "a", Type: protocol.TypeOffer, Signal: protocol.Signal{To: "gone", SDP: "v=0"}}))
}

func TestChatBroadcastIncludesSender(t *testing.T) {
	h := newHarness()
	h.connect("a", "alice")
	h.connect("b", "bob")
	h.connect("c", "carol")
	h.o.Handle(CreateRoom{SID: "a", Room: "r", Password: "p"})
	h.o.Handle(JoinRoom{SID: "b", Room: "r", Password: "p"})

	outs := h.o.Handle(Chat{SID: "a", Room: "r", Text: " hello "})
	require.Len(t, outs, 2)
	want := protocol.ChatOut{ID: "a", Username: "alice", Text: " hello ", TS: 1_700_000_000_000}
	require.Equal(t, want, pick(outs, "a", protocol.TypeChatMessage)[0].Payload)
	require.Equal(t, want, pick(outs, "b", protocol.TypeChatMessage)[0].Payload)

	require.Empty(t, h.o.Handle(Chat{SID: "c", Room: "r", Text: "let me in"}))
	require.Empty(t, h.o.Handle(Chat{SID: "a", Room: "r", Text: "   "}))
}

func TestJoinRateLimit(t *testing.T) {
	h := newHarness()
	h.o.Limiter = app.NewJoinRateLimiter(1, time.Minute)
	h.connect("a", "alice")

	outs := h.o.Handle(JoinRoom{SID: "a", Room: "r", Password: "x"})
	require.Equal(t, domain.ErrRoomNotFound.Error(), joinErr(t, outs, "a"))
	outs = h.o.Handle(JoinRoom{SID: "a", Room: "r", Password: "x"})
	require.Equal(t, domain.ErrTooManyAttempts.Error(), joinErr(t, outs, "a"))
}

// After any sequence of joins and leaves, the last room list broadcast
// matches the sessions' tracked rooms.
func TestRoomListMatchesDirectory(t *testing.T) {
	h := newHarness()
	rnd := rand.New(rand.NewSource(7))
	sids := []core.SessionID{"s0", "s1", "s2", "s3", "s4", "s5"}
	names := []domain.RoomName{"r0", "r1", "r2"}
	for _, sid := range sids {
		h.connect(sid, string(sid))
	}

	var last []protocol.RoomInfo
	for range 300 {
		sid := sids[rnd.Intn(len(sids))]
		name := names[rnd.Intn(len(names))]
		var outs []Outbound
		switch rnd.Intn(4) {
		case 0:
			outs = h.o.Handle(CreateRoom{SID: sid, Room: name, Password: "p"})
		case 1, 2:
			outs = h.o.Handle(JoinRoom{SID: sid, Room: name, Password: "p"})
		case 3:
			outs = h.o.Handle(LeaveRoom{SID: sid})
		}
		if lists := ofType(outs, protocol.TypeFetchActiveRooms); len(lists) > 0 {
			last = lists[len(lists)-1].Payload.([]protocol.RoomInfo)
			want := map[string]int{}
			for _, s := range sids {
				info, _ := h.sessions.Get(s)
				if info.InRoom() {
					want[string(info.Room)]++
				}
			}
			got := map[string]int{}
			for _, r := range last {
				require.NotEmpty(t, r.ActiveUsers, "empty rooms are never listed")
				got[r.Name] = len(r.ActiveUsers)
			}
			require.Equal(t, want, got)
		}
	}
	require.NotNil(t, last)
}

func TestRunDeliversAndAnswersQueries(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.o.Run(ctx)

	conn := &recConn{}
	require.NoError(t, h.o.Submit(ctx, Connect{SID: "a", Username: "alice", Conn: conn}))
	require.NoError(t, h.o.Submit(ctx, CreateRoom{SID: "a", Room: "r", Password: "p"}))

	rooms, err := h.o.RoomList(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	require.Equal(t, "r", rooms[0].Name)

	require.Equal(t, []string{
		protocol.TypeWelcome,
		protocol.TypeFetchActiveRooms,
		protocol.TypeFetchActiveRooms,
		protocol.TypeFetchRoomUsers,
	}, conn.types())

	cancel()
	require.Eventually(t, func() bool {
		return h.o.Submit(context.Background(), Ping{SID: "a"}) != nil
	}, time.Second, 10*time.Millisecond)
}

type countingHasher struct {
	app.BcryptHasher
	hashes   atomic.Int32
	verifies atomic.Int32
}

func (h *countingHasher) Hash(secret string) (string, error) {
	h.hashes.Add(1)
	return h.BcryptHasher.Hash(secret)
}

func (h *countingHasher) Verify(hashed, secret string) bool {
	h.verifies.Add(1)
	return h.BcryptHasher.Verify(hashed, secret)
}

func TestPrepareKeepsBcryptOutOfTheLoop(t *testing.T) {
	h := newHarness()
	hasher := &countingHasher{BcryptHasher: app.NewBcryptHasher(bcrypt.MinCost)}
	h.o.Secrets = hasher
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.o.Run(ctx)

	// RoomList returns only after every earlier event was handled.
	settle := func() {
		_, err := h.o.RoomList(ctx)
		require.NoError(t, err)
	}
	submit := func(ev Event) {
		require.NoError(t, h.o.Submit(ctx, h.o.Prepare(ctx, ev)))
		settle()
	}
	carol := &recConn{}
	require.NoError(t, h.o.Submit(ctx, Connect{SID: "a", Username: "alice", Conn: &recConn{}}))
	require.NoError(t, h.o.Submit(ctx, Connect{SID: "b", Username: "bob", Conn: &recConn{}}))
	require.NoError(t, h.o.Submit(ctx, Connect{SID: "c", Username: "carol", Conn: carol}))

	unknown := h.o.Prepare(ctx, JoinRoom{SID: "b", Room: "r", Password: "p"}).(JoinRoom)
	require.Empty(t, unknown.Verified)

	create := h.o.Prepare(ctx, CreateRoom{SID: "a", Room: "r", Password: "p"}).(CreateRoom)
	require.NotEmpty(t, create.Secret)
	require.EqualValues(t, 1, hasher.hashes.Load())
	require.NoError(t, h.o.Submit(ctx, create))
	settle()
	require.EqualValues(t, 1, hasher.hashes.Load(), "loop reused the prepared secret")

	join := h.o.Prepare(ctx, JoinRoom{SID: "b", Room: "r", Password: "p"}).(JoinRoom)
	require.Equal(t, create.Secret, join.Verified)
	require.EqualValues(t, 1, hasher.verifies.Load())
	require.NoError(t, h.o.Submit(ctx, join))
	settle()
	require.EqualValues(t, 1, hasher.verifies.Load(), "loop trusted the prepared check")
	require.Len(t, h.rooms.Members("r"), 2)

	// A check made against a secret that was replaced meanwhile is redone.
	stale := h.o.Prepare(ctx, JoinRoom{SID: "c", Room: "r", Password: "p"}).(JoinRoom)
	require.NotEmpty(t, stale.Verified)
	submit(CreateRoom{SID: "a", Room: "r", Password: "p2"})
	require.NoError(t, h.o.Submit(ctx, stale))
	settle()
	types := carol.types()
	require.Equal(t, protocol.TypeJoinRoomError, types[len(types)-1])
	require.Len(t, h.rooms.Members("r"), 2)

	submit(JoinRoom{SID: "c", Room: "r", Password: "p2"})
	require.Len(t, h.rooms.Members("r"), 3)
}

func TestBackpressureKicksSession(t *testing.T) {
	h := newHarness()
	kicked := make(chan struct{})
	conn := &recConn{err: core.ErrBackpressure}
	h.o.Handle(Connect{SID: "a", Username: "alice", Conn: conn, Cancel: func() { close(kicked) }})

	h.o.deliver([]Outbound{{To: "a", Type: protocol.TypePong}})
	select {
	case <-kicked:
	default:
		t.Fatal("session was not kicked")
	}
}

func TestBackpressureDropPolicyKeepsSession(t *testing.T) {
	h := newHarness()
	h.o.Policy = app.DropPolicy{}
	conn := &recConn{err: core.ErrBackpressure}
	h.o.Handle(Connect{SID: "a", Username: "alice", Conn: conn, Cancel: func() { t.Fatal("unexpected kick") }})
	h.o.deliver([]Outbound{{To: "a", Type: protocol.TypePong}})
}

func ExampleOrchestrator_Handle() {
	h := newHarness()
	h.connect("a", "alice")
	outs := h.o.Handle(CreateRoom{SID: "a", Room: "standup", Password: "p1"})
	for _, o := range outs {
		fmt.Println(o.To, o.Type)
	}
	// Output:
	// a fetch_active_rooms
	// a fetch_room_users
}
