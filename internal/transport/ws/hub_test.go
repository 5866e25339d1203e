package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"typerace/internal/model"
	"typerace/internal/service"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	srv        *httptest.Server
	registry   *service.RoomRegistry
	matchmaker *service.Matchmaker
	hub        *Hub
	auth       *service.AuthService
}

func newTestServer(t *testing.T, requireToken bool) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry := service.NewRoomRegistry(service.RegistryConfig{
		Room: service.RoomConfig{
			MinPlayers: 2,
			Countdown:  20 * time.Millisecond,
		},
		MaxPlayers:        4,
		ChallengesPerRace: 1,
		DefaultCategory:   "general",
		FinishedGrace:     time.Minute,
		IdleWaitingGrace:  time.Minute,
	}, nil, nil, logger)
	matchmaker := service.NewMatchmaker(service.MatchmakingConfig{
		GroupSize:     2,
		BaseTolerance: 10,
		MaxTolerance:  60,
		EntryTimeout:  time.Minute,
	}, registry, logger)

	hub := NewHub(registry, matchmaker, HubConfig{SendBuffer: 64}, logger)
	registry.SetBroadcaster(hub)
	matchmaker.SetNotifier(hub)

	auth := service.NewAuthService("test-secret", time.Hour)
	handler := NewHandler(hub, auth, HandlerConfig{RequireToken: requireToken}, logger)
	srv := httptest.NewServer(http.HandlerFunc(handler.ServeWS))

	t.Cleanup(func() {
		srv.Close()
		matchmaker.Stop()
		registry.Stop()
	})
	return &testServer{srv: srv, registry: registry, matchmaker: matchmaker, hub: hub, auth: auth}
}

func (s *testServer) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(s.srv.URL, "http")
	if token != "" {
		u += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (s *testServer) mustRoom(t *testing.T, raceID string) *service.RaceRoom {
	t.Helper()
	room, ok := s.registry.Get(raceID)
	require.True(t, ok, "race %s not registered", raceID)
	return room
}

func send(t *testing.T, conn *websocket.Conn, msgType MessageType, payload interface{}) {
	t.Helper()
	data, err := encode(msgType, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// readUntil skips messages until one of the wanted type satisfies match
func readUntil(t *testing.T, conn *websocket.Conn, want MessageType, match func(json.RawMessage) bool) json.RawMessage {
	t.Helper()
	for {
		msg := readMessage(t, conn)
		if msg.Type == want && (match == nil || match(msg.Payload)) {
			return msg.Payload
		}
	}
}

func readState(t *testing.T, conn *websocket.Conn, match func(*model.RaceSnapshot) bool) *model.RaceSnapshot {
	t.Helper()
	var snap model.RaceSnapshot
	readUntil(t, conn, MsgRaceState, func(raw json.RawMessage) bool {
		snap = model.RaceSnapshot{}
		require.NoError(t, json.Unmarshal(raw, &snap))
		return match == nil || match(&snap)
	})
	return &snap
}

func withStatus(status model.RaceStatus) func(*model.RaceSnapshot) bool {
	return func(s *model.RaceSnapshot) bool { return s.Status == status }
}

func joinRace(t *testing.T, conn *websocket.Conn, raceID, userID string) {
	t.Helper()
	send(t, conn, MsgRaceJoin, JoinPayload{RaceID: raceID, UserID: userID, UserName: "name-" + userID})
	readState(t, conn, func(s *model.RaceSnapshot) bool {
		_, ok := s.Participant(userID)
		return ok
	})
}

func startedRace(t *testing.T, s *testServer, raceID string) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	a := s.dial(t, "")
	b := s.dial(t, "")
	joinRace(t, a, raceID, "alice")
	joinRace(t, b, raceID, "bob")

	send(t, a, MsgRaceStart, RacePayload{RaceID: raceID})
	readState(t, a, withStatus(model.RaceInProgress))
	readState(t, b, withStatus(model.RaceInProgress))
	return a, b
}

func TestHub_RaceLifecycle(t *testing.T) {
	s := newTestServer(t, false)
	a, b := startedRace(t, s, "race-1")

	send(t, b, MsgRaceProgress, ProgressPayload{RaceID: "race-1", UserID: "bob", Progress: 50, CurrentWpm: 60})
	snap := readState(t, a, func(s *model.RaceSnapshot) bool {
		p, _ := s.Participant("bob")
		return p.Progress == 50
	})
	p, _ := snap.Participant("bob")
	assert.Equal(t, float64(60), p.CurrentWpm)

	send(t, b, MsgRaceFinish, FinishPayload{RaceID: "race-1", UserID: "bob", Wpm: 75, Accuracy: 98})
	send(t, a, MsgRaceFinish, FinishPayload{RaceID: "race-1", UserID: "alice", Wpm: 65, Accuracy: 93})

	final := readState(t, a, withStatus(model.RaceFinished))
	require.Len(t, final.Participants, 2)
	assert.Equal(t, "bob", final.Participants[0].UserID)
	assert.Equal(t, 1, final.Participants[0].Rank)
	assert.Equal(t, 2, final.Participants[1].Rank)
	readState(t, b, withStatus(model.RaceFinished))
}

func TestHub_SpectatorGetsFullSnapshot(t *testing.T) {
	s := newTestServer(t, false)
	a, _ := startedRace(t, s, "race-1")

	send(t, a, MsgRaceProgress, ProgressPayload{RaceID: "race-1", UserID: "alice", Progress: 40, CurrentWpm: 55})
	readState(t, a, func(s *model.RaceSnapshot) bool {
		p, _ := s.Participant("alice")
		return p.Progress == 40
	})

	watcher := s.dial(t, "")
	send(t, watcher, MsgRaceSpectate, RacePayload{RaceID: "race-1"})

	first := readMessage(t, watcher)
	require.Equal(t, MsgRaceState, first.Type)
	var snap model.RaceSnapshot
	require.NoError(t, json.Unmarshal(first.Payload, &snap))
	assert.Equal(t, model.RaceInProgress, snap.Status)
	assert.Equal(t, 1, snap.SpectatorCount)
	assert.Len(t, snap.Participants, 2)
	p, _ := snap.Participant("alice")
	assert.Equal(t, float64(40), p.Progress)
	assert.NotEmpty(t, snap.Challenges)
}

func TestHub_ErrorsGoToOriginatorOnly(t *testing.T) {
	s := newTestServer(t, false)
	a := s.dial(t, "")
	b := s.dial(t, "")
	joinRace(t, a, "race-1", "alice")
	joinRace(t, b, "race-1", "bob")
	readState(t, a, func(s *model.RaceSnapshot) bool { return len(s.Participants) == 2 })

	send(t, b, MsgRaceStart, RacePayload{RaceID: "race-1"})
	raw := readUntil(t, b, MsgError, nil)
	var e ErrorPayload
	require.NoError(t, json.Unmarshal(raw, &e))
	assert.Equal(t, string(service.KindGuard), e.Code)
	assert.Equal(t, MsgRaceStart, e.Type)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"type":"race:teleport"}`)))
	raw = readUntil(t, a, MsgError, nil)
	require.NoError(t, json.Unmarshal(raw, &e))
	assert.Equal(t, string(service.KindProtocol), e.Code)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	readUntil(t, a, MsgError, nil)

	// Nothing else reached bob
	b.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	_, _, err := b.ReadMessage()
	assert.Error(t, err)
}

func TestHub_PlayerMessagesRequireAttachment(t *testing.T) {
	s := newTestServer(t, false)
	a := s.dial(t, "")

	send(t, a, MsgRaceProgress, ProgressPayload{RaceID: "race-1", UserID: "alice", Progress: 10})
	raw := readUntil(t, a, MsgError, nil)
	assert.Contains(t, string(raw), service.ErrNotAttached.Error())

	joinRace(t, a, "race-1", "alice")
	send(t, a, MsgRaceSpectate, RacePayload{RaceID: "race-1"})
	raw = readUntil(t, a, MsgError, nil)
	assert.Contains(t, string(raw), service.ErrAlreadyAttached.Error())
}

func TestHub_DisconnectMarksInactive(t *testing.T) {
	s := newTestServer(t, false)
	a, b := startedRace(t, s, "race-1")

	require.NoError(t, b.Close())
	snap := readState(t, a, func(s *model.RaceSnapshot) bool {
		p, _ := s.Participant("bob")
		return !p.Active
	})
	assert.Len(t, snap.Participants, 2)

	// bob reconnects by identity and is re-attached, not duplicated
	b2 := s.dial(t, "")
	send(t, b2, MsgRaceJoin, JoinPayload{RaceID: "race-1", UserID: "bob"})
	snap = readState(t, b2, func(s *model.RaceSnapshot) bool {
		p, _ := s.Participant("bob")
		return p.Active
	})
	assert.Len(t, snap.Participants, 2)
	assert.Equal(t, model.RaceInProgress, snap.Status)
}

func TestHub_LobbySubscription(t *testing.T) {
	s := newTestServer(t, false)
	lobby := s.dial(t, "")

	send(t, lobby, MsgLobbySubscribe, struct{}{})
	first := readMessage(t, lobby)
	require.Equal(t, MsgLobbyUpdate, first.Type)

	a := s.dial(t, "")
	joinRace(t, a, "race-1", "alice")

	raw := readUntil(t, lobby, MsgLobbyUpdate, func(raw json.RawMessage) bool {
		var p LobbyUpdatePayload
		require.NoError(t, json.Unmarshal(raw, &p))
		return len(p.Rooms) == 1 && p.Rooms[0].Players == 1
	})
	var update LobbyUpdatePayload
	require.NoError(t, json.Unmarshal(raw, &update))
	assert.Equal(t, "race-1", update.Rooms[0].RaceID)
	assert.Equal(t, model.RaceWaiting, update.Rooms[0].Status)

	send(t, lobby, MsgLobbyLeave, struct{}{})
	send(t, lobby, MsgPing, struct{}{})
	readUntil(t, lobby, MsgPong, nil)
	assert.Equal(t, 0, s.hub.Stats().Lobby)
}

func TestHub_QueueMatchAndAttach(t *testing.T) {
	s := newTestServer(t, false)
	q1 := s.dial(t, "")
	q2 := s.dial(t, "")

	send(t, q1, MsgQueueJoin, QueueJoinPayload{UserID: "ann", UserName: "Ann", AverageWpm: 40})
	raw := readUntil(t, q1, MsgQueueJoined, nil)
	assert.JSONEq(t, `{"position":1}`, string(raw))

	send(t, q2, MsgQueueJoin, QueueJoinPayload{UserID: "bo", UserName: "Bo", AverageWpm: 45})

	var m1, m2 QueueMatchedPayload
	require.NoError(t, json.Unmarshal(readUntil(t, q1, MsgQueueMatched, nil), &m1))
	require.NoError(t, json.Unmarshal(readUntil(t, q2, MsgQueueMatched, nil), &m2))
	require.NotEmpty(t, m1.RaceID)
	assert.Equal(t, m1.RaceID, m2.RaceID)

	send(t, q1, MsgRaceJoin, JoinPayload{RaceID: m1.RaceID, UserID: "ann"})
	snap := readState(t, q1, nil)
	assert.True(t, snap.Matched)
	assert.Equal(t, "ann", snap.HostID)
	assert.Len(t, snap.Participants, 2)
	p, _ := snap.Participant("ann")
	assert.True(t, p.Active)
}

func TestHub_QueueLeave(t *testing.T) {
	s := newTestServer(t, false)
	q := s.dial(t, "")

	send(t, q, MsgQueueLeave, struct{}{})
	raw := readUntil(t, q, MsgError, nil)
	assert.Contains(t, string(raw), service.ErrNotQueued.Error())

	send(t, q, MsgQueueJoin, QueueJoinPayload{UserID: "ann", AverageWpm: 40})
	readUntil(t, q, MsgQueueJoined, nil)
	send(t, q, MsgQueueLeave, struct{}{})
	readUntil(t, q, MsgQueueLeft, nil)
}

func TestHub_TokenIdentity(t *testing.T) {
	s := newTestServer(t, true)

	u := "ws" + strings.TrimPrefix(s.srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	guest, err := s.auth.IssueGuest("Ann")
	require.NoError(t, err)
	conn := s.dial(t, guest.Token)

	send(t, conn, MsgRaceJoin, JoinPayload{RaceID: "race-1", UserID: "someone-else"})
	raw := readUntil(t, conn, MsgError, nil)
	assert.Contains(t, string(raw), service.ErrIdentityMismatch.Error())

	send(t, conn, MsgRaceJoin, JoinPayload{RaceID: "race-1"})
	snap := readState(t, conn, nil)
	p, ok := snap.Participant(guest.UserID)
	require.True(t, ok)
	assert.Equal(t, "Ann", p.DisplayName)
}

func TestHub_RaceClosedReleasesConnections(t *testing.T) {
	s := newTestServer(t, false)
	player := s.dial(t, "")
	watcher := s.dial(t, "")

	joinRace(t, player, "race-1", "alice")
	send(t, watcher, MsgRaceSpectate, RacePayload{RaceID: "race-1"})
	readState(t, watcher, nil)

	s.registry.Stop()

	for _, conn := range []*websocket.Conn{player, watcher} {
		raw := readUntil(t, conn, MsgRaceClosed, nil)
		var p RaceClosedPayload
		require.NoError(t, json.Unmarshal(raw, &p))
		assert.Equal(t, "race-1", p.RaceID)
	}

	joinRace(t, player, "race-2", "alice")
	assert.Equal(t, 0, s.hub.Stats().Lobby)
}

func TestHub_SecondTabKeepsPlayerAttached(t *testing.T) {
	s := newTestServer(t, false)
	tab1 := s.dial(t, "")
	tab2 := s.dial(t, "")
	bob := s.dial(t, "")

	joinRace(t, tab1, "race-1", "alice")
	joinRace(t, tab2, "race-1", "alice")
	joinRace(t, bob, "race-1", "bob")

	tab1.Close()
	require.Eventually(t, func() bool {
		return s.hub.Stats().Connections == 2
	}, 2*time.Second, 10*time.Millisecond)

	snap := s.mustRoom(t, "race-1").Snapshot()
	assert.Equal(t, "alice", snap.HostID)
	p, ok := snap.Participant("alice")
	require.True(t, ok, "alice must stay on the roster")
	assert.True(t, p.Active)

	send(t, tab2, MsgRaceStart, RacePayload{RaceID: "race-1"})
	readState(t, tab2, withStatus(model.RaceInProgress))
}

func TestHub_LastTabLeavesRace(t *testing.T) {
	s := newTestServer(t, false)
	tab := s.dial(t, "")
	bob := s.dial(t, "")

	joinRace(t, tab, "race-1", "alice")
	joinRace(t, bob, "race-1", "bob")

	tab.Close()
	snap := readState(t, bob, func(s *model.RaceSnapshot) bool {
		_, ok := s.Participant("alice")
		return !ok
	})
	assert.Equal(t, "bob", snap.HostID)
}

func TestHub_SlowConnectionDoesNotStallRace(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := service.NewRoomRegistry(service.RegistryConfig{
		Room:              service.RoomConfig{MinPlayers: 2, Countdown: 20 * time.Millisecond},
		MaxPlayers:        4,
		ChallengesPerRace: 1,
		DefaultCategory:   "general",
		FinishedGrace:     time.Minute,
		IdleWaitingGrace:  time.Minute,
	}, nil, nil, logger)
	matchmaker := service.NewMatchmaker(service.MatchmakingConfig{GroupSize: 2, MaxTolerance: 10, EntryTimeout: time.Minute}, registry, logger)
	hub := NewHub(registry, matchmaker, HubConfig{SendBuffer: 1}, logger)
	registry.SetBroadcaster(hub)
	matchmaker.SetNotifier(hub)

	fast := hub.Register(nil)
	slow := hub.Register(nil)
	t.Cleanup(func() {
		matchmaker.Stop()
		registry.Stop()
		hub.Deregister(fast)
		hub.Deregister(slow)
	})

	// fast is drained continuously; slow is never read
	states := make(chan model.RaceStatus, 64)
	go func() {
		for data := range fast.Send {
			var msg Message
			if json.Unmarshal(data, &msg) != nil || msg.Type != MsgRaceState {
				continue
			}
			var snap model.RaceSnapshot
			if json.Unmarshal(msg.Payload, &snap) == nil {
				states <- snap.Status
			}
		}
	}()

	route := func(c *Connection, msgType MessageType, payload interface{}) {
		data, err := encode(msgType, payload)
		assert.NoError(t, err)
		hub.Route(context.Background(), c, data)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		route(fast, MsgRaceJoin, JoinPayload{RaceID: "race-1", UserID: "alice", UserName: "Alice"})
		route(slow, MsgRaceJoin, JoinPayload{RaceID: "race-1", UserID: "bob", UserName: "Bob"})
		for i := 0; i < 5; i++ {
			route(slow, MsgPing, nil)
		}
		route(fast, MsgRaceStart, RacePayload{RaceID: "race-1"})
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("routing blocked on a slow connection")
	}

	deadline := time.After(2 * time.Second)
	for started := false; !started; {
		select {
		case status := <-states:
			started = status == model.RaceInProgress
		case <-deadline:
			t.Fatal("fast connection never saw the race start")
		}
	}

	assert.Len(t, slow.Send, 1, "slow buffer holds one message and the rest were dropped")
	room, ok := registry.Get("race-1")
	require.True(t, ok)
	assert.Equal(t, model.RaceInProgress, room.Status())
}

func TestHub_MatchReleasesQueueTag(t *testing.T) {
	s := newTestServer(t, false)
	q1 := s.dial(t, "")
	q2 := s.dial(t, "")

	send(t, q1, MsgQueueJoin, QueueJoinPayload{UserID: "ann", UserName: "Ann", AverageWpm: 40})
	readUntil(t, q1, MsgQueueJoined, nil)
	send(t, q2, MsgQueueJoin, QueueJoinPayload{UserID: "bo", UserName: "Bo", AverageWpm: 45})
	readUntil(t, q1, MsgQueueMatched, nil)

	// ann queues again from a fresh connection
	q3 := s.dial(t, "")
	send(t, q3, MsgQueueJoin, QueueJoinPayload{UserID: "ann", UserName: "Ann", AverageWpm: 40})
	readUntil(t, q3, MsgQueueJoined, nil)

	// the matched connection no longer owns an entry, so it cannot remove q3's
	send(t, q1, MsgQueueLeave, struct{}{})
	var e ErrorPayload
	require.NoError(t, json.Unmarshal(readUntil(t, q1, MsgError, nil), &e))
	assert.Equal(t, service.ErrNotQueued.Error(), e.Message)
	assert.Equal(t, 1, s.matchmaker.Position("ann"))
}
