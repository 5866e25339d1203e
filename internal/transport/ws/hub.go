package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"typerace/internal/model"
	"typerace/internal/service"

	"github.com/google/uuid"
)

type connKind int

const (
	kindUnclassified connKind = iota
	kindPlayer
	kindSpectator
	kindLobby
)

func (k connKind) String() string {
	switch k {
	case kindPlayer:
		return "player"
	case kindSpectator:
		return "spectator"
	case kindLobby:
		return "lobby"
	}
	return "unclassified"
}

// Connection represents a WebSocket connection. The classification fields
// are guarded by mu; Send is closed by the hub on deregistration.
type Connection struct {
	ID       string
	Send     chan []byte
	identity *model.Identity

	mu           sync.Mutex
	kind         connKind
	raceID       string
	userID       string
	queuedUser   string
	lastActivity time.Time
}

func (c *Connection) classification() (connKind, string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kind, c.raceID, c.userID
}

// classify tags an unclassified connection; it fails if already tagged
func (c *Connection) classify(kind connKind, raceID, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kind != kindUnclassified {
		return false
	}
	c.kind, c.raceID, c.userID = kind, raceID, userID
	return true
}

func (c *Connection) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kind, c.raceID, c.userID = kindUnclassified, "", ""
}

// resetIf clears the tag only if the connection is still attached to raceID
func (c *Connection) resetIf(kind connKind, raceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kind != kind || c.raceID != raceID {
		return false
	}
	c.kind, c.raceID, c.userID = kindUnclassified, "", ""
	return true
}

func (c *Connection) setQueuedUser(userID string) {
	c.mu.Lock()
	c.queuedUser = userID
	c.mu.Unlock()
}

func (c *Connection) clearQueuedUser(userID string) {
	c.mu.Lock()
	if c.queuedUser == userID {
		c.queuedUser = ""
	}
	c.mu.Unlock()
}

func (c *Connection) takeQueuedUser() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	userID := c.queuedUser
	c.queuedUser = ""
	return userID
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// resolveUser reconciles a message's claimed user with the connection's
// token identity. Without a token the claimed userId is taken as given.
func (c *Connection) resolveUser(userID, name string) (string, string, error) {
	if c.identity != nil {
		if userID != "" && userID != c.identity.UserID {
			return "", "", service.ErrIdentityMismatch
		}
		if name == "" {
			name = c.identity.DisplayName
		}
		return c.identity.UserID, name, nil
	}
	if userID == "" {
		return "", "", fmt.Errorf("%w: userId is required", service.ErrMalformedMessage)
	}
	return userID, name, nil
}

type HubConfig struct {
	SendBuffer     int
	MessageTimeout time.Duration
}

// Stats is a point-in-time count of hub connections
type Stats struct {
	Connections int `json:"connections"`
	Races       int `json:"races"`
	Lobby       int `json:"lobby"`
}

type handlerFunc func(ctx context.Context, c *Connection, payload json.RawMessage) error

// Hub is the connection registry and fan-out. It routes inbound messages
// to rooms and the queue without holding its own lock, and holds only its
// own lock while delivering, so it never blocks a room.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Connection
	races map[string]map[string]*Connection // raceID -> connID -> conn
	lobby map[string]*Connection

	registry   *service.RoomRegistry
	matchmaker *service.Matchmaker
	handlers   map[MessageType]handlerFunc
	cfg        HubConfig
	logger     *slog.Logger
}

func NewHub(registry *service.RoomRegistry, matchmaker *service.Matchmaker, cfg HubConfig, logger *slog.Logger) *Hub {
	if cfg.SendBuffer < 1 {
		cfg.SendBuffer = 64
	}
	if cfg.MessageTimeout <= 0 {
		cfg.MessageTimeout = 5 * time.Second
	}
	h := &Hub{
		conns:      make(map[string]*Connection),
		races:      make(map[string]map[string]*Connection),
		lobby:      make(map[string]*Connection),
		registry:   registry,
		matchmaker: matchmaker,
		cfg:        cfg,
		logger:     logger.With("component", "ws_hub"),
	}
	h.handlers = map[MessageType]handlerFunc{
		MsgRaceJoin:       h.handleJoin,
		MsgRaceLeave:      h.handleLeave,
		MsgRaceProgress:   h.handleProgress,
		MsgRaceFinish:     h.handleFinish,
		MsgRaceAdvance:    h.handleAdvance,
		MsgRaceStart:      h.handleStart,
		MsgRaceSpectate:   h.handleSpectate,
		MsgRaceUnspectate: h.handleUnspectate,
		MsgLobbySubscribe: h.handleLobbySubscribe,
		MsgLobbyLeave:     h.handleLobbyUnsubscribe,
		MsgQueueJoin:      h.handleQueueJoin,
		MsgQueueLeave:     h.handleQueueLeave,
		MsgPing:           h.handlePing,
	}
	return h
}

// Register begins tracking a new, unclassified connection
func (h *Hub) Register(identity *model.Identity) *Connection {
	c := &Connection{
		ID:           uuid.NewString(),
		Send:         make(chan []byte, h.cfg.SendBuffer),
		identity:     identity,
		lastActivity: time.Now(),
	}
	h.mu.Lock()
	h.conns[c.ID] = c
	h.mu.Unlock()

	h.logger.Debug("connection registered", "conn_id", c.ID)
	return c
}

// Deregister stops tracking the connection and runs departure handling for
// its classification. Safe to call more than once.
func (h *Hub) Deregister(c *Connection) {
	h.mu.Lock()
	if _, ok := h.conns[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c.ID)
	delete(h.lobby, c.ID)
	kind, raceID, userID := c.classification()
	if members, ok := h.races[raceID]; ok {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.races, raceID)
		}
	}
	// another tab of the same player keeps the participant attached
	shared := kind == kindPlayer && h.playerAttachedLocked(raceID, userID)
	close(c.Send)
	h.mu.Unlock()

	h.matchmaker.LeaveConn(c.ID)

	room, ok := h.registry.Get(raceID)
	switch {
	case !ok, shared:
	case kind == kindPlayer:
		if err := room.Leave(userID); err != nil && !errors.Is(err, service.ErrRaceClosed) {
			h.logger.Debug("departure failed", "conn_id", c.ID, "race_id", raceID, "error", err)
		}
	case kind == kindSpectator:
		_ = room.RemoveSpectator()
	}
	c.mu.Lock()
	idle := time.Since(c.lastActivity)
	c.mu.Unlock()
	h.logger.Debug("connection deregistered", "conn_id", c.ID, "kind", kind.String(), "idle", idle)
}

// Route decodes one inbound message and dispatches it to exactly one handler.
// Failures are reported to the originating connection only.
func (h *Hub) Route(ctx context.Context, c *Connection, data []byte) {
	c.touch()

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		h.sendError(c, "", fmt.Errorf("%w: expected {type, payload}", service.ErrMalformedMessage))
		return
	}
	handler, ok := h.handlers[msg.Type]
	if !ok {
		h.sendError(c, msg.Type, fmt.Errorf("%w: %s", service.ErrUnknownMessage, msg.Type))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, h.cfg.MessageTimeout)
	defer cancel()
	if err := handler(ctx, c, msg.Payload); err != nil {
		h.sendError(c, msg.Type, err)
	}
}

// Stats reports current connection counts
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{Connections: len(h.conns), Races: len(h.races), Lobby: len(h.lobby)}
}

// BroadcastRace implements service.Broadcaster
func (h *Hub) BroadcastRace(snap *model.RaceSnapshot) {
	data, err := encode(MsgRaceState, snap)
	if err != nil {
		h.logger.Error("failed to encode race state", "race_id", snap.ID, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.races[snap.ID] {
		h.trySendLocked(c, data)
	}
}

// BroadcastLobby implements service.Broadcaster
func (h *Hub) BroadcastLobby(rooms []model.LobbySummary) {
	data, err := encode(MsgLobbyUpdate, LobbyUpdatePayload{Rooms: rooms})
	if err != nil {
		h.logger.Error("failed to encode lobby update", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.lobby {
		h.trySendLocked(c, data)
	}
}

// RaceClosed implements service.Broadcaster. Attached connections return
// to unclassified so they can join another race.
func (h *Hub) RaceClosed(raceID string) {
	data, _ := encode(MsgRaceClosed, RaceClosedPayload{RaceID: raceID})

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.races[raceID] {
		c.reset()
		h.trySendLocked(c, data)
	}
	delete(h.races, raceID)
}

// NotifyMatched implements service.MatchNotifier
func (h *Hub) NotifyMatched(connID, raceID string, entry model.QueueEntry) {
	h.dequeued(connID, entry.UserID)
	h.sendTo(connID, MsgQueueMatched, QueueMatchedPayload{RaceID: raceID})
}

// NotifyQueueTimeout implements service.MatchNotifier
func (h *Hub) NotifyQueueTimeout(connID string, entry model.QueueEntry) {
	h.dequeued(connID, entry.UserID)
	h.sendTo(connID, MsgQueueTimeout, struct{}{})
}

// dequeued forgets the connection's queue entry once the matchmaker has
// released it
func (h *Hub) dequeued(connID, userID string) {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if ok {
		c.clearQueuedUser(userID)
	}
}

func (h *Hub) handleJoin(ctx context.Context, c *Connection, payload json.RawMessage) error {
	var p JoinPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	userID, name, err := c.resolveUser(p.UserID, p.UserName)
	if err != nil {
		return err
	}
	if !c.classify(kindPlayer, p.RaceID, userID) {
		return service.ErrAlreadyAttached
	}

	// A room can close between lookup and join; one retry opens a fresh one
	for attempt := 0; attempt < 2; attempt++ {
		var room *service.RaceRoom
		room, _, err = h.registry.GetOrCreate(ctx, p.RaceID)
		if err != nil {
			break
		}
		h.attach(p.RaceID, c)
		if _, err = room.Join(userID, name); !errors.Is(err, service.ErrRaceClosed) {
			break
		}
	}
	if err != nil {
		h.detach(p.RaceID, c)
		c.reset()
		return err
	}
	return nil
}

func (h *Hub) handleLeave(_ context.Context, c *Connection, payload json.RawMessage) error {
	var p LeavePayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	room, userID, err := h.playerRoom(c, p.RaceID, p.UserID)
	if err != nil {
		return err
	}
	h.detach(p.RaceID, c)
	c.reset()
	return room.Leave(userID)
}

func (h *Hub) handleProgress(_ context.Context, c *Connection, payload json.RawMessage) error {
	var p ProgressPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	room, userID, err := h.playerRoom(c, p.RaceID, p.UserID)
	if err != nil {
		return err
	}
	return room.Progress(userID, p.Progress, p.CurrentWpm)
}

func (h *Hub) handleFinish(_ context.Context, c *Connection, payload json.RawMessage) error {
	var p FinishPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	room, userID, err := h.playerRoom(c, p.RaceID, p.UserID)
	if err != nil {
		return err
	}
	return room.Finish(userID, p.Wpm, p.Accuracy)
}

func (h *Hub) handleAdvance(_ context.Context, c *Connection, payload json.RawMessage) error {
	var p AdvancePayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	room, userID, err := h.playerRoom(c, p.RaceID, p.UserID)
	if err != nil {
		return err
	}
	return room.AdvanceChallenge(userID, p.ChallengeWpm, p.ChallengeAccuracy)
}

func (h *Hub) handleStart(_ context.Context, c *Connection, payload json.RawMessage) error {
	var p RacePayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	room, userID, err := h.playerRoom(c, p.RaceID, "")
	if err != nil {
		return err
	}
	return room.Start(userID)
}

func (h *Hub) handleSpectate(_ context.Context, c *Connection, payload json.RawMessage) error {
	var p RacePayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	if p.RaceID == "" {
		return fmt.Errorf("%w: raceId is required", service.ErrMalformedMessage)
	}
	room, ok := h.registry.Get(p.RaceID)
	if !ok {
		return service.ErrRaceNotFound
	}
	if !c.classify(kindSpectator, p.RaceID, "") {
		return service.ErrAlreadyAttached
	}

	// Attach before counting so the resulting broadcast reaches this connection
	h.attach(p.RaceID, c)
	if err := room.AddSpectator(); err != nil {
		h.detach(p.RaceID, c)
		c.reset()
		return err
	}
	return nil
}

func (h *Hub) handleUnspectate(_ context.Context, c *Connection, payload json.RawMessage) error {
	var p RacePayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	if !c.resetIf(kindSpectator, p.RaceID) {
		return service.ErrNotAttached
	}
	h.detach(p.RaceID, c)
	if room, ok := h.registry.Get(p.RaceID); ok {
		return room.RemoveSpectator()
	}
	return nil
}

func (h *Hub) handleLobbySubscribe(_ context.Context, c *Connection, _ json.RawMessage) error {
	if !c.classify(kindLobby, "", "") {
		return service.ErrAlreadyAttached
	}

	// Registered under the registry lock so no update is missed or reordered
	h.registry.WithLobby(func(rooms []model.LobbySummary) {
		data, err := encode(MsgLobbyUpdate, LobbyUpdatePayload{Rooms: rooms})
		if err != nil {
			return
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.conns[c.ID]; !ok {
			return
		}
		h.lobby[c.ID] = c
		h.trySendLocked(c, data)
	})
	return nil
}

func (h *Hub) handleLobbyUnsubscribe(_ context.Context, c *Connection, _ json.RawMessage) error {
	if !c.resetIf(kindLobby, "") {
		return service.ErrNotAttached
	}
	h.mu.Lock()
	delete(h.lobby, c.ID)
	h.mu.Unlock()
	return nil
}

func (h *Hub) handleQueueJoin(ctx context.Context, c *Connection, payload json.RawMessage) error {
	var p QueueJoinPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	userID, name, err := c.resolveUser(p.UserID, p.UserName)
	if err != nil {
		return err
	}
	if kind, _, _ := c.classification(); kind == kindPlayer {
		return service.ErrAlreadyAttached
	}

	// tag first so a match notification can never race ahead of it
	c.setQueuedUser(userID)
	pos, err := h.matchmaker.Enqueue(model.QueueEntry{
		UserID:      userID,
		DisplayName: name,
		AverageWpm:  p.AverageWpm,
		ConnID:      c.ID,
	})
	if err != nil {
		c.clearQueuedUser(userID)
		return err
	}
	h.sendTo(c.ID, MsgQueueJoined, QueueJoinedPayload{Position: pos})
	h.matchmaker.Scan(ctx)
	return nil
}

func (h *Hub) handleQueueLeave(_ context.Context, c *Connection, _ json.RawMessage) error {
	userID := c.takeQueuedUser()
	if userID == "" {
		return service.ErrNotQueued
	}
	if err := h.matchmaker.Leave(userID); err != nil {
		return err
	}
	h.sendTo(c.ID, MsgQueueLeft, struct{}{})
	return nil
}

func (h *Hub) handlePing(_ context.Context, c *Connection, _ json.RawMessage) error {
	h.sendTo(c.ID, MsgPong, PongPayload{Time: time.Now().UTC()})
	return nil
}

// playerRoom checks the connection is the player attached to raceID and
// returns its room and user
func (h *Hub) playerRoom(c *Connection, raceID, claimedUser string) (*service.RaceRoom, string, error) {
	kind, attachedRace, userID := c.classification()
	if kind != kindPlayer || (raceID != "" && raceID != attachedRace) {
		return nil, "", service.ErrNotAttached
	}
	if claimedUser != "" && claimedUser != userID {
		return nil, "", service.ErrIdentityMismatch
	}
	room, ok := h.registry.Get(attachedRace)
	if !ok {
		return nil, "", service.ErrRaceNotFound
	}
	return room, userID, nil
}

func (h *Hub) attach(raceID string, c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.ID]; !ok {
		return
	}
	members, ok := h.races[raceID]
	if !ok {
		members = make(map[string]*Connection)
		h.races[raceID] = members
	}
	members[c.ID] = c
}

// playerAttachedLocked reports whether any connection still plays userID in
// raceID. Caller holds h.mu.
func (h *Hub) playerAttachedLocked(raceID, userID string) bool {
	for _, m := range h.races[raceID] {
		if kind, r, u := m.classification(); kind == kindPlayer && r == raceID && u == userID {
			return true
		}
	}
	return false
}

func (h *Hub) detach(raceID string, c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.races[raceID]; ok {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.races, raceID)
		}
	}
}

func (h *Hub) sendTo(connID string, t MessageType, payload interface{}) {
	data, err := encode(t, payload)
	if err != nil {
		h.logger.Error("failed to encode message", "type", t, "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.conns[connID]; ok {
		h.trySendLocked(c, data)
	}
}

func (h *Hub) sendError(c *Connection, t MessageType, err error) {
	kind := service.KindOf(err)
	if kind == service.KindInternal {
		h.logger.Error("message failed", "conn_id", c.ID, "type", t, "error", err)
	} else {
		h.logger.Debug("message rejected", "conn_id", c.ID, "type", t, "error", err)
	}
	h.sendTo(c.ID, MsgError, ErrorPayload{Message: err.Error(), Code: string(kind), Type: t})
}

// trySendLocked drops the message when the connection's buffer is full; the
// next full snapshot supersedes it. Caller holds h.mu.
func (h *Hub) trySendLocked(c *Connection, data []byte) {
	select {
	case c.Send <- data:
	default:
		h.logger.Debug("dropping message for slow connection", "conn_id", c.ID)
	}
}

func decode(payload json.RawMessage, v interface{}) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: missing payload", service.ErrMalformedMessage)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", service.ErrMalformedMessage, err)
	}
	return nil
}
