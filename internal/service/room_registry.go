package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
	"typerace/internal/model"

	"github.com/google/uuid"
)

// RegistryConfig carries the room rules plus registry housekeeping
type RegistryConfig struct {
	Room              RoomConfig
	MaxPlayers        int
	ChallengesPerRace int
	DefaultCategory   string
	FinishedGrace     time.Duration
	IdleWaitingGrace  time.Duration
	SweepInterval     time.Duration
}

// RoomRegistry owns the set of live race rooms and the lobby view over them.
// It never calls into a room while holding its own lock.
type RoomRegistry struct {
	mu    sync.Mutex
	rooms map[string]*RaceRoom
	lobby map[string]model.LobbySummary

	challenges  ChallengeProvider
	broadcaster Broadcaster
	recorder    Recorder
	cfg         RegistryConfig
	logger      *slog.Logger

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewRoomRegistry(cfg RegistryConfig, challenges ChallengeProvider, recorder Recorder, logger *slog.Logger) *RoomRegistry {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if cfg.ChallengesPerRace < 1 {
		cfg.ChallengesPerRace = 1
	}
	return &RoomRegistry{
		rooms:       make(map[string]*RaceRoom),
		lobby:       make(map[string]model.LobbySummary),
		challenges:  challenges,
		broadcaster: nopBroadcaster{},
		recorder:    recorder,
		cfg:         cfg,
		logger:      logger,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// SetBroadcaster wires the fan-out layer. Must be called before rooms exist.
func (g *RoomRegistry) SetBroadcaster(b Broadcaster) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.broadcaster = b
}

// Create opens a new waiting room with a generated id
func (g *RoomRegistry) Create(ctx context.Context, settings model.RaceSettings) (*RaceRoom, error) {
	settings, err := g.normalize(settings)
	if err != nil {
		return nil, err
	}
	challenges := g.sequence(ctx, settings.Category)

	room := g.newRoom(uuid.NewString(), settings, challenges)
	g.mu.Lock()
	g.rooms[room.id] = room
	g.mu.Unlock()

	g.logger.Info("race created", "race_id", room.id, "category", settings.Category, "max_players", settings.MaxPlayers)
	room.announce()
	return room, nil
}

// GetOrCreate returns the room for raceID, creating a default room when
// none exists. created reports whether this call made it.
func (g *RoomRegistry) GetOrCreate(ctx context.Context, raceID string) (room *RaceRoom, created bool, err error) {
	if raceID == "" || len(raceID) > 64 {
		return nil, false, fmt.Errorf("%w: raceId must be 1-64 characters", ErrMalformedMessage)
	}
	if room, ok := g.Get(raceID); ok {
		return room, false, nil
	}

	settings, _ := g.normalize(model.RaceSettings{})
	challenges := g.sequence(ctx, settings.Category)

	g.mu.Lock()
	if existing, ok := g.rooms[raceID]; ok {
		g.mu.Unlock()
		return existing, false, nil
	}
	room = g.newRoomLocked(raceID, settings, challenges)
	g.rooms[raceID] = room
	g.mu.Unlock()

	g.logger.Info("race created on join", "race_id", raceID)
	room.announce()
	return room, true, nil
}

// CreateMatched opens a room pre-populated with a matchmaking group. The
// roster is reserved; each member becomes active when they attach.
func (g *RoomRegistry) CreateMatched(ctx context.Context, entries []model.QueueEntry) (*RaceRoom, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: empty match group", ErrInvalidQueueEntry)
	}
	settings, _ := g.normalize(model.RaceSettings{})
	if len(entries) > settings.MaxPlayers {
		settings.MaxPlayers = len(entries)
	}
	challenges := g.sequence(ctx, settings.Category)

	room := g.newRoom(uuid.NewString(), settings, challenges)
	room.matched = true
	for _, e := range entries {
		room.addParticipantLocked(e.UserID, e.DisplayName, false, time.Now())
	}

	g.mu.Lock()
	g.rooms[room.id] = room
	g.mu.Unlock()

	g.logger.Info("matched race created", "race_id", room.id, "players", len(entries))
	room.announce()
	return room, nil
}

func (g *RoomRegistry) Get(raceID string) (*RaceRoom, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[raceID]
	return room, ok
}

func (g *RoomRegistry) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Lobby returns the current summaries of every live race, oldest first
func (g *RoomRegistry) Lobby() []model.LobbySummary {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lobbyLocked()
}

// WithLobby runs fn with the current lobby under the registry lock, so a
// subscriber registered inside fn cannot miss or reorder an update.
func (g *RoomRegistry) WithLobby(fn func(rooms []model.LobbySummary)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g.lobbyLocked())
}

// Start runs the eviction sweep until Stop
func (g *RoomRegistry) Start() {
	interval := g.cfg.SweepInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	go func() {
		defer close(g.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.Sweep(time.Now())
			case <-g.stop:
				return
			}
		}
	}()
}

// Stop ends the sweep, closes every room and tells attached clients
func (g *RoomRegistry) Stop() {
	g.stopOnce.Do(func() {
		close(g.stop)
	})

	g.mu.Lock()
	rooms := make([]*RaceRoom, 0, len(g.rooms))
	for _, room := range g.rooms {
		rooms = append(rooms, room)
	}
	g.mu.Unlock()

	for _, room := range rooms {
		room.shutdown()
	}
}

// Sweep evicts finished rooms past their grace period and abandoned
// waiting rooms. Returns the number evicted.
func (g *RoomRegistry) Sweep(now time.Time) int {
	g.mu.Lock()
	rooms := make([]*RaceRoom, 0, len(g.rooms))
	for _, room := range g.rooms {
		rooms = append(rooms, room)
	}
	g.mu.Unlock()

	evicted := 0
	for _, room := range rooms {
		if room.tryEvict(now, g.cfg.FinishedGrace, g.cfg.IdleWaitingGrace) {
			evicted++
		}
	}
	return evicted
}

// roomChanged keeps the lobby view in step with a room. Runs under the
// room lock; takes the registry lock, then the broadcaster's.
func (g *RoomRegistry) roomChanged(snap *model.RaceSnapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.rooms[snap.ID]; !ok {
		return
	}
	if snap.Status.Live() {
		g.lobby[snap.ID] = snap.Summary()
	} else {
		delete(g.lobby, snap.ID)
	}
	g.broadcaster.BroadcastLobby(g.lobbyLocked())
}

// roomClosed drops a room that closed itself. Runs under the room lock.
func (g *RoomRegistry) roomClosed(room *RaceRoom) {
	if g.remove(room) {
		g.logger.Info("race removed", "race_id", room.id)
	}
}

func (g *RoomRegistry) remove(room *RaceRoom) bool {
	g.mu.Lock()
	if g.rooms[room.id] != room {
		g.mu.Unlock()
		return false
	}
	delete(g.rooms, room.id)
	_, listed := g.lobby[room.id]
	delete(g.lobby, room.id)
	if listed {
		g.broadcaster.BroadcastLobby(g.lobbyLocked())
	}
	b := g.broadcaster
	g.mu.Unlock()

	b.RaceClosed(room.id)
	return true
}

func (g *RoomRegistry) lobbyLocked() []model.LobbySummary {
	out := make([]model.LobbySummary, 0, len(g.lobby))
	for _, s := range g.lobby {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RaceID < out[j].RaceID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (g *RoomRegistry) newRoom(id string, settings model.RaceSettings, challenges []model.Challenge) *RaceRoom {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.newRoomLocked(id, settings, challenges)
}

// newRoomLocked builds a room without registering it. Caller holds g.mu.
func (g *RoomRegistry) newRoomLocked(id string, settings model.RaceSettings, challenges []model.Challenge) *RaceRoom {
	return newRaceRoom(id, settings, challenges, g.cfg.Room, g.broadcaster, g.recorder, g, g.logger)
}

func (g *RoomRegistry) normalize(s model.RaceSettings) (model.RaceSettings, error) {
	if s.MaxPlayers == 0 {
		s.MaxPlayers = g.cfg.MaxPlayers
	}
	if s.MaxPlayers < g.cfg.Room.MinPlayers || s.MaxPlayers > g.cfg.MaxPlayers {
		return s, fmt.Errorf("%w: maxPlayers must be between %d and %d", ErrMalformedMessage, g.cfg.Room.MinPlayers, g.cfg.MaxPlayers)
	}
	if s.Category == "" {
		s.Category = g.cfg.DefaultCategory
	}
	return s, nil
}

// sequence fetches the race's challenges, falling back to bundled passages
func (g *RoomRegistry) sequence(ctx context.Context, category string) []model.Challenge {
	n := g.cfg.ChallengesPerRace
	if g.challenges != nil {
		challenges, err := g.challenges.Sequence(ctx, category, n)
		if err == nil && len(challenges) > 0 {
			return challenges
		}
		g.logger.Warn("challenge store unavailable, using bundled passages", "category", category, "error", err)
	}
	return builtinSequence(category, n)
}
