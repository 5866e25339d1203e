package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"typerace/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBroadcaster struct {
	mu      sync.Mutex
	races   []*model.RaceSnapshot
	lobbies [][]model.LobbySummary
	closed  []string
	panicOn int // panic on the nth race broadcast, 1-based
}

func (b *fakeBroadcaster) BroadcastRace(snap *model.RaceSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.races = append(b.races, snap)
	if b.panicOn > 0 && len(b.races) == b.panicOn {
		panic("broadcast exploded")
	}
}

func (b *fakeBroadcaster) BroadcastLobby(rooms []model.LobbySummary) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lobbies = append(b.lobbies, rooms)
}

func (b *fakeBroadcaster) RaceClosed(raceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = append(b.closed, raceID)
}

func (b *fakeBroadcaster) raceCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.races)
}

func (b *fakeBroadcaster) lastRace() *model.RaceSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.races) == 0 {
		return nil
	}
	return b.races[len(b.races)-1]
}

func (b *fakeBroadcaster) lastLobby() []model.LobbySummary {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lobbies) == 0 {
		return nil
	}
	return b.lobbies[len(b.lobbies)-1]
}

func (b *fakeBroadcaster) closedRaces() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.closed...)
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []string
	finish []model.Participant
}

func (r *fakeRecorder) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *fakeRecorder) RaceCreated(*model.RaceSnapshot) { r.add("created") }

func (r *fakeRecorder) RaceStarted(*model.RaceSnapshot) { r.add("started") }

func (r *fakeRecorder) RaceFinished(*model.RaceSnapshot) { r.add("finished") }

func (r *fakeRecorder) ParticipantFinished(_ *model.RaceSnapshot, p model.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "participant_finished:"+p.UserID)
	r.finish = append(r.finish, p)
}

func (r *fakeRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeObserver struct {
	mu      sync.Mutex
	changes []*model.RaceSnapshot
	closed  []string
}

func (o *fakeObserver) roomChanged(snap *model.RaceSnapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changes = append(o.changes, snap)
}

func (o *fakeObserver) roomClosed(room *RaceRoom) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = append(o.closed, room.id)
}

func (o *fakeObserver) closedRooms() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.closed...)
}

type fakeChallenges struct {
	err   error
	calls int
	mu    sync.Mutex
}

func (f *fakeChallenges) Sequence(_ context.Context, category string, n int) ([]model.Challenge, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.Challenge, n)
	for i := range out {
		out[i] = NewChallenge("c"+string(rune('0'+i)), category, "type this text quickly")
	}
	return out, nil
}

var errStoreDown = errors.New("store down")
