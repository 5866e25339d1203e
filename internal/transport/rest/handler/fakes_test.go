package handler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
	"typerace/internal/cache"
	"typerace/internal/model"
	"typerace/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRegistry(t *testing.T) *service.RoomRegistry {
	t.Helper()
	registry := service.NewRoomRegistry(service.RegistryConfig{
		Room:              service.RoomConfig{MinPlayers: 2, Countdown: time.Second},
		MaxPlayers:        4,
		ChallengesPerRace: 1,
		DefaultCategory:   "general",
	}, nil, nil, discardLogger())
	t.Cleanup(registry.Stop)
	return registry
}

type fakeRaceCache struct {
	snaps map[string]*model.RaceSnapshot
}

func (c *fakeRaceCache) SetSnapshot(_ context.Context, snap *model.RaceSnapshot) error {
	c.snaps[snap.ID] = snap
	return nil
}

func (c *fakeRaceCache) GetSnapshot(_ context.Context, raceID string) (*model.RaceSnapshot, error) {
	return c.snaps[raceID], nil
}

func (c *fakeRaceCache) Delete(_ context.Context, raceID string) error {
	delete(c.snaps, raceID)
	return nil
}

func (c *fakeRaceCache) Exists(_ context.Context, raceID string) (bool, error) {
	_, ok := c.snaps[raceID]
	return ok, nil
}

type fakeParticipants struct {
	byRace    map[string][]*model.ParticipantRecord
	byUser    map[string][]*model.ParticipantRecord
	lastLimit int64
}

func (p *fakeParticipants) Upsert(context.Context, *model.ParticipantRecord) error { return nil }

func (p *fakeParticipants) ListByRace(_ context.Context, raceID string) ([]*model.ParticipantRecord, error) {
	return p.byRace[raceID], nil
}

func (p *fakeParticipants) ListByUser(_ context.Context, userID string, limit int64) ([]*model.ParticipantRecord, error) {
	p.lastLimit = limit
	return p.byUser[userID], nil
}

func (p *fakeParticipants) EnsureIndexes(context.Context) error { return nil }

type fakeLeaderboard struct {
	standings map[string][]cache.LeaderboardEntry
	top       []cache.LeaderboardEntry
	lastLimit int
	err       error
}

func (l *fakeLeaderboard) RecordFinish(context.Context, string, string, int) error { return nil }

func (l *fakeLeaderboard) RaceStandings(_ context.Context, raceID string) ([]cache.LeaderboardEntry, error) {
	return l.standings[raceID], l.err
}

func (l *fakeLeaderboard) UpdateBestWpm(context.Context, string, string, float64) error { return nil }

func (l *fakeLeaderboard) TopWpm(_ context.Context, limit int) ([]cache.LeaderboardEntry, error) {
	l.lastLimit = limit
	if l.err != nil {
		return nil, l.err
	}
	if limit < len(l.top) {
		return l.top[:limit], nil
	}
	return l.top, nil
}

type fakeQueue struct {
	stats model.QueueStats
}

func (q fakeQueue) Stats() model.QueueStats { return q.stats }
