package service

import (
	"context"
	"errors"
	"fmt"
	"typerace/internal/cache"
	"typerace/internal/model"
	"typerace/internal/repository"
)

// StoreSink persists race lifecycle records to Mongo and mirrors
// snapshots and standings into Redis
type StoreSink struct {
	races        repository.RaceRepo
	participants repository.ParticipantRepo
	snapshots    cache.RaceCache
	leaderboard  cache.LeaderboardCache
}

// NewStoreSink creates a sink; a nil cache disables that mirror
func NewStoreSink(races repository.RaceRepo, participants repository.ParticipantRepo, snapshots cache.RaceCache, leaderboard cache.LeaderboardCache) *StoreSink {
	return &StoreSink{
		races:        races,
		participants: participants,
		snapshots:    snapshots,
		leaderboard:  leaderboard,
	}
}

func (s *StoreSink) RecordRaceCreated(ctx context.Context, snap *model.RaceSnapshot) error {
	return s.writeRace(ctx, snap)
}

func (s *StoreSink) RecordRaceStarted(ctx context.Context, snap *model.RaceSnapshot) error {
	return s.writeRace(ctx, snap)
}

func (s *StoreSink) RecordParticipantFinished(ctx context.Context, snap *model.RaceSnapshot, p model.Participant) error {
	if err := s.participants.Upsert(ctx, model.NewParticipantRecord(snap, p)); err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}
	if s.leaderboard == nil {
		return nil
	}

	var errs []error
	if err := s.leaderboard.RecordFinish(ctx, snap.ID, p.UserID, p.Rank); err != nil {
		errs = append(errs, fmt.Errorf("record standing: %w", err))
	}
	if err := s.leaderboard.UpdateBestWpm(ctx, p.UserID, p.DisplayName, p.Wpm); err != nil {
		errs = append(errs, fmt.Errorf("update best wpm: %w", err))
	}
	return errors.Join(errs...)
}

func (s *StoreSink) RecordRaceFinished(ctx context.Context, snap *model.RaceSnapshot) error {
	return s.writeRace(ctx, snap)
}

func (s *StoreSink) writeRace(ctx context.Context, snap *model.RaceSnapshot) error {
	if err := s.races.Upsert(ctx, model.NewRaceRecord(snap)); err != nil {
		return fmt.Errorf("upsert race: %w", err)
	}
	if s.snapshots != nil {
		if err := s.snapshots.SetSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("cache snapshot: %w", err)
		}
	}
	return nil
}
