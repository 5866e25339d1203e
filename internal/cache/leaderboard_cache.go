package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LeaderboardCache handles Redis ZSET operations for race standings and
// the all-time best WPM board
type LeaderboardCache interface {
	RecordFinish(ctx context.Context, raceID, userID string, rank int) error
	RaceStandings(ctx context.Context, raceID string) ([]LeaderboardEntry, error)
	UpdateBestWpm(ctx context.Context, userID, displayName string, wpm float64) error
	TopWpm(ctx context.Context, limit int) ([]LeaderboardEntry, error)
}

// LeaderboardEntry represents a single leaderboard entry
type LeaderboardEntry struct {
	UserID      string  `json:"userId"`
	DisplayName string  `json:"displayName,omitempty"`
	Score       float64 `json:"score"`
	Rank        int     `json:"rank"`
}

type leaderboardCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLeaderboardCache creates a new leaderboard cache
func NewLeaderboardCache(client *redis.Client, ttl time.Duration) LeaderboardCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &leaderboardCache{
		client: client,
		ttl:    ttl,
	}
}

func (c *leaderboardCache) raceKey(raceID string) string {
	return fmt.Sprintf("race:%s:standings", raceID)
}

const (
	bestWpmKey = "leaderboard:wpm"
	namesKey   = "leaderboard:names"
)

func (c *leaderboardCache) RecordFinish(ctx context.Context, raceID, userID string, rank int) error {
	key := c.raceKey(raceID)
	pipe := c.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(rank), Member: userID})
	pipe.Expire(ctx, key, c.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// RaceStandings lists finishers in rank order
func (c *leaderboardCache) RaceStandings(ctx context.Context, raceID string) ([]LeaderboardEntry, error) {
	results, err := c.client.ZRangeWithScores(ctx, c.raceKey(raceID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]LeaderboardEntry, len(results))
	for i, z := range results {
		entries[i] = LeaderboardEntry{
			UserID: z.Member.(string),
			Score:  z.Score,
			Rank:   int(z.Score),
		}
	}
	return entries, nil
}

// UpdateBestWpm only ever raises a user's score
func (c *leaderboardCache) UpdateBestWpm(ctx context.Context, userID, displayName string, wpm float64) error {
	pipe := c.client.TxPipeline()
	pipe.ZAddArgs(ctx, bestWpmKey, redis.ZAddArgs{
		GT:      true,
		Members: []redis.Z{{Score: wpm, Member: userID}},
	})
	if displayName != "" {
		pipe.HSet(ctx, namesKey, userID, displayName)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (c *leaderboardCache) TopWpm(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	results, err := c.client.ZRevRangeWithScores(ctx, bestWpmKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return []LeaderboardEntry{}, nil
	}

	ids := make([]string, len(results))
	for i, z := range results {
		ids[i] = z.Member.(string)
	}
	names, err := c.client.HMGet(ctx, namesKey, ids...).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, len(results))
	for i, z := range results {
		entries[i] = LeaderboardEntry{
			UserID: ids[i],
			Score:  z.Score,
			Rank:   i + 1,
		}
		if name, ok := names[i].(string); ok {
			entries[i].DisplayName = name
		}
	}
	return entries, nil
}
