package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"typerace/internal/model"

	"github.com/redis/go-redis/v9"
)

// RaceCache keeps the latest lifecycle snapshot of each race so it can be
// looked up after the room has been evicted from memory
type RaceCache interface {
	SetSnapshot(ctx context.Context, snap *model.RaceSnapshot) error
	GetSnapshot(ctx context.Context, raceID string) (*model.RaceSnapshot, error)
	Delete(ctx context.Context, raceID string) error
	Exists(ctx context.Context, raceID string) (bool, error)
}

type raceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRaceCache creates a new race cache
func NewRaceCache(client *redis.Client, ttl time.Duration) RaceCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &raceCache{
		client: client,
		ttl:    ttl,
	}
}

func (c *raceCache) key(raceID string) string {
	return fmt.Sprintf("race:%s", raceID)
}

func (c *raceCache) SetSnapshot(ctx context.Context, snap *model.RaceSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(snap.ID), data, c.ttl).Err()
}

func (c *raceCache) GetSnapshot(ctx context.Context, raceID string) (*model.RaceSnapshot, error) {
	data, err := c.client.Get(ctx, c.key(raceID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap model.RaceSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *raceCache) Delete(ctx context.Context, raceID string) error {
	return c.client.Del(ctx, c.key(raceID)).Err()
}

func (c *raceCache) Exists(ctx context.Context, raceID string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(raceID)).Result()
	return n > 0, err
}
