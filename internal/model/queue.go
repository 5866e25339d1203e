package model

import "time"

// QueueEntry is a user waiting in the matchmaking pool
type QueueEntry struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	AverageWpm  float64   `json:"averageWpm"`
	JoinedAt    time.Time `json:"joinedAt"`
	ConnID      string    `json:"-"`
}

// QueueStats is returned by the queue status endpoint
type QueueStats struct {
	Waiting   int     `json:"waiting"`
	GroupSize int     `json:"groupSize"`
	OldestSec float64 `json:"oldestWaitSec"`
}
