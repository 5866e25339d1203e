package model

import "time"

type RaceStatus string

const (
	RaceWaiting    RaceStatus = "waiting"
	RaceCountdown  RaceStatus = "countdown"
	RaceInProgress RaceStatus = "in_progress"
	RaceFinished   RaceStatus = "finished"
)

var statusOrder = map[RaceStatus]int{
	RaceWaiting:    0,
	RaceCountdown:  1,
	RaceInProgress: 2,
	RaceFinished:   3,
}

// Before reports whether s comes strictly earlier than other in the race lifecycle.
func (s RaceStatus) Before(other RaceStatus) bool {
	return statusOrder[s] < statusOrder[other]
}

// Live reports whether the race is still visible in the lobby.
func (s RaceStatus) Live() bool {
	return s != RaceFinished
}

// RaceSettings are fixed when a race room is created
type RaceSettings struct {
	MaxPlayers int    `json:"maxPlayers" bson:"maxPlayers"`
	Category   string `json:"category" bson:"category"`
}

// RaceSnapshot is an immutable copy of a race room's state
type RaceSnapshot struct {
	ID                string        `json:"raceId"`
	Status            RaceStatus    `json:"status"`
	HostID            string        `json:"hostId,omitempty"`
	Settings          RaceSettings  `json:"settings"`
	Challenges        []Challenge   `json:"challenges"`
	Participants      []Participant `json:"participants"`
	CountdownDeadline *time.Time    `json:"countdownDeadline,omitempty"`
	StartTime         *time.Time    `json:"startTime,omitempty"`
	TimeLimitAt       *time.Time    `json:"timeLimitAt,omitempty"`
	FinishedAt        *time.Time    `json:"finishedAt,omitempty"`
	SpectatorCount    int           `json:"spectatorCount"`
	Matched           bool          `json:"matched"`
	CreatedAt         time.Time     `json:"createdAt"`
	ServerTime        time.Time     `json:"serverTime"`
}

// Participant looks up a participant by user id.
func (s *RaceSnapshot) Participant(userID string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// Summary reduces the snapshot to what lobby subscribers see.
func (s *RaceSnapshot) Summary() LobbySummary {
	return LobbySummary{
		RaceID:     s.ID,
		Status:     s.Status,
		Category:   s.Settings.Category,
		Players:    len(s.Participants),
		MaxPlayers: s.Settings.MaxPlayers,
		Spectators: s.SpectatorCount,
		CreatedAt:  s.CreatedAt,
	}
}

// LobbySummary is the lobby-level view of one live race
type LobbySummary struct {
	RaceID     string     `json:"raceId"`
	Status     RaceStatus `json:"status"`
	Category   string     `json:"category"`
	Players    int        `json:"players"`
	MaxPlayers int        `json:"maxPlayers"`
	Spectators int        `json:"spectators"`
	CreatedAt  time.Time  `json:"createdAt"`
}
