package model

import "time"

// RaceRecord is the durable row for one race
type RaceRecord struct {
	ID               string     `json:"raceId" bson:"_id"`
	Status           RaceStatus `json:"status" bson:"status"`
	Category         string     `json:"category" bson:"category"`
	MaxPlayers       int        `json:"maxPlayers" bson:"maxPlayers"`
	HostID           string     `json:"hostId" bson:"hostId"`
	ParticipantCount int        `json:"participantCount" bson:"participantCount"`
	ChallengeIDs     []string   `json:"challengeIds" bson:"challengeIds"`
	Matched          bool       `json:"matched" bson:"matched"`
	CreatedAt        time.Time  `json:"createdAt" bson:"createdAt"`
	StartedAt        *time.Time `json:"startedAt,omitempty" bson:"startedAt,omitempty"`
	FinishedAt       *time.Time `json:"finishedAt,omitempty" bson:"finishedAt,omitempty"`
}

// ParticipantRecord holds one participant's session stats for a race
type ParticipantRecord struct {
	RaceID           string            `json:"raceId" bson:"raceId"`
	UserID           string            `json:"userId" bson:"userId"`
	DisplayName      string            `json:"displayName" bson:"displayName"`
	Wpm              float64           `json:"wpm" bson:"wpm"`
	Accuracy         float64           `json:"accuracy" bson:"accuracy"`
	Rank             int               `json:"rank" bson:"rank"`
	FinishedAt       time.Time         `json:"finishedAt" bson:"finishedAt"`
	DurationSec      float64           `json:"durationSec" bson:"durationSec"`
	ChallengeResults []ChallengeResult `json:"challengeResults,omitempty" bson:"challengeResults,omitempty"`
}

// NewRaceRecord builds the durable row from a snapshot.
func NewRaceRecord(s *RaceSnapshot) *RaceRecord {
	ids := make([]string, 0, len(s.Challenges))
	for _, c := range s.Challenges {
		ids = append(ids, c.ID)
	}
	return &RaceRecord{
		ID:               s.ID,
		Status:           s.Status,
		Category:         s.Settings.Category,
		MaxPlayers:       s.Settings.MaxPlayers,
		HostID:           s.HostID,
		ParticipantCount: len(s.Participants),
		ChallengeIDs:     ids,
		Matched:          s.Matched,
		CreatedAt:        s.CreatedAt,
		StartedAt:        s.StartTime,
		FinishedAt:       s.FinishedAt,
	}
}

// NewParticipantRecord builds the session stats row for a finished participant.
func NewParticipantRecord(s *RaceSnapshot, p Participant) *ParticipantRecord {
	rec := &ParticipantRecord{
		RaceID:           s.ID,
		UserID:           p.UserID,
		DisplayName:      p.DisplayName,
		Wpm:              p.Wpm,
		Accuracy:         p.Accuracy,
		Rank:             p.Rank,
		ChallengeResults: p.ChallengeResults,
	}
	if p.FinishedAt != nil {
		rec.FinishedAt = *p.FinishedAt
		if s.StartTime != nil {
			rec.DurationSec = p.FinishedAt.Sub(*s.StartTime).Seconds()
		}
	}
	return rec
}
