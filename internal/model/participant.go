package model

import "time"

// Participant is a racer's state inside one race room.
// Wpm, Accuracy, FinishedAt and Rank are written once, on finish.
type Participant struct {
	UserID                string            `json:"userId"`
	DisplayName           string            `json:"displayName"`
	CurrentChallengeIndex int               `json:"currentChallengeIndex"`
	Progress              float64           `json:"progress"`
	CurrentWpm            float64           `json:"currentWpm"`
	Wpm                   float64           `json:"wpm"`
	Accuracy              float64           `json:"accuracy"`
	FinishedAt            *time.Time        `json:"finishedAt,omitempty"`
	Rank                  int               `json:"rank"`
	Active                bool              `json:"active"`
	JoinedAt              time.Time         `json:"joinedAt"`
	ChallengeResults      []ChallengeResult `json:"challengeResults,omitempty"`
}

// Finished reports whether the participant has crossed the line
func (p *Participant) Finished() bool {
	return p.FinishedAt != nil
}

// ChallengeResult records the metrics of one completed challenge
type ChallengeResult struct {
	Index       int       `json:"index" bson:"index"`
	Wpm         float64   `json:"wpm" bson:"wpm"`
	Accuracy    float64   `json:"accuracy" bson:"accuracy"`
	CompletedAt time.Time `json:"completedAt" bson:"completedAt"`
}
