package ws

import (
	"encoding/json"
	"time"
	"typerace/internal/model"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Client to server
const (
	MsgRaceJoin       MessageType = "race:join"
	MsgRaceLeave      MessageType = "race:leave"
	MsgRaceProgress   MessageType = "race:progress"
	MsgRaceFinish     MessageType = "race:finish"
	MsgRaceAdvance    MessageType = "race:advanceChallenge"
	MsgRaceStart      MessageType = "race:start"
	MsgRaceSpectate   MessageType = "race:spectate"
	MsgRaceUnspectate MessageType = "race:unspectate"
	MsgLobbySubscribe MessageType = "lobby:subscribe"
	MsgLobbyLeave     MessageType = "lobby:unsubscribe"
	MsgQueueJoin      MessageType = "queue:join"
	MsgQueueLeave     MessageType = "queue:leave"
	MsgPing           MessageType = "ping"
)

// Server to client
const (
	MsgRaceState    MessageType = "race:state"
	MsgRaceClosed   MessageType = "race:closed"
	MsgLobbyUpdate  MessageType = "lobby:update"
	MsgQueueJoined  MessageType = "queue:joined"
	MsgQueueLeft    MessageType = "queue:left"
	MsgQueueMatched MessageType = "queue:matched"
	MsgQueueTimeout MessageType = "queue:timeout"
	MsgPong         MessageType = "pong"
	MsgError        MessageType = "error"
)

// Message is the WebSocket envelope format
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JoinPayload struct {
	RaceID   string `json:"raceId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type LeavePayload struct {
	RaceID string `json:"raceId"`
	UserID string `json:"userId"`
}

type ProgressPayload struct {
	RaceID     string  `json:"raceId"`
	UserID     string  `json:"userId"`
	Progress   float64 `json:"progress"`
	CurrentWpm float64 `json:"currentWpm"`
}

type FinishPayload struct {
	RaceID   string  `json:"raceId"`
	UserID   string  `json:"userId"`
	Wpm      float64 `json:"wpm"`
	Accuracy float64 `json:"accuracy"`
}

type AdvancePayload struct {
	RaceID            string  `json:"raceId"`
	UserID            string  `json:"userId"`
	ChallengeWpm      float64 `json:"challengeWpm"`
	ChallengeAccuracy float64 `json:"challengeAccuracy"`
}

// RacePayload addresses a race without a user: start, spectate, unspectate
type RacePayload struct {
	RaceID string `json:"raceId"`
}

type QueueJoinPayload struct {
	UserID     string  `json:"userId"`
	UserName   string  `json:"userName"`
	AverageWpm float64 `json:"averageWpm"`
}

type LobbyUpdatePayload struct {
	Rooms []model.LobbySummary `json:"rooms"`
}

type QueueJoinedPayload struct {
	Position int `json:"position"`
}

type QueueMatchedPayload struct {
	RaceID string `json:"raceId"`
}

type RaceClosedPayload struct {
	RaceID string `json:"raceId"`
}

type PongPayload struct {
	Time time.Time `json:"time"`
}

type ErrorPayload struct {
	Message string      `json:"message"`
	Code    string      `json:"code"`
	Type    MessageType `json:"type,omitempty"`
}

// encode wraps a payload in the envelope
func encode(t MessageType, payload interface{}) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return json.Marshal(&Message{Type: t, Payload: raw})
}
