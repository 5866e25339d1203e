package service

import "typerace/internal/model"

// Broadcaster fans room and lobby state out to connections (avoids import cycle).
// Implementations must never block the caller.
type Broadcaster interface {
	BroadcastRace(snap *model.RaceSnapshot)
	BroadcastLobby(rooms []model.LobbySummary)
	RaceClosed(raceID string)
}

// Recorder receives lifecycle records from race rooms. Calls must return
// immediately; durability happens elsewhere.
type Recorder interface {
	RaceCreated(snap *model.RaceSnapshot)
	RaceStarted(snap *model.RaceSnapshot)
	ParticipantFinished(snap *model.RaceSnapshot, p model.Participant)
	RaceFinished(snap *model.RaceSnapshot)
}

type nopBroadcaster struct{}

func (nopBroadcaster) BroadcastRace(*model.RaceSnapshot)   {}
func (nopBroadcaster) BroadcastLobby([]model.LobbySummary) {}
func (nopBroadcaster) RaceClosed(string)                   {}

type nopRecorder struct{}

func (nopRecorder) RaceCreated(*model.RaceSnapshot)                            {}
func (nopRecorder) RaceStarted(*model.RaceSnapshot)                            {}
func (nopRecorder) ParticipantFinished(*model.RaceSnapshot, model.Participant) {}
func (nopRecorder) RaceFinished(*model.RaceSnapshot)                           {}
