package service

import "errors"

// ErrorKind classifies an error for the wire
type ErrorKind string

const (
	KindProtocol ErrorKind = "protocol"
	KindGuard    ErrorKind = "guard"
	KindCapacity ErrorKind = "capacity"
	KindInternal ErrorKind = "internal"
)

// Protocol errors
var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrUnknownMessage   = errors.New("unknown message type")
	ErrRaceNotFound     = errors.New("race not found")
	ErrRaceClosed       = errors.New("race is closed")
	ErrInvalidMetric    = errors.New("invalid metric value")
	ErrIdentityMismatch = errors.New("user id does not match connection")
	ErrAlreadyAttached  = errors.New("connection is already attached")
	ErrNotAttached      = errors.New("connection is not attached to this race")
)

// Guard violations
var (
	ErrNotParticipant    = errors.New("user is not a participant")
	ErrNotWaiting        = errors.New("race is not waiting for players")
	ErrNotEnoughPlayers  = errors.New("not enough players to start")
	ErrNotHost           = errors.New("only the race host can start the race")
	ErrNotInProgress     = errors.New("race is not in progress")
	ErrRaceFinished      = errors.New("race has finished")
	ErrAlreadyFinished   = errors.New("participant has already finished")
	ErrNoMoreChallenges  = errors.New("no further challenge in sequence")
	ErrAlreadyQueued     = errors.New("user is already queued")
	ErrNotQueued         = errors.New("user is not queued")
	ErrInvalidQueueEntry = errors.New("invalid queue entry")
)

// Capacity errors
var (
	ErrRoomFull = errors.New("race roster is full")
)

var ErrInternal = errors.New("internal error")

var errorKinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrMalformedMessage, KindProtocol},
	{ErrUnknownMessage, KindProtocol},
	{ErrRaceNotFound, KindProtocol},
	{ErrRaceClosed, KindProtocol},
	{ErrInvalidMetric, KindProtocol},
	{ErrIdentityMismatch, KindProtocol},
	{ErrAlreadyAttached, KindProtocol},
	{ErrNotAttached, KindProtocol},
	{ErrInvalidQueueEntry, KindProtocol},
	{ErrNotParticipant, KindGuard},
	{ErrNotWaiting, KindGuard},
	{ErrNotEnoughPlayers, KindGuard},
	{ErrNotHost, KindGuard},
	{ErrNotInProgress, KindGuard},
	{ErrRaceFinished, KindGuard},
	{ErrAlreadyFinished, KindGuard},
	{ErrNoMoreChallenges, KindGuard},
	{ErrAlreadyQueued, KindGuard},
	{ErrNotQueued, KindGuard},
	{ErrRoomFull, KindCapacity},
}

// KindOf maps an error onto the wire taxonomy. Unknown errors are internal.
func KindOf(err error) ErrorKind {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
