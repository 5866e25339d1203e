package service

import (
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"sort"
	"sync"
	"time"
	"typerace/internal/model"
)

// RoomConfig holds the timing rules every race room runs with
type RoomConfig struct {
	MinPlayers       int
	Countdown        time.Duration
	TimeLimit        time.Duration
	ProgressInterval time.Duration
}

// roomObserver is implemented by the room registry
type roomObserver interface {
	roomChanged(snap *model.RaceSnapshot)
	roomClosed(room *RaceRoom)
}

// RaceRoom is the single-writer state container for one race. Every
// exported method runs under the room mutex, so messages for one room are
// applied one at a time while different rooms never contend.
type RaceRoom struct {
	mu sync.Mutex

	id         string
	settings   model.RaceSettings
	challenges []model.Challenge
	matched    bool
	createdAt  time.Time

	status            model.RaceStatus
	hostID            string
	participants      map[string]*model.Participant
	order             []string // join order
	nextRank          int
	spectators        int
	countdownDeadline *time.Time
	startTime         *time.Time
	timeLimitAt       *time.Time
	finishedAt        *time.Time
	lastActivity      time.Time
	closed            bool

	countdownTimer *time.Timer
	limitTimer     *time.Timer
	progressTimer  *time.Timer
	progressGen    uint64
	lastBroadcast  time.Time

	cfg         RoomConfig
	broadcaster Broadcaster
	recorder    Recorder
	observer    roomObserver
	logger      *slog.Logger
}

func newRaceRoom(
	id string,
	settings model.RaceSettings,
	challenges []model.Challenge,
	cfg RoomConfig,
	broadcaster Broadcaster,
	recorder Recorder,
	observer roomObserver,
	logger *slog.Logger,
) *RaceRoom {
	now := time.Now()
	return &RaceRoom{
		id:           id,
		settings:     settings,
		challenges:   challenges,
		createdAt:    now,
		status:       model.RaceWaiting,
		participants: make(map[string]*model.Participant),
		nextRank:     1,
		lastActivity: now,
		cfg:          cfg,
		broadcaster:  broadcaster,
		recorder:     recorder,
		observer:     observer,
		logger:       logger.With("race_id", id),
	}
}

// ID returns the race identifier
func (r *RaceRoom) ID() string {
	return r.id
}

// Status returns the current lifecycle status
func (r *RaceRoom) Status() model.RaceStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Snapshot returns a deep copy of the room's state
func (r *RaceRoom) Snapshot() *model.RaceSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Join adds a participant while the room is waiting. A user already on the
// roster is re-attached instead, in any status, without using a seat.
func (r *RaceRoom) Join(userID, displayName string) (rejoined bool, err error) {
	err = r.do("join", func() error {
		if userID == "" {
			return fmt.Errorf("%w: userId is required", ErrMalformedMessage)
		}
		now := time.Now()

		if p, ok := r.participants[userID]; ok {
			rejoined = true
			if r.status != model.RaceFinished {
				p.Active = true
				r.lastActivity = now
			}
			r.publishLocked(false)
			return nil
		}

		if r.status != model.RaceWaiting {
			return fmt.Errorf("%w: race is %s", ErrNotWaiting, r.status)
		}
		if len(r.participants) >= r.settings.MaxPlayers {
			return fmt.Errorf("%w: %d/%d players", ErrRoomFull, len(r.participants), r.settings.MaxPlayers)
		}

		r.addParticipantLocked(userID, displayName, true, now)
		r.lastActivity = now
		r.publishLocked(true)
		return nil
	})
	return rejoined, err
}

// Leave handles an explicit leave or a dropped connection. While waiting the
// participant is removed; once the countdown has begun they are only marked
// inactive so ranks and standings are unaffected.
func (r *RaceRoom) Leave(userID string) error {
	return r.do("leave", func() error {
		p, ok := r.participants[userID]
		if !ok {
			return ErrNotParticipant
		}
		r.lastActivity = time.Now()

		switch r.status {
		case model.RaceWaiting:
			r.removeParticipantLocked(userID)
			if len(r.participants) == 0 {
				r.closeLocked()
				r.logger.Info("race emptied before start")
				r.observer.roomClosed(r)
				return nil
			}
			r.publishLocked(true)
		case model.RaceCountdown, model.RaceInProgress:
			if p.Active {
				p.Active = false
				r.publishLocked(false)
			}
		}
		return nil
	})
}

// Start moves a waiting room into its countdown. Only the host may start,
// and only with at least MinPlayers on the roster.
func (r *RaceRoom) Start(requesterID string) error {
	return r.do("start", func() error {
		if r.status != model.RaceWaiting {
			return fmt.Errorf("%w: race is %s", ErrNotWaiting, r.status)
		}
		if _, ok := r.participants[requesterID]; !ok {
			return ErrNotParticipant
		}
		if requesterID != r.hostID {
			return ErrNotHost
		}
		if len(r.participants) < r.cfg.MinPlayers {
			return fmt.Errorf("%w: %d of %d required", ErrNotEnoughPlayers, len(r.participants), r.cfg.MinPlayers)
		}

		now := time.Now()
		deadline := now.Add(r.cfg.Countdown)
		r.status = model.RaceCountdown
		r.countdownDeadline = &deadline
		r.lastActivity = now
		r.countdownTimer = time.AfterFunc(r.cfg.Countdown, func() {
			r.fire("countdown_elapsed", r.beginLocked)
		})

		r.logger.Info("race countdown started", "players", len(r.participants), "deadline", deadline)
		r.publishLocked(true)
		return nil
	})
}

// Progress overwrites the participant's live progress sample
func (r *RaceRoom) Progress(userID string, progress, currentWpm float64) error {
	return r.do("progress", func() error {
		p, err := r.racingParticipantLocked(userID)
		if err != nil {
			return err
		}
		if !inRange(progress, 0, 100) {
			return fmt.Errorf("%w: progress %v outside 0-100", ErrInvalidMetric, progress)
		}
		if !inRange(currentWpm, 0, math.MaxFloat64) {
			return fmt.Errorf("%w: currentWpm %v", ErrInvalidMetric, currentWpm)
		}

		p.Progress = progress
		p.CurrentWpm = currentWpm
		r.lastActivity = time.Now()
		r.broadcastProgressLocked()
		return nil
	})
}

// AdvanceChallenge records the metrics of the current challenge and moves
// the participant to the next one in the sequence.
func (r *RaceRoom) AdvanceChallenge(userID string, wpm, accuracy float64) error {
	return r.do("advance_challenge", func() error {
		p, err := r.racingParticipantLocked(userID)
		if err != nil {
			return err
		}
		if err := validateResult(wpm, accuracy); err != nil {
			return err
		}
		if p.CurrentChallengeIndex+1 >= len(r.challenges) {
			return fmt.Errorf("%w: at %d of %d", ErrNoMoreChallenges, p.CurrentChallengeIndex+1, len(r.challenges))
		}

		now := time.Now()
		p.ChallengeResults = append(p.ChallengeResults, model.ChallengeResult{
			Index:       p.CurrentChallengeIndex,
			Wpm:         wpm,
			Accuracy:    accuracy,
			CompletedAt: now,
		})
		p.CurrentChallengeIndex++
		p.Progress = 0
		r.lastActivity = now
		r.publishLocked(false)
		return nil
	})
}

// Finish stamps the participant's final result. Rank is finish order;
// when the last participant finishes the race is over.
func (r *RaceRoom) Finish(userID string, wpm, accuracy float64) error {
	return r.do("finish", func() error {
		p, err := r.racingParticipantLocked(userID)
		if err != nil {
			return err
		}
		if err := validateResult(wpm, accuracy); err != nil {
			return err
		}

		now := time.Now()
		p.FinishedAt = &now
		p.Wpm = wpm
		p.Accuracy = accuracy
		p.CurrentWpm = wpm
		p.Progress = 100
		p.Rank = r.nextRank
		r.nextRank++
		r.lastActivity = now

		r.logger.Info("participant finished", "user_id", userID, "rank", p.Rank, "wpm", wpm)

		if !r.allFinishedLocked() {
			snap := r.publishLocked(false)
			r.recordFinisher(snap, userID)
			return nil
		}

		r.markFinishedLocked(now)
		snap := r.publishLocked(true)
		r.recordFinisher(snap, userID)
		r.recorder.RaceFinished(snap)
		r.logger.Info("race finished", "finishers", r.nextRank-1)
		return nil
	})
}

// AddSpectator counts a new observer and pushes the full state
func (r *RaceRoom) AddSpectator() error {
	return r.do("spectate", func() error {
		r.spectators++
		r.lastActivity = time.Now()
		r.publishLocked(true)
		return nil
	})
}

func (r *RaceRoom) RemoveSpectator() error {
	return r.do("unspectate", func() error {
		if r.spectators == 0 {
			return nil
		}
		r.spectators--
		r.lastActivity = time.Now()
		r.publishLocked(true)
		return nil
	})
}

// do runs fn as the room's single unit of work. A panic inside fn is
// contained to this room and reported as an internal error.
func (r *RaceRoom) do(op string, fn func() error) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in race room", "op", op, "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %s failed", ErrInternal, op)
		}
	}()

	if r.closed {
		return ErrRaceClosed
	}
	return fn()
}

func (r *RaceRoom) fire(op string, fn func()) {
	_ = r.do(op, func() error {
		fn()
		return nil
	})
}

// announce publishes the freshly registered room to the lobby and recorder
func (r *RaceRoom) announce() {
	r.fire("announce", func() {
		snap := r.snapshotLocked()
		r.observer.roomChanged(snap)
		r.recorder.RaceCreated(snap)
	})
}

func (r *RaceRoom) beginLocked() {
	if r.status != model.RaceCountdown {
		return
	}
	now := time.Now()
	r.status = model.RaceInProgress
	r.startTime = &now
	r.countdownTimer = nil
	r.lastActivity = now

	if r.cfg.TimeLimit > 0 {
		limitAt := now.Add(r.cfg.TimeLimit)
		r.timeLimitAt = &limitAt
		r.limitTimer = time.AfterFunc(r.cfg.TimeLimit, func() {
			r.fire("time_limit", r.expireLocked)
		})
	}

	r.logger.Info("race started")
	snap := r.publishLocked(true)
	r.recorder.RaceStarted(snap)
}

func (r *RaceRoom) expireLocked() {
	if r.status != model.RaceInProgress {
		return
	}
	r.logger.Info("race time limit reached", "finishers", r.nextRank-1, "participants", len(r.participants))
	r.markFinishedLocked(time.Now())
	snap := r.publishLocked(true)
	r.recorder.RaceFinished(snap)
}

func (r *RaceRoom) markFinishedLocked(now time.Time) {
	r.status = model.RaceFinished
	r.finishedAt = &now
	r.stopTimersLocked()
}

func (r *RaceRoom) closeLocked() {
	r.closed = true
	r.stopTimersLocked()
}

// shutdown is called by the registry when the server stops
func (r *RaceRoom) shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closeLocked()
	r.observer.roomClosed(r)
}

func (r *RaceRoom) stopTimersLocked() {
	for _, t := range []*time.Timer{r.countdownTimer, r.limitTimer, r.progressTimer} {
		if t != nil {
			t.Stop()
		}
	}
	r.countdownTimer = nil
	r.limitTimer = nil
	r.progressTimer = nil
	r.progressGen++
}

// tryEvict closes the room when the registry may drop it: a finished race
// past its grace period, or a waiting room nobody is attached to. The
// observer drops the room before the lock is released, so no caller can
// look up a closed room afterwards.
func (r *RaceRoom) tryEvict(now time.Time, finishedGrace, idleGrace time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	evict := false
	switch r.status {
	case model.RaceFinished:
		evict = r.finishedAt != nil && now.Sub(*r.finishedAt) >= finishedGrace
	case model.RaceWaiting:
		evict = r.attachedLocked() == 0 && now.Sub(r.lastActivity) >= idleGrace
	}
	if evict {
		r.closeLocked()
		r.observer.roomClosed(r)
	}
	return evict
}

func (r *RaceRoom) attachedLocked() int {
	n := r.spectators
	for _, p := range r.participants {
		if p.Active {
			n++
		}
	}
	return n
}

func (r *RaceRoom) addParticipantLocked(userID, displayName string, active bool, now time.Time) {
	if displayName == "" {
		displayName = userID
	}
	r.participants[userID] = &model.Participant{
		UserID:      userID,
		DisplayName: displayName,
		Active:      active,
		JoinedAt:    now,
	}
	r.order = append(r.order, userID)
	if r.hostID == "" {
		r.hostID = userID
	}
}

// removeParticipantLocked drops a participant; host passes to the earliest joiner
func (r *RaceRoom) removeParticipantLocked(userID string) {
	delete(r.participants, userID)
	for i, id := range r.order {
		if id == userID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.hostID == userID {
		r.hostID = ""
		if len(r.order) > 0 {
			r.hostID = r.order[0]
		}
	}
}

func (r *RaceRoom) racingParticipantLocked(userID string) (*model.Participant, error) {
	switch r.status {
	case model.RaceInProgress:
	case model.RaceFinished:
		return nil, ErrRaceFinished
	default:
		return nil, fmt.Errorf("%w: race is %s", ErrNotInProgress, r.status)
	}
	p, ok := r.participants[userID]
	if !ok {
		return nil, ErrNotParticipant
	}
	if p.Finished() {
		return nil, ErrAlreadyFinished
	}
	return p, nil
}

func (r *RaceRoom) allFinishedLocked() bool {
	for _, p := range r.participants {
		if !p.Finished() {
			return false
		}
	}
	return true
}

func (r *RaceRoom) recordFinisher(snap *model.RaceSnapshot, userID string) {
	if p, ok := snap.Participant(userID); ok {
		r.recorder.ParticipantFinished(snap, p)
	}
}

// broadcastProgressLocked limits progress fan-out to one broadcast per
// interval and schedules a trailing broadcast so the last sample is delivered.
func (r *RaceRoom) broadcastProgressLocked() {
	interval := r.cfg.ProgressInterval
	since := time.Since(r.lastBroadcast)
	if interval <= 0 || since >= interval {
		r.publishLocked(false)
		return
	}
	if r.progressTimer != nil {
		return
	}

	gen := r.progressGen
	r.progressTimer = time.AfterFunc(interval-since, func() {
		r.fire("progress_flush", func() {
			if gen != r.progressGen {
				return
			}
			r.progressTimer = nil
			r.publishLocked(false)
		})
	})
}

// publishLocked snapshots once and hands the snapshot to the broadcaster,
// and to the lobby when the change affects the lobby view.
func (r *RaceRoom) publishLocked(lobby bool) *model.RaceSnapshot {
	if r.progressTimer != nil {
		r.progressTimer.Stop()
		r.progressTimer = nil
		r.progressGen++
	}

	snap := r.snapshotLocked()
	r.lastBroadcast = time.Now()
	r.broadcaster.BroadcastRace(snap)
	if lobby {
		r.observer.roomChanged(snap)
	}
	return snap
}

func (r *RaceRoom) snapshotLocked() *model.RaceSnapshot {
	snap := &model.RaceSnapshot{
		ID:                r.id,
		Status:            r.status,
		HostID:            r.hostID,
		Settings:          r.settings,
		Challenges:        r.challenges,
		Participants:      make([]model.Participant, 0, len(r.order)),
		CountdownDeadline: copyTime(r.countdownDeadline),
		StartTime:         copyTime(r.startTime),
		TimeLimitAt:       copyTime(r.timeLimitAt),
		FinishedAt:        copyTime(r.finishedAt),
		SpectatorCount:    r.spectators,
		Matched:           r.matched,
		CreatedAt:         r.createdAt,
		ServerTime:        time.Now(),
	}

	for _, id := range r.order {
		p := *r.participants[id]
		p.FinishedAt = copyTime(p.FinishedAt)
		if len(p.ChallengeResults) > 0 {
			p.ChallengeResults = append([]model.ChallengeResult(nil), p.ChallengeResults...)
		}
		snap.Participants = append(snap.Participants, p)
	}

	// Finishers by rank, then everyone else in join order
	sort.SliceStable(snap.Participants, func(i, j int) bool {
		a, b := snap.Participants[i].Rank, snap.Participants[j].Rank
		if a > 0 && b > 0 {
			return a < b
		}
		return a > 0 && b == 0
	})
	return snap
}

func validateResult(wpm, accuracy float64) error {
	if !inRange(wpm, 0, math.MaxFloat64) {
		return fmt.Errorf("%w: wpm %v", ErrInvalidMetric, wpm)
	}
	if !inRange(accuracy, 0, 100) {
		return fmt.Errorf("%w: accuracy %v outside 0-100", ErrInvalidMetric, accuracy)
	}
	return nil
}

func inRange(v, lo, hi float64) bool {
	return !math.IsNaN(v) && v >= lo && v <= hi
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
