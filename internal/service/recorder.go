package service

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
	"typerace/internal/model"
)

// PersistenceSink durably records race lifecycle events
type PersistenceSink interface {
	RecordRaceCreated(ctx context.Context, snap *model.RaceSnapshot) error
	RecordRaceStarted(ctx context.Context, snap *model.RaceSnapshot) error
	RecordParticipantFinished(ctx context.Context, snap *model.RaceSnapshot, p model.Participant) error
	RecordRaceFinished(ctx context.Context, snap *model.RaceSnapshot) error
}

type RecorderConfig struct {
	Workers     int
	Buffer      int
	MaxAttempts int
	Backoff     time.Duration
	CallTimeout time.Duration
}

type recordKind int

const (
	recordRaceCreated recordKind = iota
	recordRaceStarted
	recordParticipantFinished
	recordRaceFinished
)

func (k recordKind) String() string {
	switch k {
	case recordRaceCreated:
		return "race_created"
	case recordRaceStarted:
		return "race_started"
	case recordParticipantFinished:
		return "participant_finished"
	case recordRaceFinished:
		return "race_finished"
	}
	return "unknown"
}

type record struct {
	kind        recordKind
	snap        *model.RaceSnapshot
	participant model.Participant
}

// AsyncRecorder hands lifecycle records to sinks off the room's path.
// Records for one race land on the same worker so they stay in order;
// a full buffer drops the record rather than blocking the room.
type AsyncRecorder struct {
	cfg    RecorderConfig
	sinks  []PersistenceSink
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	queues []chan record
	wg     sync.WaitGroup
}

func NewAsyncRecorder(cfg RecorderConfig, logger *slog.Logger, sinks ...PersistenceSink) *AsyncRecorder {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Buffer < 1 {
		cfg.Buffer = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	r := &AsyncRecorder{
		cfg:    cfg,
		sinks:  sinks,
		logger: logger,
		queues: make([]chan record, cfg.Workers),
	}
	for i := range r.queues {
		r.queues[i] = make(chan record, cfg.Buffer)
		r.wg.Add(1)
		go r.worker(r.queues[i])
	}
	return r
}

func (r *AsyncRecorder) RaceCreated(snap *model.RaceSnapshot) {
	r.enqueue(record{kind: recordRaceCreated, snap: snap})
}

func (r *AsyncRecorder) RaceStarted(snap *model.RaceSnapshot) {
	r.enqueue(record{kind: recordRaceStarted, snap: snap})
}

func (r *AsyncRecorder) ParticipantFinished(snap *model.RaceSnapshot, p model.Participant) {
	r.enqueue(record{kind: recordParticipantFinished, snap: snap, participant: p})
}

func (r *AsyncRecorder) RaceFinished(snap *model.RaceSnapshot) {
	r.enqueue(record{kind: recordRaceFinished, snap: snap})
}

// Close stops accepting records and waits for queued ones to drain
func (r *AsyncRecorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		for _, q := range r.queues {
			close(q)
		}
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *AsyncRecorder) enqueue(rec record) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.logger.Warn("recorder closed, dropping record", "kind", rec.kind.String(), "race_id", rec.snap.ID)
		return
	}
	select {
	case r.queues[r.shard(rec.snap.ID)] <- rec:
	default:
		r.logger.Error("recorder buffer full, dropping record", "kind", rec.kind.String(), "race_id", rec.snap.ID)
	}
}

func (r *AsyncRecorder) shard(raceID string) int {
	h := fnv.New32a()
	h.Write([]byte(raceID))
	return int(h.Sum32() % uint32(len(r.queues)))
}

func (r *AsyncRecorder) worker(queue <-chan record) {
	defer r.wg.Done()
	for rec := range queue {
		for _, sink := range r.sinks {
			r.deliver(sink, rec)
		}
	}
}

// deliver retries one sink with linear backoff; sinks fail independently
func (r *AsyncRecorder) deliver(sink PersistenceSink, rec record) {
	var err error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		err = r.apply(sink, rec)
		if err == nil {
			return
		}
		if attempt < r.cfg.MaxAttempts {
			time.Sleep(r.cfg.Backoff * time.Duration(attempt))
		}
	}
	r.logger.Error("failed to persist race record",
		"kind", rec.kind.String(),
		"race_id", rec.snap.ID,
		"attempts", r.cfg.MaxAttempts,
		"error", err,
	)
}

func (r *AsyncRecorder) apply(sink PersistenceSink, rec record) error {
	ctx := context.Background()
	if r.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.CallTimeout)
		defer cancel()
	}

	switch rec.kind {
	case recordRaceCreated:
		return sink.RecordRaceCreated(ctx, rec.snap)
	case recordRaceStarted:
		return sink.RecordRaceStarted(ctx, rec.snap)
	case recordParticipantFinished:
		return sink.RecordParticipantFinished(ctx, rec.snap, rec.participant)
	case recordRaceFinished:
		return sink.RecordRaceFinished(ctx, rec.snap)
	}
	return nil
}
