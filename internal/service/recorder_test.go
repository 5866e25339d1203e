package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	"typerace/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu       sync.Mutex
	failures int // calls to fail before succeeding
	calls    int
	written  []string
	block    chan struct{}
}

func (s *fakeSink) write(kind string, snap *model.RaceSnapshot) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return errors.New("transient")
	}
	s.written = append(s.written, snap.ID+":"+kind)
	return nil
}

func (s *fakeSink) RecordRaceCreated(_ context.Context, snap *model.RaceSnapshot) error {
	return s.write("created", snap)
}

func (s *fakeSink) RecordRaceStarted(_ context.Context, snap *model.RaceSnapshot) error {
	return s.write("started", snap)
}

func (s *fakeSink) RecordParticipantFinished(_ context.Context, snap *model.RaceSnapshot, p model.Participant) error {
	return s.write("finished:"+p.UserID, snap)
}

func (s *fakeSink) RecordRaceFinished(_ context.Context, snap *model.RaceSnapshot) error {
	return s.write("finished", snap)
}

func (s *fakeSink) records() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.written...)
}

func testRecorderConfig() RecorderConfig {
	return RecorderConfig{
		Workers:     2,
		Buffer:      16,
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
		CallTimeout: time.Second,
	}
}

func TestAsyncRecorder_PreservesOrderPerRace(t *testing.T) {
	sink := &fakeSink{}
	r := NewAsyncRecorder(testRecorderConfig(), discardLogger(), sink)

	snap := &model.RaceSnapshot{ID: "race-1"}
	r.RaceCreated(snap)
	r.RaceStarted(snap)
	r.ParticipantFinished(snap, model.Participant{UserID: "u1"})
	r.RaceFinished(snap)

	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, []string{
		"race-1:created",
		"race-1:started",
		"race-1:finished:u1",
		"race-1:finished",
	}, sink.records())
}

func TestAsyncRecorder_RetriesTransientFailures(t *testing.T) {
	sink := &fakeSink{failures: 2}
	r := NewAsyncRecorder(testRecorderConfig(), discardLogger(), sink)

	r.RaceFinished(&model.RaceSnapshot{ID: "race-1"})
	require.NoError(t, r.Close(context.Background()))

	assert.Equal(t, []string{"race-1:finished"}, sink.records())
	assert.Equal(t, 3, sink.calls)
}

func TestAsyncRecorder_GivesUpAfterMaxAttempts(t *testing.T) {
	failing := &fakeSink{failures: 10}
	healthy := &fakeSink{}
	r := NewAsyncRecorder(testRecorderConfig(), discardLogger(), failing, healthy)

	r.RaceCreated(&model.RaceSnapshot{ID: "race-1"})
	require.NoError(t, r.Close(context.Background()))

	assert.Empty(t, failing.records())
	assert.Equal(t, 3, failing.calls)
	assert.Equal(t, []string{"race-1:created"}, healthy.records())
}

func TestAsyncRecorder_NeverBlocksCaller(t *testing.T) {
	cfg := testRecorderConfig()
	cfg.Workers = 1
	cfg.Buffer = 1
	sink := &fakeSink{block: make(chan struct{})}
	r := NewAsyncRecorder(cfg, discardLogger(), sink)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			r.RaceStarted(&model.RaceSnapshot{ID: "race-1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("recorder blocked the caller")
	}

	close(sink.block)
	require.NoError(t, r.Close(context.Background()))
	assert.Less(t, len(sink.records()), 50)
}

func TestAsyncRecorder_DropsAfterClose(t *testing.T) {
	sink := &fakeSink{}
	r := NewAsyncRecorder(testRecorderConfig(), discardLogger(), sink)
	require.NoError(t, r.Close(context.Background()))

	r.RaceCreated(&model.RaceSnapshot{ID: "race-1"})
	require.NoError(t, r.Close(context.Background()))
	assert.Empty(t, sink.records())
}
