package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"typerace/internal/cache"
	"typerace/internal/model"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaderboardHandler_Top(t *testing.T) {
	board := &fakeLeaderboard{top: []cache.LeaderboardEntry{
		{UserID: "u1", Score: 120, Rank: 1},
		{UserID: "u2", Score: 95, Rank: 2},
	}}
	h := NewLeaderboardHandler(board, &fakeParticipants{}, discardLogger())

	tests := []struct {
		name      string
		query     string
		code      int
		wantLimit int
	}{
		{"default", "", http.StatusOK, defaultTop},
		{"explicit", "?top=1", http.StatusOK, 1},
		{"capped", "?top=5000", http.StatusOK, maxTop},
		{"not a number", "?top=abc", http.StatusBadRequest, 0},
		{"zero", "?top=0", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			board.lastLimit = 0
			rec := httptest.NewRecorder()
			h.Top(rec, httptest.NewRequest(http.MethodGet, "/v1/leaderboard"+tt.query, nil))
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.wantLimit, board.lastLimit)
		})
	}
}

func TestLeaderboardHandler_History(t *testing.T) {
	participants := &fakeParticipants{byUser: map[string][]*model.ParticipantRecord{
		"u1": {{RaceID: "race-2", UserID: "u1"}, {RaceID: "race-1", UserID: "u1"}},
	}}
	h := NewLeaderboardHandler(&fakeLeaderboard{}, participants, discardLogger())

	rec := httptest.NewRecorder()
	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"userId": "u1"})
	h.History(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(historyLimit), participants.lastLimit)

	var body struct {
		UserID string                     `json:"userId"`
		Races  []*model.ParticipantRecord `json:"races"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, "u1", body.UserID)
	require.Len(t, body.Races, 2)
	assert.Equal(t, "race-2", body.Races[0].RaceID)
}

func TestQueueHandler_Stats(t *testing.T) {
	h := NewQueueHandler(fakeQueue{stats: model.QueueStats{Waiting: 3, GroupSize: 2, OldestSec: 12}})

	rec := httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/v1/queue", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats model.QueueStats
	decodeBody(t, rec, &stats)
	assert.Equal(t, 3, stats.Waiting)
	assert.Equal(t, 2, stats.GroupSize)
}
