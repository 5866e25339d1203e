package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"typerace/internal/cache"
	"typerace/internal/model"
	"typerace/internal/repository"

	"github.com/gorilla/mux"
)

const (
	defaultTop   = 10
	maxTop       = 100
	historyLimit = 50
)

// LeaderboardHandler handles cross-race rankings and user history
type LeaderboardHandler struct {
	leaderboard  cache.LeaderboardCache
	participants repository.ParticipantRepo
	logger       *slog.Logger
}

func NewLeaderboardHandler(leaderboard cache.LeaderboardCache, participants repository.ParticipantRepo, logger *slog.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{
		leaderboard:  leaderboard,
		participants: participants,
		logger:       logger.With("component", "leaderboard_handler"),
	}
}

// Top handles GET /v1/leaderboard?top=N
func (h *LeaderboardHandler) Top(w http.ResponseWriter, r *http.Request) {
	top := defaultTop
	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "top must be a positive integer")
			return
		}
		top = min(n, maxTop)
	}

	entries, err := h.leaderboard.TopWpm(r.Context(), top)
	if err != nil {
		h.logger.Error("leaderboard lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}
	if entries == nil {
		entries = []cache.LeaderboardEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
	})
}

// History handles GET /v1/users/{userId}/history
func (h *LeaderboardHandler) History(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	rows, err := h.participants.ListByUser(r.Context(), userID, historyLimit)
	if err != nil {
		h.logger.Error("history lookup failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if rows == nil {
		rows = []*model.ParticipantRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"userId": userID,
		"races":  rows,
	})
}
