package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"typerace/internal/cache"
	"typerace/internal/model"
	"typerace/internal/repository"
	"typerace/internal/service"

	"github.com/gorilla/mux"
)

// RaceHandler serves live and historical race state
type RaceHandler struct {
	registry     *service.RoomRegistry
	snapshots    cache.RaceCache
	leaderboard  cache.LeaderboardCache
	participants repository.ParticipantRepo
	logger       *slog.Logger
}

func NewRaceHandler(
	registry *service.RoomRegistry,
	snapshots cache.RaceCache,
	leaderboard cache.LeaderboardCache,
	participants repository.ParticipantRepo,
	logger *slog.Logger,
) *RaceHandler {
	return &RaceHandler{
		registry:     registry,
		snapshots:    snapshots,
		leaderboard:  leaderboard,
		participants: participants,
		logger:       logger.With("component", "race_handler"),
	}
}

type CreateRaceResponse struct {
	RaceID string `json:"raceId"`
}

// Create handles POST /v1/races
func (h *RaceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var settings model.RaceSettings
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	room, err := h.registry.Create(r.Context(), settings)
	if errors.Is(err, service.ErrMalformedMessage) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("create race failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create race")
		return
	}

	writeJSON(w, http.StatusCreated, CreateRaceResponse{RaceID: room.ID()})
}

// Get handles GET /v1/races/{raceId}. Live rooms answer first, then the
// snapshot mirror for races that were already evicted.
func (h *RaceHandler) Get(w http.ResponseWriter, r *http.Request) {
	raceID := mux.Vars(r)["raceId"]

	if room, ok := h.registry.Get(raceID); ok {
		writeJSON(w, http.StatusOK, room.Snapshot())
		return
	}

	if h.snapshots != nil {
		snap, err := h.snapshots.GetSnapshot(r.Context(), raceID)
		if err != nil {
			h.logger.Warn("snapshot lookup failed", "race_id", raceID, "error", err)
		}
		if snap != nil {
			writeJSON(w, http.StatusOK, snap)
			return
		}
	}

	writeError(w, http.StatusNotFound, service.ErrRaceNotFound.Error())
}

// Results handles GET /v1/races/{raceId}/results
func (h *RaceHandler) Results(w http.ResponseWriter, r *http.Request) {
	raceID := mux.Vars(r)["raceId"]

	rows, err := h.participants.ListByRace(r.Context(), raceID)
	if err != nil {
		h.logger.Error("list results failed", "race_id", raceID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load results")
		return
	}
	if rows == nil {
		rows = []*model.ParticipantRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"raceId":  raceID,
		"results": rows,
	})
}

// Standings handles GET /v1/races/{raceId}/standings
func (h *RaceHandler) Standings(w http.ResponseWriter, r *http.Request) {
	raceID := mux.Vars(r)["raceId"]

	entries, err := h.leaderboard.RaceStandings(r.Context(), raceID)
	if err != nil {
		h.logger.Error("standings lookup failed", "race_id", raceID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load standings")
		return
	}
	if entries == nil {
		entries = []cache.LeaderboardEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"raceId":    raceID,
		"standings": entries,
	})
}

// Lobby handles GET /v1/lobby
func (h *RaceHandler) Lobby(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rooms": h.registry.Lobby(),
	})
}
