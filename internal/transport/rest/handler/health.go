package handler

import (
	"net/http"
	"typerace/internal/transport/ws"
)

// HealthHandler reports liveness plus live counts
type HealthHandler struct {
	hub   *ws.Hub
	rooms interface{ Count() int }
}

func NewHealthHandler(hub *ws.Hub, rooms interface{ Count() int }) *HealthHandler {
	return &HealthHandler{hub: hub, rooms: rooms}
}

type HealthResponse struct {
	Status string   `json:"status"`
	Rooms  int      `json:"rooms"`
	Hub    ws.Stats `json:"hub"`
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Rooms:  h.rooms.Count(),
		Hub:    h.hub.Stats(),
	})
}
