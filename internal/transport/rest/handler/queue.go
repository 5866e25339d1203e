package handler

import (
	"net/http"
	"typerace/internal/model"
)

// QueueStatser reports matchmaking queue depth
type QueueStatser interface {
	Stats() model.QueueStats
}

type QueueHandler struct {
	queue QueueStatser
}

func NewQueueHandler(queue QueueStatser) *QueueHandler {
	return &QueueHandler{queue: queue}
}

// Stats handles GET /v1/queue
func (h *QueueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.queue.Stats())
}
