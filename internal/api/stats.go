package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/snarg/sq-engine/internal/queue"
)

// QueueHandler exposes transcription queue state.
type QueueHandler struct {
	queue *queue.Queue
}

func NewQueueHandler(q *queue.Queue) *QueueHandler {
	return &QueueHandler{queue: q}
}

// Stats handles GET /api/v1/queue/stats.
func (h *QueueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.queue.Stats())
}

// Task handles GET /api/v1/queue/tasks/{task_id}.
func (h *QueueHandler) Task(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "task_id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid task_id")
		return
	}

	task, ok := h.queue.TaskStatus(id)
	if !ok {
		WriteError(w, http.StatusNotFound, "task not found")
		return
	}
	WriteJSON(w, http.StatusOK, task)
}
