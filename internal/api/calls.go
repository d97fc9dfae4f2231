package api

import (
	"errors"
	"net/http"

	"github.com/snarg/sq-engine/internal/database"
)

// CallsHandler serves the read API over stored calls and transcripts.
type CallsHandler struct {
	db *database.DB
}

func NewCallsHandler(db *database.DB) *CallsHandler {
	return &CallsHandler{db: db}
}

// List handles GET /api/v1/calls with optional filters.
func (h *CallsHandler) List(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r)
	filter := database.CallFilter{Limit: p.Limit, Offset: p.Offset}

	if v, ok := QueryInt(r, "system_id"); ok {
		filter.SystemID = &v
	}
	if v, ok := QueryInt(r, "talkgroup_id"); ok {
		filter.TalkgroupID = &v
	}
	if v, ok := QueryString(r, "status"); ok {
		filter.Status = v
	}
	if t, ok := QueryTime(r, "start_time"); ok {
		filter.StartTime = &t
	}
	if t, ok := QueryTime(r, "end_time"); ok {
		filter.EndTime = &t
	}

	calls, total, err := h.db.ListRadioCalls(r.Context(), filter)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list calls")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"calls":  calls,
		"total":  total,
		"limit":  p.Limit,
		"offset": p.Offset,
	})
}

// Get handles GET /api/v1/calls/{call_id}.
func (h *CallsHandler) Get(w http.ResponseWriter, r *http.Request) {
	callID, err := PathUUID(r, "call_id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid call_id")
		return
	}

	call, err := h.db.GetRadioCall(r.Context(), callID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "call not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to load call")
		return
	}
	WriteJSON(w, http.StatusOK, call)
}

// Transcription handles GET /api/v1/calls/{call_id}/transcription,
// returning the transcript with its speaker segments.
func (h *CallsHandler) Transcription(w http.ResponseWriter, r *http.Request) {
	callID, err := PathUUID(r, "call_id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid call_id")
		return
	}

	tr, err := h.db.GetTranscription(r.Context(), callID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "transcription not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to load transcription")
		return
	}

	segments, err := h.db.GetSpeakerSegments(r.Context(), callID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to load speaker segments")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"transcription": tr,
		"segments":      segments,
	})
}

// Search handles GET /api/v1/transcriptions/search?q= full-text search.
func (h *CallsHandler) Search(w http.ResponseWriter, r *http.Request) {
	query, ok := QueryString(r, "q")
	if !ok {
		WriteError(w, http.StatusBadRequest, "missing required parameter: q")
		return
	}

	p := ParsePagination(r)
	filter := database.TranscriptionSearchFilter{Limit: p.Limit, Offset: p.Offset}
	if v, ok := QueryInt(r, "system_id"); ok {
		filter.SystemID = &v
	}
	if v, ok := QueryInt(r, "talkgroup_id"); ok {
		filter.TalkgroupID = &v
	}
	if t, ok := QueryTime(r, "start_time"); ok {
		filter.StartTime = &t
	}
	if t, ok := QueryTime(r, "end_time"); ok {
		filter.EndTime = &t
	}

	hits, total, err := h.db.SearchTranscriptions(r.Context(), query, filter)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "search failed")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"results": hits,
		"total":   total,
		"limit":   p.Limit,
		"offset":  p.Offset,
	})
}
