package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/snarg/sq-engine/internal/database"
)

// SecurityHandler exposes the audit trail for operators.
type SecurityHandler struct {
	db *database.DB
}

func NewSecurityHandler(db *database.DB) *SecurityHandler {
	return &SecurityHandler{db: db}
}

// Events handles GET /api/v1/security/events with optional filters.
func (h *SecurityHandler) Events(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r)
	filter := database.EventFilter{Limit: p.Limit, Offset: p.Offset}

	if v, ok := QueryString(r, "event_type"); ok {
		filter.EventType = v
	}
	if v, ok := QueryString(r, "severity"); ok {
		filter.Severity = v
	}
	if v, ok := QueryString(r, "source_ip"); ok {
		filter.SourceIP = v
	}
	if v, ok := QueryString(r, "source_system"); ok {
		filter.SourceSystem = v
	}
	if t, ok := QueryTime(r, "start_time"); ok {
		filter.StartTime = &t
	}
	if t, ok := QueryTime(r, "end_time"); ok {
		filter.EndTime = &t
	}

	events, total, err := h.db.QuerySecurityEvents(r.Context(), filter)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to query events")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"total":  total,
		"limit":  p.Limit,
		"offset": p.Offset,
	})
}

// Summary handles GET /api/v1/security/summary?hours=.
func (h *SecurityHandler) Summary(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v, ok := QueryInt(r, "hours"); ok && v > 0 {
		hours = v
	}

	summary, err := h.db.SummarizeSecurityEvents(r.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to summarize events")
		return
	}
	WriteJSON(w, http.StatusOK, summary)
}

// AnalyzeSource handles GET /api/v1/security/analysis/source/{system_id}.
func (h *SecurityHandler) AnalyzeSource(w http.ResponseWriter, r *http.Request) {
	systemID := chi.URLParam(r, "system_id")
	if systemID == "" {
		WriteError(w, http.StatusBadRequest, "missing system_id")
		return
	}

	analysis, err := h.db.AnalyzeUploadSource(r.Context(), systemID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to analyze source")
		return
	}
	WriteJSON(w, http.StatusOK, analysis)
}

// UploadSources handles GET /api/v1/security/uploads/sources?hours=.
func (h *SecurityHandler) UploadSources(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v, ok := QueryInt(r, "hours"); ok && v > 0 {
		hours = v
	}

	sources, err := h.db.UploadSources(r.Context(), time.Now().UTC().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list upload sources")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"window_hours": hours,
		"sources":      sources,
	})
}
