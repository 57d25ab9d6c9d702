package collector

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/blockedby/tgsaver/internal/queue"
	"github.com/blockedby/tgsaver/internal/repository"
)

// Handler handles HTTP requests for collector service
type Handler struct {
	service  *Service
	runs     *RunManager
	maxRange int
}

// NewHandler creates a new handler
func NewHandler(service *Service, runs *RunManager, maxRange int) *Handler {
	return &Handler{service: service, runs: runs, maxRange: maxRange}
}

// Status handles GET /api/v1/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"time":            time.Now().Format(time.RFC3339),
		"telegram_status": string(h.service.TelegramStatus()),
		"draining":        h.service.Draining(),
		"queued":          len(h.service.Entries()),
		"current_run":     h.runs.Current(),
	})
}

// ListQueue handles GET /api/v1/queue
func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries":  h.service.Entries(),
		"draining": h.service.Draining(),
	})
}

// Enqueue handles POST /api/v1/queue
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var resp EnqueueResponse
	for _, raw := range req.Links {
		_, added, err := h.service.Enqueue(raw)
		switch {
		case err != nil:
			resp.Errors = append(resp.Errors, err.Error())
		case added:
			resp.Added++
		default:
			resp.Skipped++
		}
	}
	if req.Text != "" {
		added, errs := h.service.EnqueueAll(req.Text)
		resp.Added += added
		for _, err := range errs {
			resp.Errors = append(resp.Errors, err.Error())
		}
	}
	resp.Queue = h.service.Entries()

	status := http.StatusOK
	if resp.Added == 0 && resp.Skipped == 0 && len(resp.Errors) > 0 {
		status = http.StatusBadRequest
	}
	respondJSON(w, status, resp)
}

// ResetQueue handles DELETE /api/v1/queue
func (h *Handler) ResetQueue(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]int{"dropped": h.service.Reset()})
}

// RemoveEntry handles DELETE /api/v1/queue/{key}; the key contains a slash.
func (h *Handler) RemoveEntry(w http.ResponseWriter, r *http.Request) {
	key, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || key == "" {
		respondError(w, http.StatusBadRequest, "invalid key")
		return
	}

	switch err := h.service.Remove(key); {
	case errors.Is(err, queue.ErrUnknownEntry):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, queue.ErrEntryBusy):
		respondError(w, http.StatusConflict, err.Error())
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		respondJSON(w, http.StatusOK, map[string]string{"removed": key})
	}
}

// StartDrain handles POST /api/v1/queue/drain
func (h *Handler) StartDrain(w http.ResponseWriter, r *http.Request) {
	pending := 0
	for _, e := range h.service.Entries() {
		if e.Status == queue.StatusPending {
			pending++
		}
	}
	if pending == 0 {
		respondError(w, http.StatusBadRequest, queue.ErrEmptyQueue.Error())
		return
	}

	run, err := h.runs.StartDrain()
	if err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, run)
}

// StopRun handles DELETE /api/v1/queue/drain
func (h *Handler) StopRun(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]bool{"stopped": h.runs.Stop()})
}

// StartExport handles POST /api/v1/export
func (h *Handler) StartExport(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if err := req.Validate(h.maxRange); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := h.runs.StartExport(req)
	if err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, run)
}

// Runs handles GET /api/v1/runs
func (h *Handler) Runs(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]*Run{
		"current": h.runs.Current(),
		"last":    h.runs.Last(),
	})
}

// Stats handles GET /api/v1/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.service.Stats())
}

// History handles GET /api/v1/history
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.HistoryFilter{
		Kind:    q.Get("kind"),
		Channel: q.Get("channel"),
		RunID:   q.Get("run_id"),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	records, err := h.service.History(r.Context(), filter)
	if err != nil {
		if errors.Is(err, ErrHistoryDisabled) {
			respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, records)
}

// helper functions

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
