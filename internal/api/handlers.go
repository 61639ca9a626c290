package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dullyvine/reelforge/internal/captions"
	"github.com/dullyvine/reelforge/internal/composer"
	"github.com/dullyvine/reelforge/internal/models"
	"github.com/dullyvine/reelforge/internal/scheduler"
	"github.com/dullyvine/reelforge/internal/timeline"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	scheduler *scheduler.Scheduler
	composer  *composer.Composer
}

func NewHandler(sched *scheduler.Scheduler, comp *composer.Composer) *Handler {
	return &Handler{
		scheduler: sched,
		composer:  comp,
	}
}

// CreateRender handles POST /v1/renders: composes the frozen render request
// (script, voiceover, assets, timeline, captions) and enqueues it.
func (h *Handler) CreateRender(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Flow == "" {
		respondError(w, http.StatusBadRequest, "Flow is required")
		return
	}
	if req.Topic == "" && strings.TrimSpace(req.Script) == "" {
		respondError(w, http.StatusBadRequest, "Either topic or script is required")
		return
	}

	snapshot, err := h.composer.Compose(r.Context(), &req)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "Failed to compose render request: "+err.Error())
		return
	}

	jobID, err := h.scheduler.Enqueue(snapshot)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to enqueue render")
		return
	}

	job, err := h.scheduler.Get(jobID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to read enqueued job")
		return
	}

	respondJSON(w, http.StatusCreated, models.CreateRenderResponse{
		JobID:  jobID,
		Status: job.Status,
	})
}

// ListRenders handles GET /v1/renders
func (h *Handler) ListRenders(w http.ResponseWriter, r *http.Request) {
	jobs := h.scheduler.Jobs()
	respondJSON(w, http.StatusOK, models.ListJobsResponse{
		Jobs:  jobs,
		Total: len(jobs),
	})
}

// GetRender handles GET /v1/renders/{id}
func (h *Handler) GetRender(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid job ID")
		return
	}

	job, err := h.scheduler.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "Job not found")
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// DeleteRender handles DELETE /v1/renders/{id}. Jobs still processing
// cannot be removed.
func (h *Handler) DeleteRender(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid job ID")
		return
	}

	if err := h.scheduler.Remove(id); err != nil {
		if strings.Contains(err.Error(), "not found") {
			respondError(w, http.StatusNotFound, "Job not found")
			return
		}
		respondError(w, http.StatusConflict, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ClearCompleted handles POST /v1/renders/clear-completed
func (h *Handler) ClearCompleted(w http.ResponseWriter, r *http.Request) {
	h.scheduler.ClearCompleted()
	respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// PreviewTimeline handles POST /v1/timeline/preview — runs the timing
// allocator without creating a job, for the wizard's timeline editor.
func (h *Handler) PreviewTimeline(w http.ResponseWriter, r *http.Request) {
	var req models.TimelinePreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	assets := make([]timeline.Asset, len(req.Assets))
	for i, a := range req.Assets {
		assets[i] = timeline.Asset{ID: a.ID, NativeDuration: a.NativeDuration}
	}

	var slots []models.TimelineSlot
	var err error
	if len(req.Durations) > 0 {
		slots, err = timeline.AllocateManual(assets, req.Durations, req.DurationSeconds)
	} else {
		slots, err = timeline.Allocate(assets, req.DurationSeconds)
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, slots)
}

// PreviewCaptions handles POST /v1/captions/preview — segments captions
// from word timestamps when present, otherwise from the raw script.
func (h *Handler) PreviewCaptions(w http.ResponseWriter, r *http.Request) {
	var req models.CaptionPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var segments []models.CaptionSegment
	var err error
	if len(req.Words) > 0 {
		segments, err = captions.SegmentFromWords(req.Words)
	} else {
		segments, err = captions.SegmentFromScript(req.Script, req.DurationSeconds)
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, segments)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
