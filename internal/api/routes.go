package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clipforge/clipforge/internal/common/entities"
	"github.com/clipforge/clipforge/internal/encoder"
	"github.com/clipforge/clipforge/internal/timeline"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/render", renderHandler(cfg))
		r.Post("/render/queue", enqueueHandler(cfg))
		r.Get("/jobs", listJobsHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))
		r.Get("/queue", depthHandler(cfg))
		r.Get("/progress/{id}", progressHandler(cfg))
	})

	return r
}

func decodeRenderRequest(w http.ResponseWriter, r *http.Request) (*RenderRequest, entities.RenderJob, bool) {
	var req RenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return nil, entities.RenderJob{}, false
	}
	if err := req.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_timeline", err.Error())
		return nil, entities.RenderJob{}, false
	}
	job := entities.RenderJob{
		ID:         uuid.NewString(),
		Timeline:   req.Timeline,
		Clips:      req.Clips,
		Preset:     req.Preset,
		Renditions: req.Renditions,
		CreatedAt:  time.Now().UTC(),
	}
	return &req, job, true
}

// renderHandler is the synchronous mode: the render runs inside the
// request and the response carries the durable location or the failure.
func renderHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, job, ok := decodeRenderRequest(w, r)
		if !ok {
			return
		}
		location, err := cfg.Renderer.RenderSync(r.Context(), &job)
		if err != nil {
			status, reason := classifyRenderError(err)
			cfg.Logger.Error().Err(err).Str("job_id", job.ID).Msg("synchronous render failed")
			WriteError(w, status, reason, err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, RenderResponse{
			ID:     job.ID,
			Status: string(entities.JobStatusCompleted),
			Result: location,
		})
	}
}

func enqueueHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, job, ok := decodeRenderRequest(w, r)
		if !ok {
			return
		}
		job.Status = entities.JobStatusQueued
		if err := cfg.Records.Create(r.Context(), &job); err != nil {
			WriteError(w, http.StatusInternalServerError, "persist_failed", err.Error())
			return
		}
		if err := cfg.Queue.Enqueue(r.Context(), job); err != nil {
			WriteError(w, http.StatusServiceUnavailable, "enqueue_failed", err.Error())
			return
		}
		WriteJSON(w, http.StatusAccepted, RenderResponse{ID: job.ID, Status: string(job.Status)})
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Jobs.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "store_error", err.Error())
			return
		}
		if job == nil {
			WriteError(w, http.StatusNotFound, "not_found", "")
			return
		}
		WriteJSON(w, http.StatusOK, job)
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := cfg.Jobs.List(r.Context(), 50)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "store_error", err.Error())
			return
		}
		if jobs == nil {
			jobs = []*entities.RenderJob{}
		}
		WriteJSON(w, http.StatusOK, jobs)
	}
}

func depthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		depth, err := cfg.Queue.Depth(r.Context())
		if err != nil {
			WriteError(w, http.StatusServiceUnavailable, "queue_unavailable", err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, depth)
	}
}

func classifyRenderError(err error) (int, string) {
	var ce *timeline.CompileError
	if errors.As(err, &ce) {
		return http.StatusBadRequest, "compile_failed"
	}
	var se *encoder.SpawnError
	if errors.As(err, &se) {
		return http.StatusInternalServerError, "encoder_unavailable"
	}
	var ee *encoder.EncodeError
	if errors.As(err, &ee) {
		return http.StatusUnprocessableEntity, "encode_failed"
	}
	return http.StatusInternalServerError, "render_failed"
}
