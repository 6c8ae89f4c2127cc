package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-outreach/internal/store"
)

type triggerRequest struct {
	DailyLimit int `json:"daily_limit"`
}

// triggerDaily enqueues today's daily_prospect_queue job. Repeat calls on the
// same UTC day are acknowledged without a new job.
func (s *server) triggerDaily(w http.ResponseWriter, r *http.Request) {
	if s.Daily == nil {
		respondError(w, http.StatusServiceUnavailable, "daily trigger not configured")
		return
	}

	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DailyLimit < 0 {
		respondError(w, http.StatusBadRequest, "daily_limit must be >= 0")
		return
	}

	job, created, err := s.Daily.Fire(r.Context(), req.DailyLimit)
	if err != nil {
		s.log.Error("api: trigger daily queue", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	if !created {
		respondJSON(w, http.StatusOK, map[string]string{"status": "already_triggered"})
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"status": "queued", "job": job})
}

func (s *server) jobStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.Store.CountJobs(r.Context())
	if err != nil {
		s.respondStoreError(w, err, "count jobs")
		return
	}
	respondJSON(w, http.StatusOK, counts)
}

func (s *server) nextJob(w http.ResponseWriter, r *http.Request) {
	jobType := r.URL.Query().Get("type")
	if jobType == "" {
		respondError(w, http.StatusBadRequest, "type is required")
		return
	}
	job, err := s.Store.NextPendingJob(r.Context(), jobType)
	if err != nil {
		s.respondStoreError(w, err, "next pending job")
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (s *server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.Store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, err, "get job")
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// runJob processes one pending job inline. Jobs that are not pending are 404.
func (s *server) runJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.Jobs.ProcessJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "job not found or not pending")
			return
		}
		s.respondStoreError(w, err, "run job")
		return
	}
	respondJSON(w, http.StatusOK, job)
}
