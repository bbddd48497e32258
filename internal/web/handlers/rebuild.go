package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kozaktomas/face-registry/internal/identity"
)

// RebuildHandler handles the async proposal rebuild endpoints
type RebuildHandler struct {
	engine     *identity.Engine
	jobManager *JobManager
	stats      *StatsHandler
}

// NewRebuildHandler creates a new rebuild handler. stats may be nil; when
// set, its cache is invalidated after a completed pass.
func NewRebuildHandler(engine *identity.Engine, jm *JobManager, stats *StatsHandler) *RebuildHandler {
	return &RebuildHandler{
		engine:     engine,
		jobManager: jm,
		stats:      stats,
	}
}

// rebuildRequest represents a rebuild start request. Zero values fall back
// to the engine configuration.
type rebuildRequest struct {
	Threshold       float64 `json:"threshold"`
	MaxGroupSize    int     `json:"max_group_size"`
	BatchLimit      int     `json:"batch_limit"`
	IncludeAssigned bool    `json:"include_assigned"`
	Force           bool    `json:"force"`
}

// Start kicks off a rebuild pass in the background. Only one pass may be
// in flight; a second request is rejected with 409.
func (h *RebuildHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req rebuildRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
			return
		}
	}

	if req.Threshold != 0 && (req.Threshold <= 0 || req.Threshold > 1) {
		respondError(w, http.StatusBadRequest, "threshold must be between 0 and 1")
		return
	}
	if req.MaxGroupSize < 0 {
		respondError(w, http.StatusBadRequest, "max_group_size must not be negative")
		return
	}

	if active := h.jobManager.ActiveJob(); active != nil {
		respondJSON(w, http.StatusConflict, map[string]string{
			"error":  "a rebuild pass is already running",
			"job_id": active.ID,
		})
		return
	}

	jobID := uuid.New().String()
	job := h.jobManager.CreateJob(jobID, RebuildJobOptions{
		Threshold:       req.Threshold,
		MaxGroupSize:    req.MaxGroupSize,
		BatchLimit:      req.BatchLimit,
		IncludeAssigned: req.IncludeAssigned,
		Force:           req.Force,
	})

	go h.runRebuildJob(job)

	respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(JobStatusPending),
	})
}

// Status returns the status of a rebuild job
func (h *RebuildHandler) Status(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job := h.jobManager.GetJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// Events streams job events via SSE
func (h *RebuildHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r,
		func(id string) SSEJob {
			job := h.jobManager.GetJob(id)
			if job == nil {
				return nil
			}
			return job
		},
		func(job SSEJob) any {
			return job
		},
	)
}

// Cancel cancels a rebuild job
func (h *RebuildHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job := h.jobManager.GetJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	job.Cancel()
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// runRebuildJob runs the rebuild pass in the background
func (h *RebuildHandler) runRebuildJob(job *RebuildJob) {
	ctx, cancel := context.WithCancel(context.Background())
	job.cancel = cancel
	defer cancel()

	job.mu.Lock()
	job.Status = JobStatusRunning
	job.mu.Unlock()
	job.SendEvent(JobEvent{Type: "started", Message: "Rebuild pass started"})

	result, err := h.engine.RebuildProposals(ctx, identity.RebuildOptions{
		Threshold:       job.Options.Threshold,
		MaxGroupSize:    job.Options.MaxGroupSize,
		BatchLimit:      job.Options.BatchLimit,
		IncludeAssigned: job.Options.IncludeAssigned,
		Force:           job.Options.Force,
		OnProgress: func(info identity.ProgressInfo) {
			job.mu.Lock()
			job.Phase = info.Phase
			job.Current = info.Current
			job.Total = info.Total
			if info.Total > 0 {
				job.Progress = int(float64(info.Current) / float64(info.Total) * 100)
			}
			job.mu.Unlock()
			job.SendEvent(JobEvent{
				Type: "progress",
				Data: map[string]any{
					"phase":   info.Phase,
					"current": info.Current,
					"total":   info.Total,
					"message": info.Message,
				},
			})
		},
	})

	if err != nil {
		if ctx.Err() != nil {
			job.mu.Lock()
			job.Status = JobStatusCancelled
			job.mu.Unlock()
			job.SendEvent(JobEvent{Type: "cancelled", Message: "Job was cancelled"})
			return
		}
		var concurrencyErr *identity.ConcurrencyError
		if errors.As(err, &concurrencyErr) {
			h.failJob(job, concurrencyErr.Message)
			return
		}
		h.failJob(job, fmt.Sprintf("rebuild failed: %v", err))
		return
	}

	jobResult := &RebuildJobResult{
		Examined:          result.Examined,
		Created:           result.Created,
		SkippedDuplicates: result.SkippedDuplicates,
		SkippedOversize:   result.SkippedOversize,
	}

	now := time.Now()
	job.mu.Lock()
	job.Status = JobStatusCompleted
	job.CompletedAt = &now
	job.Progress = 100
	job.Result = jobResult
	job.mu.Unlock()

	job.SendEvent(JobEvent{Type: "completed", Data: jobResult})

	if h.stats != nil && jobResult.Created > 0 {
		h.stats.InvalidateCache()
	}
}

func (h *RebuildHandler) failJob(job *RebuildJob, message string) {
	now := time.Now()
	job.mu.Lock()
	job.Status = JobStatusFailed
	job.Error = message
	job.CompletedAt = &now
	job.mu.Unlock()
	job.SendEvent(JobEvent{Type: "job_error", Message: message})
}
