package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/clipdex/clipdex/errors"
	"github.com/clipdex/clipdex/job"
	"github.com/clipdex/clipdex/queue"
)

type createJobRequest struct {
	// Mode selects the execution strategy: "inline" runs the bounded
	// worker pool in this process, "queue" pre-enqueues one message per
	// batch for the external scheduler. Defaults to inline.
	Mode  string `json:"mode"`
	Limit int    `json:"limit"`
}

type createJobResponse struct {
	JobID  string     `json:"job_id"`
	Total  int        `json:"total"`
	Status job.Status `json:"status"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		s.writeError(w, errors.ErrUnauthorized)
		return
	}

	var req createJobRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
	}

	videos, err := s.videos.ListUnclassified(r.Context(), owner, req.Limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if len(videos) == 0 {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "no unclassified videos"})
		return
	}

	itemIDs := make([]string, len(videos))
	for i, v := range videos {
		itemIDs[i] = v.ID
	}

	jobID := uuid.NewString()
	j, err := s.ledger.Create(r.Context(), jobID, owner, len(itemIDs))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.progress.Publish(r.Context(), j); err != nil {
		s.log.Warnw("failed to publish initial progress", "job_id", jobID, "error", err)
	}

	switch req.Mode {
	case "queue":
		s.enqueueBatches(r.Context(), jobID, itemIDs)
	default:
		go func() {
			if err := s.runner.Run(s.ctx, jobID, itemIDs); err != nil {
				s.log.Errorw("job run failed", "job_id", jobID, "error", err)
			}
		}()
	}

	s.log.Infow("job created", "job_id", jobID, "owner_id", owner, "total", len(itemIDs), "mode", req.Mode)
	s.writeJSON(w, http.StatusAccepted, createJobResponse{JobID: jobID, Total: j.Total, Status: j.Status})
}

// enqueueBatches pre-enqueues one scheduler message per batch. A failed
// publish is logged and skipped: the scheduler's at-least-once contract
// already forces the worker path to tolerate missing ordering, and a
// lost batch surfaces as a job that never completes, visible in
// progress.
func (s *Server) enqueueBatches(ctx context.Context, jobID string, itemIDs []string) {
	size := s.cfg.Jobs.BatchSize
	if size < 1 {
		size = 1
	}
	for start := 0; start < len(itemIDs); start += size {
		end := start + size
		if end > len(itemIDs) {
			end = len(itemIDs)
		}
		if err := s.dispatcher.Enqueue(ctx, jobID, itemIDs[start:end]); err != nil {
			s.log.Errorw("failed to enqueue batch", "job_id", jobID, "batch_start", start, "error", err)
		}
	}
}

// ownedJob fetches a job and enforces owner scoping. Foreign jobs read
// as absent rather than forbidden, so job ids do not leak existence.
func (s *Server) ownedJob(r *http.Request, jobID string) (*job.Job, error) {
	owner := ownerID(r)
	if owner == "" {
		return nil, errors.ErrUnauthorized
	}
	j, err := s.ledger.Get(r.Context(), jobID)
	if err != nil {
		return nil, err
	}
	if j.OwnerID != owner {
		return nil, errors.NewNotFound("job not found: %s", jobID)
	}
	return j, nil
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.ownedJob(r, r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, j)
}

func (s *Server) handlePauseJob(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.ledger.Pause)
}

func (s *Server) handleResumeJob(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.ledger.Resume)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.ledger.Cancel)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, transition func(context.Context, string) (*job.Job, error)) {
	jobID := r.PathValue("id")
	if _, err := s.ownedJob(r, jobID); err != nil {
		s.writeError(w, err)
		return
	}

	j, err := transition(r.Context(), jobID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.progress.Publish(r.Context(), j); err != nil {
		s.log.Warnw("failed to publish progress after transition", "job_id", jobID, "error", err)
	}
	s.writeJSON(w, http.StatusOK, j)
}

// handleWorkerStep is the scheduler's delivery target: one message, one
// batch, one processing step. Messages may be redelivered; the step is
// idempotent so that is harmless.
func (s *Server) handleWorkerStep(w http.ResponseWriter, r *http.Request) {
	if token := s.cfg.Server.WorkerToken; token != "" {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
			s.writeError(w, errors.ErrUnauthorized)
			return
		}
	}

	var msg queue.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil || msg.JobID == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid worker message"})
		return
	}

	out, err := s.step.Step(r.Context(), msg.JobID, msg.ItemIDs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		s.writeError(w, errors.ErrUnauthorized)
		return
	}

	prog, err := s.progress.Get(r.Context(), owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, prog)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		s.writeError(w, errors.ErrUnauthorized)
		return
	}

	stats, err := s.stats.Stats(r.Context(), owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}
