package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/edcatley/Wan2.2-Serverless-Template/internal/orchestrator/core"
	"github.com/edcatley/Wan2.2-Serverless-Template/internal/orchestrator/state"
)

// claimJob is the worker side of the assignment handoff. The spawned
// container long-polls here for its single job; the read-then-delete in
// TakeAssignment guarantees at most one poll ever receives it.
func (a *API) claimJob(w http.ResponseWriter, r *http.Request) {
	workerID := r.PathValue("worker_id")
	ctx := r.Context()
	deadline := time.Now().Add(a.cfg.Jobs.ClaimWindow)

	for {
		assignment, err := a.store.TakeAssignment(ctx, workerID)
		if err == nil {
			a.deliverJob(w, r, assignment)
			return
		}
		if err != core.ErrNotFound {
			a.respondError(w, http.StatusInternalServerError, "store error", err.Error())
			return
		}

		if time.Now().After(deadline) {
			// Nothing within the window is a normal polling outcome, not an error.
			w.WriteHeader(http.StatusNoContent)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(a.cfg.Jobs.ClaimInterval):
		}
	}
}

func (a *API) deliverJob(w http.ResponseWriter, r *http.Request, assignment *core.WorkerAssignment) {
	ctx := r.Context()

	job, err := a.store.GetJob(ctx, assignment.JobID)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, "job record missing", assignment.JobID)
		return
	}

	meta := &state.TransitionMeta{
		StartedAt: core.Now(),
		WorkerID:  assignment.WorkerID,
	}
	if !a.state.Transition(ctx, job.ID, core.StateInProgress, meta, "") {
		// Cancelled (or otherwise terminal) before the worker got here: the
		// assignment is consumed but the job must not be handed out.
		a.logger.Warn("Refusing claim of terminal job",
			"job_id", job.ID,
			"worker_id", assignment.WorkerID,
		)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	a.logger.Info("Job claimed", "job_id", job.ID, "worker_id", assignment.WorkerID)
	a.respondJSON(w, http.StatusOK, ClaimResponse{ID: job.ID, Input: job.Input})
}

// postResult records the worker's outcome and finishes the job.
func (a *API) postResult(w http.ResponseWriter, r *http.Request) {
	workerID := r.PathValue("worker_id")
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 {
		a.respondError(w, http.StatusBadRequest, "invalid result body", "empty or unreadable payload")
		return
	}
	if !json.Valid(body) {
		a.respondError(w, http.StatusBadRequest, "invalid result body", "payload is not valid JSON")
		return
	}

	jobID, result := normalizeResult(body)
	if jobID == "" {
		jobID = a.inferJobID(ctx, workerID)
	}
	if jobID == "" {
		a.respondError(w, http.StatusBadRequest, "cannot determine job id",
			"no id in payload and no in-progress job for worker "+workerID)
		return
	}

	if err := a.store.SetResult(ctx, jobID, result); err != nil {
		a.respondError(w, http.StatusInternalServerError, "failed to store result", err.Error())
		return
	}

	terminalState := core.StateCompleted
	if core.IsErrorResult(result) {
		terminalState = core.StateFailed
	}
	a.state.Transition(ctx, jobID, terminalState, &state.TransitionMeta{CompletedAt: core.Now()}, "")

	currentState, _ := a.state.GetState(ctx, jobID)
	a.logger.Info("Worker reported result",
		"job_id", jobID,
		"worker_id", workerID,
		"state", string(currentState),
	)
	a.respondJSON(w, http.StatusOK, RunResponse{ID: jobID, Status: currentState})
}

// inferJobID finds the single IN_PROGRESS job attributed to this worker.
// Sound only because each worker handles exactly one job at a time.
func (a *API) inferJobID(ctx context.Context, workerID string) string {
	statuses, err := a.store.ListStatuses(ctx)
	if err != nil {
		return ""
	}
	for jobID, status := range statuses {
		if status.Status == core.StateInProgress && status.WorkerID == workerID {
			return jobID
		}
	}
	return ""
}
