package rest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/edcatley/Wan2.2-Serverless-Template/internal/orchestrator/core"
	"github.com/edcatley/Wan2.2-Serverless-Template/internal/orchestrator/dispatch"
	"github.com/edcatley/Wan2.2-Serverless-Template/internal/orchestrator/state"
	"github.com/edcatley/Wan2.2-Serverless-Template/internal/shared/config"
	"github.com/edcatley/Wan2.2-Serverless-Template/internal/shared/logging"
)

type API struct {
	cfg    *config.OrchestratorConfig
	store  core.Store
	state  state.Manager
	gauge  *dispatch.WorkerGauge
	logger logging.Logger
}

func NewAPI(
	cfg *config.OrchestratorConfig,
	store core.Store,
	stateManager state.Manager,
	gauge *dispatch.WorkerGauge,
	logger logging.Logger,
) *API {
	return &API{
		cfg:    cfg,
		store:  store,
		state:  stateManager,
		gauge:  gauge,
		logger: logger,
	}
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", a.health)
	mux.HandleFunc("POST /run", a.run)
	mux.HandleFunc("POST /runsync", a.runSync)
	mux.HandleFunc("GET /status/{id}", a.status)
	mux.HandleFunc("POST /cancel/{id}", a.cancel)
	mux.HandleFunc("POST /purge-queue", a.purgeQueue)
	mux.HandleFunc("GET /worker/{worker_id}/job", a.claimJob)
	mux.HandleFunc("POST /worker/{worker_id}/result", a.postResult)
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := a.store.Ping(ctx); err != nil {
		a.respondError(w, http.StatusServiceUnavailable, "store unavailable", err.Error())
		return
	}

	statuses, err := a.store.ListStatuses(ctx)
	if err != nil {
		a.respondError(w, http.StatusServiceUnavailable, "store unavailable", err.Error())
		return
	}

	var counts JobCounts
	for _, status := range statuses {
		switch status.Status {
		case core.StateCompleted:
			counts.Completed++
		case core.StateFailed, core.StateTimedOut:
			counts.Failed++
		case core.StateInProgress:
			counts.InProgress++
		case core.StateInQueue:
			counts.InQueue++
		}
	}

	active := a.gauge.Active()
	resp := HealthResponse{
		Status: "running",
		Jobs:   counts,
		Workers: WorkerCounts{
			Idle:    a.gauge.Capacity() - active,
			Running: active,
		},
	}
	a.respondJSON(w, http.StatusOK, resp)
}

func (a *API) run(w http.ResponseWriter, r *http.Request) {
	job, ok := a.submitJob(w, r)
	if !ok {
		return
	}
	a.respondJSON(w, http.StatusOK, RunResponse{ID: job.ID, Status: core.StateInQueue})
}

func (a *API) runSync(w http.ResponseWriter, r *http.Request) {
	job, ok := a.submitJob(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	deadline := time.Now().Add(a.cfg.Jobs.RunsyncCeiling)

	for time.Now().Before(deadline) {
		result, err := a.store.GetResult(ctx, job.ID)
		if err == nil {
			status, serr := a.store.GetStatus(ctx, job.ID)
			if serr != nil {
				status = &core.JobStatus{Status: core.StateCompleted}
			}
			a.respondJSON(w, http.StatusOK, toStatusResponse(job.ID, status, result))
			return
		}
		if err != core.ErrNotFound {
			a.respondError(w, http.StatusInternalServerError, "store error", err.Error())
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(a.cfg.Jobs.RunsyncInterval):
		}
	}

	a.respondError(w, http.StatusRequestTimeout, "job timed out",
		"job "+job.ID+" produced no result within "+a.cfg.Jobs.RunsyncCeiling.String())
}

// submitJob validates the request, persists the job record, queues it and
// marks it IN_QUEUE. Shared by /run and /runsync.
func (a *API) submitJob(w http.ResponseWriter, r *http.Request) (*core.Job, bool) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return nil, false
	}

	if len(req.Input) == 0 || bytes.Equal(req.Input, []byte("null")) {
		a.respondError(w, http.StatusBadRequest, "validation failed", "input is required")
		return nil, false
	}

	ctx := r.Context()
	job := &core.Job{
		ID:        uuid.NewString(),
		Input:     req.Input,
		Webhook:   req.Webhook,
		WebhookV2: req.WebhookV2,
		CreatedAt: core.Now(),
	}

	if err := a.store.SaveJob(ctx, job); err != nil {
		a.respondError(w, http.StatusInternalServerError, "failed to save job", err.Error())
		return nil, false
	}
	if err := a.store.PushQueue(ctx, job); err != nil {
		a.respondError(w, http.StatusInternalServerError, "failed to queue job", err.Error())
		return nil, false
	}
	a.state.Transition(ctx, job.ID, core.StateInQueue, &state.TransitionMeta{CreatedAt: job.CreatedAt}, "")

	a.logger.Info("Queued job", "job_id", job.ID)
	return job, true
}

func (a *API) status(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	ctx := r.Context()

	status, err := a.store.GetStatus(ctx, jobID)
	if err == core.ErrNotFound {
		a.respondError(w, http.StatusNotFound, "job not found", jobID)
		return
	}
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, "store error", err.Error())
		return
	}

	result, err := a.store.GetResult(ctx, jobID)
	if err != nil {
		result = nil
	}

	a.respondJSON(w, http.StatusOK, toStatusResponse(jobID, status, result))
}

func (a *API) cancel(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	ctx := r.Context()

	if _, err := a.store.GetStatus(ctx, jobID); err == core.ErrNotFound {
		a.respondError(w, http.StatusNotFound, "job not found", jobID)
		return
	} else if err != nil {
		a.respondError(w, http.StatusInternalServerError, "store error", err.Error())
		return
	}

	a.state.Transition(ctx, jobID, core.StateCancelled, nil, "")

	// Report whatever the record says now; a job already terminal keeps its state.
	currentState, _ := a.state.GetState(ctx, jobID)
	a.respondJSON(w, http.StatusOK, RunResponse{ID: jobID, Status: currentState})
}

func (a *API) purgeQueue(w http.ResponseWriter, r *http.Request) {
	removed, err := a.store.PurgeQueue(r.Context())
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, "failed to purge queue", err.Error())
		return
	}

	a.logger.Info("Purged queue", "removed", removed)
	a.respondJSON(w, http.StatusOK, PurgeQueueResponse{Removed: removed, Status: "completed"})
}

func (a *API) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (a *API) respondError(w http.ResponseWriter, statusCode int, error string, message string) {
	resp := ErrorResponse{
		Error:   error,
		Message: message,
		Code:    statusCode,
	}
	a.respondJSON(w, statusCode, resp)
}

func NewServer(cfg *config.OrchestratorConfig, api *API, logger logging.Logger) *http.Server {
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	handler := ChainMiddleware(
		mux,
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
	)

	return &http.Server{
		Addr:         cfg.REST.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.REST.ReadTimeout,
		WriteTimeout: cfg.REST.WriteTimeout,
		IdleTimeout:  cfg.REST.IdleTimeout,
	}
}
