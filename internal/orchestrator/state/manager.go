package state

import (
	"context"

	"github.com/edcatley/Wan2.2-Serverless-Template/internal/orchestrator/core"
	"github.com/edcatley/Wan2.2-Serverless-Template/internal/shared/logging"
)

// TransitionMeta carries optional overrides for a transition. Zero-valued
// timestamps inherit from the prior status record.
type TransitionMeta struct {
	CreatedAt   float64
	StartedAt   float64
	CompletedAt float64
	WorkerID    string
}

// Manager is the single authority for mutating job status records and
// initiating webhook notifications.
type Manager interface {
	// Transition moves a job to newState, merging meta over the prior
	// record. It returns false when the state is unrecognized, the job is
	// already terminal, or the store write fails. The call never blocks on
	// notification delivery.
	Transition(ctx context.Context, jobID string, newState core.JobState, meta *TransitionMeta, webhookURL string) bool

	// GetState returns the job's current state, if any.
	GetState(ctx context.Context, jobID string) (core.JobState, bool)
}

type manager struct {
	store    core.Store
	notifier Notifier
	logger   logging.Logger
}

func NewManager(store core.Store, notifier Notifier, logger logging.Logger) Manager {
	return &manager{
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
}

func (m *manager) Transition(ctx context.Context, jobID string, newState core.JobState, meta *TransitionMeta, webhookURL string) bool {
	if !newState.Valid() {
		m.logger.Error("Invalid job state", "job_id", jobID, "state", string(newState))
		return false
	}

	prior, err := m.store.GetStatus(ctx, jobID)
	if err != nil && err != core.ErrNotFound {
		m.logger.Error("Failed to read status", "job_id", jobID, "error", err)
		return false
	}

	priorState := "UNKNOWN"
	if prior != nil {
		priorState = string(prior.Status)
		if prior.Status.Terminal() {
			m.logger.Warn("Rejecting transition out of terminal state",
				"job_id", jobID,
				"current", priorState,
				"requested", string(newState),
			)
			return false
		}
	}

	merged := core.JobStatus{Status: newState}
	if meta != nil {
		merged.CreatedAt = meta.CreatedAt
		merged.StartedAt = meta.StartedAt
		merged.CompletedAt = meta.CompletedAt
		merged.WorkerID = meta.WorkerID
	}

	// created_at and started_at survive transitions unless the caller
	// explicitly supplies replacements.
	if prior != nil {
		if merged.CreatedAt == 0 {
			merged.CreatedAt = prior.CreatedAt
		}
		if merged.StartedAt == 0 {
			merged.StartedAt = prior.StartedAt
		}
		if merged.WorkerID == "" {
			merged.WorkerID = prior.WorkerID
		}
	}

	if newState.Terminal() && merged.CompletedAt == 0 {
		merged.CompletedAt = core.Now()
	}

	if err := m.store.SetStatus(ctx, jobID, &merged); err != nil {
		m.logger.Error("Failed to write status", "job_id", jobID, "error", err)
		return false
	}

	m.logger.Info("Job state transition",
		"job_id", jobID,
		"from", priorState,
		"to", string(newState),
	)

	if webhookURL == "" {
		if job, err := m.store.GetJob(ctx, jobID); err == nil {
			webhookURL = job.WebhookURL()
		}
	}

	if webhookURL != "" {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("Webhook notifier panicked", "job_id", jobID, "panic", r)
				}
			}()
			m.notifier.Notify(jobID, newState, merged, webhookURL)
		}()
	}

	return true
}

func (m *manager) GetState(ctx context.Context, jobID string) (core.JobState, bool) {
	status, err := m.store.GetStatus(ctx, jobID)
	if err != nil {
		return "", false
	}
	return status.Status, true
}
