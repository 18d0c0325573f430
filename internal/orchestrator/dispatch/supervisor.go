package dispatch

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/edcatley/Wan2.2-Serverless-Template/internal/orchestrator/core"
	"github.com/edcatley/Wan2.2-Serverless-Template/internal/orchestrator/runtime"
)

const logTailChars = 1000

// superviseJob owns the full lifecycle of one worker container for one job.
// Whatever happens inside, the job ends in a terminal state and the worker
// slot is released.
func (d *Dispatcher) superviseJob(ctx context.Context, job *core.Job) {
	defer d.gauge.Dec()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Supervisor panicked", "job_id", job.ID, "panic", r)
			recoverCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			d.forceTerminal(recoverCtx, job.ID, core.StateFailed,
				fmt.Sprintf("internal supervisor error: %v", r))
		}
	}()

	workerID := core.WorkerIDFor(job.ID)

	// The assignment is the only way the container obtains its job; it is
	// staged before launch so the first claim poll can succeed immediately.
	assignment := &core.WorkerAssignment{WorkerID: workerID, JobID: job.ID}
	if err := d.store.PutAssignment(ctx, assignment); err != nil {
		d.logger.Error("Failed to stage worker assignment", "job_id", job.ID, "error", err)
		d.forceTerminal(ctx, job.ID, core.StateFailed, "failed to stage worker assignment: "+err.Error())
		return
	}

	handle, err := d.runtime.Launch(ctx, d.containerSpec(job, workerID))
	if err != nil {
		d.logger.Error("Failed to launch worker container", "job_id", job.ID, "error", err)
		_ = d.store.DeleteAssignment(ctx, workerID)
		d.forceTerminal(ctx, job.ID, core.StateFailed, "failed to launch worker container: "+err.Error())
		return
	}

	d.logger.Info("Supervising job",
		"job_id", job.ID,
		"worker_id", workerID,
		"container_id", handle.ID(),
	)

	d.pollUntilTerminal(ctx, job.ID, handle)
	d.teardown(job.ID, workerID, handle)
}

// pollUntilTerminal watches the status record and the container until the
// job reaches a terminal state, the container dies, or the ceiling elapses.
func (d *Dispatcher) pollUntilTerminal(ctx context.Context, jobID string, handle runtime.Handle) {
	deadline := time.Now().Add(d.cfg.Worker.PollCeiling)

	for {
		if ctx.Err() != nil {
			return
		}

		if status, err := d.store.GetStatus(ctx, jobID); err == nil && status.Status.Terminal() {
			d.logger.Info("Job reached terminal state",
				"job_id", jobID,
				"state", string(status.Status),
			)
			return
		}

		running, err := handle.Running(ctx)
		if err != nil || !running {
			d.failFromDeadContainer(ctx, jobID, handle, err)
			return
		}

		if time.Now().After(deadline) {
			d.logger.Error("Job exceeded processing ceiling",
				"job_id", jobID,
				"ceiling", d.cfg.Worker.PollCeiling.String(),
			)
			d.forceTerminal(ctx, jobID, core.StateTimedOut,
				fmt.Sprintf("job timed out after %s", d.cfg.Worker.PollCeiling))
			return
		}

		d.sleep(ctx, d.cfg.Worker.PollInterval)
	}
}

// failFromDeadContainer records a FAILED terminal state for a container
// that exited without the job reaching a terminal status.
func (d *Dispatcher) failFromDeadContainer(ctx context.Context, jobID string, handle runtime.Handle, inspectErr error) {
	message := "worker container exited before reporting a result"
	if inspectErr != nil {
		message = "worker container unreachable: " + inspectErr.Error()
	} else if code, err := handle.ExitCode(ctx); err == nil {
		message = fmt.Sprintf("worker container exited with code %d before reporting a result", code)
	}

	if logs, err := handle.Logs(ctx); err == nil && logs != "" {
		message += "; logs: " + tail(logs, logTailChars)
	}

	d.logger.Error("Worker container died", "job_id", jobID, "error", message)
	d.forceTerminal(ctx, jobID, core.StateFailed, message)
}

// teardown always runs after polling ends. It uses a fresh context so that
// shutdown cannot strand a container or a non-terminal job.
func (d *Dispatcher) teardown(jobID, workerID string, handle runtime.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := handle.Stop(ctx, d.cfg.Worker.StopGrace); err != nil {
		d.logger.Warn("Failed to stop container", "job_id", jobID, "error", err)
	}

	if logs, err := handle.Logs(ctx); err == nil && logs != "" {
		d.logger.Debug("Worker output", "job_id", jobID, "logs", tail(logs, logTailChars))
	}

	if _, err := d.store.GetResult(ctx, jobID); err == core.ErrNotFound {
		if err := d.store.SetResult(ctx, jobID, core.ErrorResult("worker did not report a result")); err != nil {
			d.logger.Error("Failed to write fallback result", "job_id", jobID, "error", err)
		}
	}
	if current, found := d.state.GetState(ctx, jobID); !found || !current.Terminal() {
		d.state.Transition(ctx, jobID, core.StateFailed, nil, "")
	}

	if err := handle.Remove(ctx); err != nil {
		d.logger.Warn("Failed to remove container", "job_id", jobID, "error", err)
	}
	if err := d.store.DeleteAssignment(ctx, workerID); err != nil {
		d.logger.Warn("Failed to delete assignment", "worker_id", workerID, "error", err)
	}

	d.logger.Info("Supervisor finished",
		"job_id", jobID,
		"active_workers", d.gauge.Active()-1,
		"max_workers", d.gauge.Capacity(),
	)
}

// forceTerminal writes an error result and a terminal transition unless the
// job is already terminal. The result of a finished job is never clobbered.
func (d *Dispatcher) forceTerminal(ctx context.Context, jobID string, terminalState core.JobState, message string) {
	if current, found := d.state.GetState(ctx, jobID); found && current.Terminal() {
		return
	}

	if err := d.store.SetResult(ctx, jobID, core.ErrorResult(message)); err != nil {
		d.logger.Error("Failed to write error result", "job_id", jobID, "error", err)
	}
	d.state.Transition(ctx, jobID, terminalState, nil, "")
}

func (d *Dispatcher) containerSpec(job *core.Job, workerID string) runtime.ContainerSpec {
	base := strings.TrimRight(d.cfg.Worker.OrchestratorURL, "/")

	env := map[string]string{
		"JOB_ID":                     job.ID,
		"JOB_INPUT":                  string(job.Input),
		"WORKER_ID":                  workerID,
		"RUNPOD_POD_ID":              "local-pod-001",
		"RUNPOD_ENDPOINT_ID":         "local-endpoint",
		"RUNPOD_AI_API_KEY":          uuid.NewString(),
		"RUNPOD_WEBHOOK_GET_WORK":    base + "/worker/" + workerID + "/job",
		"RUNPOD_WEBHOOK_POST_OUTPUT": base + "/worker/" + workerID + "/result",
	}

	volumes := make(map[string]string)
	if d.cfg.Worker.ModelsPath != "" {
		if _, err := os.Stat(d.cfg.Worker.ModelsPath); err == nil {
			volumes[d.cfg.Worker.ModelsPath] = "/network-volume"
		} else {
			d.logger.Warn("Models path not found, skipping volume mount",
				"path", d.cfg.Worker.ModelsPath,
			)
		}
	}

	return runtime.ContainerSpec{
		Image:       d.cfg.Worker.Image,
		Env:         env,
		MemoryLimit: d.cfg.Worker.MemoryLimit,
		VolumeBinds: volumes,
		GPU:         d.cfg.Worker.GPU,
	}
}

func tail(s string, chars int) string {
	if len(s) <= chars {
		return s
	}
	return s[len(s)-chars:]
}
