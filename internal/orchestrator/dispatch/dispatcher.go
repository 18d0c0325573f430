package dispatch

import (
	"context"
	"time"

	"github.com/edcatley/Wan2.2-Serverless-Template/internal/orchestrator/core"
	"github.com/edcatley/Wan2.2-Serverless-Template/internal/orchestrator/runtime"
	"github.com/edcatley/Wan2.2-Serverless-Template/internal/orchestrator/state"
	"github.com/edcatley/Wan2.2-Serverless-Template/internal/shared/config"
	"github.com/edcatley/Wan2.2-Serverless-Template/internal/shared/logging"
)

// Dispatcher consumes the job queue under the worker concurrency bound and
// starts one supervisor per job.
type Dispatcher struct {
	cfg     *config.OrchestratorConfig
	store   core.Store
	state   state.Manager
	runtime runtime.Runtime
	gauge   *WorkerGauge
	logger  logging.Logger
}

func NewDispatcher(
	cfg *config.OrchestratorConfig,
	store core.Store,
	stateManager state.Manager,
	containerRuntime runtime.Runtime,
	gauge *WorkerGauge,
	logger logging.Logger,
) *Dispatcher {
	return &Dispatcher{
		cfg:     cfg,
		store:   store,
		state:   stateManager,
		runtime: containerRuntime,
		gauge:   gauge,
		logger:  logger,
	}
}

// Run loops until ctx is cancelled. Errors on a single iteration are logged
// and backed off; they never terminate the loop.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("Dispatcher started",
		"max_workers", d.gauge.Capacity(),
		"image", d.cfg.Worker.Image,
	)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Dispatcher stopped")
			return
		default:
		}

		if !d.gauge.BelowCapacity() {
			// At capacity: leave jobs queued instead of popping and holding them.
			d.sleep(ctx, d.cfg.Jobs.DispatchSleep)
			continue
		}

		job, err := d.store.PopQueue(ctx, d.cfg.Jobs.QueuePopTimeout)
		if err == core.ErrQueueEmpty {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			d.logger.Error("Queue pop failed", "error", err)
			d.sleep(ctx, d.cfg.Jobs.DispatchBackoff)
			continue
		}

		// Jobs cancelled while queued are dropped on pop and never dispatched.
		if currentState, found := d.state.GetState(ctx, job.ID); found && currentState.Terminal() {
			d.logger.Info("Skipping terminal job from queue",
				"job_id", job.ID,
				"state", string(currentState),
			)
			continue
		}

		d.logger.Info("Picked up job",
			"job_id", job.ID,
			"active_workers", d.gauge.Active(),
			"max_workers", d.gauge.Capacity(),
		)

		d.gauge.Inc()
		go d.superviseJob(ctx, job)
	}
}

func (d *Dispatcher) sleep(ctx context.Context, duration time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(duration):
	}
}
