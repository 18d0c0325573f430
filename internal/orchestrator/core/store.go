package core

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist (or has expired).
var ErrNotFound = errors.New("record not found")

// ErrQueueEmpty is returned when a bounded queue pop elapses without a job.
var ErrQueueEmpty = errors.New("job queue is empty")

// Store is the keyed store all components coordinate through. Job, status
// and result records expire with the configured TTL; the queue is FIFO;
// assignment consumption is atomic with respect to concurrent takers.
type Store interface {
	SaveJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, jobID string) (*Job, error)

	SetStatus(ctx context.Context, jobID string, status *JobStatus) error
	GetStatus(ctx context.Context, jobID string) (*JobStatus, error)
	ListStatuses(ctx context.Context) (map[string]*JobStatus, error)

	SetResult(ctx context.Context, jobID string, result json.RawMessage) error
	GetResult(ctx context.Context, jobID string) (json.RawMessage, error)

	PushQueue(ctx context.Context, job *Job) error
	PopQueue(ctx context.Context, timeout time.Duration) (*Job, error)
	QueueLen(ctx context.Context) (int64, error)
	PurgeQueue(ctx context.Context) (int64, error)

	PutAssignment(ctx context.Context, assignment *WorkerAssignment) error
	TakeAssignment(ctx context.Context, workerID string) (*WorkerAssignment, error)
	DeleteAssignment(ctx context.Context, workerID string) error

	Ping(ctx context.Context) error
}
