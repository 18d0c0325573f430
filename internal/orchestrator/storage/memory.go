package storage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/edcatley/Wan2.2-Serverless-Template/internal/orchestrator/core"
)

// MemoryStore is an in-process core.Store used by tests and local runs
// without Redis. It mirrors the Redis semantics: FIFO queue with bounded
// blocking pops and atomic assignment consumption. TTLs are not enforced.
type MemoryStore struct {
	mu          sync.Mutex
	jobs        map[string]*core.Job
	statuses    map[string]*core.JobStatus
	results     map[string]json.RawMessage
	assignments map[string]*core.WorkerAssignment
	queue       []*core.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:        make(map[string]*core.Job),
		statuses:    make(map[string]*core.JobStatus),
		results:     make(map[string]json.RawMessage),
		assignments: make(map[string]*core.WorkerAssignment),
	}
}

func (s *MemoryStore) SaveJob(ctx context.Context, job *core.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, exists := s.jobs[jobID]
	if !exists {
		return nil, core.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *MemoryStore) SetStatus(ctx context.Context, jobID string, status *core.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *status
	s.statuses[jobID] = &copied
	return nil
}

func (s *MemoryStore) GetStatus(ctx context.Context, jobID string) (*core.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, exists := s.statuses[jobID]
	if !exists {
		return nil, core.ErrNotFound
	}
	copied := *status
	return &copied, nil
}

func (s *MemoryStore) ListStatuses(ctx context.Context) (map[string]*core.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	statuses := make(map[string]*core.JobStatus, len(s.statuses))
	for jobID, status := range s.statuses {
		copied := *status
		statuses[jobID] = &copied
	}
	return statuses, nil
}

func (s *MemoryStore) SetResult(ctx context.Context, jobID string, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[jobID] = append(json.RawMessage(nil), result...)
	return nil
}

func (s *MemoryStore) GetResult(ctx context.Context, jobID string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, exists := s.results[jobID]
	if !exists {
		return nil, core.ErrNotFound
	}
	return append(json.RawMessage(nil), result...), nil
}

func (s *MemoryStore) PushQueue(ctx context.Context, job *core.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.queue = append(s.queue, &copied)
	return nil
}

// PopQueue polls until a job arrives or the timeout elapses, matching the
// bounded-wait contract of BRPOP.
func (s *MemoryStore) PopQueue(ctx context.Context, timeout time.Duration) (*core.Job, error) {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			job := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return job, nil
		}
		s.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, core.ErrQueueEmpty
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (s *MemoryStore) QueueLen(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.queue)), nil
}

func (s *MemoryStore) PurgeQueue(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := int64(len(s.queue))
	s.queue = nil
	return removed, nil
}

func (s *MemoryStore) PutAssignment(ctx context.Context, assignment *core.WorkerAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *assignment
	s.assignments[assignment.WorkerID] = &copied
	return nil
}

func (s *MemoryStore) TakeAssignment(ctx context.Context, workerID string) (*core.WorkerAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	assignment, exists := s.assignments[workerID]
	if !exists {
		return nil, core.ErrNotFound
	}
	delete(s.assignments, workerID)
	return assignment, nil
}

func (s *MemoryStore) DeleteAssignment(ctx context.Context, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assignments, workerID)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
