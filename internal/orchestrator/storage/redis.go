package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edcatley/Wan2.2-Serverless-Template/internal/orchestrator/core"
	"github.com/edcatley/Wan2.2-Serverless-Template/internal/shared/config"
)

// Key layout matches the RunPod emulation scheme so records can be
// inspected with redis-cli alongside the real tooling.
const (
	queueKey     = "runpod:queue"
	jobPrefix    = "runpod:job:"
	statusPrefix = "runpod:status:"
	resultPrefix = "runpod:result:"
)

func assignmentKey(workerID string) string {
	return "runpod:worker:" + workerID + ":job"
}

// RedisStore implements core.Store on a Redis instance. All records carry
// the configured TTL; the queue is a plain list with blocking pops.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(cfg config.RedisConfig, ttl time.Duration) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis connect failed: %w", err)
	}

	return &RedisStore{rdb: rdb, ttl: ttl}, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) SaveJob(ctx context.Context, job *core.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job %s: %w", job.ID, err)
	}
	return s.rdb.Set(ctx, jobPrefix+job.ID, raw, s.ttl).Err()
}

func (s *RedisStore) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	raw, err := s.rdb.Get(ctx, jobPrefix+jobID).Bytes()
	if err == redis.Nil {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var job core.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("unmarshaling job %s: %w", jobID, err)
	}
	return &job, nil
}

func (s *RedisStore) SetStatus(ctx context.Context, jobID string, status *core.JobStatus) error {
	raw, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshaling status for job %s: %w", jobID, err)
	}
	return s.rdb.Set(ctx, statusPrefix+jobID, raw, s.ttl).Err()
}

func (s *RedisStore) GetStatus(ctx context.Context, jobID string) (*core.JobStatus, error) {
	raw, err := s.rdb.Get(ctx, statusPrefix+jobID).Bytes()
	if err == redis.Nil {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var status core.JobStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("unmarshaling status for job %s: %w", jobID, err)
	}
	return &status, nil
}

func (s *RedisStore) ListStatuses(ctx context.Context) (map[string]*core.JobStatus, error) {
	statuses := make(map[string]*core.JobStatus)

	iter := s.rdb.Scan(ctx, 0, statusPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := s.rdb.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue // expired between scan and get
		}
		if err != nil {
			return nil, err
		}

		var status core.JobStatus
		if err := json.Unmarshal(raw, &status); err != nil {
			continue
		}
		statuses[key[len(statusPrefix):]] = &status
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	return statuses, nil
}

func (s *RedisStore) SetResult(ctx context.Context, jobID string, result json.RawMessage) error {
	return s.rdb.Set(ctx, resultPrefix+jobID, []byte(result), s.ttl).Err()
}

func (s *RedisStore) GetResult(ctx context.Context, jobID string) (json.RawMessage, error) {
	raw, err := s.rdb.Get(ctx, resultPrefix+jobID).Bytes()
	if err == redis.Nil {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

func (s *RedisStore) PushQueue(ctx context.Context, job *core.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job %s: %w", job.ID, err)
	}
	return s.rdb.LPush(ctx, queueKey, raw).Err()
}

func (s *RedisStore) PopQueue(ctx context.Context, timeout time.Duration) (*core.Job, error) {
	// LPUSH + BRPOP keeps the queue FIFO.
	entry, err := s.rdb.BRPop(ctx, timeout, queueKey).Result()
	if err == redis.Nil {
		return nil, core.ErrQueueEmpty
	}
	if err != nil {
		return nil, err
	}

	var job core.Job
	if err := json.Unmarshal([]byte(entry[1]), &job); err != nil {
		return nil, fmt.Errorf("unmarshaling queued job: %w", err)
	}
	return &job, nil
}

func (s *RedisStore) QueueLen(ctx context.Context) (int64, error) {
	return s.rdb.LLen(ctx, queueKey).Result()
}

func (s *RedisStore) PurgeQueue(ctx context.Context) (int64, error) {
	length, err := s.rdb.LLen(ctx, queueKey).Result()
	if err != nil {
		return 0, err
	}
	if err := s.rdb.Del(ctx, queueKey).Err(); err != nil {
		return 0, err
	}
	return length, nil
}

func (s *RedisStore) PutAssignment(ctx context.Context, assignment *core.WorkerAssignment) error {
	raw, err := json.Marshal(assignment)
	if err != nil {
		return fmt.Errorf("marshaling assignment for %s: %w", assignment.WorkerID, err)
	}
	return s.rdb.Set(ctx, assignmentKey(assignment.WorkerID), raw, s.ttl).Err()
}

// TakeAssignment consumes the assignment atomically: GETDEL guarantees at
// most one concurrent poller ever observes it.
func (s *RedisStore) TakeAssignment(ctx context.Context, workerID string) (*core.WorkerAssignment, error) {
	raw, err := s.rdb.GetDel(ctx, assignmentKey(workerID)).Bytes()
	if err == redis.Nil {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var assignment core.WorkerAssignment
	if err := json.Unmarshal(raw, &assignment); err != nil {
		return nil, fmt.Errorf("unmarshaling assignment for %s: %w", workerID, err)
	}
	return &assignment, nil
}

func (s *RedisStore) DeleteAssignment(ctx context.Context, workerID string) error {
	return s.rdb.Del(ctx, assignmentKey(workerID)).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
