package core

import (
	"encoding/json"
	"time"
)

type JobState string

const (
	StateInQueue    JobState = "IN_QUEUE"
	StateInProgress JobState = "IN_PROGRESS"
	StateCompleted  JobState = "COMPLETED"
	StateFailed     JobState = "FAILED"
	StateCancelled  JobState = "CANCELLED"
	StateTimedOut   JobState = "TIMED_OUT"
)

// Valid reports whether s is a recognized job state.
func (s JobState) Valid() bool {
	switch s {
	case StateInQueue, StateInProgress, StateCompleted, StateFailed, StateCancelled, StateTimedOut:
		return true
	}
	return false
}

// Terminal reports whether no further transition out of s is allowed.
func (s JobState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateTimedOut:
		return true
	}
	return false
}

// Job is the immutable submission record. The input payload is passed
// through to the worker untouched.
type Job struct {
	ID        string          `json:"id"`
	Input     json.RawMessage `json:"input"`
	Webhook   string          `json:"webhook,omitempty"`
	WebhookV2 string          `json:"webhookv2,omitempty"`
	CreatedAt float64         `json:"created_at"`
}

// WebhookURL returns the callback URL for this job, preferring the
// primary webhook field.
func (j *Job) WebhookURL() string {
	if j.Webhook != "" {
		return j.Webhook
	}
	return j.WebhookV2
}

// JobStatus is the mutable per-job state record. Timestamps are Unix
// seconds; zero means unset.
type JobStatus struct {
	Status      JobState `json:"status"`
	CreatedAt   float64  `json:"created_at,omitempty"`
	StartedAt   float64  `json:"started_at,omitempty"`
	CompletedAt float64  `json:"completed_at,omitempty"`
	WorkerID    string   `json:"worker_id,omitempty"`
}

// WorkerAssignment binds a worker id to exactly one job. It is written
// immediately before the worker container launches and consumed by the
// first successful claim poll.
type WorkerAssignment struct {
	WorkerID string `json:"worker_id"`
	JobID    string `json:"job_id"`
}

// WorkerIDFor derives the worker id for a job. One supervisor runs per
// job, so the mapping can be deterministic.
func WorkerIDFor(jobID string) string {
	return "worker-" + jobID
}

// Now returns the current time as Unix seconds, the timestamp unit used
// across status records and webhook payloads.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// ErrorResult builds a result payload describing a failure.
func ErrorResult(message string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"error": message})
	return raw
}

// IsErrorResult reports whether a result payload carries an error marker.
func IsErrorResult(result json.RawMessage) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(result, &probe); err != nil {
		return false
	}
	_, found := probe["error"]
	return found
}
