package rest

import (
	"encoding/json"

	"github.com/edcatley/Wan2.2-Serverless-Template/internal/orchestrator/core"
)

type RunRequest struct {
	Input     json.RawMessage `json:"input"`
	Webhook   string          `json:"webhook,omitempty"`
	WebhookV2 string          `json:"webhookv2,omitempty"`
}

type RunResponse struct {
	ID     string        `json:"id"`
	Status core.JobState `json:"status"`
}

// StatusResponse doubles as the /status body and the /runsync success body.
// Timing fields appear once their timestamps are known.
type StatusResponse struct {
	ID            string          `json:"id"`
	Status        core.JobState   `json:"status"`
	DelayTime     *int64          `json:"delayTime,omitempty"`
	ExecutionTime *int64          `json:"executionTime,omitempty"`
	Output        json.RawMessage `json:"output,omitempty"`
}

type HealthResponse struct {
	Status  string       `json:"status"`
	Jobs    JobCounts    `json:"jobs"`
	Workers WorkerCounts `json:"workers"`
}

type JobCounts struct {
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	InProgress int `json:"inProgress"`
	InQueue    int `json:"inQueue"`
	Retried    int `json:"retried"`
}

type WorkerCounts struct {
	Idle      int `json:"idle"`
	Running   int `json:"running"`
	Throttled int `json:"throttled"`
}

type PurgeQueueResponse struct {
	Removed int64  `json:"removed"`
	Status  string `json:"status"`
}

// ClaimResponse hands the worker its single assigned job.
type ClaimResponse struct {
	ID    string          `json:"id"`
	Input json.RawMessage `json:"input"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}
