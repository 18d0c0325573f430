package state

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/edcatley/Wan2.2-Serverless-Template/internal/orchestrator/core"
	"github.com/edcatley/Wan2.2-Serverless-Template/internal/shared/logging"
)

// Notifier delivers a job-state notification to a client-supplied URL.
// Delivery is best effort; implementations must contain their own errors.
type Notifier interface {
	Notify(jobID string, state core.JobState, status core.JobStatus, url string)
}

// WebhookPayload mirrors the status endpoint shape. Timing fields are
// present only once both of their timestamps are known; output is attached
// only for terminal states with a stored result.
type WebhookPayload struct {
	ID            string          `json:"id"`
	Status        core.JobState   `json:"status"`
	DelayTime     *int64          `json:"delayTime,omitempty"`
	ExecutionTime *int64          `json:"executionTime,omitempty"`
	Output        json.RawMessage `json:"output,omitempty"`
}

type WebhookNotifier struct {
	store    core.Store
	client   *http.Client
	attempts int
	backoff  time.Duration
	logger   logging.Logger
}

func NewWebhookNotifier(store core.Store, logger logging.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		store:    store,
		client:   &http.Client{Timeout: 30 * time.Second},
		attempts: 3,
		backoff:  10 * time.Second,
		logger:   logger,
	}
}

func (n *WebhookNotifier) Notify(jobID string, state core.JobState, status core.JobStatus, url string) {
	payload := n.buildPayload(jobID, state, status)

	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("Failed to marshal webhook payload", "job_id", jobID, "error", err)
		return
	}

	for attempt := 1; attempt <= n.attempts; attempt++ {
		n.logger.Debug("Sending webhook",
			"job_id", jobID,
			"url", url,
			"attempt", attempt,
			"max_attempts", n.attempts,
		)

		if n.post(url, body) {
			n.logger.Info("Webhook delivered", "job_id", jobID, "status", string(state))
			return
		}

		if attempt < n.attempts {
			time.Sleep(n.backoff)
		}
	}

	n.logger.Error("Webhook delivery failed, giving up",
		"job_id", jobID,
		"url", url,
		"attempts", n.attempts,
	)
}

func (n *WebhookNotifier) buildPayload(jobID string, state core.JobState, status core.JobStatus) WebhookPayload {
	payload := WebhookPayload{ID: jobID, Status: state}

	if status.CreatedAt > 0 && status.StartedAt > 0 {
		delay := int64((status.StartedAt - status.CreatedAt) * 1000)
		payload.DelayTime = &delay
	}
	if status.StartedAt > 0 && status.CompletedAt > 0 {
		execution := int64((status.CompletedAt - status.StartedAt) * 1000)
		payload.ExecutionTime = &execution
	}

	if state.Terminal() {
		if result, err := n.store.GetResult(context.Background(), jobID); err == nil {
			payload.Output = result
		}
	}

	return payload
}

func (n *WebhookNotifier) post(url string, body []byte) bool {
	resp, err := n.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("Webhook request failed", "url", url, "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		n.logger.Warn("Webhook returned non-200", "url", url, "status_code", resp.StatusCode)
		return false
	}
	return true
}
