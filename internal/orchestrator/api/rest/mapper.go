package rest

import (
	"encoding/json"

	"github.com/edcatley/Wan2.2-Serverless-Template/internal/orchestrator/core"
)

// toStatusResponse builds the wire status shape from a status record and an
// optional result. The millisecond math matches the webhook payload.
func toStatusResponse(jobID string, status *core.JobStatus, result json.RawMessage) StatusResponse {
	resp := StatusResponse{
		ID:     jobID,
		Status: status.Status,
	}

	if status.CreatedAt > 0 && status.StartedAt > 0 {
		delay := int64((status.StartedAt - status.CreatedAt) * 1000)
		resp.DelayTime = &delay
	}
	if status.StartedAt > 0 && status.CompletedAt > 0 {
		execution := int64((status.CompletedAt - status.StartedAt) * 1000)
		resp.ExecutionTime = &execution
	}
	if result != nil {
		resp.Output = result
	}

	return resp
}

// normalizeResult extracts the canonical result payload from the flexible
// shapes workers post: {id, output}, {output}, or a raw object.
func normalizeResult(body json.RawMessage) (jobID string, result json.RawMessage) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return "", body
	}

	if rawID, found := probe["id"]; found {
		_ = json.Unmarshal(rawID, &jobID)
	}

	if output, found := probe["output"]; found {
		return jobID, output
	}
	return jobID, body
}
