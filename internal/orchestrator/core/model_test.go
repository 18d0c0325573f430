package core

import (
	"encoding/json"
	"testing"
)

func TestJobStateValid(t *testing.T) {
	tests := []struct {
		state JobState
		want  bool
	}{
		{StateInQueue, true},
		{StateInProgress, true},
		{StateCompleted, true},
		{StateFailed, true},
		{StateCancelled, true},
		{StateTimedOut, true},
		{JobState("RUNNING"), false},
		{JobState(""), false},
	}

	for _, tt := range tests {
		if got := tt.state.Valid(); got != tt.want {
			t.Errorf("Valid(%q) = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestJobStateTerminal(t *testing.T) {
	terminal := []JobState{StateCompleted, StateFailed, StateCancelled, StateTimedOut}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %q to be terminal", s)
		}
	}

	for _, s := range []JobState{StateInQueue, StateInProgress} {
		if s.Terminal() {
			t.Errorf("expected %q to be non-terminal", s)
		}
	}
}

func TestWebhookURLFallback(t *testing.T) {
	job := &Job{Webhook: "http://primary", WebhookV2: "http://secondary"}
	if got := job.WebhookURL(); got != "http://primary" {
		t.Errorf("expected primary webhook, got %q", got)
	}

	job = &Job{WebhookV2: "http://secondary"}
	if got := job.WebhookURL(); got != "http://secondary" {
		t.Errorf("expected webhookv2 fallback, got %q", got)
	}

	job = &Job{}
	if got := job.WebhookURL(); got != "" {
		t.Errorf("expected empty webhook, got %q", got)
	}
}

func TestIsErrorResult(t *testing.T) {
	tests := []struct {
		name   string
		result json.RawMessage
		want   bool
	}{
		{"error marker", json.RawMessage(`{"error":"boom"}`), true},
		{"error with details", json.RawMessage(`{"error":"boom","logs":"..."}`), true},
		{"success output", json.RawMessage(`{"images":["a.png"]}`), false},
		{"non-object", json.RawMessage(`"just a string"`), false},
		{"empty object", json.RawMessage(`{}`), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsErrorResult(tt.result); got != tt.want {
				t.Errorf("IsErrorResult() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorResult(t *testing.T) {
	raw := ErrorResult("container exited with code 137")
	if !IsErrorResult(raw) {
		t.Fatal("expected ErrorResult to be classified as an error")
	}

	var decoded map[string]string
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if decoded["error"] != "container exited with code 137" {
		t.Errorf("unexpected error message: %q", decoded["error"])
	}
}
