package state

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/edcatley/Wan2.2-Serverless-Template/internal/orchestrator/core"
	"github.com/edcatley/Wan2.2-Serverless-Template/internal/orchestrator/storage"
)

func newTestNotifier(store core.Store) *WebhookNotifier {
	n := NewWebhookNotifier(store, &mockLogger{})
	n.backoff = 10 * time.Millisecond
	n.client.Timeout = time.Second
	return n
}

func TestNotifyPayloadTiming(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.SetResult(context.Background(), "j", json.RawMessage(`{"images":["out.png"]}`)))

	var received WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := newTestNotifier(store)
	status := core.JobStatus{
		Status:      core.StateCompleted,
		CreatedAt:   100,
		StartedAt:   102,
		CompletedAt: 105,
	}
	n.Notify("j", core.StateCompleted, status, srv.URL)

	require.Equal(t, "j", received.ID)
	require.Equal(t, core.StateCompleted, received.Status)
	require.NotNil(t, received.DelayTime)
	require.Equal(t, int64(2000), *received.DelayTime)
	require.NotNil(t, received.ExecutionTime)
	require.Equal(t, int64(3000), *received.ExecutionTime)
	require.JSONEq(t, `{"images":["out.png"]}`, string(received.Output))
}

func TestNotifyOmitsTimingWhenUnknown(t *testing.T) {
	store := storage.NewMemoryStore()

	var received WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
	}))
	defer srv.Close()

	n := newTestNotifier(store)
	n.Notify("j", core.StateInQueue, core.JobStatus{Status: core.StateInQueue, CreatedAt: 100}, srv.URL)

	require.Nil(t, received.DelayTime)
	require.Nil(t, received.ExecutionTime)
	require.Nil(t, received.Output)
}

func TestNotifyOmitsOutputForNonTerminal(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.SetResult(context.Background(), "j", json.RawMessage(`{"v":1}`)))

	var received WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
	}))
	defer srv.Close()

	n := newTestNotifier(store)
	n.Notify("j", core.StateInProgress, core.JobStatus{Status: core.StateInProgress}, srv.URL)

	require.Nil(t, received.Output)
}

func TestNotifyRetriesUntilSuccess(t *testing.T) {
	store := storage.NewMemoryStore()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := newTestNotifier(store)
	n.Notify("j", core.StateCompleted, core.JobStatus{Status: core.StateCompleted}, srv.URL)

	require.Equal(t, int32(3), hits.Load())
}

func TestNotifyGivesUpAfterThreeAttempts(t *testing.T) {
	store := storage.NewMemoryStore()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := newTestNotifier(store)
	n.Notify("j", core.StateFailed, core.JobStatus{Status: core.StateFailed}, srv.URL)

	require.Equal(t, int32(3), hits.Load())
}

func TestNotifyUnreachableURLDoesNotPanic(t *testing.T) {
	n := newTestNotifier(storage.NewMemoryStore())
	n.Notify("j", core.StateCompleted, core.JobStatus{Status: core.StateCompleted}, "http://127.0.0.1:1/never")
}
