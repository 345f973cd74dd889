package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/agent-scheduler/internal/model"
	"github.com/t77yq/agent-scheduler/internal/storage"
)

func newTestExecutor(t *testing.T) (*AgentExecutor, *storage.SQLiteExecutionStore) {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "executor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	executions, err := storage.NewSQLiteExecutionStore(db, zap.NewNop())
	require.NoError(t, err)

	return NewAgentExecutor(executions, zap.NewNop()), executions
}

func testSchedule(url string, policy model.RetryPolicy) *model.Schedule {
	return &model.Schedule{
		ID:             "sched-1",
		Name:           "test-schedule",
		CronExpression: "* * * * *",
		AgentID:        "agent-1",
		AgentURL:       url,
		HTTPMethod:     "POST",
		Payload:        json.RawMessage(`{"task":"run"}`),
		RetryPolicy:    policy,
		Enabled:        true,
	}
}

func fastPolicy(maxAttempts int) model.RetryPolicy {
	return model.RetryPolicy{
		MaxAttempts:       maxAttempts,
		BackoffMultiplier: 2,
		InitialDelayMs:    1,
		MaxDelayMs:        5,
	}
}

// dropConnection forcibly closes the client connection without writing a
// response, producing a transport-level failure.
func dropConnection(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("response writer does not support hijacking")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		panic(err)
	}
	conn.Close()
}

func TestAgentExecutorSuccess(t *testing.T) {
	executor, executions := newTestExecutor(t)
	ctx := context.Background()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":"done"}`))
	}))
	defer server.Close()

	schedule := testSchedule(server.URL, fastPolicy(5))
	execution, err := executions.Create(ctx, schedule.ID, time.Now())
	require.NoError(t, err)

	executor.Execute(ctx, schedule, execution)

	got, err := executions.Get(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusSuccess, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
	assert.JSONEq(t, `{"result":"done"}`, string(got.Response))
	// Success on attempt 1 stops the loop despite the remaining budget.
	assert.Equal(t, int32(1), calls.Load())
}

// A received response is a successful attempt regardless of status code: an
// endpoint that reliably returns HTTP 500 is recorded SUCCESS with the 500
// body as the response. Surprising, but it is the intended contract.
func TestAgentExecutorNon2xxIsSuccess(t *testing.T) {
	executor, executions := newTestExecutor(t)
	ctx := context.Background()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"agent exploded"}`))
	}))
	defer server.Close()

	schedule := testSchedule(server.URL, fastPolicy(3))
	execution, err := executions.Create(ctx, schedule.ID, time.Now())
	require.NoError(t, err)

	executor.Execute(ctx, schedule, execution)

	got, err := executions.Get(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusSuccess, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.JSONEq(t, `{"error":"agent exploded"}`, string(got.Response))
	assert.Empty(t, got.Error)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAgentExecutorRetriesThenSucceeds(t *testing.T) {
	executor, executions := newTestExecutor(t)
	ctx := context.Background()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			dropConnection(w)
			return
		}
		w.Write([]byte(`{"recovered":true}`))
	}))
	defer server.Close()

	schedule := testSchedule(server.URL, fastPolicy(5))
	execution, err := executions.Create(ctx, schedule.ID, time.Now())
	require.NoError(t, err)

	executor.Execute(ctx, schedule, execution)

	got, err := executions.Get(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusSuccess, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAgentExecutorExhaustsAttempts(t *testing.T) {
	executor, executions := newTestExecutor(t)
	ctx := context.Background()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		dropConnection(w)
	}))
	defer server.Close()

	schedule := testSchedule(server.URL, fastPolicy(3))
	execution, err := executions.Create(ctx, schedule.ID, time.Now())
	require.NoError(t, err)

	executor.Execute(ctx, schedule, execution)

	got, err := executions.Get(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Contains(t, got.Error, "No response received")
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAgentExecutorRequestConstructionError(t *testing.T) {
	executor, executions := newTestExecutor(t)
	ctx := context.Background()

	schedule := testSchedule("http://127.0.0.1:0/", fastPolicy(1))
	schedule.HTTPMethod = "BAD METHOD"
	execution, err := executions.Create(ctx, schedule.ID, time.Now())
	require.NoError(t, err)

	executor.Execute(ctx, schedule, execution)

	got, err := executions.Get(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusFailed, got.Status)
	assert.Contains(t, got.Error, "Request error")
}

func TestAgentExecutorHeaders(t *testing.T) {
	t.Run("SystemHeadersApplied", func(t *testing.T) {
		executor, executions := newTestExecutor(t)
		ctx := context.Background()

		var gotContentType, gotAgentID string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotContentType = r.Header.Get("Content-Type")
			gotAgentID = r.Header.Get("X-Agent-Id")
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		schedule := testSchedule(server.URL, fastPolicy(1))
		execution, err := executions.Create(ctx, schedule.ID, time.Now())
		require.NoError(t, err)

		executor.Execute(ctx, schedule, execution)

		assert.Equal(t, "application/json", gotContentType)
		assert.Equal(t, "agent-1", gotAgentID)
	})

	t.Run("UserHeadersLayerOnTop", func(t *testing.T) {
		executor, executions := newTestExecutor(t)
		ctx := context.Background()

		var gotAgentID, gotCustom string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAgentID = r.Header.Get("X-Agent-Id")
			gotCustom = r.Header.Get("X-Custom")
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		schedule := testSchedule(server.URL, fastPolicy(1))
		schedule.Headers = map[string]string{
			"X-Agent-Id": "impostor",
			"X-Custom":   "value",
		}
		execution, err := executions.Create(ctx, schedule.ID, time.Now())
		require.NoError(t, err)

		executor.Execute(ctx, schedule, execution)

		// User headers can override the identity header.
		assert.Equal(t, "impostor", gotAgentID)
		assert.Equal(t, "value", gotCustom)
	})
}

func TestAgentExecutorNonJSONResponseStoredAsString(t *testing.T) {
	executor, executions := newTestExecutor(t)
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain text ack"))
	}))
	defer server.Close()

	schedule := testSchedule(server.URL, fastPolicy(1))
	execution, err := executions.Create(ctx, schedule.ID, time.Now())
	require.NoError(t, err)

	executor.Execute(ctx, schedule, execution)

	got, err := executions.Get(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusSuccess, got.Status)

	var stored string
	require.NoError(t, json.Unmarshal(got.Response, &stored))
	assert.Equal(t, "plain text ack", stored)
}
