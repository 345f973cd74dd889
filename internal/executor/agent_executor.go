package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/agent-scheduler/internal/model"
	"github.com/t77yq/agent-scheduler/internal/storage"
)

const (
	// requestTimeout bounds each attempt independently of the retry budget.
	requestTimeout = 30 * time.Second

	agentIDHeader = "X-Agent-Id"
)

// AgentExecutor drives one execution's attempt loop against the schedule's
// HTTP endpoint. All outcomes are recorded on the execution record; Execute
// never reports an error to its caller.
type AgentExecutor struct {
	logger     *zap.Logger
	executions storage.ExecutionStorage
	client     *http.Client
}

// NewAgentExecutor creates an executor that records state through executions.
func NewAgentExecutor(executions storage.ExecutionStorage, logger *zap.Logger) *AgentExecutor {
	return &AgentExecutor{
		logger:     logger.Named("agent-executor"),
		executions: executions,
		client: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Execute runs the attempt loop to a terminal state. The retry policy is read
// once from the schedule at entry and holds for the whole loop.
func (e *AgentExecutor) Execute(ctx context.Context, schedule *model.Schedule, execution *model.Execution) {
	e.logger.Info("Starting execution",
		zap.String("execution_id", execution.ID),
		zap.String("schedule_id", schedule.ID),
		zap.String("schedule_name", schedule.Name))

	policy := schedule.RetryPolicy
	attempt := 0
	var lastError string

	for attempt < policy.MaxAttempts {
		attempt++

		if attempt == 1 {
			startedAt := time.Now().UTC()
			e.markStatus(ctx, execution.ID, model.ExecutionStatusRunning, storage.ExecutionUpdate{
				Attempts:  &attempt,
				StartedAt: &startedAt,
			})
		} else {
			e.markStatus(ctx, execution.ID, model.ExecutionStatusRetrying, storage.ExecutionUpdate{
				Attempts: &attempt,
			})
		}

		response, err := e.invokeAgent(ctx, schedule)
		if err == nil {
			completedAt := time.Now().UTC()
			e.markStatus(ctx, execution.ID, model.ExecutionStatusSuccess, storage.ExecutionUpdate{
				Attempts:    &attempt,
				CompletedAt: &completedAt,
				Response:    response,
			})
			e.logger.Info("Execution succeeded",
				zap.String("execution_id", execution.ID),
				zap.Int("attempt", attempt))
			return
		}

		lastError = err.Error()
		e.logger.Warn("Execution attempt failed",
			zap.String("execution_id", execution.ID),
			zap.Int("attempt", attempt),
			zap.String("error", lastError))

		if attempt < policy.MaxAttempts {
			sleepContext(ctx, backoffDelay(policy, attempt))
		}
	}

	completedAt := time.Now().UTC()
	e.markStatus(ctx, execution.ID, model.ExecutionStatusFailed, storage.ExecutionUpdate{
		Attempts:    &attempt,
		CompletedAt: &completedAt,
		Error:       &lastError,
	})
	e.logger.Error("Execution failed",
		zap.String("execution_id", execution.ID),
		zap.Int("attempts", attempt),
		zap.String("error", lastError))
}

// invokeAgent performs one HTTP attempt. Any received response counts as
// success regardless of status code; the status is only inspected for error
// formatting when the body cannot be consumed.
func (e *AgentExecutor) invokeAgent(ctx context.Context, schedule *model.Schedule) (json.RawMessage, error) {
	var body io.Reader
	if len(schedule.Payload) > 0 {
		body = bytes.NewReader(schedule.Payload)
	}

	req, err := http.NewRequestWithContext(ctx, schedule.HTTPMethod, schedule.AgentURL, body)
	if err != nil {
		return nil, fmt.Errorf("Request error: %v", err)
	}

	// System headers first; user headers layer on top and may override them.
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(agentIDHeader, schedule.AgentID)
	for key, value := range schedule.Headers {
		req.Header.Set(key, value)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("No response received: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("HTTP %d: failed to read response body: %v", resp.StatusCode, err)
	}
	return normalizeResponse(data), nil
}

// markStatus records a transition. A persistence error here must not abort
// the attempt loop; it is logged and the loop carries on.
func (e *AgentExecutor) markStatus(ctx context.Context, id string, status model.ExecutionStatus, update storage.ExecutionUpdate) {
	if _, err := e.executions.UpdateStatus(ctx, id, status, update); err != nil {
		e.logger.Error("Failed to update execution status",
			zap.String("execution_id", id),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

// normalizeResponse stores JSON bodies verbatim and wraps anything else as a
// JSON string so the stored response is always valid JSON.
func normalizeResponse(data []byte) json.RawMessage {
	if len(data) == 0 {
		return nil
	}
	if json.Valid(data) {
		return data
	}
	quoted, err := json.Marshal(string(data))
	if err != nil {
		return nil
	}
	return quoted
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
