package model

import (
	"encoding/json"
	"time"
)

// RetryPolicy controls the executor's attempt loop for a schedule.
// It is read once per execution and never mutated afterwards.
type RetryPolicy struct {
	MaxAttempts       int     `json:"maxAttempts"`
	BackoffMultiplier float64 `json:"backoffMultiplier"`
	InitialDelayMs    int64   `json:"initialDelayMs"`
	MaxDelayMs        int64   `json:"maxDelayMs"`
}

// DefaultRetryPolicy is applied when a schedule is created without one.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		BackoffMultiplier: 2,
		InitialDelayMs:    1000,
		MaxDelayMs:        30000,
	}
}

// Schedule represents a cron-driven HTTP invocation of an agent endpoint.
type Schedule struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	CronExpression string            `json:"cronExpression"`
	AgentID        string            `json:"agentId"`
	AgentURL       string            `json:"agentUrl"`
	HTTPMethod     string            `json:"httpMethod"`
	Headers        map[string]string `json:"headers,omitempty"`
	Payload        json.RawMessage   `json:"payload,omitempty"`
	RetryPolicy    RetryPolicy       `json:"retryPolicy"`
	Enabled        bool              `json:"enabled"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// CreateScheduleRequest is the API payload for creating a schedule.
// Optional fields fall back to defaults at the storage layer.
type CreateScheduleRequest struct {
	Name           string            `json:"name"`
	CronExpression string            `json:"cronExpression"`
	AgentID        string            `json:"agentId"`
	AgentURL       string            `json:"agentUrl"`
	HTTPMethod     string            `json:"httpMethod,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Payload        json.RawMessage   `json:"payload,omitempty"`
	RetryPolicy    *RetryPolicy      `json:"retryPolicy,omitempty"`
	Enabled        *bool             `json:"enabled,omitempty"`
}

// UpdateScheduleRequest is the API payload for partially updating a schedule.
// Nil fields are left untouched.
type UpdateScheduleRequest struct {
	Name           *string            `json:"name,omitempty"`
	CronExpression *string            `json:"cronExpression,omitempty"`
	AgentID        *string            `json:"agentId,omitempty"`
	AgentURL       *string            `json:"agentUrl,omitempty"`
	HTTPMethod     *string            `json:"httpMethod,omitempty"`
	Headers        *map[string]string `json:"headers,omitempty"`
	Payload        *json.RawMessage   `json:"payload,omitempty"`
	RetryPolicy    *RetryPolicy       `json:"retryPolicy,omitempty"`
	Enabled        *bool              `json:"enabled,omitempty"`
}
