package model

import (
	"encoding/json"
	"time"
)

// ExecutionStatus represents the current status of an execution
type ExecutionStatus string

const (
	ExecutionStatusPending  ExecutionStatus = "PENDING"
	ExecutionStatusRunning  ExecutionStatus = "RUNNING"
	ExecutionStatusRetrying ExecutionStatus = "RETRYING"
	ExecutionStatusSuccess  ExecutionStatus = "SUCCESS"
	ExecutionStatusFailed   ExecutionStatus = "FAILED"
)

// Terminal reports whether no further status transitions occur.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusSuccess || s == ExecutionStatusFailed
}

// Execution records one invocation of a schedule at a specific fire instant.
// The (ScheduleID, FireTime) pair is the deduplication key: at most one
// execution row ever exists for it, enforced by the distributed lock at
// trigger time and by a unique index in storage.
type Execution struct {
	ID          string          `json:"id"`
	ScheduleID  string          `json:"scheduleId"`
	FireTime    time.Time       `json:"fireTime"`
	Status      ExecutionStatus `json:"status"`
	Attempts    int             `json:"attempts"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Error       string          `json:"error,omitempty"`
	Response    json.RawMessage `json:"response,omitempty"`
}
