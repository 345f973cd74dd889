package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/agent-scheduler/internal/model"
)

// DefaultExecutionListLimit caps ListBySchedule when the caller passes 0.
const DefaultExecutionListLimit = 50

// ExecutionUpdate carries the optional fields of a status transition.
// Nil fields are left untouched in storage.
type ExecutionUpdate struct {
	Attempts    *int
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       *string
	Response    json.RawMessage
}

// ExecutionStorage defines the persistence contract for executions.
type ExecutionStorage interface {
	// Create inserts a PENDING execution with zero attempts for the
	// (scheduleID, fireTime) pair.
	Create(ctx context.Context, scheduleID string, fireTime time.Time) (*model.Execution, error)

	// UpdateStatus transitions an execution and applies the partial update.
	// Returns ErrNotFound if the execution does not exist.
	UpdateStatus(ctx context.Context, id string, status model.ExecutionStatus, update ExecutionUpdate) (*model.Execution, error)

	// Get retrieves an execution by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*model.Execution, error)

	// ListBySchedule retrieves up to limit executions for a schedule,
	// most recent fire time first.
	ListBySchedule(ctx context.Context, scheduleID string, limit int) ([]*model.Execution, error)
}

// SQLiteExecutionStore implements ExecutionStorage using SQLite.
type SQLiteExecutionStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteExecutionStore creates the store and ensures the schema exists.
func NewSQLiteExecutionStore(db *sql.DB, logger *zap.Logger) (*SQLiteExecutionStore, error) {
	if err := Migrate(context.Background(), db); err != nil {
		return nil, err
	}
	return &SQLiteExecutionStore{logger: logger.Named("execution-store"), db: db}, nil
}

const executionColumns = `id, schedule_id, fire_time_ms, status, attempts,
	started_at, completed_at, error, response`

// Create implements ExecutionStorage.Create. The UNIQUE(schedule_id,
// fire_time_ms) index is a storage-level backstop behind the distributed
// lock: a duplicate claim that slips through fails here instead of firing.
func (s *SQLiteExecutionStore) Create(ctx context.Context, scheduleID string, fireTime time.Time) (*model.Execution, error) {
	execution := &model.Execution{
		ID:         uuid.New().String(),
		ScheduleID: scheduleID,
		FireTime:   fireTime.UTC().Truncate(time.Millisecond),
		Status:     model.ExecutionStatusPending,
		Attempts:   0,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, schedule_id, fire_time_ms, status, attempts)
		VALUES (?, ?, ?, ?, ?)`,
		execution.ID,
		execution.ScheduleID,
		execution.FireTime.UnixMilli(),
		execution.Status,
		execution.Attempts,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	s.logger.Info("Created execution",
		zap.String("id", execution.ID),
		zap.String("schedule_id", scheduleID),
		zap.Time("fire_time", execution.FireTime))

	return execution, nil
}

// UpdateStatus implements ExecutionStorage.UpdateStatus.
func (s *SQLiteExecutionStore) UpdateStatus(ctx context.Context, id string, status model.ExecutionStatus, update ExecutionUpdate) (*model.Execution, error) {
	query := "UPDATE executions SET status = ?"
	args := []interface{}{status}

	if update.Attempts != nil {
		query += ", attempts = ?"
		args = append(args, *update.Attempts)
	}
	if update.StartedAt != nil {
		query += ", started_at = ?"
		args = append(args, update.StartedAt.UTC())
	}
	if update.CompletedAt != nil {
		query += ", completed_at = ?"
		args = append(args, update.CompletedAt.UTC())
	}
	if update.Error != nil {
		query += ", error = ?"
		args = append(args, *update.Error)
	}
	if update.Response != nil {
		query += ", response = ?"
		args = append(args, string(update.Response))
	}
	query += " WHERE id = ?"
	args = append(args, id)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update execution: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	return s.Get(ctx, id)
}

// Get implements ExecutionStorage.Get.
func (s *SQLiteExecutionStore) Get(ctx context.Context, id string) (*model.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)

	execution, err := scanExecution(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return execution, nil
}

// ListBySchedule implements ExecutionStorage.ListBySchedule.
func (s *SQLiteExecutionStore) ListBySchedule(ctx context.Context, scheduleID string, limit int) ([]*model.Execution, error) {
	if limit <= 0 {
		limit = DefaultExecutionListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+executionColumns+` FROM executions
		WHERE schedule_id = ?
		ORDER BY fire_time_ms DESC
		LIMIT ?`, scheduleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []*model.Execution
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, execution)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return executions, nil
}

func scanExecution(row rowScanner) (*model.Execution, error) {
	var execution model.Execution
	var fireTimeMillis int64
	var startedAt, completedAt sql.NullTime
	var errorStr, response sql.NullString

	err := row.Scan(
		&execution.ID,
		&execution.ScheduleID,
		&fireTimeMillis,
		&execution.Status,
		&execution.Attempts,
		&startedAt,
		&completedAt,
		&errorStr,
		&response,
	)
	if err != nil {
		return nil, err
	}

	execution.FireTime = time.UnixMilli(fireTimeMillis).UTC()
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		execution.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		execution.CompletedAt = &t
	}
	if errorStr.Valid {
		execution.Error = errorStr.String
	}
	if response.Valid && response.String != "" {
		execution.Response = json.RawMessage(response.String)
	}
	return &execution, nil
}
