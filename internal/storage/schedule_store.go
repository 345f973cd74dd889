package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/agent-scheduler/internal/model"
)

// ScheduleStorage defines the persistence contract for schedules.
type ScheduleStorage interface {
	// Create inserts a new schedule, applying defaults for omitted fields.
	Create(ctx context.Context, req model.CreateScheduleRequest) (*model.Schedule, error)

	// Get retrieves a schedule by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*model.Schedule, error)

	// List retrieves all schedules ordered by creation time descending.
	List(ctx context.Context) ([]*model.Schedule, error)

	// ListEnabled retrieves all enabled schedules.
	ListEnabled(ctx context.Context) ([]*model.Schedule, error)

	// Update applies a partial update. Returns ErrNotFound if absent.
	Update(ctx context.Context, id string, req model.UpdateScheduleRequest) (*model.Schedule, error)

	// Delete removes a schedule. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id string) error
}

// SQLiteScheduleStore implements ScheduleStorage using SQLite.
type SQLiteScheduleStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteScheduleStore creates the store and ensures the schema exists.
func NewSQLiteScheduleStore(db *sql.DB, logger *zap.Logger) (*SQLiteScheduleStore, error) {
	if err := Migrate(context.Background(), db); err != nil {
		return nil, err
	}
	return &SQLiteScheduleStore{logger: logger.Named("schedule-store"), db: db}, nil
}

const scheduleColumns = `id, name, cron_expression, agent_id, agent_url, http_method,
	headers, payload, retry_policy, enabled, created_at, updated_at`

// Create implements ScheduleStorage.Create.
func (s *SQLiteScheduleStore) Create(ctx context.Context, req model.CreateScheduleRequest) (*model.Schedule, error) {
	now := time.Now().UTC()

	schedule := &model.Schedule{
		ID:             uuid.New().String(),
		Name:           req.Name,
		CronExpression: req.CronExpression,
		AgentID:        req.AgentID,
		AgentURL:       req.AgentURL,
		HTTPMethod:     req.HTTPMethod,
		Headers:        req.Headers,
		Payload:        req.Payload,
		RetryPolicy:    model.DefaultRetryPolicy(),
		Enabled:        true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if schedule.HTTPMethod == "" {
		schedule.HTTPMethod = "POST"
	}
	if req.RetryPolicy != nil {
		schedule.RetryPolicy = *req.RetryPolicy
	}
	if req.Enabled != nil {
		schedule.Enabled = *req.Enabled
	}

	headers, retryPolicy, err := marshalScheduleJSON(schedule)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		schedule.ID,
		schedule.Name,
		schedule.CronExpression,
		schedule.AgentID,
		schedule.AgentURL,
		schedule.HTTPMethod,
		headers,
		nullableJSON(schedule.Payload),
		retryPolicy,
		schedule.Enabled,
		schedule.CreatedAt,
		schedule.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create schedule: %w", err)
	}

	s.logger.Info("Created schedule",
		zap.String("id", schedule.ID),
		zap.String("name", schedule.Name),
		zap.String("expression", schedule.CronExpression))

	return schedule, nil
}

// Get implements ScheduleStorage.Get.
func (s *SQLiteScheduleStore) Get(ctx context.Context, id string) (*model.Schedule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)

	schedule, err := scanSchedule(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return schedule, nil
}

// List implements ScheduleStorage.List.
func (s *SQLiteScheduleStore) List(ctx context.Context) ([]*model.Schedule, error) {
	return s.list(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY created_at DESC`)
}

// ListEnabled implements ScheduleStorage.ListEnabled.
func (s *SQLiteScheduleStore) ListEnabled(ctx context.Context) ([]*model.Schedule, error) {
	return s.list(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE enabled = 1 ORDER BY created_at DESC`)
}

func (s *SQLiteScheduleStore) list(ctx context.Context, query string) ([]*model.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*model.Schedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, schedule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return schedules, nil
}

// Update implements ScheduleStorage.Update.
func (s *SQLiteScheduleStore) Update(ctx context.Context, id string, req model.UpdateScheduleRequest) (*model.Schedule, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		existing.Name = *req.Name
	}
	if req.CronExpression != nil {
		existing.CronExpression = *req.CronExpression
	}
	if req.AgentID != nil {
		existing.AgentID = *req.AgentID
	}
	if req.AgentURL != nil {
		existing.AgentURL = *req.AgentURL
	}
	if req.HTTPMethod != nil {
		existing.HTTPMethod = *req.HTTPMethod
	}
	if req.Headers != nil {
		existing.Headers = *req.Headers
	}
	if req.Payload != nil {
		existing.Payload = *req.Payload
	}
	if req.RetryPolicy != nil {
		existing.RetryPolicy = *req.RetryPolicy
	}
	if req.Enabled != nil {
		existing.Enabled = *req.Enabled
	}
	existing.UpdatedAt = time.Now().UTC()

	headers, retryPolicy, err := marshalScheduleJSON(existing)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE schedules SET
			name = ?, cron_expression = ?, agent_id = ?, agent_url = ?,
			http_method = ?, headers = ?, payload = ?, retry_policy = ?,
			enabled = ?, updated_at = ?
		WHERE id = ?`,
		existing.Name,
		existing.CronExpression,
		existing.AgentID,
		existing.AgentURL,
		existing.HTTPMethod,
		headers,
		nullableJSON(existing.Payload),
		retryPolicy,
		existing.Enabled,
		existing.UpdatedAt,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update schedule: %w", err)
	}
	return existing, nil
}

// Delete implements ScheduleStorage.Delete.
func (s *SQLiteScheduleStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Info("Deleted schedule", zap.String("id", id))
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSchedule(row rowScanner) (*model.Schedule, error) {
	var schedule model.Schedule
	var headers, payload, retryPolicy sql.NullString

	err := row.Scan(
		&schedule.ID,
		&schedule.Name,
		&schedule.CronExpression,
		&schedule.AgentID,
		&schedule.AgentURL,
		&schedule.HTTPMethod,
		&headers,
		&payload,
		&retryPolicy,
		&schedule.Enabled,
		&schedule.CreatedAt,
		&schedule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if headers.Valid && headers.String != "" {
		if err := json.Unmarshal([]byte(headers.String), &schedule.Headers); err != nil {
			return nil, fmt.Errorf("failed to decode headers: %w", err)
		}
	}
	if payload.Valid && payload.String != "" {
		schedule.Payload = json.RawMessage(payload.String)
	}
	if retryPolicy.Valid && retryPolicy.String != "" {
		if err := json.Unmarshal([]byte(retryPolicy.String), &schedule.RetryPolicy); err != nil {
			return nil, fmt.Errorf("failed to decode retry policy: %w", err)
		}
	}
	return &schedule, nil
}

func marshalScheduleJSON(schedule *model.Schedule) (headers string, retryPolicy string, err error) {
	headerBytes, err := json.Marshal(schedule.Headers)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode headers: %w", err)
	}
	policyBytes, err := json.Marshal(schedule.RetryPolicy)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode retry policy: %w", err)
	}
	return string(headerBytes), string(policyBytes), nil
}

func nullableJSON(raw json.RawMessage) sql.NullString {
	trimmed := strings.TrimSpace(string(raw))
	return sql.NullString{String: trimmed, Valid: trimmed != ""}
}
