// Package store persists delivery tasks and reads recipient webhook
// configuration. It owns no business rules: callers decide state
// transitions, the store only writes and queries rows.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/avandyck/drifthook/internal/task"
)

// ErrNotFound is returned when a task id does not exist.
var ErrNotFound = errors.New("task not found")

// DB is the subset of pgxpool.Pool the store needs. pgxmock satisfies it too.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TaskStore is the durable outbox of delivery tasks.
type TaskStore struct {
	db DB
}

func NewTaskStore(db DB) *TaskStore {
	return &TaskStore{db: db}
}

const taskColumns = `id, tenant_id, recipient_id, event_type, delivery_url, payload::text,
		       status, attempt_count, next_attempt_at, last_error, response_code,
		       redelivered_from, created_at, updated_at`

// Create inserts a new task row. The task id and timestamps are supplied by
// the caller; rows are never deleted afterwards.
func (s *TaskStore) Create(ctx context.Context, t task.Task) error {
	payloadJSON, err := json.Marshal(t.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	// Pass payload as TEXT and cast to ::jsonb (avoids driver type ambiguity)
	_, err = s.db.Exec(ctx, `
		INSERT INTO drifthook.delivery_tasks
			(id, tenant_id, recipient_id, event_type, delivery_url, payload,
			 status, attempt_count, next_attempt_at, last_error, response_code,
			 redelivered_from, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10, $11, $12, $13, $14)`,
		t.ID, t.TenantID, t.RecipientID, t.EventType, t.DeliveryURL, string(payloadJSON),
		string(t.Status), t.AttemptCount, t.NextAttemptAt, t.LastError, t.ResponseCode,
		t.RedeliveredFrom, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetByID fetches one task or ErrNotFound.
func (s *TaskStore) GetByID(ctx context.Context, id string) (task.Task, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+taskColumns+`
		FROM drifthook.delivery_tasks
		WHERE id = $1`, id)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return task.Task{}, ErrNotFound
		}
		return task.Task{}, fmt.Errorf("select task: %w", err)
	}
	return t, nil
}

// Due returns up to limit tasks eligible for pickup: status pending or
// failed with a next attempt time at or before now, oldest first.
func (s *TaskStore) Due(ctx context.Context, now time.Time, limit int) ([]task.Task, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+taskColumns+`
		FROM drifthook.delivery_tasks
		WHERE status IN ('pending', 'failed') AND next_attempt_at <= $1
		ORDER BY next_attempt_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("select due tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// Claim atomically moves a task from pending/failed to delivering. It returns
// false when the task was already claimed (or finished) by someone else, so
// concurrent dispatchers never double-deliver the same task.
func (s *TaskStore) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	ct, err := s.db.Exec(ctx, `
		UPDATE drifthook.delivery_tasks
		SET status = 'delivering', updated_at = $2
		WHERE id = $1 AND status IN ('pending', 'failed')`, id, now)
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// Update overwrites the mutable fields of a task row.
func (s *TaskStore) Update(ctx context.Context, t task.Task) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE drifthook.delivery_tasks
		SET status = $2, attempt_count = $3, next_attempt_at = $4,
		    last_error = $5, response_code = $6, updated_at = $7
		WHERE id = $1`,
		t.ID, string(t.Status), t.AttemptCount, t.NextAttemptAt,
		t.LastError, t.ResponseCode, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByTenant returns a tenant's tasks, newest first, optionally filtered by
// a status set, bounded by limit.
func (s *TaskStore) ListByTenant(ctx context.Context, tenantID string, statuses []task.Status, limit int) ([]task.Task, error) {
	args := []any{tenantID}
	where := "tenant_id = $1"
	if len(statuses) > 0 {
		placeholders := make([]string, 0, len(statuses))
		for _, st := range statuses {
			args = append(args, string(st))
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		where += fmt.Sprintf(" AND status IN (%s)", strings.Join(placeholders, ", "))
	}
	args = append(args, limit)

	q := fmt.Sprintf(`
		SELECT `+taskColumns+`
		FROM drifthook.delivery_tasks
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d`, where, len(args))

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// CountByStatus returns per-status task counts for a tenant.
func (s *TaskStore) CountByStatus(ctx context.Context, tenantID string) (map[task.Status]int, error) {
	rows, err := s.db.Query(ctx, `
		SELECT status, COUNT(*)
		FROM drifthook.delivery_tasks
		WHERE tenant_id = $1
		GROUP BY status`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[task.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[task.Status(status)] = n
	}
	return counts, rows.Err()
}

// DayCount is one (day, status) bucket of the stats aggregation.
type DayCount struct {
	Day    time.Time   `json:"day"`
	Status task.Status `json:"status"`
	Count  int         `json:"count"`
}

// CountByStatusPerDay returns per-status counts bucketed by creation day,
// oldest bucket first, for tasks created at or after since.
func (s *TaskStore) CountByStatusPerDay(ctx context.Context, tenantID string, since time.Time) ([]DayCount, error) {
	rows, err := s.db.Query(ctx, `
		SELECT date_trunc('day', created_at) AS day, status, COUNT(*)
		FROM drifthook.delivery_tasks
		WHERE tenant_id = $1 AND created_at >= $2
		GROUP BY day, status
		ORDER BY day ASC, status ASC`, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("count tasks per day: %w", err)
	}
	defer rows.Close()

	var out []DayCount
	for rows.Next() {
		var dc DayCount
		var status string
		if err := rows.Scan(&dc.Day, &status, &dc.Count); err != nil {
			return nil, err
		}
		dc.Status = task.Status(status)
		out = append(out, dc)
	}
	return out, rows.Err()
}

// scanTask reads one task row in taskColumns order.
func scanTask(row pgx.Row) (task.Task, error) {
	var (
		t            task.Task
		payloadJSON  string
		status       string
		nextAttempt  sql.NullTime
		lastError    sql.NullString
		responseCode sql.NullInt32
		redelivered  sql.NullString
	)
	if err := row.Scan(
		&t.ID, &t.TenantID, &t.RecipientID, &t.EventType, &t.DeliveryURL, &payloadJSON,
		&status, &t.AttemptCount, &nextAttempt, &lastError, &responseCode,
		&redelivered, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return task.Task{}, err
	}

	if err := json.Unmarshal([]byte(payloadJSON), &t.Payload); err != nil {
		return task.Task{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	t.Status = task.Status(status)
	if nextAttempt.Valid {
		at := nextAttempt.Time
		t.NextAttemptAt = &at
	}
	if lastError.Valid {
		le := lastError.String
		t.LastError = &le
	}
	if responseCode.Valid {
		rc := int(responseCode.Int32)
		t.ResponseCode = &rc
	}
	if redelivered.Valid {
		rd := redelivered.String
		t.RedeliveredFrom = &rd
	}
	return t, nil
}

func collectTasks(rows pgx.Rows) ([]task.Task, error) {
	var out []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
