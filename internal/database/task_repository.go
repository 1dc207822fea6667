package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/hookqueue/hookqueue/internal/models"
)

// TaskRepository persists tasks. All state transitions go through
// ConditionalUpdate, which only matches when the caller's expected
// retry_count is still current; row-level atomicity makes that a CAS, so
// exactly one of any set of concurrent acquirers wins.
type TaskRepository struct {
	pool   *pgxpool.Pool
	logger *logrus.Logger
}

// NewTaskRepository creates a new task repository.
func NewTaskRepository(pool *pgxpool.Pool, logger *logrus.Logger) *TaskRepository {
	return &TaskRepository{pool: pool, logger: logger}
}

// Insert stores a new task and fills in its id and timestamps.
func (r *TaskRepository) Insert(ctx context.Context, task *models.Task) error {
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	if task.Charset == "" {
		task.Charset = models.DefaultCharset
	}
	if task.Enctype == "" {
		task.Enctype = models.DefaultEnctype
	}
	if task.Due.IsZero() {
		task.Due = time.Now().UTC()
	}
	if task.Headers == nil {
		task.Headers = map[string]string{}
	}

	headersJSON, err := json.Marshal(task.Headers)
	if err != nil {
		return fmt.Errorf("failed to encode task headers: %w", err)
	}

	query := `
		INSERT INTO tasks (app_id, url, body, charset, enctype, headers, timeout, status, retry_count, due)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10)
		RETURNING id, created, modified
	`
	err = r.pool.QueryRow(ctx, query,
		task.AppID, task.URL, task.Body, task.Charset, task.Enctype,
		string(headersJSON), task.Timeout, task.Status, task.RetryCount, task.Due,
	).Scan(&task.ID, &task.Created, &task.Modified)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// GetByID retrieves a task. Returns nil without error when no row exists.
func (r *TaskRepository) GetByID(ctx context.Context, id int64) (*models.Task, error) {
	query := `
		SELECT id, app_id, url, body, charset, enctype, headers, timeout,
		       status, retry_count, due, created, modified
		FROM tasks WHERE id = $1
	`
	task, err := scanTask(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// ConditionalUpdate applies the update iff the row's retry_count still
// equals expectedRetryCount and the task is not in a terminal state. The
// returned count is 1 on success and 0 when another writer got there first,
// the task finished, or no such task exists.
func (r *TaskRepository) ConditionalUpdate(ctx context.Context, id int64, expectedRetryCount int, update models.TaskUpdate) (int64, error) {
	query := "UPDATE tasks SET modified = NOW()"
	args := []interface{}{id, expectedRetryCount, models.TaskStatusCompleted, models.TaskStatusFailed}
	argNum := 5

	if update.Status != "" {
		query += fmt.Sprintf(", status = $%d", argNum)
		args = append(args, update.Status)
		argNum++
	}
	if update.RetryCount != nil {
		query += fmt.Sprintf(", retry_count = $%d", argNum)
		args = append(args, *update.RetryCount)
		argNum++
	}
	if update.Due != nil {
		query += fmt.Sprintf(", due = $%d", argNum)
		args = append(args, *update.Due)
	}

	query += " WHERE id = $1 AND retry_count = $2 AND status NOT IN ($3, $4)"

	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update task: %w", err)
	}
	return result.RowsAffected(), nil
}

// ScanDue lists tasks in the given status due before the given instant,
// oldest first.
func (r *TaskRepository) ScanDue(ctx context.Context, status models.TaskStatus, before time.Time, offset, limit int) ([]*models.Task, error) {
	query := `
		SELECT id, app_id, url, body, charset, enctype, headers, timeout,
		       status, retry_count, due, created, modified
		FROM tasks
		WHERE status = $1 AND due < $2
		ORDER BY due ASC
		OFFSET $3 LIMIT $4
	`
	rows, err := r.pool.Query(ctx, query, status, before, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to scan due tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// CountPending reports how many tasks are still waiting for delivery.
func (r *TaskRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM tasks WHERE status = $1", models.TaskStatusPending).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending tasks: %w", err)
	}
	return count, nil
}

// CountByStatus returns the task count per status.
func (r *TaskRepository) CountByStatus(ctx context.Context) (map[models.TaskStatus]int64, error) {
	rows, err := r.pool.Query(ctx, "SELECT status, COUNT(*) FROM tasks GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.TaskStatus]int64)
	for rows.Next() {
		var status models.TaskStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func scanTask(row pgx.Row) (*models.Task, error) {
	var task models.Task
	var headersJSON []byte
	err := row.Scan(
		&task.ID, &task.AppID, &task.URL, &task.Body, &task.Charset, &task.Enctype,
		&headersJSON, &task.Timeout, &task.Status, &task.RetryCount,
		&task.Due, &task.Created, &task.Modified)
	if err != nil {
		return nil, err
	}
	task.Headers = map[string]string{}
	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &task.Headers); err != nil {
			return nil, fmt.Errorf("failed to decode task headers: %w", err)
		}
	}
	return &task, nil
}
