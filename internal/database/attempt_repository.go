package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hookqueue/hookqueue/internal/models"
)

// AttemptRepository persists the per-attempt delivery audit trail. Writes
// are best effort: a failed insert never affects the task's lifecycle.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates an attempt repository backed by the pool.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// Record inserts one attempt row and fills in its generated fields.
func (r *AttemptRepository) Record(ctx context.Context, attempt *models.DeliveryAttempt) error {
	query := `
		INSERT INTO delivery_attempts (task_id, retry_count, outcome, status_code, error, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created`

	err := r.pool.QueryRow(ctx, query,
		attempt.TaskID,
		attempt.RetryCount,
		attempt.Outcome,
		attempt.StatusCode,
		attempt.Error,
		attempt.DurationMS,
	).Scan(&attempt.ID, &attempt.Created)
	if err != nil {
		return fmt.Errorf("failed to record delivery attempt: %w", err)
	}
	return nil
}

// ListByTask returns the most recent attempts for a task, newest first.
func (r *AttemptRepository) ListByTask(ctx context.Context, taskID int64, limit int) ([]*models.DeliveryAttempt, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, task_id, retry_count, outcome, status_code, error, duration_ms, created
		FROM delivery_attempts
		WHERE task_id = $1
		ORDER BY created DESC, id DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*models.DeliveryAttempt
	for rows.Next() {
		var attempt models.DeliveryAttempt
		if err := rows.Scan(
			&attempt.ID,
			&attempt.TaskID,
			&attempt.RetryCount,
			&attempt.Outcome,
			&attempt.StatusCode,
			&attempt.Error,
			&attempt.DurationMS,
			&attempt.Created,
		); err != nil {
			return nil, fmt.Errorf("failed to scan delivery attempt: %w", err)
		}
		attempts = append(attempts, &attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read delivery attempts: %w", err)
	}
	return attempts, nil
}

// CountByOutcome aggregates attempt totals per outcome label.
func (r *AttemptRepository) CountByOutcome(ctx context.Context) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT outcome, COUNT(*) FROM delivery_attempts GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("failed to count delivery attempts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var outcome string
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan attempt count: %w", err)
		}
		counts[outcome] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read attempt counts: %w", err)
	}
	return counts, nil
}
